// Package workspace holds the page-level state around the editor: the
// schema listing with expandable rows, the currently opened image and
// annotation set, and the database browser.
package workspace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/image-annotator/pkg/types"
)

var (
	// ErrNotFound is returned for image names or annotation keys that are not listed
	ErrNotFound = errors.New("workspace: not found")
	// ErrLabelExists is returned when renaming onto a key that is already used
	ErrLabelExists = errors.New("workspace: label already exists")
	// ErrNoAnnotationSet is returned by edits made before a set is opened
	ErrNoAnnotationSet = errors.New("workspace: no annotation set open")
	// ErrStaleOpen is returned by an Open that was superseded by a newer one
	ErrStaleOpen = errors.New("workspace: superseded by a newer selection")
)

// RowKind tells the three listing levels apart
type RowKind int

const (
	RowImage RowKind = iota
	RowAnnotationSet
	RowLabel
)

// Row is one line of a flat, expandable listing
type Row struct {
	Kind         RowKind
	Image        string
	ImageID      string
	AnnotationID string
	// Count is the number of annotation sets on an image row
	Count  int
	Label  string
	Points types.Shape
}

// Key identifies the row within a listing
func (r Row) Key() string {
	switch r.Kind {
	case RowAnnotationSet:
		return r.Image + r.AnnotationID
	case RowLabel:
		return r.Image + r.AnnotationID + r.Label
	default:
		return r.Image
	}
}

func (r Row) String() string {
	switch r.Kind {
	case RowAnnotationSet:
		return "  " + r.AnnotationID
	case RowLabel:
		return fmt.Sprintf("    %s : %s", r.Label, formatPoints(r.Points))
	default:
		return fmt.Sprintf("%s\t%d", r.Image, r.Count)
	}
}

func formatPoints(s types.Shape) string {
	parts := make([]string, 0, len(s))
	for _, p := range s {
		parts = append(parts, fmt.Sprintf("%g, %g", p[0], p[1]))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// listing tracks which rows of a schema are expanded
type listing struct {
	schema   types.Schema
	expanded map[string]bool
}

func newListing() listing {
	return listing{expanded: map[string]bool{}}
}

func (l *listing) toggle(key string) bool {
	if l.expanded[key] {
		delete(l.expanded, key)
		return false
	}
	l.expanded[key] = true
	return true
}

// imageRows lists images in name order, calling sub for expanded images
func (l *listing) imageRows(sub func(name string, entry types.ImageEntry) []Row) []Row {
	var rows []Row
	for _, name := range l.schema.Names() {
		entry := l.schema[name]
		rows = append(rows, Row{Kind: RowImage, Image: name, ImageID: entry.ID, Count: len(entry.Annotations)})
		if l.expanded[name] {
			rows = append(rows, sub(name, entry)...)
		}
	}
	return rows
}
