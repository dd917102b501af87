package upload

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Content types recognised by DetectType
const (
	TypePNG  = "image/png"
	TypeJPG  = "image/jpg"
	TypeJPEG = "image/jpeg"
	TypeText = "text/plain"
)

// File is one staged upload
type File struct {
	Name string
	Type string
	Data []byte
}

// IsImage reports whether f will be uploaded as an image
func (f File) IsImage() bool { return strings.HasPrefix(f.Type, "image/") }

// IsText reports whether f can serve as an annotation sidecar
func (f File) IsText() bool { return f.Type == TypeText }

// DetectType derives a content type from the last extension of name.
// Unsupported extensions yield "".
func DetectType(name string) string {
	ext := strings.ToLower(extension(name))
	switch ext {
	case "png", "jpg", "jpeg":
		return "image/" + ext
	case "txt":
		return TypeText
	default:
		return ""
	}
}

// Staging is the editable list of files waiting to be uploaded
type Staging struct {
	files []File
}

// Files returns a copy of the staged files in order
func (s *Staging) Files() []File {
	out := make([]File, len(s.files))
	copy(out, s.files)
	return out
}

// Len returns the number of staged files
func (s *Staging) Len() int { return len(s.files) }

// Add stages a file. Zip archives are expanded: every file entry with a
// supported type is staged as "<archive name without extension>_<entry name>".
func (s *Staging) Add(name string, data []byte) error {
	if !strings.EqualFold(extension(name), "zip") {
		s.files = append(s.files, File{Name: name, Type: DetectType(name), Data: data})
		return nil
	}

	files, err := expandZip(name, data)
	if err != nil {
		return err
	}
	s.files = append(s.files, files...)
	return nil
}

// AddPath reads a file from disk and stages it
func (s *Staging) AddPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.Add(filepath.Base(path), data)
}

// Rename changes the name of the staged file at index. The type is kept.
func (s *Staging) Rename(index int, name string) error {
	if index < 0 || index >= len(s.files) {
		return fmt.Errorf("%w: %d", ErrIndex, index)
	}
	s.files[index].Name = name
	return nil
}

// Remove drops the staged file at index
func (s *Staging) Remove(index int) error {
	if index < 0 || index >= len(s.files) {
		return fmt.Errorf("%w: %d", ErrIndex, index)
	}
	s.files = append(s.files[:index], s.files[index+1:]...)
	return nil
}

func expandZip(name string, data []byte) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", name, err)
	}

	prefix := stem(name)
	var files []File
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		typ := DetectType(entry.Name)
		if typ == "" {
			continue
		}

		content, err := readEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s from %s: %w", entry.Name, name, err)
		}
		files = append(files, File{Name: prefix + "_" + entry.Name, Type: typ, Data: content})
	}
	return files, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Pair is an image and the sidecar text files that share its stem
type Pair struct {
	Image    File
	Sidecars []File
}

// Pairs groups every staged image with the text files whose name without
// the last extension equals the image's. Images keep their staged order.
func Pairs(files []File) []Pair {
	var pairs []Pair
	for _, img := range files {
		if !img.IsImage() {
			continue
		}
		p := Pair{Image: img}
		base := stem(img.Name)
		for _, f := range files {
			if f.IsText() && stem(f.Name) == base {
				p.Sidecars = append(p.Sidecars, f)
			}
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// ParseSidecar decodes an annotation text file. Single quotes are accepted
// in place of double quotes.
func ParseSidecar(data []byte) (types.Annotations, error) {
	text := strings.ReplaceAll(string(data), "'", `"`)
	var a types.Annotations
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSidecar, err)
	}
	if a == nil {
		a = types.Annotations{}
	}
	return a, nil
}

// extension returns the text after the last dot, or "" when there is none
func extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// stem returns name without its last extension. Names without a dot have
// an empty stem.
func stem(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[:i]
}
