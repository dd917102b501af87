// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/menta2k/image-annotator/pkg/types"
)

// ErrNotFound is returned for unknown image or annotation ids
var ErrNotFound = errors.New("backendtest: not found")

// Memory implements client.Backend over maps. Fail* fields inject errors.
type Memory struct {
	mu          sync.Mutex
	next        int
	schema      types.Schema
	images      map[string][]byte
	annotations map[string]types.Annotations

	// FailUpload makes UploadImage fail for these names
	FailUpload map[string]bool
	// FailUpdate makes UpdateAnnotations fail
	FailUpdate bool
	// ExportData is written by Export
	ExportData []byte

	Calls map[string]int
}

// New returns an empty backend
func New() *Memory {
	return &Memory{
		schema:      types.Schema{},
		images:      map[string][]byte{},
		annotations: map[string]types.Annotations{},
		FailUpload:  map[string]bool{},
		Calls:       map[string]int{},
	}
}

func (m *Memory) id(prefix string) string {
	m.next++
	return fmt.Sprintf("%s%d", prefix, m.next)
}

// AddImage stores an image directly and returns its file id
func (m *Memory) AddImage(name string, data []byte, sets ...types.Annotations) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	fileID := m.id("f")
	m.images[fileID] = data
	entry := types.ImageEntry{ID: fileID, Annotations: []string{}}
	for _, a := range sets {
		aid := m.id("a")
		m.annotations[aid] = a.Clone()
		entry.Annotations = append(entry.Annotations, aid)
	}
	m.schema[name] = entry
	return fileID
}

// Stored returns a copy of an annotation set
func (m *Memory) Stored(annotationID string) (types.Annotations, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.annotations[annotationID]
	return a.Clone(), ok
}

// CallCount returns how often method was called
func (m *Memory) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func (m *Memory) Schema(ctx context.Context) (types.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Schema"]++

	out := make(types.Schema, len(m.schema))
	for name, e := range m.schema {
		out[name] = types.ImageEntry{ID: e.ID, Annotations: append([]string{}, e.Annotations...)}
	}
	return out, nil
}

func (m *Memory) Annotations(ctx context.Context, annotationID string) (types.Annotations, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Annotations"]++

	a, ok := m.annotations[annotationID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) UpdateAnnotations(ctx context.Context, annotationID string, data types.Annotations) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["UpdateAnnotations"]++

	if m.FailUpdate {
		return errors.New("backendtest: update failed")
	}
	if _, ok := m.annotations[annotationID]; !ok {
		return ErrNotFound
	}
	m.annotations[annotationID] = data.Clone()
	return nil
}

func (m *Memory) CreateAnnotations(ctx context.Context, fileID string, data types.Annotations) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["CreateAnnotations"]++

	for name, e := range m.schema {
		if e.ID != fileID {
			continue
		}
		aid := m.id("a")
		if data == nil {
			data = types.Annotations{}
		}
		m.annotations[aid] = data.Clone()
		e.Annotations = append(e.Annotations, aid)
		m.schema[name] = e
		return aid, nil
	}
	return "", ErrNotFound
}

func (m *Memory) DeleteAnnotations(ctx context.Context, annotationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["DeleteAnnotations"]++

	if _, ok := m.annotations[annotationID]; !ok {
		return ErrNotFound
	}
	delete(m.annotations, annotationID)
	for name, e := range m.schema {
		for i, id := range e.Annotations {
			if id == annotationID {
				e.Annotations = append(e.Annotations[:i:i], e.Annotations[i+1:]...)
				m.schema[name] = e
				break
			}
		}
	}
	return nil
}

func (m *Memory) UploadImage(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	m.Calls["UploadImage"]++
	fail := m.FailUpload[name]
	m.mu.Unlock()

	if fail {
		return "", fmt.Errorf("backendtest: upload of %s failed", name)
	}
	return m.AddImage(name, data), nil
}

func (m *Memory) Image(ctx context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Image"]++

	data, ok := m.images[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) DeleteImage(ctx context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["DeleteImage"]++

	for name, e := range m.schema {
		if e.ID != fileID {
			continue
		}
		for _, aid := range e.Annotations {
			delete(m.annotations, aid)
		}
		delete(m.schema, name)
		delete(m.images, fileID)
		return nil
	}
	return ErrNotFound
}

func (m *Memory) Export(ctx context.Context, w io.Writer) (int64, error) {
	m.mu.Lock()
	data := m.ExportData
	m.Calls["Export"]++
	m.mu.Unlock()

	n, err := w.Write(data)
	return int64(n), err
}
