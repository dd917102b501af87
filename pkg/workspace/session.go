package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/editor"
	"github.com/menta2k/image-annotator/pkg/labeler"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Session is the annotation page: a schema listing on one side and the
// editor showing the opened image and annotation set on the other. Every
// change to the opened set is written back to the backend.
type Session struct {
	backend        client.Backend
	editor         *editor.Editor
	logger         *slog.Logger
	persistTimeout time.Duration

	mu           sync.Mutex
	list         listing
	openGen      uint64
	imagePending bool
	imageID      string
	annotationID string
	annotations  types.Annotations

	// writes of the opened set, drained in order by a single goroutine
	wmu       sync.Mutex
	queue     []write
	writing   bool
	idle      chan struct{}
	writeErrs map[string]error
}

type write struct {
	annotationID string
	data         types.Annotations
}

// SessionOption configures a Session
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	logger         *slog.Logger
	editorOpts     []editor.Option
	persistTimeout time.Duration
}

// WithLogger sets the session logger. It is also handed to the editor.
func WithLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEditorOptions passes options through to the editor
func WithEditorOptions(opts ...editor.Option) SessionOption {
	return func(c *sessionConfig) { c.editorOpts = append(c.editorOpts, opts...) }
}

// WithPersistTimeout bounds each write of the opened annotation set
func WithPersistTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.persistTimeout = d }
}

// NewSession creates a session backed by backend
func NewSession(backend client.Backend, opts ...SessionOption) *Session {
	cfg := sessionConfig{logger: slog.Default(), persistTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		backend:        backend,
		logger:         cfg.logger,
		persistTimeout: cfg.persistTimeout,
		list:           newListing(),
		writeErrs:      map[string]error{},
	}
	edOpts := append([]editor.Option{editor.WithLogger(cfg.logger)}, cfg.editorOpts...)
	s.editor = editor.New(s.adopt, edOpts...)
	return s
}

// Editor returns the editor owned by the session
func (s *Session) Editor() *editor.Editor { return s.editor }

// Refresh reloads the schema listing
func (s *Session) Refresh(ctx context.Context) error {
	schema, err := s.backend.Schema(ctx)
	if err != nil {
		return fmt.Errorf("fetch schema: %w", err)
	}
	s.mu.Lock()
	s.list.schema = schema
	s.mu.Unlock()
	return nil
}

// Schema returns the listed images
func (s *Session) Schema() types.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(types.Schema, len(s.list.schema))
	for k, v := range s.list.schema {
		out[k] = v
	}
	return out
}

// Rows returns the flat listing: every image followed, when expanded, by
// its annotation set ids
func (s *Session) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.list.imageRows(func(name string, entry types.ImageEntry) []Row {
		if len(entry.Annotations) == 0 {
			return nil
		}
		rows := make([]Row, 0, len(entry.Annotations))
		for _, id := range entry.Annotations {
			rows = append(rows, Row{Kind: RowAnnotationSet, Image: name, ImageID: entry.ID, AnnotationID: id})
		}
		return rows
	})
}

// Toggle expands or collapses an image row and reports whether it is now expanded
func (s *Session) Toggle(imageName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.toggle(imageName)
}

// Select acts on a click on an image row: images with annotation sets are
// expanded or collapsed, images without one get a fresh set which is opened.
func (s *Session) Select(ctx context.Context, imageName string) error {
	s.mu.Lock()
	entry, ok := s.list.schema[imageName]
	if ok && len(entry.Annotations) > 0 {
		s.list.toggle(imageName)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: image %s", ErrNotFound, imageName)
	}
	if len(entry.Annotations) > 0 {
		return nil
	}
	return s.OpenNew(ctx, entry.ID)
}

// Open shows an image with one of its annotation sets. Whatever is already
// opened is not fetched again. An Open that is overtaken by a newer one
// applies nothing and returns ErrStaleOpen.
func (s *Session) Open(ctx context.Context, imageID, annotationID string) error {
	s.mu.Lock()
	s.openGen++
	gen := s.openGen
	// an image load still in flight must be superseded even when the
	// requested image is the one already shown
	needImage := imageID != s.imageID || s.imagePending
	needAnnotations := annotationID != s.annotationID
	if needImage {
		s.imagePending = true
	}
	s.mu.Unlock()

	var (
		data        []byte
		annotations types.Annotations
	)
	g, gctx := errgroup.WithContext(ctx)
	if needImage {
		g.Go(func() error {
			var err error
			data, err = s.backend.Image(gctx, imageID)
			if err != nil {
				return fmt.Errorf("fetch image %s: %w", imageID, err)
			}
			return nil
		})
	}
	if needAnnotations {
		g.Go(func() error {
			var err error
			annotations, err = s.backend.Annotations(gctx, annotationID)
			if err != nil {
				return fmt.Errorf("fetch annotations %s: %w", annotationID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("open failed", "image_id", imageID, "annotation_id", annotationID, "error", err)
		return err
	}

	if needImage {
		s.mu.Lock()
		if gen != s.openGen {
			s.mu.Unlock()
			return ErrStaleOpen
		}
		// Load takes the editor's generation synchronously, so a newer Open
		// cannot start its own load in between
		loaded := s.editor.Load(ctx, data)
		s.mu.Unlock()

		if err := <-loaded; err != nil {
			if errors.Is(err, editor.ErrStaleLoad) {
				return ErrStaleOpen
			}
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.openGen {
		s.logger.Debug("dropping superseded open", "image_id", imageID, "annotation_id", annotationID)
		return ErrStaleOpen
	}
	if needImage {
		s.imageID = imageID
		s.imagePending = false
	}
	if needAnnotations {
		s.annotationID = annotationID
		s.annotations = annotations
		s.editor.Discard()
		s.editor.SetAnnotations(annotations)
	}
	return nil
}

// OpenNew creates an empty annotation set for an image, lists it under the
// image, expands the image row and opens the new set.
func (s *Session) OpenNew(ctx context.Context, imageID string) error {
	id, err := s.backend.CreateAnnotations(ctx, imageID, nil)
	if err != nil {
		s.logger.Error("failed to create annotation set", "image_id", imageID, "error", err)
		return fmt.Errorf("create annotation set: %w", err)
	}

	s.mu.Lock()
	if name, ok := s.list.schema.FindByID(imageID); ok {
		entry := s.list.schema[name]
		entry.Annotations = append(entry.Annotations[:len(entry.Annotations):len(entry.Annotations)], id)
		s.list.schema[name] = entry
		s.list.expanded[name] = true
	}
	s.mu.Unlock()

	return s.Open(ctx, imageID, id)
}

// Current returns the opened image id, annotation set id and annotations
func (s *Session) Current() (imageID, annotationID string, annotations types.Annotations) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageID, s.annotationID, s.annotations
}

// RenameAnnotation moves the shape stored under oldKey to newKey
func (s *Session) RenameAnnotation(ctx context.Context, newKey, oldKey string) error {
	s.mu.Lock()
	if s.annotationID == "" {
		s.mu.Unlock()
		return ErrNoAnnotationSet
	}
	if _, ok := s.annotations[oldKey]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: annotation %s", ErrNotFound, oldKey)
	}
	if _, ok := s.annotations[newKey]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLabelExists, newKey)
	}
	next := s.annotations.Renamed(oldKey, newKey)
	s.mu.Unlock()

	return s.apply(ctx, next)
}

// DeleteAnnotation removes one shape from the opened set
func (s *Session) DeleteAnnotation(ctx context.Context, key string) error {
	s.mu.Lock()
	if s.annotationID == "" {
		s.mu.Unlock()
		return ErrNoAnnotationSet
	}
	if _, ok := s.annotations[key]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: annotation %s", ErrNotFound, key)
	}
	next := s.annotations.Without(key)
	s.mu.Unlock()

	return s.apply(ctx, next)
}

// SuggestLabels asks l for better names for the opened annotations. Nothing
// is renamed; pass accepted suggestions to ApplySuggestions.
func (s *Session) SuggestLabels(ctx context.Context, l *labeler.Labeler) ([]labeler.Suggestion, error) {
	s.mu.Lock()
	annotations := s.annotations
	s.mu.Unlock()

	img := s.editor.Image()
	if img == nil || annotations == nil {
		return nil, editor.ErrNotReady
	}
	return l.Suggest(ctx, img, annotations)
}

// ApplySuggestions renames annotations as suggested in one write. Suggestions
// whose source is gone or whose target is taken are skipped.
func (s *Session) ApplySuggestions(ctx context.Context, suggestions []labeler.Suggestion) (int, error) {
	s.mu.Lock()
	if s.annotationID == "" {
		s.mu.Unlock()
		return 0, ErrNoAnnotationSet
	}
	next := s.annotations
	applied := 0
	for _, sg := range suggestions {
		if _, ok := next[sg.Current]; !ok {
			continue
		}
		if _, ok := next[sg.Label]; ok {
			continue
		}
		next = next.Renamed(sg.Current, sg.Label)
		applied++
	}
	s.mu.Unlock()

	if applied == 0 {
		return 0, nil
	}
	return applied, s.apply(ctx, next)
}

// adopt receives replacement sets proposed by the editor. The new set is
// shown at once and written in the background.
func (s *Session) adopt(next types.Annotations) {
	if id := s.setLocal(next); id != "" {
		s.enqueue(id, next)
	}
}

// apply makes next the opened set, shows it and waits until it is written
// to the backend. The local state is kept even when the write fails.
func (s *Session) apply(ctx context.Context, next types.Annotations) error {
	id := s.setLocal(next)
	if id == "" {
		return nil
	}
	s.enqueue(id, next)
	if err := s.Flush(ctx); err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.writeErrs[id]
}

func (s *Session) setLocal(next types.Annotations) string {
	s.mu.Lock()
	id := s.annotationID
	s.annotations = next
	s.mu.Unlock()

	s.editor.SetAnnotations(next)
	return id
}

// enqueue schedules a write. A queued write of the same set that has not
// started yet is replaced, so only the newest mapping is sent.
func (s *Session) enqueue(id string, data types.Annotations) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if n := len(s.queue); n > 0 && s.queue[n-1].annotationID == id {
		s.queue[n-1].data = data
	} else {
		s.queue = append(s.queue, write{annotationID: id, data: data})
	}
	if s.writing {
		return
	}
	s.writing = true
	s.idle = make(chan struct{})
	go s.drain()
}

func (s *Session) drain() {
	for {
		s.wmu.Lock()
		if len(s.queue) == 0 {
			s.writing = false
			close(s.idle)
			s.wmu.Unlock()
			return
		}
		w := s.queue[0]
		s.queue = s.queue[1:]
		s.wmu.Unlock()

		err := s.persist(w.annotationID, w.data)

		s.wmu.Lock()
		s.writeErrs[w.annotationID] = err
		s.wmu.Unlock()
	}
}

func (s *Session) persist(id string, data types.Annotations) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.backend.UpdateAnnotations(ctx, id, data); err != nil {
		s.logger.Error("failed to update annotations", "annotation_id", id, "error", err)
		return fmt.Errorf("update annotations %s: %w", id, err)
	}
	s.logger.Debug("annotations saved", "annotation_id", id, "count", len(data))
	return nil
}

// Flush waits until every write queued so far has been sent
func (s *Session) Flush(ctx context.Context) error {
	s.wmu.Lock()
	if !s.writing {
		s.wmu.Unlock()
		return nil
	}
	idle := s.idle
	s.wmu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
