// Package editor implements the interactive canvas annotation editor.
//
// An Editor shows one bitmap scaled into a container, overlays an annotation
// set and lets the user build one new shape at a time: every primary click
// on the canvas adds a point, Enter commits the shape under a fresh label and
// Ctrl+Z removes the last point. Points are always stored in image pixel
// coordinates so shapes survive container resizes unchanged.
//
// The annotation set belongs to the caller. The editor never modifies it;
// committing calls the change callback with a replacement set, and the caller
// hands the accepted set back with SetAnnotations.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

var (
	// ErrNotReady is returned by Frame until both an image and an annotation set are present
	ErrNotReady = errors.New("editor: image or annotations not loaded")
	// ErrStaleLoad reports a load that finished after a newer one was started
	ErrStaleLoad = errors.New("editor: superseded by a newer image load")
	// ErrEmptyImage is returned for bitmaps without pixels
	ErrEmptyImage = errors.New("editor: image has no pixels")
	// ErrContainerTooSmall is returned by Frame when the letterboxed canvas has no pixels
	ErrContainerTooSmall = errors.New("editor: container too small for a canvas")
)

// ChangeFunc receives the replacement annotation set proposed by the editor
type ChangeFunc func(types.Annotations)

// Editor is safe for use from multiple goroutines; callbacks are invoked
// without holding the editor's lock.
type Editor struct {
	mu sync.Mutex

	processor *processing.Processor
	logger    *slog.Logger
	style     Style
	onChange  ChangeFunc
	present   func(image.Image)

	generation  uint64
	img         image.Image
	annotations types.Annotations
	current     types.Shape

	containerW float64
	containerH float64
	layout     Layout

	// deferred resize handling
	pressed       bool
	resizePending bool

	frame image.Image
	dirty bool
}

// Option modifies an Editor during creation.
type Option func(*Editor)

// WithLogger sets the logger used for load failures and diagnostics
func WithLogger(l *slog.Logger) Option { return func(e *Editor) { e.logger = l } }

// WithStyle sets the marker style
func WithStyle(s Style) Option { return func(e *Editor) { e.style = s } }

// WithContainer sets the initial container size in pixels
func WithContainer(w, h float64) Option {
	return func(e *Editor) { e.containerW, e.containerH = w, h }
}

// WithPresenter registers a function that receives every redrawn frame
func WithPresenter(fn func(image.Image)) Option { return func(e *Editor) { e.present = fn } }

// WithProcessor sets the image processor used for decoding and resampling
func WithProcessor(p *processing.Processor) Option { return func(e *Editor) { e.processor = p } }

// New creates an editor that proposes annotation changes through onChange.
func New(onChange ChangeFunc, opts ...Option) *Editor {
	e := &Editor{
		processor:  processing.NewProcessor(),
		logger:     slog.Default(),
		style:      DefaultStyle(),
		onChange:   onChange,
		containerW: 800,
		containerH: 600,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load decodes data in the background and installs it as the editor image.
//
// The returned channel receives exactly one value: nil on success, the decode
// error, or ErrStaleLoad if another Load or SetImage started in the meantime.
// A failed load leaves the previous image in place.
func (e *Editor) Load(ctx context.Context, data []byte) <-chan error {
	done := make(chan error, 1)

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	go func() {
		img, err := e.processor.DecodeBytes(data)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			e.logger.Error("image load failed", "generation", gen, "error", err)
			done <- fmt.Errorf("load image: %w", err)
			return
		}
		done <- e.install(gen, img)
	}()

	return done
}

// SetImage installs an already decoded bitmap synchronously. Pending loads
// started before this call are discarded when they complete.
func (e *Editor) SetImage(img image.Image) error {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()
	return e.install(gen, img)
}

func (e *Editor) install(gen uint64, img image.Image) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		e.logger.Error("image load failed", "generation", gen, "error", ErrEmptyImage)
		return ErrEmptyImage
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug("discarding stale image load", "generation", gen)
		return ErrStaleLoad
	}
	e.img = img
	e.relayoutLocked()
	e.mu.Unlock()

	e.changed()
	return nil
}

// SetAnnotations replaces the displayed annotation set. The editor keeps a
// reference and never writes to it.
func (e *Editor) SetAnnotations(a types.Annotations) {
	e.mu.Lock()
	e.annotations = a
	e.dirty = true
	e.mu.Unlock()
	e.changed()
}

// Annotations returns the annotation set currently displayed
func (e *Editor) Annotations() types.Annotations {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.annotations
}

// Current returns a copy of the in-progress shape
func (e *Editor) Current() types.Shape {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// Layout returns the current canvas placement and scale factors
func (e *Editor) Layout() Layout {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layout
}

// Image returns the loaded bitmap, or nil before the first successful load
func (e *Editor) Image() image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.img
}

// Ready reports whether both an image and an annotation set are present
func (e *Editor) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.img != nil && e.annotations != nil
}

// AddPoint appends an image-space point to the in-progress shape
func (e *Editor) AddPoint(p types.Point) {
	e.mu.Lock()
	e.current = append(e.current, p)
	e.dirty = true
	e.mu.Unlock()
	e.changed()
}

// Click handles a primary click at a container position. Clicks outside the
// canvas, or before an image is laid out, are ignored.
func (e *Editor) Click(x, y float64) bool {
	e.mu.Lock()
	if !e.layout.InCanvas(x, y) {
		e.mu.Unlock()
		return false
	}
	e.current = append(e.current, e.layout.ContainerToImage(x, y))
	e.dirty = true
	e.mu.Unlock()

	e.changed()
	return true
}

// Commit stores the in-progress shape under a new label and returns it.
// It does nothing and returns false when no points have been captured.
func (e *Editor) Commit() (string, bool) {
	e.mu.Lock()
	if len(e.current) == 0 {
		e.mu.Unlock()
		return "", false
	}
	label := NextLabel(e.annotations)
	next := e.annotations.With(label, e.current)
	e.current = nil
	e.dirty = true
	onChange := e.onChange
	e.mu.Unlock()

	e.logger.Debug("annotation committed", "label", label, "points", len(next[label]))
	if onChange != nil {
		onChange(next)
	}
	e.changed()
	return label, true
}

// UndoPoint removes the last point of the in-progress shape. It is a no-op
// on an empty shape.
func (e *Editor) UndoPoint() bool {
	e.mu.Lock()
	if len(e.current) == 0 {
		e.mu.Unlock()
		return false
	}
	e.current = e.current[:len(e.current)-1]
	e.dirty = true
	e.mu.Unlock()

	e.changed()
	return true
}

// Discard drops the in-progress shape
func (e *Editor) Discard() {
	e.mu.Lock()
	e.current = nil
	e.dirty = true
	e.mu.Unlock()
	e.changed()
}

// Relayout recomputes canvas size and scale factors for the current container
func (e *Editor) Relayout() {
	e.mu.Lock()
	e.relayoutLocked()
	e.mu.Unlock()
	e.changed()
}

func (e *Editor) relayoutLocked() {
	if e.img == nil {
		return
	}
	b := e.img.Bounds()
	e.layout = Fit(b.Dx(), b.Dy(), e.containerW, e.containerH)
	e.resizePending = false
	e.dirty = true
}

// Frame returns the rendered canvas, redrawing it if anything changed since
// the previous call.
func (e *Editor) Frame() (image.Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.img == nil || e.annotations == nil {
		return nil, ErrNotReady
	}
	if !e.dirty && e.frame != nil {
		return e.frame, nil
	}
	if !e.layout.Valid() {
		return nil, fmt.Errorf("%w: %gx%g", ErrContainerTooSmall, e.containerW, e.containerH)
	}

	base := e.processor.Stretch(e.img, e.layout.CanvasWidth, e.layout.CanvasHeight)
	frame, err := renderFrame(base, e.annotations, e.current, e.layout, e.style)
	if err != nil {
		return nil, err
	}
	e.frame = frame
	e.dirty = false
	return frame, nil
}

// changed pushes a fresh frame to the presenter, if one is registered
func (e *Editor) changed() {
	if e.present == nil {
		return
	}
	frame, err := e.Frame()
	if err != nil {
		if !errors.Is(err, ErrNotReady) {
			e.logger.Warn("redraw failed", "error", err)
		}
		return
	}
	e.present(frame)
}
