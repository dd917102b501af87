package workspace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Browser is the database page: every image with its annotation sets and,
// one level further down, the labels and points of each set.
type Browser struct {
	backend client.Backend
	logger  *slog.Logger

	mu    sync.Mutex
	list  listing
	sets  map[string]bool
	cache map[string]types.Annotations
}

// NewBrowser creates a browser backed by backend. A nil logger uses slog.Default.
func NewBrowser(backend client.Backend, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{
		backend: backend,
		logger:  logger,
		list:    newListing(),
		sets:    map[string]bool{},
		cache:   map[string]types.Annotations{},
	}
}

// Refresh reloads the schema listing
func (b *Browser) Refresh(ctx context.Context) error {
	schema, err := b.backend.Schema(ctx)
	if err != nil {
		return fmt.Errorf("fetch schema: %w", err)
	}
	b.mu.Lock()
	b.list.schema = schema
	b.mu.Unlock()
	return nil
}

// Rows returns the three level listing
func (b *Browser) Rows() []Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.list.imageRows(func(name string, entry types.ImageEntry) []Row {
		var rows []Row
		for _, id := range entry.Annotations {
			rows = append(rows, Row{Kind: RowAnnotationSet, Image: name, ImageID: entry.ID, AnnotationID: id})
			if !b.sets[id] {
				continue
			}
			a := b.cache[id]
			for _, label := range a.Labels() {
				rows = append(rows, Row{
					Kind:         RowLabel,
					Image:        name,
					ImageID:      entry.ID,
					AnnotationID: id,
					Label:        label,
					Points:       a[label],
				})
			}
		}
		return rows
	})
}

// ToggleImage expands an image row and fetches all of its annotation sets
// concurrently, or collapses it and drops the cached sets. Images without
// annotation sets do not expand. Sets that fail to load are logged and
// shown empty.
func (b *Browser) ToggleImage(ctx context.Context, imageName string) (bool, error) {
	b.mu.Lock()
	entry, ok := b.list.schema[imageName]
	if !ok {
		b.mu.Unlock()
		return false, fmt.Errorf("%w: image %s", ErrNotFound, imageName)
	}
	if len(entry.Annotations) == 0 {
		b.mu.Unlock()
		return false, nil
	}
	expanded := b.list.toggle(imageName)
	if !expanded {
		for _, id := range entry.Annotations {
			delete(b.cache, id)
			delete(b.sets, id)
		}
	}
	b.mu.Unlock()

	if !expanded {
		return false, nil
	}

	fetched := make([]types.Annotations, len(entry.Annotations))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range entry.Annotations {
		g.Go(func() error {
			a, err := b.backend.Annotations(gctx, id)
			if err != nil {
				b.logger.Error("failed to fetch annotations", "annotation_id", id, "error", err)
				return nil
			}
			fetched[i] = a
			return nil
		})
	}
	// fetch errors are logged per set and never returned
	_ = g.Wait()

	b.mu.Lock()
	for i, id := range entry.Annotations {
		if fetched[i] != nil {
			b.cache[id] = fetched[i]
		}
	}
	b.mu.Unlock()
	return true, ctx.Err()
}

// ToggleSet expands or collapses an annotation set row
func (b *Browser) ToggleSet(annotationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sets[annotationID] {
		delete(b.sets, annotationID)
		return false
	}
	b.sets[annotationID] = true
	return true
}

// Cached returns a fetched annotation set
func (b *Browser) Cached(annotationID string) (types.Annotations, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.cache[annotationID]
	return a, ok
}

// DeleteAnnotationSet removes an annotation set from the backend and the listing
func (b *Browser) DeleteAnnotationSet(ctx context.Context, imageName, annotationID string) error {
	if err := b.backend.DeleteAnnotations(ctx, annotationID); err != nil {
		b.logger.Error("failed to delete annotation set", "annotation_id", annotationID, "error", err)
		return fmt.Errorf("delete annotation set %s: %w", annotationID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, annotationID)
	delete(b.sets, annotationID)
	if entry, ok := b.list.schema[imageName]; ok {
		kept := make([]string, 0, len(entry.Annotations))
		for _, id := range entry.Annotations {
			if id != annotationID {
				kept = append(kept, id)
			}
		}
		entry.Annotations = kept
		b.list.schema[imageName] = entry
	}
	return nil
}

// DeleteImage removes an image from the backend and the listing
func (b *Browser) DeleteImage(ctx context.Context, imageName string) error {
	b.mu.Lock()
	entry, ok := b.list.schema[imageName]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: image %s", ErrNotFound, imageName)
	}

	if err := b.backend.DeleteImage(ctx, entry.ID); err != nil {
		b.logger.Error("failed to delete image", "image", imageName, "error", err)
		return fmt.Errorf("delete image %s: %w", imageName, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range entry.Annotations {
		delete(b.cache, id)
		delete(b.sets, id)
	}
	delete(b.list.expanded, imageName)
	delete(b.list.schema, imageName)
	return nil
}

// Export writes the backend's zip export to w
func (b *Browser) Export(ctx context.Context, w io.Writer) (int64, error) {
	n, err := b.backend.Export(ctx, w)
	if err != nil {
		return n, fmt.Errorf("export: %w", err)
	}
	b.logger.Info("export written", "bytes", n)
	return n, nil
}
