// Package upload stages image and annotation files and sends them to the
// backend.
package upload

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-annotator/pkg/analyzer"
	"github.com/menta2k/image-annotator/pkg/client"
)

var (
	// ErrNoImages is returned by Upload when no staged file is an image
	ErrNoImages = errors.New("upload: no image files selected")
	// ErrIndex is returned for an out of range staging index
	ErrIndex = errors.New("upload: index out of range")
	// ErrSidecar is returned when an annotation text file is not valid JSON
	ErrSidecar = errors.New("upload: invalid annotation file")
)

// Uploader sends staged files to the backend
type Uploader struct {
	backend     client.Backend
	analyzer    *analyzer.ImageAnalyzer
	concurrency int
	logger      *slog.Logger
}

// Option configures an Uploader
type Option func(*Uploader)

// WithLogger sets the logger used to report per-file failures
func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// WithConcurrency bounds the number of images uploaded at once
func WithConcurrency(n int) Option {
	return func(u *Uploader) { u.concurrency = n }
}

// WithAnalyzer validates images before they are sent. Without it images
// are sent unchecked.
func WithAnalyzer(a *analyzer.ImageAnalyzer) Option {
	return func(u *Uploader) { u.analyzer = a }
}

// NewUploader creates an uploader for backend
func NewUploader(backend client.Backend, opts ...Option) *Uploader {
	u := &Uploader{
		backend:     backend,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload sends every image together with its paired sidecar files. It
// returns the names of the files that were stored, grouped per image in
// staged order. Failures of individual files are logged and left out.
func (u *Uploader) Upload(ctx context.Context, files []File) ([]string, error) {
	pairs := Pairs(files)
	if len(pairs) == 0 {
		return nil, ErrNoImages
	}

	results := make([][]string, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	if u.concurrency > 0 {
		g.SetLimit(u.concurrency)
	}
	for i, p := range pairs {
		g.Go(func() error {
			results[i] = u.uploadPair(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var uploaded []string
	for _, r := range results {
		uploaded = append(uploaded, r...)
	}
	if err := ctx.Err(); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

func (u *Uploader) uploadPair(ctx context.Context, p Pair) []string {
	log := u.logger.With("image", p.Image.Name)

	if u.analyzer != nil {
		if _, err := u.analyzer.Validate(p.Image.Data); err != nil {
			log.Error("image rejected", "error", err)
			return nil
		}
	}

	fileID, err := u.backend.UploadImage(ctx, p.Image.Name, p.Image.Data)
	if err != nil {
		log.Error("failed to upload image", "error", err)
		return nil
	}
	log.Info("uploaded image", "file_id", fileID)

	uploaded := []string{p.Image.Name}
	for _, sc := range p.Sidecars {
		data, err := ParseSidecar(sc.Data)
		if err != nil {
			log.Error("failed to parse annotation file", "file", sc.Name, "error", err)
			continue
		}
		id, err := u.backend.CreateAnnotations(ctx, fileID, data)
		if err != nil {
			log.Error("failed to upload annotation file", "file", sc.Name, "error", err)
			continue
		}
		log.Debug("uploaded annotation file", "file", sc.Name, "annotation_id", id)
		uploaded = append(uploaded, sc.Name)
	}
	return uploaded
}
