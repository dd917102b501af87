// Package imageannotator ties together the pieces of the annotation front
// end: the backend client, the editor session, the database browser and
// the upload flow.
//
// Basic usage:
//
//	b, err := backend.NewClient("http://localhost:8000", 0)
//	if err != nil {
//		log.Fatal(err)
//	}
//	a := imageannotator.New(b)
//
//	// upload an image with its annotation file
//	names, err := a.UploadFiles(ctx, "cat.png", "cat.txt")
//
//	// draw an annotation set over its image
//	img, err := a.Render(ctx, fileID, annotationID, 800, 600)
//
// The editor itself lives in pkg/editor. A workspace.Session drives it
// against the backend and persists every change.
package imageannotator

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/analyzer"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/cropper"
	"github.com/menta2k/image-annotator/pkg/editor"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
	"github.com/menta2k/image-annotator/pkg/upload"
	"github.com/menta2k/image-annotator/pkg/workspace"
)

// Version of the image annotator library
const Version = "1.0.0"

// Config holds the tunables of an Annotator
type Config struct {
	Analyzer    analyzer.Config
	Crop        cropper.CropConfig
	Style       editor.Style
	Concurrency int
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() Config {
	return Config{
		Analyzer:    analyzer.DefaultConfig(),
		Crop:        cropper.DefaultConfig(),
		Style:       editor.DefaultStyle(),
		Concurrency: 4,
	}
}

// Annotator provides a high-level interface over a backend
type Annotator struct {
	backend   client.Backend
	analyzer  *analyzer.ImageAnalyzer
	cropper   *cropper.RegionCropper
	processor *processing.Processor
	config    Config
	logger    *slog.Logger
}

// New creates an Annotator with default configuration
func New(b client.Backend) *Annotator {
	return NewWithConfig(b, DefaultConfig(), nil)
}

// NewWithConfig creates an Annotator with custom configuration. A nil
// logger uses slog.Default.
func NewWithConfig(b client.Backend, config Config, logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{
		backend:   b,
		analyzer:  analyzer.NewWithConfig(config.Analyzer),
		cropper:   cropper.NewWithConfig(config.Crop),
		processor: processing.NewProcessor(),
		config:    config,
		logger:    logger,
	}
}

// Backend returns the backend the annotator talks to
func (a *Annotator) Backend() client.Backend {
	return a.backend
}

// Session starts an annotation session using the annotator's style and logger
func (a *Annotator) Session(opts ...workspace.SessionOption) *workspace.Session {
	base := []workspace.SessionOption{
		workspace.WithLogger(a.logger),
		workspace.WithEditorOptions(editor.WithStyle(a.config.Style), editor.WithProcessor(a.processor)),
	}
	return workspace.NewSession(a.backend, append(base, opts...)...)
}

// Browser returns a database browser over the backend
func (a *Annotator) Browser() *workspace.Browser {
	return workspace.NewBrowser(a.backend, a.logger)
}

// UploadFiles stages the given files and directories and uploads them.
// Directories contribute their uploadable files, zip archives are expanded.
func (a *Annotator) UploadFiles(ctx context.Context, paths ...string) ([]string, error) {
	var staging upload.Staging
	for _, path := range paths {
		files := []string{path}
		if utils.DirExists(path) {
			var err error
			if files, err = utils.ListUploadFiles(path); err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			if err := staging.AddPath(f); err != nil {
				return nil, err
			}
		}
	}

	u := upload.NewUploader(a.backend,
		upload.WithLogger(a.logger),
		upload.WithConcurrency(a.config.Concurrency),
		upload.WithAnalyzer(a.analyzer),
	)
	return u.Upload(ctx, staging.Files())
}

// Render draws an annotation set over its image letterboxed into a
// width x height canvas. An empty annotationID renders the bare image; a
// zero size keeps the image size.
func (a *Annotator) Render(ctx context.Context, fileID, annotationID string, width, height int) (image.Image, error) {
	data, err := a.backend.Image(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image %s: %w", fileID, err)
	}
	img, err := a.processor.DecodeBytes(data)
	if err != nil {
		return nil, err
	}

	set := types.Annotations{}
	if annotationID != "" {
		if set, err = a.backend.Annotations(ctx, annotationID); err != nil {
			return nil, fmt.Errorf("failed to fetch annotations %s: %w", annotationID, err)
		}
	}

	return editor.Snapshot(img, set, width, height,
		editor.WithStyle(a.config.Style),
		editor.WithProcessor(a.processor),
		editor.WithLogger(a.logger))
}

// SaveImage encodes img to path in the given format
func (a *Annotator) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	return a.processor.SaveImage(img, path, format, quality, lossless)
}

// CropAnnotations cuts every annotated region out of img
func (a *Annotator) CropAnnotations(img image.Image, annotations types.Annotations) ([]cropper.CropResult, error) {
	return a.cropper.CropAnnotations(img, annotations)
}

// GetImageInfo returns basic information about an image
func (a *Annotator) GetImageInfo(img image.Image) analyzer.ImageInfo {
	return a.analyzer.GetImageInfo(img)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
