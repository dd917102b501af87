package client

import (
	"context"
	"io"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Backend is the storage service that owns images and annotation sets
type Backend interface {
	Schema(ctx context.Context) (types.Schema, error)
	Annotations(ctx context.Context, annotationID string) (types.Annotations, error)
	UpdateAnnotations(ctx context.Context, annotationID string, data types.Annotations) error
	CreateAnnotations(ctx context.Context, fileID string, data types.Annotations) (string, error)
	DeleteAnnotations(ctx context.Context, annotationID string) error
	UploadImage(ctx context.Context, name string, data []byte) (string, error)
	Image(ctx context.Context, fileID string) ([]byte, error)
	DeleteImage(ctx context.Context, fileID string) error
	Export(ctx context.Context, w io.Writer) (int64, error)
}

// VisionClient asks a vision model about an image region
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	SuggestLabel(ctx context.Context, model, prompt, imgB64 string) (*types.LabelSuggestion, error)
}
