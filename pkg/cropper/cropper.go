package cropper

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-annotator/pkg/types"
)

// ErrEmptyRegion is returned when a shape lies entirely outside the image
var ErrEmptyRegion = errors.New("cropper: region does not intersect the image")

// RegionCropper cuts annotated regions out of an image
type RegionCropper struct {
	config CropConfig
}

// CropConfig holds configuration for region cropping
type CropConfig struct {
	// PaddingRatio grows the region by this fraction of its longer side on every edge
	PaddingRatio float64
	// MinSize is the smallest side of a crop; points and thin lines are grown to it
	MinSize int
	// MaxSize downscales crops whose longer side exceeds it. Zero disables.
	MaxSize int
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() CropConfig {
	return CropConfig{
		PaddingRatio: 0.1,
		MinSize:      32,
		MaxSize:      1024,
	}
}

// New creates a new RegionCropper with default configuration
func New() *RegionCropper {
	return &RegionCropper{config: DefaultConfig()}
}

// NewWithConfig creates a new RegionCropper with custom configuration
func NewWithConfig(config CropConfig) *RegionCropper {
	if config.PaddingRatio < 0 {
		config.PaddingRatio = 0
	}
	if config.MinSize < 1 {
		config.MinSize = 1
	}
	return &RegionCropper{config: config}
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Label  string
	Image  image.Image
	Region image.Rectangle
}

// Region returns the padded pixel rectangle around shape, clipped to bounds
func (c *RegionCropper) Region(bounds image.Rectangle, shape types.Shape) (image.Rectangle, error) {
	if len(shape) == 0 {
		return image.Rectangle{}, fmt.Errorf("cropper: empty shape")
	}

	box := shape.Bounds()
	cx, cy := box.X+box.W/2, box.Y+box.H/2

	pad := math.Max(box.W, box.H) * c.config.PaddingRatio
	w := math.Max(box.W+2*pad, float64(c.config.MinSize))
	h := math.Max(box.H+2*pad, float64(c.config.MinSize))

	r := image.Rect(
		int(math.Floor(cx-w/2)),
		int(math.Floor(cy-h/2)),
		int(math.Ceil(cx+w/2)),
		int(math.Ceil(cy+h/2)),
	).Intersect(bounds)

	if r.Empty() {
		return image.Rectangle{}, ErrEmptyRegion
	}
	return r, nil
}

// CropShape crops the region around one annotation shape
func (c *RegionCropper) CropShape(img image.Image, shape types.Shape) (CropResult, error) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return CropResult{}, fmt.Errorf("invalid image dimensions")
	}

	region, err := c.Region(bounds, shape)
	if err != nil {
		return CropResult{}, err
	}

	var out image.Image = imaging.Crop(img, region)
	if limit := c.config.MaxSize; limit > 0 && (region.Dx() > limit || region.Dy() > limit) {
		if region.Dx() >= region.Dy() {
			out = imaging.Resize(out, limit, 0, imaging.Lanczos)
		} else {
			out = imaging.Resize(out, 0, limit, imaging.Lanczos)
		}
	}

	return CropResult{Image: out, Region: region}, nil
}

// CropAnnotations crops every annotation in label order. Shapes that fall
// outside the image are skipped.
func (c *RegionCropper) CropAnnotations(img image.Image, annotations types.Annotations) ([]CropResult, error) {
	var results []CropResult

	for _, label := range annotations.Labels() {
		result, err := c.CropShape(img, annotations[label])
		if errors.Is(err, ErrEmptyRegion) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to crop %s: %w", label, err)
		}
		result.Label = label
		results = append(results, result)
	}

	return results, nil
}
