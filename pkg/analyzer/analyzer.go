package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	// imaging registers jpeg, png, gif, bmp and tiff decoders
	_ "github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat is returned for decodable images in a format the backend does not accept
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooSmall is returned when either side is below the minimum size
	ErrTooSmall = errors.New("image too small")
)

// ImageAnalyzer checks image payloads before they are stored
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
}

// DefaultConfig accepts the formats the backend stores
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png"},
		MinImageSize:     1,
	}
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{config: DefaultConfig()}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Format      string
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// Inspect reads the image header of data without decoding the pixels
func (a *ImageAnalyzer) Inspect(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	return newInfo(format, cfg.Width, cfg.Height), nil
}

// Validate checks that data is an image of a supported format and size
func (a *ImageAnalyzer) Validate(data []byte) (ImageInfo, error) {
	info, err := a.Inspect(data)
	if err != nil {
		return info, err
	}
	if !a.isFormatSupported(info.Format) {
		return info, fmt.Errorf("%w: %s", ErrUnsupportedFormat, info.Format)
	}
	if info.Width < a.config.MinImageSize || info.Height < a.config.MinImageSize {
		return info, fmt.Errorf("%w: %dx%d (minimum: %d)",
			ErrTooSmall, info.Width, info.Height, a.config.MinImageSize)
	}
	return info, nil
}

// GetImageInfo returns basic information about a decoded image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	b := img.Bounds()
	return newInfo("", b.Dx(), b.Dy())
}

func newInfo(format string, width, height int) ImageInfo {
	info := ImageInfo{
		Format: format,
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(supported, "jpg") {
			supported = "jpeg"
		}
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}
