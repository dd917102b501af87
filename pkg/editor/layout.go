package editor

import (
	"math"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Layout describes how an image is placed inside its container.
//
// The canvas keeps the image aspect ratio and is centred in the container,
// leaving empty bands on the shorter axis. Canvas dimensions are whole pixels.
type Layout struct {
	ImageWidth      int
	ImageHeight     int
	ContainerWidth  float64
	ContainerHeight float64
	CanvasWidth     int
	CanvasHeight    int
	ScaleX          float64
	ScaleY          float64
	OffsetX         float64
	OffsetY         float64
}

// Fit computes the letterboxed layout of an imageW x imageH bitmap inside a
// containerW x containerH area.
func Fit(imageW, imageH int, containerW, containerH float64) Layout {
	l := Layout{
		ImageWidth:      imageW,
		ImageHeight:     imageH,
		ContainerWidth:  containerW,
		ContainerHeight: containerH,
	}
	if imageW <= 0 || imageH <= 0 || containerW <= 0 || containerH <= 0 {
		return l
	}

	aspect := float64(imageW) / float64(imageH)
	w, h := containerW, containerH
	if w/h > aspect {
		w = h * aspect
	} else {
		h = w / aspect
	}

	// canvas sizes are integral; the epsilon absorbs float noise like 99.99999
	l.CanvasWidth = int(math.Floor(w + 1e-9))
	l.CanvasHeight = int(math.Floor(h + 1e-9))
	l.ScaleX = float64(l.CanvasWidth) / float64(imageW)
	l.ScaleY = float64(l.CanvasHeight) / float64(imageH)
	l.OffsetX = (containerW - float64(l.CanvasWidth)) / 2
	l.OffsetY = (containerH - float64(l.CanvasHeight)) / 2
	return l
}

// Valid reports whether the layout has a drawable, non-empty canvas
func (l Layout) Valid() bool {
	return l.CanvasWidth > 0 && l.CanvasHeight > 0 && l.ScaleX > 0 && l.ScaleY > 0
}

// ImageToCanvas converts image coordinates to canvas coordinates.
func (l Layout) ImageToCanvas(p types.Point) (x, y float64) {
	return p[0] * l.ScaleX, p[1] * l.ScaleY
}

// CanvasToImage converts canvas coordinates to image coordinates.
func (l Layout) CanvasToImage(x, y float64) types.Point {
	return types.Point{x / l.ScaleX, y / l.ScaleY}
}

// ContainerToImage converts a position relative to the container's top-left
// corner to image coordinates.
func (l Layout) ContainerToImage(x, y float64) types.Point {
	return l.CanvasToImage(x-l.OffsetX, y-l.OffsetY)
}

// ImageToContainer is the inverse of ContainerToImage.
func (l Layout) ImageToContainer(p types.Point) (x, y float64) {
	cx, cy := l.ImageToCanvas(p)
	return cx + l.OffsetX, cy + l.OffsetY
}

// InCanvas reports whether a container position falls on the canvas
func (l Layout) InCanvas(x, y float64) bool {
	if !l.Valid() {
		return false
	}
	cx, cy := x-l.OffsetX, y-l.OffsetY
	return cx >= 0 && cy >= 0 && cx < float64(l.CanvasWidth) && cy < float64(l.CanvasHeight)
}
