package editor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gg"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Style controls how shapes are drawn. Sizes are canvas pixels.
type Style struct {
	PointRadius  float64
	LineWidth    float64
	PointColor   color.Color
	LineColor    color.Color
	PolygonColor color.Color
}

// DefaultStyle returns the standard marker style: red points, blue lines,
// green polygons.
func DefaultStyle() Style {
	return Style{
		PointRadius:  5,
		LineWidth:    2,
		PointColor:   color.NRGBA{255, 0, 0, 255},
		LineColor:    color.NRGBA{0, 0, 255, 255},
		PolygonColor: color.NRGBA{0, 128, 0, 255},
	}
}

// renderFrame draws bitmap, stored shapes and the in-progress shape, in that
// order, onto a fresh canvas.
func renderFrame(base image.Image, annotations types.Annotations, current types.Shape, l Layout, s Style) (image.Image, error) {
	dc := gg.NewContextForImage(base)
	defer dc.Close()

	for _, label := range annotations.Labels() {
		if err := drawShape(dc, annotations[label], l, s); err != nil {
			return nil, fmt.Errorf("draw %s: %w", label, err)
		}
	}
	if err := drawShape(dc, current, l, s); err != nil {
		return nil, fmt.Errorf("draw current shape: %w", err)
	}

	return dc.Image(), nil
}

func drawShape(dc *gg.Context, shape types.Shape, l Layout, s Style) error {
	switch shape.Kind() {
	case types.KindPoint:
		x, y := l.ImageToCanvas(shape[0])
		dc.DrawCircle(x, y, s.PointRadius)
		dc.SetColor(s.PointColor)
		return dc.Fill()

	case types.KindLine:
		x1, y1 := l.ImageToCanvas(shape[0])
		x2, y2 := l.ImageToCanvas(shape[1])
		dc.MoveTo(x1, y1)
		dc.LineTo(x2, y2)
		dc.SetColor(s.LineColor)
		dc.SetLineWidth(s.LineWidth)
		return dc.Stroke()

	case types.KindPolygon:
		x, y := l.ImageToCanvas(shape[0])
		dc.MoveTo(x, y)
		for _, p := range shape[1:] {
			x, y = l.ImageToCanvas(p)
			dc.LineTo(x, y)
		}
		dc.ClosePath()
		dc.SetColor(s.PolygonColor)
		dc.SetLineWidth(s.LineWidth)
		return dc.Stroke()
	}
	return nil
}

// Snapshot renders annotations over img letterboxed into a width x height
// container and returns the canvas. A zero width or height uses the image
// size. No in-progress shape is drawn.
func Snapshot(img image.Image, annotations types.Annotations, width, height int, opts ...Option) (image.Image, error) {
	b := img.Bounds()
	if width <= 0 || height <= 0 {
		width, height = b.Dx(), b.Dy()
	}
	if annotations == nil {
		annotations = types.Annotations{}
	}

	opts = append(opts, WithContainer(float64(width), float64(height)))
	ed := New(nil, opts...)
	if err := ed.SetImage(img); err != nil {
		return nil, err
	}
	ed.SetAnnotations(annotations)
	return ed.Frame()
}
