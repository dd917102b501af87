package types

import (
	"math"
	"sort"
)

// Point is an image-space coordinate pair. It encodes as a two element JSON array.
type Point [2]float64

// X returns the horizontal coordinate
func (p Point) X() float64 { return p[0] }

// Y returns the vertical coordinate
func (p Point) Y() float64 { return p[1] }

// Shape is an ordered sequence of image-space points
type Shape []Point

// ShapeKind classifies a shape by its point count
type ShapeKind int

const (
	KindNone ShapeKind = iota
	KindPoint
	KindLine
	KindPolygon
)

func (k ShapeKind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPolygon:
		return "polygon"
	default:
		return "none"
	}
}

// Kind returns the shape classification: 1 point, 2 line, 3+ closed polygon
func (s Shape) Kind() ShapeKind {
	switch n := len(s); {
	case n == 0:
		return KindNone
	case n == 1:
		return KindPoint
	case n == 2:
		return KindLine
	default:
		return KindPolygon
	}
}

// Clone returns a copy that shares no backing array with s
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Bounds returns the smallest box containing every point, in image pixels
func (s Shape) Bounds() Box {
	if len(s) == 0 {
		return Box{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range s {
		minX = math.Min(minX, p[0])
		minY = math.Min(minY, p[1])
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	return Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// Length returns the open path length for lines and the perimeter for polygons
func (s Shape) Length() float64 {
	if len(s) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(s); i++ {
		total += math.Hypot(s[i][0]-s[i-1][0], s[i][1]-s[i-1][1])
	}
	if s.Kind() == KindPolygon {
		last, first := s[len(s)-1], s[0]
		total += math.Hypot(first[0]-last[0], first[1]-last[1])
	}
	return total
}

// Area returns the polygon area (shoelace formula); zero for points and lines
func (s Shape) Area() float64 {
	if s.Kind() != KindPolygon {
		return 0
	}
	var sum float64
	for i := range s {
		j := (i + 1) % len(s)
		sum += s[i][0]*s[j][1] - s[j][0]*s[i][1]
	}
	return math.Abs(sum) / 2
}

// Annotations maps a unique label to its shape.
//
// Values of this type are treated as immutable snapshots: the helpers below
// always return a new map and never modify the receiver.
type Annotations map[string]Shape

// Clone returns a deep copy
func (a Annotations) Clone() Annotations {
	if a == nil {
		return nil
	}
	out := make(Annotations, len(a))
	for k, v := range a {
		out[k] = v.Clone()
	}
	return out
}

// With returns a copy with label set to shape
func (a Annotations) With(label string, shape Shape) Annotations {
	out := make(Annotations, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	out[label] = shape.Clone()
	return out
}

// Without returns a copy with label removed
func (a Annotations) Without(label string) Annotations {
	out := make(Annotations, len(a))
	for k, v := range a {
		if k != label {
			out[k] = v
		}
	}
	return out
}

// Renamed returns a copy where oldLabel's shape is stored under newLabel
func (a Annotations) Renamed(oldLabel, newLabel string) Annotations {
	out := a.Without(oldLabel)
	if shape, ok := a[oldLabel]; ok {
		out[newLabel] = shape
	}
	return out
}

// Labels returns the labels in sorted order
func (a Annotations) Labels() []string {
	labels := make([]string, 0, len(a))
	for k := range a {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Box is an axis-aligned rectangle. Depending on context it is expressed in
// image pixels or normalized to [0,1].
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ImageEntry is one row of the backend schema listing
type ImageEntry struct {
	ID          string   `json:"id"`
	Annotations []string `json:"annotations"`
}

// Schema maps an image file name to its backend entry
type Schema map[string]ImageEntry

// Names returns the image names in sorted order
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FindByID returns the image name whose entry has the given id
func (s Schema) FindByID(id string) (string, bool) {
	for name, entry := range s {
		if entry.ID == id {
			return name, true
		}
	}
	return "", false
}

// LabelSuggestion is the answer of a vision model for one annotated region
type LabelSuggestion struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

// RenderOptions contains options for producing a preview image
type RenderOptions struct {
	Width    int
	Height   int
	Format   string
	Quality  int
	Lossless bool
}
