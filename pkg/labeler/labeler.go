package labeler

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"unicode"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/cropper"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for a name for the object inside a cropped region
const DefaultPrompt = `You are labelling regions of an image for a dataset.

The image is a crop around one annotated object. Name the object.

Return JSON only:
{
  "label": "short noun phrase, at most three words",
  "confidence": 0.0,
  "tags": ["tag1", "tag2", "tag3"]
}

HARD RULES
- The label names the single most prominent object in the crop.
- Use common nouns. Do not guess real identities or brand names.
- Tags: lowercase, concise, no punctuation or duplicates.
- If nothing recognisable is visible, return {"label":"unknown","confidence":0.0,"tags":[]}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options control how crops are sent to the model
type Options struct {
	Model   string
	Prompt  string
	Format  string // jpg or png
	MaxDim  int
	Quality int
}

// Suggestion is a proposed rename of one annotation
type Suggestion struct {
	Current string
	Label   string
	Raw     types.LabelSuggestion
}

// Labeler proposes annotation names using a vision model
type Labeler struct {
	client    client.VisionClient
	cropper   *cropper.RegionCropper
	processor *processing.Processor
	opts      Options
	logger    *slog.Logger
}

// New creates a labeler. A nil cropper uses the default configuration.
func New(vc client.VisionClient, rc *cropper.RegionCropper, opts Options, logger *slog.Logger) *Labeler {
	if rc == nil {
		rc = cropper.New()
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Format == "" {
		opts.Format = "jpg"
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Labeler{
		client:    vc,
		cropper:   rc,
		processor: processing.NewProcessor(),
		opts:      opts,
		logger:    logger,
	}
}

// TestVision checks that the model can see an image at all
func (l *Labeler) TestVision(ctx context.Context, img image.Image) (string, error) {
	b64, err := l.processor.PrepareImageForModel(img, l.opts.Format, l.opts.MaxDim, l.opts.Quality)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return l.client.SimpleQuery(ctx, l.opts.Model, SimpleTestPrompt, b64)
}

// SuggestShape asks the model to name the region around one shape
func (l *Labeler) SuggestShape(ctx context.Context, img image.Image, shape types.Shape) (*types.LabelSuggestion, error) {
	crop, err := l.cropper.CropShape(img, shape)
	if err != nil {
		return nil, err
	}

	b64, err := l.processor.PrepareImageForModel(crop.Image, l.opts.Format, l.opts.MaxDim, l.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}

	s, err := l.client.SuggestLabel(ctx, l.opts.Model, l.opts.Prompt, b64)
	if err != nil {
		return nil, err
	}
	s.Confidence = clamp(s.Confidence, 0, 1)
	s.Tags = normalizeTags(s.Tags)
	return s, nil
}

// Suggest proposes a new key for every annotation in label order. Keys are
// unique among themselves and against annotations that keep their name.
// Regions the model cannot name are left out.
func (l *Labeler) Suggest(ctx context.Context, img image.Image, annotations types.Annotations) ([]Suggestion, error) {
	taken := make(map[string]bool, len(annotations))
	for label := range annotations {
		taken[label] = true
	}

	var out []Suggestion
	for _, label := range annotations.Labels() {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		s, err := l.SuggestShape(ctx, img, annotations[label])
		if err != nil {
			l.logger.Warn("label suggestion failed", "annotation", label, "error", err)
			continue
		}

		key := Normalize(s.Label)
		if key == "" || key == Normalize(unknownLabel) || key == label {
			continue
		}
		key = unique(key, taken)
		taken[key] = true

		l.logger.Debug("label suggested", "annotation", label, "label", key, "confidence", s.Confidence)
		out = append(out, Suggestion{Current: label, Label: key, Raw: *s})
	}
	return out, nil
}

const unknownLabel = "unknown"

// Normalize turns a free-form label into a lower_snake_case key
func Normalize(label string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			underscore = false
		case b.Len() > 0 && !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func unique(key string, taken map[string]bool) string {
	if !taken[key] {
		return key
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", key, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
