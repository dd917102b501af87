package labeler

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"

	"github.com/menta2k/image-annotator/pkg/types"
)

// fakeVision answers with a fixed label per call, in order
type fakeVision struct {
	labels  []string
	calls   int
	prompts []string
}

func (f *fakeVision) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "a gray square", nil
}

func (f *fakeVision) SuggestLabel(ctx context.Context, model, prompt, imgB64 string) (*types.LabelSuggestion, error) {
	if _, err := base64.StdEncoding.DecodeString(imgB64); err != nil || imgB64 == "" {
		return nil, errors.New("bad image payload")
	}
	f.prompts = append(f.prompts, prompt)
	label := f.labels[f.calls%len(f.labels)]
	f.calls++
	if label == "!error" {
		return nil, errors.New("model unavailable")
	}
	return &types.LabelSuggestion{Label: label, Confidence: 1.7, Tags: []string{" Car", "car", "Red "}}, nil
}

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	return img
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Traffic Light", "traffic_light"},
		{"  stop-sign!! ", "stop_sign"},
		{"Car", "car"},
		{"--", ""},
		{"Straße 2", "straße_2"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSuggestShape(t *testing.T) {
	fv := &fakeVision{labels: []string{"Car"}}
	l := New(fv, nil, Options{Model: "m"}, quietLogger())

	s, err := l.SuggestShape(context.Background(), createTestImage(100, 100), types.Shape{{10, 10}, {60, 60}})
	if err != nil {
		t.Fatalf("SuggestShape failed: %v", err)
	}
	if s.Confidence != 1 {
		t.Errorf("confidence not clamped: %f", s.Confidence)
	}
	if len(s.Tags) != 2 || s.Tags[0] != "car" || s.Tags[1] != "red" {
		t.Errorf("tags not normalized: %v", s.Tags)
	}
	if fv.prompts[0] != DefaultPrompt {
		t.Error("default prompt not used")
	}
}

func TestSuggestUniqueKeys(t *testing.T) {
	fv := &fakeVision{labels: []string{"Car", "car", "!error", "unknown", "person"}}
	l := New(fv, nil, Options{Model: "m"}, quietLogger())

	annotations := types.Annotations{
		"annotation_1": {{10, 10}},
		"annotation_2": {{20, 20}},
		"annotation_3": {{30, 30}},
		"annotation_4": {{40, 40}},
		"person":       {{50, 50}},
	}

	got, err := l.Suggest(context.Background(), createTestImage(100, 100), annotations)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}

	want := map[string]string{"annotation_1": "car", "annotation_2": "car_2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d suggestions, got %+v", len(want), got)
	}
	for _, s := range got {
		if want[s.Current] != s.Label {
			t.Errorf("%s: expected %q, got %q", s.Current, want[s.Current], s.Label)
		}
	}
}

func TestSuggestCancelled(t *testing.T) {
	l := New(&fakeVision{labels: []string{"car"}}, nil, Options{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Suggest(ctx, createTestImage(10, 10), types.Annotations{"a": {{1, 1}}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTestVision(t *testing.T) {
	l := New(&fakeVision{}, nil, Options{}, quietLogger())
	got, err := l.TestVision(context.Background(), createTestImage(10, 10))
	if err != nil || got == "" {
		t.Errorf("TestVision = %q, %v", got, err)
	}
}
