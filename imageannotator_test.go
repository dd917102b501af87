package imageannotator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/image-annotator/internal/backendtest"
	"github.com/menta2k/image-annotator/pkg/types"
)

func createTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNew(t *testing.T) {
	mem := backendtest.New()
	a := New(mem)
	if a.Backend() != mem {
		t.Error("backend not kept")
	}
	if a.analyzer == nil || a.cropper == nil || a.processor == nil {
		t.Error("component is nil")
	}
	if a.Session() == nil || a.Browser() == nil {
		t.Error("session or browser is nil")
	}
}

func TestUploadFilesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), createTestPNG(t, 20, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cat.txt"), []byte(`{'ear': [[1, 2]]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	mem := backendtest.New()
	names, err := New(mem).UploadFiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("UploadFiles failed: %v", err)
	}
	if len(names) != 2 || names[0] != "cat.png" || names[1] != "cat.txt" {
		t.Errorf("unexpected uploaded names %v", names)
	}

	schema, _ := mem.Schema(context.Background())
	entry, ok := schema["cat.png"]
	if !ok || len(entry.Annotations) != 1 {
		t.Fatalf("unexpected schema %+v", schema)
	}
	stored, _ := mem.Stored(entry.Annotations[0])
	if s := stored["ear"]; len(s) != 1 || s[0] != (types.Point{1, 2}) {
		t.Errorf("sidecar not stored: %v", stored)
	}
}

func TestUploadFilesMissingPath(t *testing.T) {
	if _, err := New(backendtest.New()).UploadFiles(context.Background(), filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRender(t *testing.T) {
	mem := backendtest.New()
	fileID := mem.AddImage("cat.png", createTestPNG(t, 100, 50), types.Annotations{"p": {{50, 25}}})
	schema, _ := mem.Schema(context.Background())
	annotationID := schema["cat.png"].Annotations[0]

	a := New(mem)
	img, err := a.Render(context.Background(), fileID, annotationID, 200, 200)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("canvas %dx%d, want 200x100", b.Dx(), b.Dy())
	}
	r, g, _, _ := img.At(100, 50).RGBA()
	if r>>8 < 200 || g>>8 > 60 {
		t.Errorf("expected a red marker at the centre, got r=%d g=%d", r>>8, g>>8)
	}

	bare, err := a.Render(context.Background(), fileID, "", 0, 0)
	if err != nil {
		t.Fatalf("Render without annotations failed: %v", err)
	}
	if b := bare.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("bare canvas %dx%d, want 100x50", b.Dx(), b.Dy())
	}

	if _, err := a.Render(context.Background(), "missing", "", 0, 0); err == nil {
		t.Error("expected error for unknown image")
	}
}

func TestCropAnnotations(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	results, err := New(backendtest.New()).CropAnnotations(img, types.Annotations{
		"b": {{10, 10}, {60, 60}},
		"a": {{100, 100}},
	})
	if err != nil {
		t.Fatalf("CropAnnotations failed: %v", err)
	}
	if len(results) != 2 || results[0].Label != "a" || results[1].Label != "b" {
		t.Errorf("unexpected crops %+v", results)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("GetVersion() = %q", GetVersion())
	}
}
