package workspace

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/mobile/event/key"

	"github.com/menta2k/image-annotator/internal/backendtest"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/editor"
	"github.com/menta2k/image-annotator/pkg/labeler"
	"github.com/menta2k/image-annotator/pkg/types"
)

func createTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{90, 90, 90, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture stores two images: cat.png with two sets and dog.png with none
func fixture(t *testing.T) (*backendtest.Memory, string, string) {
	t.Helper()
	mem := backendtest.New()
	data := createTestPNG(t, 40, 20)
	catID := mem.AddImage("cat.png", data,
		types.Annotations{"annotation_1": {{1, 1}}},
		types.Annotations{"ear": {{2, 2}, {3, 3}}, "tail": {{5, 5}}},
	)
	dogID := mem.AddImage("dog.png", data)
	return mem, catID, dogID
}

func newSession(t *testing.T, b client.Backend) *Session {
	t.Helper()
	s := NewSession(b,
		WithLogger(quietLogger()),
		WithEditorOptions(editor.WithContainer(200, 100)),
	)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	return s
}

func TestSessionRows(t *testing.T) {
	mem, _, _ := fixture(t)
	s := newSession(t, mem)

	rows := s.Rows()
	if len(rows) != 2 || rows[0].Image != "cat.png" || rows[0].Count != 2 || rows[1].Image != "dog.png" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	if !s.Toggle("cat.png") {
		t.Fatal("expected cat.png to expand")
	}
	rows = s.Rows()
	if len(rows) != 4 || rows[1].Kind != RowAnnotationSet || rows[2].Kind != RowAnnotationSet {
		t.Fatalf("unexpected expanded rows %+v", rows)
	}
	if rows[1].Key() == rows[2].Key() {
		t.Error("row keys are not unique")
	}

	if s.Toggle("cat.png") || len(s.Rows()) != 2 {
		t.Error("expected cat.png to collapse")
	}
}

func TestSessionOpen(t *testing.T) {
	mem, catID, _ := fixture(t)
	s := newSession(t, mem)
	setID := s.Schema()["cat.png"].Annotations[1]

	if err := s.Open(context.Background(), catID, setID); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !s.Editor().Ready() {
		t.Fatal("editor not ready after Open")
	}
	if got := s.Editor().Annotations(); len(got) != 2 {
		t.Errorf("editor shows %v", got)
	}
	if l := s.Editor().Layout(); l.CanvasWidth != 200 || l.CanvasHeight != 100 {
		t.Errorf("unexpected layout %+v", l)
	}

	images, sets := mem.CallCount("Image"), mem.CallCount("Annotations")
	if err := s.Open(context.Background(), catID, setID); err != nil {
		t.Fatal(err)
	}
	if mem.CallCount("Image") != images || mem.CallCount("Annotations") != sets {
		t.Error("reopening the current image and set fetched again")
	}
}

func TestSessionOpenMissing(t *testing.T) {
	mem, catID, _ := fixture(t)
	s := newSession(t, mem)

	if err := s.Open(context.Background(), catID, "nope"); !errors.Is(err, backendtest.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, id, _ := s.Current(); id != "" {
		t.Errorf("failed open changed the current set to %q", id)
	}
}

func TestSessionSelectCreatesSet(t *testing.T) {
	mem, _, dogID := fixture(t)
	s := newSession(t, mem)

	if err := s.Select(context.Background(), "dog.png"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	imageID, setID, a := s.Current()
	if imageID != dogID || setID == "" || a == nil || len(a) != 0 {
		t.Fatalf("unexpected current state %q %q %v", imageID, setID, a)
	}
	if got := s.Schema()["dog.png"].Annotations; len(got) != 1 || got[0] != setID {
		t.Errorf("new set not listed: %v", got)
	}
	rows := s.Rows()
	if len(rows) != 3 || rows[2].AnnotationID != setID {
		t.Errorf("dog.png row not expanded: %+v", rows)
	}

	if err := s.Select(context.Background(), "cat.png"); err != nil {
		t.Fatal(err)
	}
	if len(s.Rows()) != 5 {
		t.Error("selecting an image with sets should expand it")
	}
	if err := s.Select(context.Background(), "bird.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionCommitPersists(t *testing.T) {
	mem, catID, _ := fixture(t)
	s := newSession(t, mem)
	setID := s.Schema()["cat.png"].Annotations[1]
	if err := s.Open(context.Background(), catID, setID); err != nil {
		t.Fatal(err)
	}

	ed := s.Editor()
	ed.AddPoint(types.Point{10, 10})
	ed.AddPoint(types.Point{20, 10})
	label, ok := ed.Commit()
	if !ok || label != "annotation_3" {
		t.Fatalf("Commit = %q, %v", label, ok)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	stored, _ := mem.Stored(setID)
	if len(stored) != 3 || len(stored["annotation_3"]) != 2 {
		t.Errorf("commit not persisted: %v", stored)
	}
	if _, _, a := s.Current(); len(a) != 3 {
		t.Errorf("session did not adopt the new set: %v", a)
	}
	if got := ed.Annotations(); len(got) != 3 {
		t.Errorf("editor not updated: %v", got)
	}
}

// slowUpdates holds every UpdateAnnotations call until release is closed
type slowUpdates struct {
	*backendtest.Memory
	release chan struct{}
}

func (b *slowUpdates) UpdateAnnotations(ctx context.Context, id string, data types.Annotations) error {
	<-b.release
	return b.Memory.UpdateAnnotations(ctx, id, data)
}

func TestSessionCommitDoesNotWaitForBackend(t *testing.T) {
	mem, catID, _ := fixture(t)
	b := &slowUpdates{Memory: mem, release: make(chan struct{})}
	s := newSession(t, b)
	setID := s.Schema()["cat.png"].Annotations[1]
	ctx := context.Background()
	if err := s.Open(ctx, catID, setID); err != nil {
		t.Fatal(err)
	}

	ed := s.Editor()
	enter := key.Event{Code: key.CodeReturnEnter, Direction: key.DirPress}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ed.AddPoint(types.Point{10, 10})
		ed.HandleEvent(enter)
		ed.AddPoint(types.Point{20, 20})
		ed.HandleEvent(enter)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(b.release)
		t.Fatal("Enter waited for the backend write")
	}
	if got := ed.Annotations(); len(got) != 4 {
		t.Errorf("editor not updated before the write finished: %v", got)
	}

	close(b.release)
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	stored, _ := mem.Stored(setID)
	if len(stored) != 4 || len(stored["annotation_4"]) != 1 {
		t.Errorf("latest set not stored: %v", stored)
	}
}

// slowSet holds the fetch of one annotation set until release is closed
type slowSet struct {
	*backendtest.Memory
	slowID  string
	started chan struct{}
	release chan struct{}
}

func (b *slowSet) Annotations(ctx context.Context, id string) (types.Annotations, error) {
	if id == b.slowID {
		close(b.started)
		<-b.release
	}
	return b.Memory.Annotations(ctx, id)
}

func TestSessionLateOpenDoesNotOverwrite(t *testing.T) {
	mem, catID, _ := fixture(t)
	schema, _ := mem.Schema(context.Background())
	first, second := schema["cat.png"].Annotations[0], schema["cat.png"].Annotations[1]

	b := &slowSet{Memory: mem, slowID: first, started: make(chan struct{}), release: make(chan struct{})}
	s := newSession(t, b)
	ctx := context.Background()
	if err := s.Open(ctx, catID, second); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Open(ctx, catID, first) }()
	<-b.started

	if err := s.Open(ctx, catID, second); err != nil {
		t.Fatalf("reselecting the shown set failed: %v", err)
	}
	close(b.release)
	if err := <-errCh; !errors.Is(err, ErrStaleOpen) {
		t.Errorf("expected ErrStaleOpen, got %v", err)
	}

	if _, id, a := s.Current(); id != second || len(a) != 2 {
		t.Fatalf("late fetch replaced the selection: %q %v", id, a)
	}
	if got := s.Editor().Annotations(); len(got) != 2 {
		t.Errorf("editor shows %v", got)
	}

	s.Editor().AddPoint(types.Point{7, 7})
	s.Editor().Commit()
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if stored, _ := mem.Stored(second); len(stored) != 3 {
		t.Errorf("commit written to the wrong set: %v", stored)
	}
	if stored, _ := mem.Stored(first); len(stored) != 1 {
		t.Errorf("superseded set modified: %v", stored)
	}
}

func TestSessionRenameAndDelete(t *testing.T) {
	mem, catID, _ := fixture(t)
	s := newSession(t, mem)
	setID := s.Schema()["cat.png"].Annotations[1]
	ctx := context.Background()
	if err := s.Open(ctx, catID, setID); err != nil {
		t.Fatal(err)
	}

	if err := s.RenameAnnotation(ctx, "whisker", "ear"); err != nil {
		t.Fatalf("RenameAnnotation failed: %v", err)
	}
	stored, _ := mem.Stored(setID)
	if _, ok := stored["whisker"]; !ok || stored["ear"] != nil {
		t.Errorf("rename not persisted: %v", stored)
	}

	if err := s.RenameAnnotation(ctx, "tail", "whisker"); !errors.Is(err, ErrLabelExists) {
		t.Errorf("expected ErrLabelExists, got %v", err)
	}
	if err := s.RenameAnnotation(ctx, "x", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteAnnotation(ctx, "tail"); err != nil {
		t.Fatalf("DeleteAnnotation failed: %v", err)
	}
	stored, _ = mem.Stored(setID)
	if len(stored) != 1 {
		t.Errorf("delete not persisted: %v", stored)
	}
	if err := s.DeleteAnnotation(ctx, "tail"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionEditsNeedOpenSet(t *testing.T) {
	mem, _, _ := fixture(t)
	s := newSession(t, mem)
	if err := s.RenameAnnotation(context.Background(), "a", "b"); !errors.Is(err, ErrNoAnnotationSet) {
		t.Errorf("expected ErrNoAnnotationSet, got %v", err)
	}
	if err := s.DeleteAnnotation(context.Background(), "a"); !errors.Is(err, ErrNoAnnotationSet) {
		t.Errorf("expected ErrNoAnnotationSet, got %v", err)
	}
}

func TestSessionPersistFailureKeepsState(t *testing.T) {
	mem, catID, _ := fixture(t)
	s := newSession(t, mem)
	setID := s.Schema()["cat.png"].Annotations[0]
	ctx := context.Background()
	if err := s.Open(ctx, catID, setID); err != nil {
		t.Fatal(err)
	}

	mem.FailUpdate = true
	if err := s.DeleteAnnotation(ctx, "annotation_1"); err == nil {
		t.Error("expected update error")
	}
	if _, _, a := s.Current(); len(a) != 0 {
		t.Errorf("local state not kept: %v", a)
	}
	if stored, _ := mem.Stored(setID); len(stored) != 1 {
		t.Errorf("backend changed despite failure: %v", stored)
	}
}

func TestSessionApplySuggestions(t *testing.T) {
	mem, catID, _ := fixture(t)
	s := newSession(t, mem)
	setID := s.Schema()["cat.png"].Annotations[1]
	ctx := context.Background()
	if err := s.Open(ctx, catID, setID); err != nil {
		t.Fatal(err)
	}

	n, err := s.ApplySuggestions(ctx, []labeler.Suggestion{
		{Current: "ear", Label: "left_ear"},
		{Current: "tail", Label: "left_ear"},
		{Current: "gone", Label: "x"},
	})
	if err != nil || n != 1 {
		t.Fatalf("ApplySuggestions = %d, %v", n, err)
	}
	stored, _ := mem.Stored(setID)
	if _, ok := stored["left_ear"]; !ok || len(stored) != 2 {
		t.Errorf("unexpected stored set %v", stored)
	}
}

func TestBrowser(t *testing.T) {
	mem, _, _ := fixture(t)
	b := NewBrowser(mem, quietLogger())
	ctx := context.Background()
	if err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if expanded, err := b.ToggleImage(ctx, "dog.png"); err != nil || expanded {
		t.Errorf("image without sets expanded: %v, %v", expanded, err)
	}

	expanded, err := b.ToggleImage(ctx, "cat.png")
	if err != nil || !expanded {
		t.Fatalf("ToggleImage = %v, %v", expanded, err)
	}
	if mem.CallCount("Annotations") != 2 {
		t.Errorf("expected both sets fetched, got %d calls", mem.CallCount("Annotations"))
	}

	rows := b.Rows()
	if len(rows) != 4 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	second := rows[2].AnnotationID
	if !b.ToggleSet(second) {
		t.Fatal("set did not expand")
	}
	rows = b.Rows()
	if len(rows) != 6 || rows[3].Kind != RowLabel || rows[3].Label != "ear" || rows[4].Label != "tail" {
		t.Fatalf("unexpected label rows %+v", rows)
	}
	if got := rows[3].String(); got != "    ear : [2, 2, 3, 3]" {
		t.Errorf("unexpected label row text %q", got)
	}

	b.ToggleImage(ctx, "cat.png")
	if _, ok := b.Cached(second); ok {
		t.Error("collapsing did not invalidate the cache")
	}
	b.ToggleImage(ctx, "cat.png")
	if len(b.Rows()) != 4 {
		t.Error("collapsing should also collapse set rows")
	}
}

// failingSet fails the fetch of one annotation set
type failingSet struct {
	*backendtest.Memory
	failID string
}

func (b *failingSet) Annotations(ctx context.Context, id string) (types.Annotations, error) {
	if id == b.failID {
		return nil, errors.New("boom")
	}
	return b.Memory.Annotations(ctx, id)
}

func TestBrowserPartialFetch(t *testing.T) {
	mem, _, _ := fixture(t)
	schema, _ := mem.Schema(context.Background())
	first, second := schema["cat.png"].Annotations[0], schema["cat.png"].Annotations[1]

	b := NewBrowser(&failingSet{Memory: mem, failID: first}, quietLogger())
	ctx := context.Background()
	b.Refresh(ctx)

	expanded, err := b.ToggleImage(ctx, "cat.png")
	if err != nil || !expanded {
		t.Fatalf("ToggleImage = %v, %v", expanded, err)
	}
	if _, ok := b.Cached(first); ok {
		t.Error("failed set was cached")
	}
	if a, ok := b.Cached(second); !ok || len(a) != 2 {
		t.Errorf("other set not cached: %v", a)
	}
}

func TestBrowserDelete(t *testing.T) {
	mem, _, _ := fixture(t)
	mem.ExportData = []byte("PK")
	b := NewBrowser(mem, quietLogger())
	ctx := context.Background()
	b.Refresh(ctx)
	b.ToggleImage(ctx, "cat.png")

	first := b.Rows()[1].AnnotationID
	if err := b.DeleteAnnotationSet(ctx, "cat.png", first); err != nil {
		t.Fatalf("DeleteAnnotationSet failed: %v", err)
	}
	if rows := b.Rows(); len(rows) != 3 || rows[0].Count != 1 {
		t.Errorf("set still listed: %+v", b.Rows())
	}
	if err := b.DeleteAnnotationSet(ctx, "cat.png", first); err == nil {
		t.Error("expected error deleting a missing set")
	}

	if err := b.DeleteImage(ctx, "cat.png"); err != nil {
		t.Fatalf("DeleteImage failed: %v", err)
	}
	if rows := b.Rows(); len(rows) != 1 || rows[0].Image != "dog.png" {
		t.Errorf("image still listed: %+v", rows)
	}
	if err := b.DeleteImage(ctx, "cat.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	var buf bytes.Buffer
	if n, err := b.Export(ctx, &buf); err != nil || n != 2 || buf.String() != "PK" {
		t.Errorf("Export = %d, %v, %q", n, err, buf.String())
	}
}
