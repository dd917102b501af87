package llamacpp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request: %v", err)
		}
		parts, _ := req.Messages[0].Content.([]interface{})
		if len(parts) != 2 {
			t.Errorf("expected text and image parts, got %v", req.Messages[0].Content)
		}
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSuggestLabel(t *testing.T) {
	srv := newServer(t, `{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"label\":\"stop sign\",\"confidence\":0.7,\"tags\":[]}"}}]}`)
	c, _ := NewClient(srv.URL + "/")

	s, err := c.SuggestLabel(context.Background(), "m", "p", "aGVsbG8=")
	if err != nil {
		t.Fatalf("SuggestLabel failed: %v", err)
	}
	if s.Label != "stop sign" || s.Confidence != 0.7 {
		t.Errorf("unexpected suggestion %+v", s)
	}
}

func TestSimpleQueryContentParts(t *testing.T) {
	srv := newServer(t, `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"a cat"}]}}]}`)
	c, _ := NewClient(srv.URL)

	got, err := c.SimpleQuery(context.Background(), "m", "p", "aGVsbG8=")
	if err != nil || got != "a cat" {
		t.Errorf("SimpleQuery = %q, %v", got, err)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c, _ := NewClient(srv.URL)

	_, err := c.SuggestLabel(context.Background(), "m", "p", "")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestNoChoices(t *testing.T) {
	srv := newServer(t, `{"choices":[]}`)
	c, _ := NewClient(srv.URL)
	if _, err := c.SimpleQuery(context.Background(), "m", "p", "aGVsbG8="); err == nil {
		t.Error("expected error for empty choices")
	}
}
