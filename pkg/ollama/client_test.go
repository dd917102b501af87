package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost", "://x"} {
		if _, err := NewClient(u); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestSuggestLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string   `json:"content"`
				Images  []string `json:"images"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Model != "llava" || len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			t.Errorf("unexpected request %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "llava",
			"message": map[string]string{"role": "assistant", "content": "```json\n{\"label\":\"bicycle\",\"confidence\":0.8,\"tags\":[\"vehicle\"]}\n```"},
			"done":    true,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	img := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	s, err := c.SuggestLabel(context.Background(), "llava", "name it", img)
	if err != nil {
		t.Fatalf("SuggestLabel failed: %v", err)
	}
	if s.Label != "bicycle" || s.Confidence != 0.8 {
		t.Errorf("unexpected suggestion %+v", s)
	}
}

func TestSuggestLabelBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.SuggestLabel(context.Background(), "m", "p", "%%%"); err == nil {
		t.Error("expected base64 error")
	}
}
