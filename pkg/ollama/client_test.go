package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
	if _, err := NewClient("http://localhost:11434/api/chat"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req["model"] != "llava" {
			t.Errorf("Unexpected model %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":"{\"primary\":{\"label\":\"cat\"}}"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Query(context.Background(), "llava", "find the subject", "aGVsbG8=")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if out != `{"primary":{"label":"cat"}}` {
		t.Errorf("Unexpected reply %q", out)
	}
}

func TestQueryBadImage(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1")
	if _, err := c.Query(context.Background(), "llava", "p", "%%%"); err == nil {
		t.Error("Expected base64 error")
	}
}

func TestModelOptions(t *testing.T) {
	if _, ok := modelOptions("llava:13b")["num_ctx"]; ok {
		t.Error("num_ctx should only be set for MiniCPM-V 4")
	}
	if modelOptions("openbmb/minicpm-v4.5")["num_ctx"] != 4096 {
		t.Error("Expected num_ctx 4096 for MiniCPM-V 4")
	}
}
