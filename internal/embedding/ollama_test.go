package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEncoder_Encode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "all-minilm" || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{3, 4}, {0, 1}},
		})
	}))
	defer server.Close()

	g := NewGenerator("all-minilm", OllamaLoader(server.URL, server.Client()))
	got, err := g.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(got[0]) != Dimension || got[0][0] != 0.6 || got[0][1] != 0.8 {
		t.Errorf("unexpected first vector head: %v", got[0][:3])
	}
}

func TestOllamaEncoder_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	enc := NewOllamaEncoder(server.URL, "missing", server.Client())
	if _, err := enc.Encode(context.Background(), []string{"a"}); err == nil {
		t.Error("expected error for non-200 status")
	}
}
