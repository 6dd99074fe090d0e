package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "text-embedding-3-small" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{
				{Embedding: []float32{0.1, 0.2, 0.3}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := &OpenAIEmbedder{
		apiKey: "test-key",
		url:    server.URL,
		model:  "text-embedding-3-small",
	}

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{0.1, 0.2, 0.3}
	if len(vec) != len(want) {
		t.Fatalf("got %v, want %v", vec, want)
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("got %v, want %v", vec, want)
		}
	}
}

func TestOpenAIEmbedderDefaultModel(t *testing.T) {
	e := NewOpenAIEmbedder("key", "")
	if e.model != "text-embedding-3-small" {
		t.Errorf("got %q, want default model text-embedding-3-small", e.model)
	}
}

func TestOpenAIEmbedderPropagatesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
	}))
	defer server.Close()

	e := &OpenAIEmbedder{apiKey: "bad-key", url: server.URL, model: "text-embedding-3-small"}

	_, err := e.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}
