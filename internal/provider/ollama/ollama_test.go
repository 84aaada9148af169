package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/corpusgate/corpusgate/internal/log"
	"github.com/corpusgate/corpusgate/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, log.NewNop())
	if err != nil {
		t.Fatalf("NewClient() = %v", err)
	}
	return client
}

func TestEmbedder_EmbedMany(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		resp := embedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{1, 2, 3}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	emb, err := NewEmbedder(client, "nomic-embed-text", 3)
	if err != nil {
		t.Fatalf("NewEmbedder() = %v", err)
	}

	vecs, err := emb.EmbedMany(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedMany() = %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Errorf("got %d vectors of width %d", len(vecs), len(vecs[0]))
	}
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2}}})
	})

	emb, err := NewEmbedder(client, "nomic-embed-text", 3)
	if err != nil {
		t.Fatalf("NewEmbedder() = %v", err)
	}

	if _, err := emb.EmbedOne(context.Background(), "a"); err == nil {
		t.Fatal("EmbedOne() = nil, want dimension error")
	}
}

func TestGenerator_Invoke(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Stream {
			t.Error("Invoke should not request streaming")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != provider.RoleSystem {
			t.Errorf("messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "hello"},
			Done:    true,
		})
	})

	gen, err := NewGenerator(client, "llama3", 0.2)
	if err != nil {
		t.Fatalf("NewGenerator() = %v", err)
	}

	got, err := gen.Invoke(context.Background(), []provider.Message{
		{Role: provider.RoleSystem, Content: "be brief"},
		{Role: provider.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if got != "hello" {
		t.Errorf("Invoke() = %q, want %q", got, "hello")
	}
}

func TestGenerator_Stream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(chatResponse{Message: chatMessage{Content: "hel"}})
		_ = enc.Encode(chatResponse{Message: chatMessage{Content: "lo"}})
		_ = enc.Encode(chatResponse{Done: true})
	})

	gen, err := NewGenerator(client, "llama3", 0)
	if err != nil {
		t.Fatalf("NewGenerator() = %v", err)
	}

	var sb strings.Builder
	err = gen.Stream(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		func(chunk string) error {
			sb.WriteString(chunk)
			return nil
		})
	if err != nil {
		t.Fatalf("Stream() = %v", err)
	}
	if sb.String() != "hello" {
		t.Errorf("streamed = %q, want %q", sb.String(), "hello")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Content: "ok"},
			Done:    true,
		})
	})

	gen, err := NewGenerator(client, "llama3", 0)
	if err != nil {
		t.Fatalf("NewGenerator() = %v", err)
	}

	got, err := gen.Invoke(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if got != "ok" {
		t.Errorf("Invoke() = %q, want %q", got, "ok")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	})

	gen, err := NewGenerator(client, "missing-model", 0)
	if err != nil {
		t.Fatalf("NewGenerator() = %v", err)
	}

	if _, err := gen.Invoke(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("Invoke() = nil, want error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestNewClient_NoWholeRequestTimeout(t *testing.T) {
	client, err := NewClient("http://localhost:11434", log.NewNop())
	if err != nil {
		t.Fatalf("NewClient() = %v", err)
	}

	// A client-wide Timeout would cut off streaming bodies mid-answer;
	// only the wait for response headers may be bounded.
	if client.http.Timeout != 0 {
		t.Errorf("client timeout = %v, want 0 (streams must not be cut off)", client.http.Timeout)
	}
	transport, ok := client.http.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport = %T, want *http.Transport", client.http.Transport)
	}
	if transport.ResponseHeaderTimeout != headerTimeout {
		t.Errorf("response header timeout = %v, want %v", transport.ResponseHeaderTimeout, headerTimeout)
	}
}
