package testutil

import (
	"context"
	"hash/fnv"
)

// FakeEmbedder produces deterministic vectors without any network calls.
// Texts registered in Vectors get exactly those vectors (padded to Dim);
// everything else gets a stable hash-derived vector. This lets tests pin
// the nearest-neighbor ordering precisely.
type FakeEmbedder struct {
	Dim     int
	Vectors map[string][]float32
}

// NewFakeEmbedder creates a FakeEmbedder of the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim, Vectors: make(map[string][]float32)}
}

// Register pins the embedding for a text. Components beyond len(vec) are
// zero-padded up to Dim.
func (f *FakeEmbedder) Register(text string, vec ...float32) {
	f.Vectors[text] = vec
}

func (f *FakeEmbedder) embed(text string) []float32 {
	out := make([]float32, f.Dim)
	if pinned, ok := f.Vectors[text]; ok {
		copy(out, pinned)
		return out
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	for i := range out {
		seed = seed*1664525 + 1013904223
		out[i] = float32(seed%1000) / 1000
	}
	return out
}

// EmbedMany implements the embedder contract.
func (f *FakeEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

// EmbedOne implements the embedder contract.
func (f *FakeEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return f.embed(text), nil
}

// Dimension implements the embedder contract.
func (f *FakeEmbedder) Dimension() int { return f.Dim }
