// Package provider defines the model-provider contracts used by the
// ingestion pipeline and the query engine.
//
// Implementations live in subpackages (googleai, ollama). Consumers depend
// only on these interfaces, so providers can be swapped via configuration.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrEmptyEmbedding indicates the provider returned no vector data.
	ErrEmptyEmbedding = errors.New("empty embedding response")

	// ErrEmptyResponse indicates the provider returned no generated text.
	ErrEmptyResponse = errors.New("empty generation response")
)

// Chat roles understood by Generator implementations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn passed to a Generator.
type Message struct {
	Role    string
	Content string
}

// Embedder converts text into fixed-dimension vectors.
//
// Implementations must return vectors of exactly Dimension() floats and
// must preserve input order in EmbedMany.
type Embedder interface {
	// EmbedMany embeds a batch of texts. len(result) == len(texts).
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the vector width this embedder produces.
	Dimension() int
}

// Generator produces text from a chat-style message sequence.
type Generator interface {
	// Invoke generates a complete response.
	Invoke(ctx context.Context, msgs []Message) (string, error)

	// Stream generates a response incrementally, calling fn for each
	// chunk as it arrives. A non-nil error from fn aborts the stream.
	Stream(ctx context.Context, msgs []Message, fn func(chunk string) error) error
}

// Scored pairs a passage with its retrieval score. Index records the
// passage's position in the input slice so callers can map reordered
// results back to their source rows.
type Scored struct {
	Index   int
	Passage string
	Score   float64
}

// Reranker reorders retrieved passages by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []Scored) ([]Scored, error)
}

// NoopReranker returns passages unchanged, preserving input order and
// scores. It is the default when no reranking model is configured.
type NoopReranker struct{}

// Rerank implements Reranker.
func (NoopReranker) Rerank(_ context.Context, _ string, passages []Scored) ([]Scored, error) {
	out := make([]Scored, len(passages))
	copy(out, passages)
	return out, nil
}
