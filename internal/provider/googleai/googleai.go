// Package googleai implements the provider contracts on top of the
// Gemini API (google.golang.org/genai).
package googleai

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/corpusgate/corpusgate/internal/provider"
)

// Config holds the settings shared by the googleai clients.
type Config struct {
	APIKey string

	// RequestsPerSecond throttles outbound API calls. Zero means no limit.
	RequestsPerSecond float64
}

// NewClient creates the underlying genai client.
func NewClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("googleai: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return client, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Embedder embeds text via the Gemini embedding API, truncating output
// vectors to the configured dimension.
type Embedder struct {
	client  *genai.Client
	model   string
	dim     int
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewEmbedder creates an Embedder. dim must match the pgvector schema.
func NewEmbedder(client *genai.Client, model string, dim int, cfg Config, logger *slog.Logger) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		client:  client,
		model:   model,
		dim:     dim,
		limiter: newLimiter(cfg.RequestsPerSecond),
		logger:  logger,
	}, nil
}

// EmbedMany implements provider.Embedder.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := int32(e.dim)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			provider.ErrEmptyEmbedding, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: embedding %d is empty", provider.ErrEmptyEmbedding, i)
		}
		if len(emb.Values) != e.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(emb.Values), e.dim)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// EmbedOne implements provider.Embedder.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension implements provider.Embedder.
func (e *Embedder) Dimension() int { return e.dim }

// Generator generates text via the Gemini API.
type Generator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewGenerator creates a Generator for the given model.
func NewGenerator(client *genai.Client, model string, temperature float32, maxTokens int, cfg Config, logger *slog.Logger) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     newLimiter(cfg.RequestsPerSecond),
		logger:      logger,
	}, nil
}

// toContents converts provider messages into genai contents, lifting any
// system messages into the SystemInstruction slot.
func toContents(msgs []provider.Message) ([]*genai.Content, *genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)
		case provider.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, system
}

func (g *Generator) generateConfig(system *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.maxTokens)
	}
	if system != nil {
		cfg.SystemInstruction = system
	}
	return cfg
}

// Invoke implements provider.Generator.
func (g *Generator) Invoke(ctx context.Context, msgs []provider.Message) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	contents, system := toContents(msgs)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.generateConfig(system))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", provider.ErrEmptyResponse
	}
	return text, nil
}

// Stream implements provider.Generator.
func (g *Generator) Stream(ctx context.Context, msgs []provider.Message, fn func(chunk string) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	contents, system := toContents(msgs)
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, g.generateConfig(system)) {
		if err != nil {
			return fmt.Errorf("streaming content: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}
