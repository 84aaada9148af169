// Package ollama implements the provider contracts against a local
// Ollama server's HTTP API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/corpusgate/corpusgate/internal/provider"
)

const (
	// headerTimeout bounds the wait for response headers only. The body
	// is left unbounded: answer generation streams for as long as the
	// model produces tokens, limited by caller cancellation alone.
	headerTimeout = 30 * time.Second

	maxRetries     = 3
	retryBaseDelay = time.Second
)

// Client is a minimal Ollama HTTP client shared by the Embedder and
// Generator. Safe for concurrent use.
type Client struct {
	host   string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client for the given base URL (e.g. http://localhost:11434).
func NewClient(host string, logger *slog.Logger) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("ollama: host is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host: host,
		http: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: headerTimeout},
		},
		logger: logger,
	}, nil
}

// post sends a JSON request and retries on 429/5xx with a growing delay,
// honoring Retry-After when present.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("sending request: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		lastErr = fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(time.Duration(secs) * time.Second):
					}
				}
			}
			continue
		}
		if resp.StatusCode >= 500 {
			continue
		}
		return nil, lastErr
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

// Embedder embeds text via /api/embed.
type Embedder struct {
	client *Client
	model  string
	dim    int
}

// NewEmbedder creates an Embedder. dim must match the pgvector schema;
// it is validated against every response.
func NewEmbedder(client *Client, model string, dim int) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Embedder{client: client, model: model, dim: dim}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedMany implements provider.Embedder.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.post(ctx, "/api/embed", embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(body.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			provider.ErrEmptyEmbedding, len(body.Embeddings), len(texts))
	}
	for i, vec := range body.Embeddings {
		if len(vec) != e.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(vec), e.dim)
		}
	}
	return body.Embeddings, nil
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

// Generator generates text via /api/chat.
type Generator struct {
	client      *Client
	model       string
	temperature float32
}

// NewGenerator creates a Generator for the given model.
func NewGenerator(client *Client, model string, temperature float32) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &Generator{client: client, model: model, temperature: temperature}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func (g *Generator) request(msgs []provider.Message, stream bool) chatRequest {
	out := make([]chatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return chatRequest{
		Model:    g.model,
		Messages: out,
		Stream:   stream,
		Options:  map[string]any{"temperature": g.temperature},
	}
}

// Invoke implements provider.Generator.
func (g *Generator) Invoke(ctx context.Context, msgs []provider.Message) (string, error) {
	resp, err := g.client.post(ctx, "/api/chat", g.request(msgs, false))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if body.Message.Content == "" {
		return "", provider.ErrEmptyResponse
	}
	return body.Message.Content, nil
}

// Stream implements provider.Generator. Ollama streams newline-delimited
// JSON objects until one carries done=true.
func (g *Generator) Stream(ctx context.Context, msgs []provider.Message, fn func(chunk string) error) error {
	resp, err := g.client.post(ctx, "/api/chat", g.request(msgs, true))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decoding stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}
