package ingest

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/corpusgate/corpusgate/internal/provider"
)

// hydeConcurrency bounds parallel question-derivation calls per document.
const hydeConcurrency = 4

const hydePrompt = `You generate retrieval queries. Read the passage below and write the single question a user would most likely ask that this passage answers. Reply with only the question, nothing else.

Passage:
`

// deriveEmbeddingSources produces a hypothetical question for each chunk,
// to be embedded in place of the raw text. Every derivation is bounded by
// the configured timeout and falls back to the chunk text itself on any
// failure, so ingestion never aborts here.
func (p *Pipeline) deriveEmbeddingSources(ctx context.Context, texts []string) []string {
	out := make([]string, len(texts))
	copy(out, texts)

	if !p.cfg.HyDE || p.fast == nil {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydeConcurrency)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, p.cfg.HyDETimeout)
			defer cancel()

			question, err := p.fast.Invoke(callCtx, []provider.Message{
				{Role: provider.RoleUser, Content: hydePrompt + text},
			})
			if err != nil {
				p.logger.Warn("hypothetical question derivation failed, embedding raw chunk",
					"error", err)
				return nil
			}
			question = strings.TrimSpace(question)
			if question != "" {
				out[i] = strings.TrimSuffix(question, "?") + "?"
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
