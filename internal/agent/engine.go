package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corpusgate/corpusgate/internal/audit"
	"github.com/corpusgate/corpusgate/internal/knowledge"
	"github.com/corpusgate/corpusgate/internal/provider"
	"github.com/corpusgate/corpusgate/internal/session"
)

const (
	// attachmentTopK bounds how many session-attachment chunks join the
	// context; attachments are small and session-local.
	attachmentTopK = 2

	// longHistoryMessages is the message count (user + assistant rows)
	// past which the window gets a generated summary prepended.
	longHistoryMessages = 10

	summaryTimeout = 5 * time.Second
	saveTimeout    = 10 * time.Second
)

const answerSystemPrompt = `You are a knowledge assistant. Answer the question using only the provided context. If the context does not contain the answer, say that you do not know. Cite the source document when it helps.`

const summarySystemPrompt = `Summarize the conversation below in at most three sentences, keeping names, decisions, and open questions. Reply with only the summary.`

// step is one state of the query machine. The topology is fixed:
// buildContext, retrieve (rerank inside), generate, done.
type step int

const (
	stepBuildContext step = iota
	stepRetrieve
	stepGenerate
	stepDone
)

// Config holds engine tuning.
type Config struct {
	// TopK is the default result count when the State leaves it zero.
	TopK int

	// MaxHistoryTurns bounds the chat window loaded into context.
	MaxHistoryTurns int
}

// Deps collects the engine's collaborators. Store and Generator are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Store         Searcher
	Generator     provider.Generator
	FastGenerator provider.Generator
	Reranker      provider.Reranker
	History       HistoryStore
	Auditor       Auditor
}

// Engine executes the query machine. Safe for concurrent use; all
// per-query data lives in the State.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine. A nil Reranker defaults to the order-preserving
// no-op.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Reranker == nil {
		deps.Reranker = provider.NoopReranker{}
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	if cfg.MaxHistoryTurns < 1 {
		cfg.MaxHistoryTurns = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger}, nil
}

// Answer runs the machine for one query, calling fn for each generated
// fragment. The State accumulates the full answer; on error or
// cancellation the partial answer gathered so far is still audited.
func (e *Engine) Answer(ctx context.Context, st *State, fn func(chunk string) error) error {
	if st == nil || st.Question == "" {
		return fmt.Errorf("empty question")
	}
	if len(st.PermissionTags) == 0 {
		return knowledge.ErrNoTags
	}
	if st.TopK < 1 {
		st.TopK = e.cfg.TopK
	}
	if st.ToolOutputs == nil {
		st.ToolOutputs = make(map[string]any)
	}

	var runErr error
	for s := stepBuildContext; s != stepDone; {
		next, err := e.transition(ctx, s, st, fn)
		if err != nil {
			runErr = err
			break
		}
		s = next
	}

	e.finish(ctx, st, runErr)
	return runErr
}

// transition executes one step and names the next.
func (e *Engine) transition(ctx context.Context, s step, st *State, fn func(string) error) (step, error) {
	switch s {
	case stepBuildContext:
		e.buildContext(ctx, st)
		return stepRetrieve, nil
	case stepRetrieve:
		e.retrieve(ctx, st)
		return stepGenerate, nil
	case stepGenerate:
		if err := e.generate(ctx, st, fn); err != nil {
			return stepDone, err
		}
		return stepDone, nil
	default:
		return stepDone, fmt.Errorf("unknown step %d", s)
	}
}

// buildContext loads the recent chat window and renders it. Long
// histories get a bounded fast-model summary prepended; any failure here
// degrades to a smaller or empty context, never to a failed query.
func (e *Engine) buildContext(ctx context.Context, st *State) {
	if st.SessionID == "" || e.deps.History == nil {
		return
	}

	msgs, err := e.deps.History.History(ctx, st.SessionID, e.cfg.MaxHistoryTurns*2)
	if err != nil {
		e.logger.Warn("loading chat history", "session_id", st.SessionID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	st.ChatHistory = msgs
	st.HybridContext = renderTurns(msgs)

	if len(msgs) >= longHistoryMessages && e.deps.FastGenerator != nil {
		if summary := e.summarize(ctx, st.HybridContext); summary != "" {
			st.HybridContext = "Summary of earlier conversation: " + summary + "\n\n" + st.HybridContext
		}
	}
}

// summarize asks the fast generator for a short history summary. Empty
// on timeout or error.
func (e *Engine) summarize(ctx context.Context, window string) string {
	sumCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	out, err := e.deps.FastGenerator.Invoke(sumCtx, []provider.Message{
		{Role: provider.RoleSystem, Content: summarySystemPrompt},
		{Role: provider.RoleUser, Content: window},
	})
	if err != nil {
		e.logger.Warn("summarizing history", "error", err)
		return ""
	}
	return strings.TrimSpace(out)
}

// retrieve searches the permanent store (reranked, truncated to TopK)
// and, when a session is present, the session's ready attachments.
// Retrieval failures degrade to an empty result set.
func (e *Engine) retrieve(ctx context.Context, st *State) {
	opts := []knowledge.SearchOption{knowledge.WithTopK(st.TopK * 2)}
	if len(st.DocIDsFilter) > 0 {
		opts = append(opts, knowledge.WithDocFilter(st.DocIDsFilter))
	}

	results, err := e.deps.Store.Search(ctx, st.Question, st.PermissionTags, opts...)
	if err != nil {
		e.logger.Warn("vector search failed, continuing without context", "error", err)
		results = nil
	}
	results = e.rerank(ctx, st.Question, results)
	if len(results) > st.TopK {
		results = results[:st.TopK]
	}

	var attached []knowledge.Result
	if st.SessionID != "" {
		attached, err = e.deps.Store.SearchAttachments(ctx, st.Question, st.SessionID, attachmentTopK)
		if err != nil {
			e.logger.Warn("attachment search failed, continuing without attachments", "error", err)
			attached = nil
		}
	}

	st.retrieved = append(attached, results...)

	switch {
	case len(attached) > 0:
		st.ToolChoice = ToolAttachments
	case len(results) > 0:
		st.ToolChoice = ToolRAG
	default:
		st.ToolChoice = ToolNone
	}
	if len(results) > 0 {
		st.ToolOutputs[ToolRAG] = resultTexts(results)
	}
	if len(attached) > 0 {
		st.ToolOutputs[ToolAttachments] = resultTexts(attached)
	}
}

// rerank reorders results through the ranking provider. On any failure
// the raw distance order is kept.
func (e *Engine) rerank(ctx context.Context, query string, results []knowledge.Result) []knowledge.Result {
	if len(results) < 2 {
		return results
	}

	passages := make([]provider.Scored, len(results))
	for i, r := range results {
		passages[i] = provider.Scored{Index: i, Passage: r.Text, Score: r.Distance}
	}
	ranked, err := e.deps.Reranker.Rerank(ctx, query, passages)
	if err != nil || len(ranked) != len(results) {
		if err != nil {
			e.logger.Warn("reranking failed, keeping distance order", "error", err)
		}
		return results
	}

	out := make([]knowledge.Result, len(ranked))
	for i, p := range ranked {
		out[i] = results[p.Index]
	}
	return out
}

// generate streams the final answer, accumulating fragments into the
// State as they are forwarded to fn. Terminal step.
func (e *Engine) generate(ctx context.Context, st *State, fn func(string) error) error {
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: answerSystemPrompt},
		{Role: provider.RoleUser, Content: buildUserPrompt(st)},
	}

	err := e.deps.Generator.Stream(ctx, msgs, func(chunk string) error {
		st.Answer += chunk
		if fn != nil {
			return fn(chunk)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}
	return nil
}

// finish records the audit entry and saves the chat turn. Both are
// best-effort and never affect the already-delivered answer.
func (e *Engine) finish(ctx context.Context, st *State, runErr error) {
	if runErr != nil {
		st.Error = runErr.Error()
	}
	if e.deps.Auditor != nil {
		e.deps.Auditor.RecordAsync(ctx, audit.Entry{
			SessionID:      st.SessionID,
			Question:       st.Question,
			PermissionTags: st.PermissionTags,
			ToolChoice:     st.ToolChoice,
			FinalAnswer:    st.Answer,
			FullState:      st,
		})
	}

	if e.deps.History != nil && st.SessionID != "" {
		detached := context.WithoutCancel(ctx)
		go func() {
			saveCtx, cancel := context.WithTimeout(detached, saveTimeout)
			defer cancel()
			if err := e.deps.History.SaveTurn(saveCtx, st.SessionID, st.UserID, st.Question, st.Answer); err != nil {
				e.logger.Warn("saving chat turn", "session_id", st.SessionID, "error", err)
			}
		}()
	}
}

// buildUserPrompt assembles conversation context, retrieved chunks, and
// the question into the final user message.
func buildUserPrompt(st *State) string {
	var sb strings.Builder

	if st.HybridContext != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(st.HybridContext)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Context:\n")
	if len(st.retrieved) == 0 {
		sb.WriteString("No relevant context was found.\n")
	} else {
		for _, r := range st.retrieved {
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", r.DocID, r.Text)
		}
	}

	sb.WriteString("\nQuestion: ")
	sb.WriteString(st.Question)
	return sb.String()
}

func renderTurns(msgs []session.Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func resultTexts(results []knowledge.Result) []string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return texts
}
