// Package agent runs the per-query orchestration: build context, retrieve
// with reranking, stream a generated answer, and persist an audit record.
//
// The flow is a fixed finite-state machine. Each query owns its State
// exclusively; engines are shared and safe for concurrent use.
package agent

import (
	"context"

	"github.com/corpusgate/corpusgate/internal/audit"
	"github.com/corpusgate/corpusgate/internal/knowledge"
	"github.com/corpusgate/corpusgate/internal/session"
)

// Tool choices recorded per query.
const (
	ToolRAG         = "rag"
	ToolAttachments = "attachments"
	ToolNone        = "none"
)

// State is the working record threaded through the engine's steps. It is
// created at request start, mutated by each step in sequence, and
// serialized whole into the audit record.
type State struct {
	Question       string            `json:"question"`
	PermissionTags []string          `json:"permission_tags"`
	TopK           int               `json:"top_k"`
	DocIDsFilter   []string          `json:"doc_ids_filter,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	UserID         *int64            `json:"user_id,omitempty"`
	ChatHistory    []session.Message `json:"chat_history,omitempty"`
	HybridContext  string            `json:"hybrid_context,omitempty"`
	ToolChoice     string            `json:"tool_choice,omitempty"`
	ToolOutputs    map[string]any    `json:"tool_outputs,omitempty"`
	Answer         string            `json:"answer,omitempty"`
	Error          string            `json:"error,omitempty"`

	retrieved []knowledge.Result
}

// NewState creates a query State. TopK and other knobs default from the
// engine configuration when left zero.
func NewState(question string, permissionTags []string) *State {
	return &State{
		Question:       question,
		PermissionTags: permissionTags,
		ToolOutputs:    make(map[string]any),
	}
}

// Searcher is the retrieval surface the engine reads from.
type Searcher interface {
	Search(ctx context.Context, query string, allowedTags []string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
	SearchAttachments(ctx context.Context, query, sessionID string, topK int) ([]knowledge.Result, error)
}

// HistoryStore loads and persists chat turns for a session.
type HistoryStore interface {
	History(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
	SaveTurn(ctx context.Context, sessionID string, userID *int64, question, answer string) error
}

// Auditor records completed queries without blocking the response path.
type Auditor interface {
	RecordAsync(ctx context.Context, e audit.Entry)
}
