// Package audit writes append-only records of answered queries.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// recordTimeout bounds the background insert so a slow database cannot
// leak goroutines after the request finished.
const recordTimeout = 10 * time.Second

// Entry is one audit record. FullState carries the complete engine state
// for the query and is stored as JSONB.
type Entry struct {
	SessionID      string
	Question       string
	PermissionTags []string
	ToolChoice     string
	CodeInput      string
	FinalAnswer    string
	FullState      any
}

// Store appends audit entries to agent_audit_log.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an audit Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Record inserts one audit entry. A state that cannot be serialized is
// replaced by an error marker rather than losing the whole record.
func (s *Store) Record(ctx context.Context, e Entry) error {
	stateJSON, err := json.Marshal(e.FullState)
	if err != nil {
		s.logger.Error("serializing audit state", "error", err)
		stateJSON = []byte(`{"error":"state serialization failed"}`)
	}

	var codeInput *string
	if e.CodeInput != "" {
		codeInput = &e.CodeInput
	}
	var sessionID *string
	if e.SessionID != "" {
		sessionID = &e.SessionID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_audit_log
		 (session_id, question, permission_tags, tool_choice, code_input, final_answer, full_agent_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, e.Question, e.PermissionTags, e.ToolChoice, codeInput, e.FinalAnswer, stateJSON)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// RecordAsync writes the entry in a background goroutine, detached from
// the request context. Failures are logged and never surface to the
// caller; the answer is already on its way to the user.
func (s *Store) RecordAsync(ctx context.Context, e Entry) {
	detached := context.WithoutCancel(ctx)
	go func() {
		recordCtx, cancel := context.WithTimeout(detached, recordTimeout)
		defer cancel()
		if err := s.Record(recordCtx, e); err != nil {
			s.logger.Error("recording audit entry", "error", err, "session_id", e.SessionID)
		}
	}()
}
