// Package session persists per-session state: chat history turns and the
// lifecycle of session-scoped attachments.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one stored chat turn.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Attachment describes a session-scoped upload and its indexing state.
type Attachment struct {
	ID        uuid.UUID
	SessionID string
	OwnerID   *int64
	FileName  string
	Status    string
	CreatedAt time.Time
}

// Store manages chat history and attachment rows.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a session Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// SaveTurn records a user/assistant exchange. An empty answer stores only
// the user message; this runs best-effort after streaming completes.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, userID *int64, question, answer string) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSQL = `INSERT INTO chat_history (session_id, user_id, role, content) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertSQL, sessionID, userID, "user", question); err != nil {
		return fmt.Errorf("saving user message: %w", err)
	}
	if answer != "" {
		if _, err := tx.Exec(ctx, insertSQL, sessionID, userID, "assistant", answer); err != nil {
			return fmt.Errorf("saving assistant message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chat turn: %w", err)
	}
	return nil
}

// History returns up to limit most recent messages, oldest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}
	if limit < 1 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM (
			SELECT role, content, created_at FROM chat_history
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return msgs, nil
}

// CreateAttachment registers an upload in the indexing state and returns
// its generated ID.
func (s *Store) CreateAttachment(ctx context.Context, sessionID, fileName string, ownerID *int64) (uuid.UUID, error) {
	if sessionID == "" {
		return uuid.Nil, fmt.Errorf("empty session id")
	}
	if fileName == "" {
		return uuid.Nil, fmt.Errorf("empty file name")
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO session_attachments (session_id, owner_id, file_name, status)
		 VALUES ($1, $2, $3, 'indexing')
		 RETURNING attachment_id`, sessionID, ownerID, fileName).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating attachment: %w", err)
	}

	s.logger.Debug("created attachment", "attachment_id", id, "session_id", sessionID)
	return id, nil
}

// SetAttachmentStatus transitions an attachment to ready or failed.
// errorMessage is stored only for failures.
func (s *Store) SetAttachmentStatus(ctx context.Context, id uuid.UUID, status, errorMessage string) error {
	var msg *string
	if errorMessage != "" {
		msg = &errorMessage
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_attachments SET status = $1, error_message = $2 WHERE attachment_id = $3`,
		status, msg, id)
	if err != nil {
		return fmt.Errorf("updating attachment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attachment %s not found", id)
	}
	return nil
}

// GetAttachment loads one attachment row.
func (s *Store) GetAttachment(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	var a Attachment
	err := s.pool.QueryRow(ctx,
		`SELECT attachment_id, session_id, owner_id, file_name, status, created_at
		 FROM session_attachments WHERE attachment_id = $1`, id).
		Scan(&a.ID, &a.SessionID, &a.OwnerID, &a.FileName, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("loading attachment %s: %w", id, err)
	}
	return &a, nil
}

// SweepExpiredAttachments deletes attachments older than the retention
// window. Chunks cascade with their attachment rows. Returns the number of
// attachments removed.
func (s *Store) SweepExpiredAttachments(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM session_attachments WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping attachments: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("swept expired attachments", "count", n, "cutoff", cutoff)
		return n, nil
	}
	return 0, nil
}
