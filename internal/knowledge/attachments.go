package knowledge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Attachment status values. An attachment becomes searchable only once
// indexing finished and its status reached ready.
const (
	AttachmentStatusIndexing = "indexing"
	AttachmentStatusReady    = "ready"
	AttachmentStatusFailed   = "failed"
)

const insertAttachmentChunkSQL = `INSERT INTO session_attachment_chunks
	(attachment_id, chunk_text, embedding_source_text, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5)`

const searchAttachmentsSQL = `SELECT c.chunk_id, a.file_name, c.chunk_text, c.metadata,
	c.embedding <-> $1 AS distance
	FROM session_attachment_chunks AS c
	JOIN session_attachments AS a ON c.attachment_id = a.attachment_id
	WHERE a.session_id = $2 AND a.status = 'ready'
	ORDER BY distance
	LIMIT $3`

// ReplaceAttachmentChunks replaces all indexed chunks of a session
// attachment inside one transaction. Chunks become visible to
// SearchAttachments only after the attachment's status is set to ready.
func (s *Store) ReplaceAttachmentChunks(ctx context.Context, attachmentID uuid.UUID, chunks []Chunk) error {
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	vecs, err := s.embedBatch(ctx, chunks)
	if err != nil {
		return err
	}

	idxs := make([]int, len(chunks))
	for i := range chunks {
		idxs[i] = i
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_attachment_chunks WHERE attachment_id = $1`, attachmentID); err != nil {
		return fmt.Errorf("clearing attachment chunks: %w", err)
	}
	if err := insertChunks(ctx, tx, insertAttachmentChunkSQL, attachmentID, chunks, vecs, idxs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing attachment chunks: %w", err)
	}

	s.logger.Info("indexed attachment chunks",
		"attachment_id", attachmentID, "chunks", len(chunks))
	return nil
}

// SearchAttachments returns the chunks nearest to the query among the
// ready attachments of one session. Visibility is scoped by session_id
// alone; permission tags do not apply to session-local uploads.
func (s *Store) SearchAttachments(ctx context.Context, query, sessionID string, topK int) ([]Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}
	if topK < 1 {
		topK = 2
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	vec, err := s.embedder.EmbedOne(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query has %d values, schema wants %d",
			ErrDimensionMismatch, len(vec), s.dim)
	}

	rows, err := s.pool.Query(ctx, searchAttachmentsSQL,
		pgvector.NewVector(vec), sessionID, topK)
	if err != nil {
		return nil, fmt.Errorf("searching attachment chunks: %w", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("attachment search complete",
		"session_id", sessionID, "results", len(results))
	return results, nil
}
