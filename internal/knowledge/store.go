// Package knowledge implements the permission-aware vector store backing
// retrieval: documents and their chunks live in PostgreSQL with pgvector
// embeddings, and every read path filters by permission-tag intersection
// inside the SQL itself.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Embedder is the minimal embedding surface the store needs.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// embedTimeout bounds embedding calls; they run outside transactions so a
// slow provider never holds a DB connection.
const embedTimeout = 60 * time.Second

const upsertDocumentSQL = `INSERT INTO documents (doc_id, source_type, permission_tags, metadata, owner_id, last_verified_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (doc_id) DO UPDATE SET
		source_type = EXCLUDED.source_type,
		permission_tags = EXCLUDED.permission_tags,
		metadata = EXCLUDED.metadata,
		owner_id = EXCLUDED.owner_id,
		last_verified_at = now()`

const insertChunkSQL = `INSERT INTO document_chunks (doc_id, chunk_text, embedding_source_text, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5)`

const searchBaseSQL = `SELECT c.chunk_id, c.doc_id, c.chunk_text, c.metadata,
	c.embedding <-> $1 AS distance
	FROM document_chunks AS c
	JOIN documents AS d ON c.doc_id = d.doc_id
	WHERE d.permission_tags && $2`

// Store manages permission-tagged documents backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	dim      int
	logger   *slog.Logger
}

// NewStore creates a Store. dim must match the vector(N) column width of
// the deployed schema; every vector is checked against it before insert.
func NewStore(pool *pgxpool.Pool, embedder Embedder, dim int, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, dim: dim, logger: logger}, nil
}

// embedBatch embeds the chunks' embedding-source texts and validates the
// returned dimensions.
func (s *Store) embedBatch(ctx context.Context, chunks []Chunk) ([]pgvector.Vector, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.embeddingText()
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vecs, err := s.embedder.EmbedMany(embedCtx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	out := make([]pgvector.Vector, len(vecs))
	for i, v := range vecs {
		if len(v) != s.dim {
			return nil, fmt.Errorf("%w: chunk %d has %d values, schema wants %d",
				ErrDimensionMismatch, i, len(v), s.dim)
		}
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

// Upsert indexes chunks grouped by doc_id. For each logical document the
// existing chunks are deleted and replaced inside one transaction, so
// re-ingesting the same doc_id is idempotent and never leaves a document
// half-updated. Embedding happens before the transaction begins.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk, tags []string, ownerID *int64) error {
	if len(chunks) == 0 {
		return ErrNoChunks
	}
	if len(tags) == 0 {
		return ErrNoTags
	}

	vecs, err := s.embedBatch(ctx, chunks)
	if err != nil {
		return err
	}

	// Group chunk indexes by doc_id, preserving first-seen order.
	order := make([]string, 0, 4)
	groups := make(map[string][]int)
	for i, c := range chunks {
		if c.DocID == "" {
			return fmt.Errorf("chunk %d has empty doc_id", i)
		}
		if _, ok := groups[c.DocID]; !ok {
			order = append(order, c.DocID)
		}
		groups[c.DocID] = append(groups[c.DocID], i)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, docID := range order {
		idxs := groups[docID]
		first := chunks[idxs[0]]

		docMeta := map[string]any{}
		if src, ok := first.Metadata["source"]; ok {
			docMeta["source"] = src
		}

		if _, err := tx.Exec(ctx, upsertDocumentSQL,
			docID, string(first.SourceType), tags, docMeta, ownerID); err != nil {
			return fmt.Errorf("upserting document %s: %w", docID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE doc_id = $1`, docID); err != nil {
			return fmt.Errorf("clearing chunks for %s: %w", docID, err)
		}
		if err := insertChunks(ctx, tx, insertChunkSQL, docID, chunks, vecs, idxs); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	s.logger.Info("upserted chunks",
		"documents", len(order), "chunks", len(chunks), "tags", tags)
	return nil
}

// Search returns the chunks nearest to the query among documents whose
// permission tags intersect allowedTags. The tag filter is part of the SQL
// and applies before LIMIT, so results are never silently truncated by a
// post-filter. Distance is ascending L2; an empty result is not an error.
func (s *Store) Search(ctx context.Context, query string, allowedTags []string, opts ...SearchOption) ([]Result, error) {
	if len(allowedTags) == 0 {
		return nil, ErrNoTags
	}
	cfg := buildSearchConfig(opts)

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

	sql := searchBaseSQL
	args := []any{pgvector.NewVector(vec), allowedTags}

	if len(cfg.docFilter) > 0 {
		exact, prefixes := splitDocFilter(cfg.docFilter)
		var conds []string
		if len(exact) > 0 {
			args = append(args, exact)
			conds = append(conds, fmt.Sprintf("c.doc_id = ANY($%d)", len(args)))
		}
		if len(prefixes) > 0 {
			args = append(args, prefixes)
			conds = append(conds, fmt.Sprintf("c.doc_id LIKE ANY($%d)", len(args)))
		}
		sql += " AND (" + strings.Join(conds, " OR ") + ")"
	}

	args = append(args, cfg.topK)
	sql += fmt.Sprintf(" ORDER BY distance LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("vector search complete",
		"results", len(results), "top_k", cfg.topK, "filtered", len(cfg.docFilter) > 0)
	return results, nil
}

// insertChunks writes the chunks at idxs under the given parent key using
// the provided INSERT statement. Shared by the document and attachment
// upsert paths.
func insertChunks(ctx context.Context, q querier, insertSQL string, parent any,
	chunks []Chunk, vecs []pgvector.Vector, idxs []int) error {
	for _, i := range idxs {
		c := chunks[i]
		meta := c.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		if _, err := q.Exec(ctx, insertSQL,
			parent, c.Text, c.embeddingText(), vecs[i], meta); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}
	return nil
}

// splitDocFilter separates exact doc IDs from trailing-slash prefixes,
// converting prefixes to escaped LIKE patterns.
func splitDocFilter(filter []string) (exact []string, prefixes []string) {
	for _, f := range filter {
		if f == "" {
			continue
		}
		if strings.HasSuffix(f, "/") {
			prefixes = append(prefixes, escapeLike(f)+"%")
		} else {
			exact = append(exact, f)
		}
	}
	return exact, prefixes
}

func scanResults(rows pgx.Rows) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.Text, &r.Metadata, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return results, nil
}

// Delete removes documents matching idOrPrefix (exact doc_id, or a
// trailing-"/" prefix covering a zip or repository) whose permission tags
// intersect allowedTags. Chunks go with their documents via ON DELETE
// CASCADE. Returns the number of chunks removed; zero (including "matched
// nothing visible") is not an error.
func (s *Store) Delete(ctx context.Context, idOrPrefix string, allowedTags []string) (int64, error) {
	if idOrPrefix == "" {
		return 0, fmt.Errorf("empty document id")
	}
	if len(allowedTags) == 0 {
		return 0, ErrNoTags
	}

	var cond string
	var target any
	if strings.HasSuffix(idOrPrefix, "/") {
		cond = "d.doc_id LIKE $1"
		target = escapeLike(idOrPrefix) + "%"
	} else {
		cond = "d.doc_id = $1"
		target = idOrPrefix
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var chunkCount int64
	countSQL := `SELECT count(*) FROM document_chunks AS c
		JOIN documents AS d ON c.doc_id = d.doc_id
		WHERE ` + cond + ` AND d.permission_tags && $2`
	if err := tx.QueryRow(ctx, countSQL, target, allowedTags).Scan(&chunkCount); err != nil {
		return 0, fmt.Errorf("counting chunks to delete: %w", err)
	}

	deleteSQL := `DELETE FROM documents AS d WHERE ` + cond + ` AND d.permission_tags && $2`
	if _, err := tx.Exec(ctx, deleteSQL, target, allowedTags); err != nil {
		return 0, fmt.Errorf("deleting documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Info("deleted documents", "target", idOrPrefix, "chunks", chunkCount)
	return chunkCount, nil
}

// ListAccessible returns one entry per retrieval filter key among the
// documents visible to allowedTags. Zip members and repository files
// collapse into a single prefix entry covering the whole upload.
func (s *Store) ListAccessible(ctx context.Context, allowedTags []string) ([]AccessibleDocument, error) {
	if len(allowedTags) == 0 {
		return nil, ErrNoTags
	}

	rows, err := s.pool.Query(ctx,
		`SELECT doc_id, source_type, created_at FROM documents
		 WHERE permission_tags && $1 ORDER BY doc_id`, allowedTags)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var docs []AccessibleDocument
	for rows.Next() {
		var d AccessibleDocument
		var sourceType string
		if err := rows.Scan(&d.DocID, &sourceType, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		d.SourceType = SourceType(sourceType)
		d.FilterKey = FilterKey(d.DocID, d.SourceType)
		if seen[d.FilterKey] {
			continue
		}
		seen[d.FilterKey] = true
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

// Touch refreshes a document's last_verified_at timestamp.
func (s *Store) Touch(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET last_verified_at = now() WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("touching document %s: %w", docID, err)
	}
	return nil
}

// ListStale returns doc IDs not verified since the cutoff, for an external
// refresh scheduler to re-ingest or retire.
func (s *Store) ListStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.pool.Query(ctx,
		`SELECT doc_id FROM documents WHERE last_verified_at < $1 ORDER BY last_verified_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stale row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale rows: %w", err)
	}
	return ids, nil
}
