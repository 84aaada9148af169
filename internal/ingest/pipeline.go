// Package ingest turns uploads (single files, zip archives, repository
// clones) into permission-tagged chunks and writes them to the vector
// store, one upsert per logical unit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/corpusgate/corpusgate/internal/knowledge"
	"github.com/corpusgate/corpusgate/internal/provider"
)

// ErrNoContent indicates nothing indexable was extracted from the input.
// The file/zip/repo jobs report this as a warning Result instead; the
// error form surfaces only from attachment indexing, where the attachment
// must transition to failed.
var ErrNoContent = errors.New("no indexable content")

// Job statuses reported in Result. Warning means the job ran but indexed
// nothing; hard failures (corrupt archive, failed clone or upsert) are
// returned as errors instead.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
)

// Store is the permanent-index surface the pipeline writes to.
type Store interface {
	Upsert(ctx context.Context, chunks []knowledge.Chunk, tags []string, ownerID *int64) error
}

// AttachmentStore is the session-scoped index surface.
type AttachmentStore interface {
	ReplaceAttachmentChunks(ctx context.Context, attachmentID uuid.UUID, chunks []knowledge.Chunk) error
}

// Sessions is the attachment-lifecycle surface.
type Sessions interface {
	SetAttachmentStatus(ctx context.Context, id uuid.UUID, status, errorMessage string) error
}

// Config holds pipeline tuning.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	HyDE         bool
	HyDETimeout  time.Duration

	// RetryInitialInterval seeds the exponential backoff between job
	// attempts. Zero means the 2s default.
	RetryInitialInterval time.Duration
}

// Result summarizes a completed ingestion job.
type Result struct {
	Status  string
	Message string
	Files   int
	Chunks  int
	Skipped int
}

// Pipeline orchestrates unpack, split, embedding-source derivation, and
// upsert. The fast generator is optional; without it HyDE is disabled.
type Pipeline struct {
	store       Store
	attachments AttachmentStore
	sessions    Sessions
	fast        provider.Generator
	cfg         Config
	logger      *slog.Logger
}

// New creates a Pipeline. attachments, sessions, and fast may be nil when
// the corresponding features are unused.
func New(store Store, attachments AttachmentStore, sessions Sessions,
	fast provider.Generator, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, chunk size)", cfg.ChunkOverlap)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:       store,
		attachments: attachments,
		sessions:    sessions,
		fast:        fast,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// buildChunks splits one file's content and derives embedding sources.
func (p *Pipeline) buildChunks(ctx context.Context, docID, fileName string, content []byte,
	sourceType knowledge.SourceType, extraMeta map[string]any) []knowledge.Chunk {
	splitter := SplitterForFile(fileName, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	pieces := splitter.Split(string(content))
	if len(pieces) == 0 {
		return nil
	}

	sources := p.deriveEmbeddingSources(ctx, pieces)

	chunks := make([]knowledge.Chunk, len(pieces))
	for i, text := range pieces {
		meta := map[string]any{
			"source":      fileName,
			"chunk_index": i,
		}
		for k, v := range extraMeta {
			meta[k] = v
		}
		embeddingSource := ""
		if sources[i] != text {
			embeddingSource = sources[i]
		}
		chunks[i] = knowledge.Chunk{
			DocID:           docID,
			Text:            text,
			EmbeddingSource: embeddingSource,
			SourceType:      sourceType,
			Metadata:        meta,
		}
	}
	return chunks
}

// IngestFile indexes a single upload. Files ending in .zip are treated as
// archives: each member becomes its own document under the archive's
// prefix, failed members are skipped with a warning, and the whole batch
// is written in one upsert.
func (p *Pipeline) IngestFile(ctx context.Context, content []byte, fileName string,
	tags []string, ownerID *int64) (Result, error) {
	if strings.HasSuffix(strings.ToLower(fileName), ".zip") {
		return p.ingestZip(ctx, content, fileName, tags, ownerID)
	}
	return p.ingestSingle(ctx, content, fileName, tags, ownerID)
}

func (p *Pipeline) ingestSingle(ctx context.Context, content []byte, fileName string,
	tags []string, ownerID *int64) (Result, error) {
	docID := FileDocID(fileName)
	chunks := p.buildChunks(ctx, docID, fileName, content, knowledge.SourceTypeFile, nil)
	if len(chunks) == 0 {
		p.logger.Warn("nothing indexable in file", "file", fileName)
		return Result{
			Status:  StatusWarning,
			Message: fmt.Sprintf("nothing indexable in %s", fileName),
		}, nil
	}

	if err := p.store.Upsert(ctx, chunks, tags, ownerID); err != nil {
		return Result{}, fmt.Errorf("indexing %s: %w", docID, err)
	}

	p.logger.Info("ingested file", "doc_id", docID, "chunks", len(chunks))
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("indexed %s (%d chunks)", docID, len(chunks)),
		Files:   1,
		Chunks:  len(chunks),
	}, nil
}

func (p *Pipeline) ingestZip(ctx context.Context, content []byte, fileName string,
	tags []string, ownerID *int64) (Result, error) {
	members, unreadable, err := extractZip(content)
	if err != nil {
		return Result{}, err
	}
	for _, name := range unreadable {
		p.logger.Warn("skipping unreadable zip member", "member", name, "zip", fileName)
	}

	var all []knowledge.Chunk
	files, skipped := 0, len(unreadable)
	base := strings.TrimSuffix(fileName, ".zip")
	for _, m := range members {
		docID := ZipMemberDocID(fileName, m.RelPath)
		chunks := p.buildChunks(ctx, docID, m.RelPath, m.Content, knowledge.SourceTypeZip,
			map[string]any{"original_zip": base})
		if len(chunks) == 0 {
			p.logger.Warn("skipping empty zip member", "member", m.RelPath, "zip", fileName)
			skipped++
			continue
		}
		all = append(all, chunks...)
		files++
	}

	if len(all) == 0 {
		p.logger.Warn("nothing indexable in zip", "zip", fileName, "skipped", skipped)
		return Result{
			Status:  StatusWarning,
			Message: fmt.Sprintf("nothing indexable in %s (%d members skipped)", fileName, skipped),
			Skipped: skipped,
		}, nil
	}

	if err := p.store.Upsert(ctx, all, tags, ownerID); err != nil {
		return Result{}, fmt.Errorf("indexing zip %s: %w", fileName, err)
	}

	msg := fmt.Sprintf("indexed %d files from %s (%d chunks)", files, fileName, len(all))
	if skipped > 0 {
		msg = fmt.Sprintf("%s; skipped %d members", msg, skipped)
	}
	p.logger.Info("ingested zip", "zip", fileName, "files", files, "chunks", len(all), "skipped", skipped)
	return Result{Status: StatusSuccess, Message: msg, Files: files, Chunks: len(all), Skipped: skipped}, nil
}

// IngestRepo shallow-clones a repository and indexes its text files, each
// under "github-repo-<repo>/<path>". Per-file failures are skipped; the
// job fails only when nothing was extracted or the upsert fails.
func (p *Pipeline) IngestRepo(ctx context.Context, repoURL string, tags []string, ownerID *int64) (Result, error) {
	repoName := RepoNameFromURL(repoURL)
	if repoName == "" {
		return Result{}, fmt.Errorf("cannot derive repository name from %q", repoURL)
	}

	dir, cleanup, err := cloneRepo(ctx, repoURL)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	files, err := walkRepo(dir)
	if err != nil {
		return Result{}, err
	}

	var all []knowledge.Chunk
	indexed, skipped := 0, 0
	for _, f := range files {
		docID := RepoDocID(repoName, f.RelPath)
		chunks := p.buildChunks(ctx, docID, f.RelPath, f.Content, knowledge.SourceTypeRepo,
			map[string]any{"repo_url": repoURL, "repo_name": repoName})
		if len(chunks) == 0 {
			skipped++
			continue
		}
		all = append(all, chunks...)
		indexed++
	}

	if len(all) == 0 {
		p.logger.Warn("nothing indexable in repository", "repo", repoName, "skipped", skipped)
		return Result{
			Status:  StatusWarning,
			Message: fmt.Sprintf("nothing indexable in repository %s", repoName),
			Skipped: skipped,
		}, nil
	}

	if err := p.store.Upsert(ctx, all, tags, ownerID); err != nil {
		return Result{}, fmt.Errorf("indexing repository %s: %w", repoName, err)
	}

	msg := fmt.Sprintf("indexed %d files from %s (%d chunks)", indexed, repoName, len(all))
	if skipped > 0 {
		msg = fmt.Sprintf("%s; skipped %d files", msg, skipped)
	}
	p.logger.Info("ingested repository", "repo", repoName, "files", indexed, "chunks", len(all))
	return Result{Status: StatusSuccess, Message: msg, Files: indexed, Chunks: len(all), Skipped: skipped}, nil
}

// IngestAttachment indexes an upload into the session-scoped mirror
// tables and transitions the attachment to ready, or failed with the
// error recorded.
func (p *Pipeline) IngestAttachment(ctx context.Context, attachmentID uuid.UUID,
	content []byte, fileName string) error {
	if p.attachments == nil || p.sessions == nil {
		return fmt.Errorf("attachment indexing is not configured")
	}

	chunks := p.buildChunks(ctx, "", fileName, content, knowledge.SourceTypeFile, nil)
	if len(chunks) == 0 {
		err := fmt.Errorf("%w: %s", ErrNoContent, fileName)
		p.failAttachment(ctx, attachmentID, err)
		return err
	}

	if err := p.attachments.ReplaceAttachmentChunks(ctx, attachmentID, chunks); err != nil {
		p.failAttachment(ctx, attachmentID, err)
		return fmt.Errorf("indexing attachment %s: %w", attachmentID, err)
	}

	if err := p.sessions.SetAttachmentStatus(ctx, attachmentID, knowledge.AttachmentStatusReady, ""); err != nil {
		return fmt.Errorf("marking attachment ready: %w", err)
	}
	p.logger.Info("indexed attachment", "attachment_id", attachmentID, "chunks", len(chunks))
	return nil
}

func (p *Pipeline) failAttachment(ctx context.Context, id uuid.UUID, cause error) {
	if err := p.sessions.SetAttachmentStatus(ctx, id, knowledge.AttachmentStatusFailed, cause.Error()); err != nil {
		p.logger.Error("marking attachment failed", "attachment_id", id, "error", err)
	}
}

// retryPolicy builds the backoff schedule for transient job failures.
func (p *Pipeline) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	if p.cfg.RetryInitialInterval > 0 {
		b.InitialInterval = p.cfg.RetryInitialInterval
	}
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}

// IngestFileWithRetry retries IngestFile on transient failures. Warning
// results (nothing indexed) are terminal, not retried.
func (p *Pipeline) IngestFileWithRetry(ctx context.Context, content []byte, fileName string,
	tags []string, ownerID *int64) (Result, error) {
	var result Result
	op := func() error {
		r, err := p.IngestFile(ctx, content, fileName, tags, ownerID)
		if err != nil {
			p.logger.Warn("ingestion attempt failed, will retry", "file", fileName, "error", err)
			return err
		}
		result = r
		return nil
	}
	if err := backoff.Retry(op, p.retryPolicy(ctx)); err != nil {
		return Result{}, err
	}
	return result, nil
}

// IngestRepoWithRetry retries IngestRepo on transient failures.
func (p *Pipeline) IngestRepoWithRetry(ctx context.Context, repoURL string,
	tags []string, ownerID *int64) (Result, error) {
	var result Result
	op := func() error {
		r, err := p.IngestRepo(ctx, repoURL, tags, ownerID)
		if err != nil {
			p.logger.Warn("repository ingestion attempt failed, will retry", "repo", repoURL, "error", err)
			return err
		}
		result = r
		return nil
	}
	if err := backoff.Retry(op, p.retryPolicy(ctx)); err != nil {
		return Result{}, err
	}
	return result, nil
}
