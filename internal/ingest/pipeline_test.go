package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corpusgate/corpusgate/internal/knowledge"
	"github.com/corpusgate/corpusgate/internal/log"
	"github.com/corpusgate/corpusgate/internal/provider"
)

type upsertCall struct {
	chunks []knowledge.Chunk
	tags   []string
	owner  *int64
}

type fakeStore struct {
	calls    []upsertCall
	failures int
}

func (f *fakeStore) Upsert(_ context.Context, chunks []knowledge.Chunk, tags []string, owner *int64) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transient store failure")
	}
	f.calls = append(f.calls, upsertCall{chunks: chunks, tags: tags, owner: owner})
	return nil
}

type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (f *fakeGenerator) Invoke(_ context.Context, _ []provider.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeGenerator) Stream(ctx context.Context, msgs []provider.Message, fn func(string) error) error {
	text, err := f.Invoke(ctx, msgs)
	if err != nil {
		return err
	}
	return fn(text)
}

type fakeAttachments struct {
	chunks map[uuid.UUID][]knowledge.Chunk
	err    error
}

func (f *fakeAttachments) ReplaceAttachmentChunks(_ context.Context, id uuid.UUID, chunks []knowledge.Chunk) error {
	if f.err != nil {
		return f.err
	}
	if f.chunks == nil {
		f.chunks = make(map[uuid.UUID][]knowledge.Chunk)
	}
	f.chunks[id] = chunks
	return nil
}

type fakeSessions struct {
	statuses map[uuid.UUID]string
	messages map[uuid.UUID]string
}

func (f *fakeSessions) SetAttachmentStatus(_ context.Context, id uuid.UUID, status, msg string) error {
	if f.statuses == nil {
		f.statuses = make(map[uuid.UUID]string)
		f.messages = make(map[uuid.UUID]string)
	}
	f.statuses[id] = status
	f.messages[id] = msg
	return nil
}

func newTestPipeline(t *testing.T, store Store, fast provider.Generator, hyde bool) *Pipeline {
	t.Helper()
	p, err := New(store, nil, nil, fast, Config{
		ChunkSize:            500,
		ChunkOverlap:         50,
		HyDE:                 hyde,
		HyDETimeout:          time.Second,
		RetryInitialInterval: time.Millisecond,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return p
}

func buildZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip member: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip member: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestIngestFile_Single(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil, false)

	owner := int64(42)
	result, err := p.IngestFile(context.Background(),
		[]byte("the vacation policy grants twenty days"), "hr-policy.txt",
		[]string{"hr"}, &owner)
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}

	if result.Status != StatusSuccess || result.Chunks != 1 || result.Files != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(store.calls) != 1 {
		t.Fatalf("upsert calls = %d, want 1", len(store.calls))
	}
	call := store.calls[0]
	if call.chunks[0].DocID != "file-upload-hr-policy.txt" {
		t.Errorf("doc id = %q", call.chunks[0].DocID)
	}
	if call.chunks[0].SourceType != knowledge.SourceTypeFile {
		t.Errorf("source type = %q", call.chunks[0].SourceType)
	}
	if call.chunks[0].Metadata["source"] != "hr-policy.txt" {
		t.Errorf("metadata = %v", call.chunks[0].Metadata)
	}
	if call.chunks[0].EmbeddingSource != "" {
		t.Errorf("embedding source should be empty without derivation, got %q", call.chunks[0].EmbeddingSource)
	}
	if len(call.tags) != 1 || call.tags[0] != "hr" {
		t.Errorf("tags = %v", call.tags)
	}
	if call.owner == nil || *call.owner != 42 {
		t.Errorf("owner = %v", call.owner)
	}
}

func TestIngestFile_EmptyContentIsWarning(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil, false)

	result, err := p.IngestFile(context.Background(), []byte("   "), "blank.txt", []string{"hr"}, nil)
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}
	if result.Status != StatusWarning {
		t.Errorf("status = %q, want warning when nothing was indexed", result.Status)
	}
	if len(store.calls) != 0 {
		t.Errorf("upsert calls = %d, want 0", len(store.calls))
	}
}

func TestIngestFile_HyDEDerivation(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{response: "How many vacation days are granted"}
	p := newTestPipeline(t, store, gen, true)

	_, err := p.IngestFile(context.Background(),
		[]byte("employees receive twenty vacation days"), "policy.txt", []string{"hr"}, nil)
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}

	chunk := store.calls[0].chunks[0]
	if chunk.EmbeddingSource != "How many vacation days are granted?" {
		t.Errorf("embedding source = %q", chunk.EmbeddingSource)
	}
	if chunk.Text != "employees receive twenty vacation days" {
		t.Errorf("chunk text must stay raw, got %q", chunk.Text)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
}

func TestIngestFile_HyDEFailureFallsBackToRawText(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	p := newTestPipeline(t, store, gen, true)

	_, err := p.IngestFile(context.Background(),
		[]byte("content to index"), "doc.txt", []string{"hr"}, nil)
	if err != nil {
		t.Fatalf("derivation failure must not abort ingestion: %v", err)
	}

	chunk := store.calls[0].chunks[0]
	if chunk.EmbeddingSource != "" {
		t.Errorf("embedding source = %q, want raw-text fallback", chunk.EmbeddingSource)
	}
}

func TestIngestFile_Zip(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil, false)

	data := buildZip(t, map[string]string{
		"docs/guide.md":        "how to use the widget",
		"src/main.go":          "package main\n\nfunc main() {}",
		".hidden/secret.txt":   "should be skipped",
		"__MACOSX/._guide.md":  "resource fork",
		"pkg/__pycache__/m.py": "bytecode dir",
		"image.bin":            "bin\x00ary",
	})

	result, err := p.IngestFile(context.Background(), data, "bundle.zip", []string{"eng"}, nil)
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}

	if result.Status != StatusSuccess {
		t.Errorf("status = %q, skipped members must not fail the job", result.Status)
	}
	if result.Files != 2 {
		t.Errorf("files = %d, want 2", result.Files)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (the binary member)", result.Skipped)
	}

	var docIDs []string
	for _, c := range store.calls[0].chunks {
		docIDs = append(docIDs, c.DocID)
	}
	joined := strings.Join(docIDs, ",")
	if !strings.Contains(joined, "file-upload-bundle/docs/guide.md") ||
		!strings.Contains(joined, "file-upload-bundle/src/main.go") {
		t.Errorf("doc ids = %v", docIDs)
	}
	if strings.Contains(joined, "secret") || strings.Contains(joined, "__MACOSX") {
		t.Errorf("hidden members leaked into index: %v", docIDs)
	}
	for _, c := range store.calls[0].chunks {
		if c.SourceType != knowledge.SourceTypeZip {
			t.Errorf("source type = %q, want zip", c.SourceType)
		}
		if c.Metadata["original_zip"] != "bundle" {
			t.Errorf("metadata = %v", c.Metadata)
		}
	}
}

func TestIngestFile_ZipEmptyMemberSkippedNotFatal(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil, false)

	data := buildZip(t, map[string]string{
		"real.txt":  "some content here",
		"empty.txt": "",
	})

	result, err := p.IngestFile(context.Background(), data, "b.zip", []string{"eng"}, nil)
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("status = %q, want success with a skipped member", result.Status)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
}

func TestIngestFile_ZipCorruptMemberSkipped(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil, false)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"docs/a.md": "first readable member",
		"docs/b.md": "second readable member",
	} {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip member: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip member: %v", err)
		}
	}
	f, err := w.CreateHeader(&zip.FileHeader{Name: "bad.txt", Method: zip.Store})
	if err != nil {
		t.Fatalf("creating stored member: %v", err)
	}
	if _, err := f.Write([]byte("INTACT-PAYLOAD")); err != nil {
		t.Fatalf("writing stored member: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	// Flip the stored member's bytes so its checksum no longer matches.
	data := bytes.Replace(buf.Bytes(), []byte("INTACT-PAYLOAD"), []byte("DAMAGE-PAYLOAD"), 1)

	result, err := p.IngestFile(context.Background(), data, "bundle.zip", []string{"eng"}, nil)
	if err != nil {
		t.Fatalf("a corrupt member must not fail the job: %v", err)
	}

	if result.Status != StatusSuccess {
		t.Errorf("status = %q, want success", result.Status)
	}
	if result.Files != 2 {
		t.Errorf("files = %d, want 2", result.Files)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (the corrupt member)", result.Skipped)
	}
	for _, c := range store.calls[0].chunks {
		if strings.Contains(c.DocID, "bad.txt") {
			t.Errorf("corrupt member was indexed: %s", c.DocID)
		}
	}
}

func TestIngestFile_ZipNothingIndexableIsWarning(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil, false)

	data := buildZip(t, map[string]string{
		".git/config": "hidden only",
	})

	result, err := p.IngestFile(context.Background(), data, "b.zip", []string{"eng"}, nil)
	if err != nil {
		t.Fatalf("IngestFile() = %v", err)
	}
	if result.Status != StatusWarning {
		t.Errorf("status = %q, want warning", result.Status)
	}
	if len(store.calls) != 0 {
		t.Errorf("upsert calls = %d, want 0", len(store.calls))
	}
}

func TestIngestFileWithRetry_TransientFailure(t *testing.T) {
	store := &fakeStore{failures: 2}
	p := newTestPipeline(t, store, nil, false)

	result, err := p.IngestFileWithRetry(context.Background(),
		[]byte("content"), "doc.txt", []string{"eng"}, nil)
	if err != nil {
		t.Fatalf("IngestFileWithRetry() = %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("status = %q", result.Status)
	}
	if len(store.calls) != 1 {
		t.Errorf("successful upserts = %d, want 1", len(store.calls))
	}
}

func TestIngestFileWithRetry_WarningIsTerminal(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil, false)

	result, err := p.IngestFileWithRetry(context.Background(), nil, "empty.txt", []string{"eng"}, nil)
	if err != nil {
		t.Fatalf("IngestFileWithRetry() = %v", err)
	}
	if result.Status != StatusWarning {
		t.Errorf("status = %q, want warning without retries", result.Status)
	}
	if len(store.calls) != 0 {
		t.Errorf("upsert calls = %d, want 0", len(store.calls))
	}
}

func TestIngestAttachment(t *testing.T) {
	attachments := &fakeAttachments{}
	sessions := &fakeSessions{}
	p, err := New(&fakeStore{}, attachments, sessions, nil, Config{
		ChunkSize:    500,
		ChunkOverlap: 50,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	id := uuid.New()
	if err := p.IngestAttachment(context.Background(), id,
		[]byte("attachment body"), "notes.txt"); err != nil {
		t.Fatalf("IngestAttachment() = %v", err)
	}

	if sessions.statuses[id] != knowledge.AttachmentStatusReady {
		t.Errorf("status = %q, want ready", sessions.statuses[id])
	}
	if len(attachments.chunks[id]) != 1 {
		t.Errorf("indexed chunks = %d, want 1", len(attachments.chunks[id]))
	}
}

func TestIngestAttachment_IndexFailureMarksFailed(t *testing.T) {
	attachments := &fakeAttachments{err: fmt.Errorf("embedder down")}
	sessions := &fakeSessions{}
	p, err := New(&fakeStore{}, attachments, sessions, nil, Config{
		ChunkSize:    500,
		ChunkOverlap: 50,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	id := uuid.New()
	if err := p.IngestAttachment(context.Background(), id, []byte("body"), "f.txt"); err == nil {
		t.Fatal("IngestAttachment() = nil, want error")
	}

	if sessions.statuses[id] != knowledge.AttachmentStatusFailed {
		t.Errorf("status = %q, want failed", sessions.statuses[id])
	}
	if !strings.Contains(sessions.messages[id], "embedder down") {
		t.Errorf("error message = %q", sessions.messages[id])
	}
}
