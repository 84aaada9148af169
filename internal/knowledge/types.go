package knowledge

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrDimensionMismatch indicates an embedding vector does not match
	// the schema's declared width.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoChunks indicates an upsert was called with no chunks.
	ErrNoChunks = errors.New("no chunks to upsert")

	// ErrNoTags indicates an operation requires at least one permission tag.
	ErrNoTags = errors.New("no permission tags")
)

// SourceType classifies where a document came from.
type SourceType string

// Source types recorded on documents. They prefix the doc_id scheme:
// file-upload-<name>, file-upload-<zip>/<rel>, github-repo-<repo>/<rel>.
const (
	SourceTypeFile SourceType = "file-upload"
	SourceTypeZip  SourceType = "file-upload-zip"
	SourceTypeRepo SourceType = "github-repo"
)

// PublicTag is the conventional tag granting read access to all users.
const PublicTag = "all_users"

// Chunk is one indexable unit of a document.
type Chunk struct {
	DocID string
	Text  string

	// EmbeddingSource is the text actually embedded (a derived question
	// when HyDE is enabled). Empty means Text is embedded as-is.
	EmbeddingSource string

	SourceType SourceType
	Metadata   map[string]any
}

// embeddingText returns the text to embed for this chunk.
func (c Chunk) embeddingText() string {
	if c.EmbeddingSource != "" {
		return c.EmbeddingSource
	}
	return c.Text
}

// Result is a search hit. Distance is the L2 distance to the query
// vector; lower means more similar.
type Result struct {
	ChunkID  int64
	DocID    string
	Text     string
	Metadata map[string]any
	Distance float64
}

// AccessibleDocument describes one logical document visible to a tag set.
// FilterKey is the value to pass as a doc-id filter to scope retrieval to
// this document (a trailing-slash prefix for zip and repo sources).
type AccessibleDocument struct {
	DocID      string
	SourceType SourceType
	FilterKey  string
	CreatedAt  time.Time
}

// searchConfig holds resolved search options.
type searchConfig struct {
	topK      int
	docFilter []string
}

// SearchOption customizes a search.
type SearchOption func(*searchConfig)

// WithTopK sets the maximum number of results. Values < 1 keep the default.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k >= 1 {
			c.topK = k
		}
	}
}

// WithDocFilter restricts the search to the given doc IDs. Entries with a
// trailing "/" match as prefixes; all others match exactly.
func WithDocFilter(ids []string) SearchOption {
	return func(c *searchConfig) {
		c.docFilter = ids
	}
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{topK: 5}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NormalizePrefix adjusts a user-supplied delete target to the internal
// doc-id scheme: bare names are assumed to be file uploads.
func NormalizePrefix(idOrPrefix string) string {
	if strings.HasPrefix(idOrPrefix, string(SourceTypeFile)+"-") ||
		strings.HasPrefix(idOrPrefix, string(SourceTypeRepo)+"-") {
		return idOrPrefix
	}
	return string(SourceTypeFile) + "-" + idOrPrefix
}

// FilterKey derives the retrieval filter key for a document. Zip members
// and repo files share a trailing-slash prefix key covering the whole
// archive or repository; single uploads are addressed directly.
func FilterKey(docID string, sourceType SourceType) string {
	switch sourceType {
	case SourceTypeZip:
		if i := strings.Index(docID, "/"); i >= 0 {
			return docID[:i+1]
		}
		return docID + "/"
	case SourceTypeRepo:
		if i := strings.Index(docID, "/"); i >= 0 {
			return docID[:i+1]
		}
		return docID + "/"
	default:
		return docID
	}
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
