package ingest

import (
	"path/filepath"
	"strings"
)

// genericSeparators is the fallback split order for prose and unknown
// file types.
var genericSeparators = []string{"\n\n", "\n", " ", ""}

// languageSeparators prefers structural boundaries for known source-code
// extensions so chunks tend to align with declarations. Markdown stays on
// the generic splitter.
var languageSeparators = map[string][]string{
	".go":   {"\nfunc ", "\ntype ", "\nvar (", "\nconst (", "\n\n", "\n", " ", ""},
	".py":   {"\nclass ", "\ndef ", "\n\tdef ", "\n\n", "\n", " ", ""},
	".js":   {"\nfunction ", "\nclass ", "\nconst ", "\nexport ", "\n\n", "\n", " ", ""},
	".ts":   {"\nfunction ", "\nclass ", "\nconst ", "\nexport ", "\n\n", "\n", " ", ""},
	".java": {"\nclass ", "\npublic ", "\nprivate ", "\nprotected ", "\n\n", "\n", " ", ""},
	".c":    {"\nstatic ", "\nstruct ", "\nvoid ", "\nint ", "\n\n", "\n", " ", ""},
	".h":    {"\nstatic ", "\nstruct ", "\nvoid ", "\nint ", "\n\n", "\n", " ", ""},
	".cpp":  {"\nclass ", "\nnamespace ", "\nvoid ", "\nint ", "\n\n", "\n", " ", ""},
}

// Splitter cuts text into overlapping chunks, preferring the earliest
// separator in its list that keeps pieces under the target size.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewSplitter creates a generic splitter. size is the target chunk length
// in bytes; overlap is carried from the tail of each chunk into the next.
func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{chunkSize: size, overlap: overlap, separators: genericSeparators}
}

// SplitterForFile picks a language-aware splitter by file extension,
// falling back to the generic one.
func SplitterForFile(name string, size, overlap int) *Splitter {
	ext := strings.ToLower(filepath.Ext(name))
	if seps, ok := languageSeparators[ext]; ok {
		return &Splitter{chunkSize: size, overlap: overlap, separators: seps}
	}
	return NewSplitter(size, overlap)
}

// Split returns the non-empty chunks of text. Single chunks under the
// target size are returned as-is.
func (s *Splitter) Split(text string) []string {
	pieces := s.splitRecursive(text, s.separators)
	return s.merge(pieces)
}

// splitRecursive cuts text into pieces no longer than chunkSize, trying
// separators in order and hard-cutting as the last resort. Each separator
// occurrence starts a new piece and stays attached to it, so merging is
// pure concatenation and chunks tend to begin at structural boundaries.
func (s *Splitter) splitRecursive(text string, seps []string) []string {
	if len(text) <= s.chunkSize {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	if len(seps) == 0 || seps[0] == "" {
		return s.hardCut(text)
	}

	raw := strings.Split(text, seps[0])
	if len(raw) == 1 {
		return s.splitRecursive(text, seps[1:])
	}

	var out []string
	for i, part := range raw {
		if i > 0 {
			part = seps[0] + part
		}
		if len(part) > s.chunkSize {
			out = append(out, s.splitRecursive(part, seps[1:])...)
		} else if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// hardCut slices text into fixed windows on rune boundaries.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end
	}
	return out
}

// merge joins pieces into chunks up to chunkSize, seeding each new chunk
// with the overlap tail of the previous one.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, p := range pieces {
		if current.Len() > 0 && current.Len()+len(p) > s.chunkSize {
			tail := overlapTail(current.String(), s.overlap)
			flush()
			current.WriteString(tail)
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

// overlapTail returns the last n bytes of text, aligned to a rune start.
func overlapTail(text string, n int) string {
	if n <= 0 || len(text) <= n {
		if n <= 0 {
			return ""
		}
		return text
	}
	cut := len(text) - n
	for cut < len(text) && !isRuneStart(text[cut]) {
		cut++
	}
	return text[cut:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
