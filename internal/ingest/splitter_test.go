package ingest

import (
	"strings"
	"testing"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(1000, 200)
	chunks := s.Split("a short paragraph")
	if len(chunks) != 1 || chunks[0] != "a short paragraph" {
		t.Errorf("Split() = %v, want single unchanged chunk", chunks)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	s := NewSplitter(1000, 200)
	if chunks := s.Split(""); len(chunks) != 0 {
		t.Errorf("Split(\"\") = %v, want no chunks", chunks)
	}
	if chunks := s.Split("   \n\n  "); len(chunks) != 0 {
		t.Errorf("Split(whitespace) = %v, want no chunks", chunks)
	}
}

func TestSplit_RespectsChunkSize(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is sentence number one of a long paragraph. ")
		if i%5 == 4 {
			sb.WriteString("\n\n")
		}
	}

	s := NewSplitter(300, 50)
	chunks := s.Split(sb.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		// Chunks may exceed the target by at most the overlap seed plus
		// one piece.
		if len(c) > 300+50+300 {
			t.Errorf("chunk %d length %d is far over target", i, len(c))
		}
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}

func TestSplit_OverlapCarriesTail(t *testing.T) {
	text := strings.Repeat("alpha bravo charlie delta echo foxtrot golf hotel. ", 20)

	s := NewSplitter(200, 60)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-20:]
		if !strings.Contains(chunks[i], strings.TrimSpace(prevTail)) {
			t.Errorf("chunk %d does not carry overlap from chunk %d", i, i-1)
		}
	}
}

func TestSplit_NoSeparatorsHardCuts(t *testing.T) {
	text := strings.Repeat("x", 2500)

	s := NewSplitter(1000, 0)
	chunks := s.Split(text)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total != 2500 {
		t.Errorf("total length %d, want 2500 (no loss on hard cut)", total)
	}
}

func TestSplit_HardCutRuneBoundaries(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 300)

	s := NewSplitter(100, 20)
	for i, c := range s.Split(text) {
		if !strings.HasPrefix(c, "h") && !strings.HasPrefix(c, "é") &&
			!strings.ContainsAny(c[:1], "abcdefghijklmnopqrstuvwxyzöéw ") {
			t.Errorf("chunk %d starts mid-rune: %q", i, c[:4])
		}
	}
}

func TestSplitterForFile_LanguageSelection(t *testing.T) {
	tests := []struct {
		file     string
		firstSep string
	}{
		{"main.go", "\nfunc "},
		{"app.py", "\nclass "},
		{"index.ts", "\nfunction "},
		{"Main.java", "\nclass "},
	}
	for _, tt := range tests {
		s := SplitterForFile(tt.file, 500, 100)
		if s.separators[0] != tt.firstSep {
			t.Errorf("SplitterForFile(%q) first separator = %q, want %q",
				tt.file, s.separators[0], tt.firstSep)
		}
	}
}

func TestSplit_LosslessOnCode(t *testing.T) {
	goCode := "package main\n\nfunc a() {\n\tprintln(1)\n}\n" +
		strings.Repeat("// filler line keeping the file long\n", 60) +
		"\nfunc b() {\n\tprintln(2)\n}\n"

	chunks := SplitterForFile("main.go", 400, 0).Split(goCode)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// With zero overlap every line of input must survive in some chunk.
	joined := strings.Join(chunks, "\n")
	for _, needle := range []string{"func a()", "func b()", "println(1)", "println(2)"} {
		if !strings.Contains(joined, needle) {
			t.Errorf("split lost %q", needle)
		}
	}
}

func TestSplitterForFile_UnknownExtensionFallsBack(t *testing.T) {
	s := SplitterForFile("notes.xyz", 500, 100)
	if len(s.separators) != len(genericSeparators) {
		t.Errorf("unknown extension should use generic separators")
	}
	s = SplitterForFile("readme.md", 500, 100)
	if len(s.separators) != len(genericSeparators) {
		t.Errorf("markdown should use generic separators")
	}
}
