package provider

import (
	"context"
	"testing"
)

func TestNoopReranker_PreservesOrderAndScores(t *testing.T) {
	in := []Scored{
		{Index: 0, Passage: "first", Score: 0.1},
		{Index: 1, Passage: "second", Score: 0.5},
		{Index: 2, Passage: "third", Score: 0.3},
	}

	out, err := NoopReranker{}.Rerank(context.Background(), "query", in)
	if err != nil {
		t.Fatalf("Rerank() = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestNoopReranker_DoesNotAliasInput(t *testing.T) {
	in := []Scored{{Index: 0, Passage: "p", Score: 1}}

	out, err := NoopReranker{}.Rerank(context.Background(), "q", in)
	if err != nil {
		t.Fatalf("Rerank() = %v", err)
	}

	out[0].Score = 99
	if in[0].Score != 1 {
		t.Error("Rerank output aliases input slice")
	}
}

func TestNoopReranker_Empty(t *testing.T) {
	out, err := NoopReranker{}.Rerank(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Rerank() = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}
