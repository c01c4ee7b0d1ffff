package snapshot

import (
	"errors"
	"testing"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/dense"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/sparse"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/text"
)

func TestNew_ValidatesConsistency(t *testing.T) {
	c, _ := chunk.New(1, "custodial funds", "doc", nil)
	b := NewStoreBuilder(1)
	_ = b.Append(c.WithEmbedding(fakeVector("x")))
	store := b.Freeze()

	good, _ := dense.Build(testDim, dense.MetricCosine, []dense.Entry{{ID: 1, Vector: fakeVector("x")}})
	stray, _ := dense.Build(testDim, dense.MetricCosine, []dense.Entry{{ID: 2, Vector: fakeVector("x")}})
	sp := sparse.Build([]sparse.Document{{ID: 1, Terms: text.Analyze("custodial funds")}})

	tests := []struct {
		name   string
		m      Manifest
		de     *dense.Index
		target error
	}{
		{"ok", Manifest{Version: "v", Dimension: testDim, ChunkCount: 1}, good, nil},
		{"no version", Manifest{Dimension: testDim, ChunkCount: 1}, good, domain.ErrInvalidInput},
		{"dimension", Manifest{Version: "v", Dimension: 4, ChunkCount: 1}, good, domain.ErrDimensionMismatch},
		{"count", Manifest{Version: "v", Dimension: testDim, ChunkCount: 2}, good, domain.ErrInvalidInput},
		{"dangling id", Manifest{Version: "v", Dimension: testDim, ChunkCount: 1}, stray, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.m, store, sp, tt.de)
			if tt.target == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestSnapshot_IndexesReferenceOnlyStoredChunks(t *testing.T) {
	snap := buildSnapshot(t, "v1", 100, policyChunks()...)
	for _, q := range []string{"custodial funds", "travel", "procurement receipts"} {
		for _, h := range snap.Sparse().Search(text.Analyze(q), 10, nil) {
			if _, err := snap.Chunks().Get(h.ID); err != nil {
				t.Errorf("sparse hit %d: %v", h.ID, err)
			}
		}
		hits, err := snap.Dense().Search(fakeVector(q), 10, nil)
		if err != nil {
			t.Fatalf("dense search: %v", err)
		}
		for _, h := range hits {
			if _, err := snap.Chunks().Get(h.ID); err != nil {
				t.Errorf("dense hit %d: %v", h.ID, err)
			}
		}
	}
}
