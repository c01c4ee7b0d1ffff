package snapshot

import (
	"hash/fnv"
	"testing"
	"time"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/dense"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/sparse"
)

const testDim = 8

// fakeVector derives a deterministic non-zero vector from s.
func fakeVector(s string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	seed := h.Sum64()
	v := make([]float32, testDim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed>>40)/float32(1<<24) - 0.5
	}
	v[0] += 1
	return v
}

type testChunk struct {
	text     string
	source   string
	category string
}

func buildSnapshot(t *testing.T, version string, firstID chunk.ID, in ...testChunk) *Snapshot {
	t.Helper()
	b := NewStoreBuilder(len(in))
	var sdocs []sparse.Document
	var entries []dense.Entry
	for i, tc := range in {
		var meta *chunk.Metadata
		if tc.category != "" {
			meta = &chunk.Metadata{Category: chunk.Str(tc.category)}
		}
		id := firstID + chunk.ID(i)
		c, err := chunk.New(id, tc.text, tc.source, meta)
		if err != nil {
			t.Fatalf("chunk.New: %v", err)
		}
		c = c.WithEmbedding(fakeVector(tc.text)).WithLocation("Heading", i+1)
		if err := b.Append(c); err != nil {
			t.Fatalf("Append: %v", err)
		}
		sdocs = append(sdocs, sparse.Document{ID: id, Terms: c.TermVector()})
		entries = append(entries, dense.Entry{ID: id, Vector: c.Embedding()})
	}
	store := b.Freeze()
	de, err := dense.Build(testDim, dense.MetricCosine, entries)
	if err != nil {
		t.Fatalf("dense.Build: %v", err)
	}
	snap, err := New(Manifest{
		Version:     version,
		Dimension:   testDim,
		Metric:      dense.MetricCosine,
		ChunkCount:  store.Len(),
		NextChunkID: firstID + chunk.ID(len(in)),
		BuiltAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, store, sparse.Build(sdocs), de)
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	return snap
}

func policyChunks() []testChunk {
	return []testChunk{
		{"Policies for Managing Custodial Funds", "finance/custodial.pdf", "Finance"},
		{"Policies for Managing Custodial Funds", "audit/custodial.pdf", "Audit"},
		{"Travel reimbursement requires original receipts", "finance/travel.pdf", "Finance"},
		{"Procurement cards must not be used for personal travel", "procurement/pcard.pdf", ""},
	}
}

func chunkIDBase(i int) chunk.ID { return chunk.ID(1 + i*10) }
