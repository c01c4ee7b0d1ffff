package snapshot

import (
	"errors"
	"testing"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/filter"
)

func TestChunkStore_GetAndAllIDs(t *testing.T) {
	b := NewStoreBuilder(3)
	for _, id := range []chunk.ID{30, 10, 20} {
		c, _ := chunk.New(id, "text", "doc", nil)
		if err := b.Append(c); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	s := b.Freeze()

	ids := s.AllIDs()
	if len(ids) != 3 || ids[0] != 10 || ids[1] != 20 || ids[2] != 30 {
		t.Errorf("AllIDs() = %v", ids)
	}
	c, err := s.Get(20)
	if err != nil || c.ID() != 20 {
		t.Errorf("Get(20) = %v, %v", c.ID(), err)
	}
	if _, err := s.Get(99); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(99) error = %v, want ErrNotFound", err)
	}
	if s.ContentKey(99) != "" {
		t.Error("unknown id must have empty content key")
	}
}

func TestStoreBuilder_RejectsDuplicatesAndFrozen(t *testing.T) {
	b := NewStoreBuilder(2)
	c, _ := chunk.New(1, "text", "doc", nil)
	if err := b.Append(c); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append(c); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("duplicate Append error = %v", err)
	}
	b.Freeze()
	d, _ := chunk.New(2, "text", "doc", nil)
	if err := b.Append(d); err == nil {
		t.Error("Append after Freeze must fail")
	}
}

func TestChunkStore_Filter(t *testing.T) {
	s := buildSnapshot(t, "v1", 1, policyChunks()...).Chunks()

	allow, n := s.Filter(filter.Expression{})
	if allow != nil || n != 4 {
		t.Errorf("empty filter: allow=%v n=%d", allow != nil, n)
	}

	cond, _ := filter.NewMatch(chunk.FieldCategory, "finance")
	expr, _ := filter.NewExpression([]filter.Condition{cond}, nil, nil)
	allow, n = s.Filter(expr)
	if n != 2 {
		t.Fatalf("matched = %d, want 2", n)
	}
	for id, want := range map[chunk.ID]bool{1: true, 2: false, 3: true, 4: false} {
		if allow(id) != want {
			t.Errorf("allow(%d) = %v, want %v", id, allow(id), want)
		}
	}
}
