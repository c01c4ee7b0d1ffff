package embcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/db"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{Model: "m", TTL: time.Hour})

	var gotTTL time.Duration
	var stored []byte
	ms.setFn = func(_ context.Context, _ string, v []byte, ttl time.Duration) error {
		gotTTL, stored = ttl, v
		return nil
	}

	result, err := ce.Embed(context.Background(), "custodial funds")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if len(stored) != 12 {
		t.Fatalf("expected 12 cached bytes, got %d", len(stored))
	}
	if gotTTL != time.Hour {
		t.Errorf("expected TTL 1h, got %v", gotTTL)
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{Model: "m"})

	cached := vectorToCacheBytes([]float32{0.4, 0.5, 0.6})
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) { return cached, nil }

	result, err := ce.Embed(context.Background(), "custodial funds")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Embedding)
	}
	if result.TotalTokens != 0 {
		t.Fatalf("expected TotalTokens=0 on cache hit, got %d", result.TotalTokens)
	}
	if inner.calls != 0 {
		t.Errorf("expected no provider call, got %d", inner.calls)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	cause := errors.New("provider down")
	ce, ms := newTestCachedEmbedder(t, &mockEmbedder{err: cause}, Config{})
	setCalled := false
	ms.setFn = func(context.Context, string, []byte, time.Duration) error {
		setCalled = true
		return nil
	}

	_, err := ce.Embed(context.Background(), "x")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if setCalled {
		t.Error("failed embedding must not be cached")
	}
}

func TestEmbed_StoreErrorsDegrade(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{})
	ms.getFn = func(context.Context, string) ([]byte, error) {
		return nil, &db.Error{Op: db.OpGet, Err: errors.New("connection reset")}
	}
	ms.setFn = func(context.Context, string, []byte, time.Duration) error {
		return errors.New("connection reset")
	}

	res, err := ce.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("store failures must not fail the embed: %v", err)
	}
	if len(res.Embedding) != 1 || inner.calls != 1 {
		t.Errorf("expected provider result, got %v after %d calls", res.Embedding, inner.calls)
	}
}

func TestEmbed_CorruptEntryDropped(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 2}}}
	ce, ms := newTestCachedEmbedder(t, inner, Config{})
	ms.getFn = func(context.Context, string) ([]byte, error) { return []byte{1, 2, 3}, nil }
	var deleted string
	ms.delFn = func(_ context.Context, key string) error {
		deleted = key
		return nil
	}

	res, err := ce.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 2 {
		t.Errorf("expected provider vector, got %v", res.Embedding)
	}
	if deleted != ce.cacheKey("x") {
		t.Errorf("expected corrupt key to be deleted, got %q", deleted)
	}
}

func TestCacheKey(t *testing.T) {
	a := New(&mockEmbedder{}, &mockKVStore{}, Config{Model: "small"}, nil, nil)
	b := New(&mockEmbedder{}, &mockKVStore{}, Config{Model: "large", KeyPrefix: "test:"}, nil, nil)

	if a.cacheKey("policy") == a.cacheKey("policy2") {
		t.Error("different texts must have different keys")
	}
	if a.cacheKey("policy") != a.cacheKey("policy") {
		t.Error("key must be deterministic")
	}
	if !strings.HasPrefix(a.cacheKey("policy"), DefaultKeyPrefix+"emb:") {
		t.Errorf("unexpected default prefix: %s", a.cacheKey("policy"))
	}
	if !strings.HasPrefix(b.cacheKey("policy"), "test:emb:") {
		t.Errorf("unexpected prefix: %s", b.cacheKey("policy"))
	}
	if strings.TrimPrefix(a.cacheKey("policy"), DefaultKeyPrefix) == strings.TrimPrefix(b.cacheKey("policy"), "test:") {
		t.Error("different models must have different keys")
	}
}

func TestCacheMetrics(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	ms := &mockKVStore{}
	ce := New(&mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}, ms, Config{}, counter, zap.NewNop())

	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	ms.getFn = func(context.Context, string) ([]byte, error) { return vectorToCacheBytes([]float32{1}), nil }
	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss = %v, want 1", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 1 {
		t.Errorf("hit = %v, want 1", got)
	}
}

func TestHealthCheck_Delegates(t *testing.T) {
	cause := errors.New("down")
	ce, _ := newTestCachedEmbedder(t, &mockEmbedder{healthErr: cause}, Config{})
	if err := ce.HealthCheck(context.Background()); !errors.Is(err, cause) {
		t.Errorf("expected delegated error, got %v", err)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := bytesToVector(vectorToCacheBytes(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := bytesToVector([]byte{1, 2, 3, 4, 5}); err == nil {
		t.Error("expected error for misaligned data")
	}
}
