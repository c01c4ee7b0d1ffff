package snapshot

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/metrics"
)

// Handle is a reference-counted lease on one snapshot. Every Acquire must be paired
// with exactly one Release.
type Handle struct {
	snap    *Snapshot
	refs    atomic.Int64
	retired func(*Snapshot)
}

func newHandle(s *Snapshot, retired func(*Snapshot)) *Handle {
	h := &Handle{snap: s, retired: retired}
	h.refs.Store(1) // the registry's own reference
	return h
}

// Snapshot returns the leased snapshot.
func (h *Handle) Snapshot() *Snapshot { return h.snap }

// Version returns the leased snapshot's version.
func (h *Handle) Version() string { return h.snap.Version() }

// Release drops one reference. The last release retires the snapshot.
func (h *Handle) Release() {
	n := h.refs.Add(-1)
	switch {
	case n == 0:
		if h.retired != nil {
			h.retired(h.snap)
		}
	case n < 0:
		panic(fmt.Sprintf("snapshot %s released more times than acquired", h.snap.Version()))
	}
}

// tryRetain takes a reference unless the count already reached zero.
func (h *Handle) tryRetain() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Registry publishes the current snapshot. Publication is an atomic pointer swap:
// in-flight readers keep their handle, new readers see the new snapshot, and the old
// snapshot is retired when its last reader releases it.
type Registry struct {
	current atomic.Pointer[Handle]
	mu      sync.Mutex // serialises Publish
	logger  *zap.Logger
	hooks   []func(Manifest)
}

// NewRegistry creates an empty registry. Retire hooks run once per retired snapshot.
func NewRegistry(logger *zap.Logger, onRetire ...func(Manifest)) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger, hooks: onRetire}
}

// Acquire leases the current snapshot. It fails with domain.ErrNotFound before the
// first publication.
func (r *Registry) Acquire() (*Handle, error) {
	for {
		h := r.current.Load()
		if h == nil {
			return nil, fmt.Errorf("no published snapshot: %w", domain.ErrNotFound)
		}
		if h.tryRetain() {
			return h, nil
		}
		// h was retired between Load and tryRetain; a newer handle is already current.
	}
}

// Publish makes s the snapshot new queries bind to and returns the previous version,
// or "" for the first publication.
func (r *Registry) Publish(s *Snapshot) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishLocked(s)
}

// PublishIfNewer publishes s unless the current snapshot is the same build or a later
// one. The check and the swap happen under the publish lock.
func (r *Registry) PublishIfNewer(s *Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.current.Load(); h != nil && !h.Snapshot().Manifest().Precedes(s.Manifest()) {
		return false
	}
	r.publishLocked(s)
	return true
}

func (r *Registry) publishLocked(s *Snapshot) string {
	old := r.current.Swap(newHandle(s, r.retire))
	metrics.SnapshotsPublishedTotal.Inc()
	metrics.SnapshotChunks.Set(float64(s.Chunks().Len()))
	r.logger.Info("snapshot published",
		zap.String("version", s.Version()),
		zap.Int("chunks", s.Chunks().Len()),
		zap.Int("dimension", s.Dimension()),
	)
	if old == nil {
		return ""
	}
	old.Release()
	return old.Version()
}

// Current returns the manifest of the published snapshot.
func (r *Registry) Current() (Manifest, bool) {
	h, err := r.Acquire()
	if err != nil {
		return Manifest{}, false
	}
	defer h.Release()
	return h.Snapshot().Manifest(), true
}

// Close drops the registry's reference to the current snapshot.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.current.Swap(nil); old != nil {
		old.Release()
	}
}

func (r *Registry) retire(s *Snapshot) {
	metrics.SnapshotsRetiredTotal.Inc()
	r.logger.Info("snapshot retired", zap.String("version", s.Version()))
	for _, hook := range r.hooks {
		hook(s.Manifest())
	}
}
