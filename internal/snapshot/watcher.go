package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
)

// Reloader publishes whatever snapshot the on-disk manifest points at.
type Reloader struct {
	store    *Store
	registry *Registry
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewReloader creates a Reloader.
func NewReloader(store *Store, registry *Registry, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{store: store, registry: registry, logger: logger}
}

// Reload loads and publishes the manifest's snapshot unless it is already current or
// older than the current one, as when an in-process build published after the manifest
// was read. It reports whether a new snapshot was published. A missing manifest is not
// an error.
func (r *Reloader) Reload(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.store.LoadManifest()
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur, ok := r.registry.Current(); ok && cur.Version == m.Version {
		return false, nil
	}
	snap, err := r.store.LoadVersion(ctx, m)
	if err != nil {
		return false, fmt.Errorf("load snapshot %s: %w", m.Version, err)
	}
	if !r.registry.PublishIfNewer(snap) {
		r.logger.Info("manifest snapshot is older than the published one, skipped",
			zap.String("version", m.Version),
		)
		return false, nil
	}
	return true, nil
}

// Watcher reloads when the manifest in the store root is replaced, which is how a
// build running in another process hands over its snapshot.
type Watcher struct {
	reloader *Reloader
	root     string
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a Watcher. debounce coalesces bursts of file events.
func NewWatcher(reloader *Reloader, root string, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{reloader: reloader, root: root, debounce: debounce, logger: logger}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if isManifestReplace(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("snapshot watcher error", zap.Error(err))
		case <-timer.C:
			published, err := w.reloader.Reload(ctx)
			if err != nil {
				w.logger.Error("snapshot reload failed", zap.Error(err))
				continue
			}
			if published {
				w.logger.Info("snapshot reloaded from disk")
			}
		}
	}
}

func isManifestReplace(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != ManifestFile {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename)
}
