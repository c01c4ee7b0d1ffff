package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/dense"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/sparse"
)

// On-disk layout under the store root.
const (
	ManifestFile = "manifest.json"
	SnapshotsDir = "snapshots"
	ChunksFile   = "chunks.db"
	SparseFile   = "sparse.idx.zst"
	DenseFile    = "dense.idx.zst"
)

var dataFiles = []string{ChunksFile, SparseFile, DenseFile}

// Store persists snapshots as root/snapshots/<version>/ plus root/manifest.json.
// Snapshot directories are written once and never modified; publication replaces the
// manifest atomically.
type Store struct {
	root       string
	verifyHash bool
	logger     *zap.Logger
	syncDir    func(dir string) error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHashVerification makes Load recompute and compare the content hash.
func WithHashVerification(on bool) StoreOption {
	return func(s *Store) { s.verifyHash = on }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates the root layout if needed.
func NewStore(root string, opts ...StoreOption) (*Store, error) {
	s := &Store{root: root, logger: zap.NewNop(), syncDir: syncDir}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(filepath.Join(root, SnapshotsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot root: %w", err)
	}
	return s, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Save writes snap into a new directory, fsyncs it, and then atomically replaces the
// manifest. On any error before the manifest swap the new directory is removed and the
// previous manifest is left untouched. Once the manifest points at the new directory it
// is never removed. The returned snapshot carries the persisted manifest.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (_ *Snapshot, err error) {
	m := snap.Manifest()
	rel := filepath.Join(SnapshotsDir, m.Version)
	dir := filepath.Join(s.root, rel)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	committed := false
	defer func() {
		if err != nil && !committed {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				s.logger.Warn("failed to remove partial snapshot", zap.String("dir", dir), zap.Error(rmErr))
			}
		}
	}()

	if err := writeChunkDB(ctx, filepath.Join(dir, ChunksFile), snap.Chunks()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := writeCompressed(filepath.Join(dir, SparseFile), snap.Sparse()); err != nil {
		return nil, fmt.Errorf("write sparse index: %w", err)
	}
	if err := writeCompressed(filepath.Join(dir, DenseFile), snap.Dense()); err != nil {
		return nil, fmt.Errorf("write dense index: %w", err)
	}
	for _, name := range dataFiles {
		if err := syncFile(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	if err := s.syncDir(dir); err != nil {
		return nil, err
	}

	hash, err := contentHash(dir)
	if err != nil {
		return nil, err
	}
	m.Format = ManifestFormat
	m.Dir = rel
	m.ContentHash = hash

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.writeManifest(m); err != nil {
		return nil, err
	}
	committed = true
	s.logger.Info("snapshot persisted",
		zap.String("version", m.Version),
		zap.String("dir", dir),
		zap.String("content_hash", hash),
	)
	return snap.withManifest(m), nil
}

// LoadManifest reads the current manifest. It fails with domain.ErrNotFound when no
// snapshot was ever persisted.
func (s *Store) LoadManifest() (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, fmt.Errorf("manifest: %w", domain.ErrNotFound)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Format != ManifestFormat {
		return Manifest{}, fmt.Errorf("manifest format %d not supported", m.Format)
	}
	return m, nil
}

// Load reads the snapshot the manifest points at.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	m, err := s.LoadManifest()
	if err != nil {
		return nil, err
	}
	return s.LoadVersion(ctx, m)
}

// LoadVersion reads the snapshot described by m.
func (s *Store) LoadVersion(ctx context.Context, m Manifest) (*Snapshot, error) {
	dir := filepath.Join(s.root, m.Dir)
	if s.verifyHash {
		hash, err := contentHash(dir)
		if err != nil {
			return nil, err
		}
		if hash != m.ContentHash {
			return nil, fmt.Errorf("snapshot %s content hash mismatch: manifest %s, disk %s", m.Version, m.ContentHash, hash)
		}
	}

	chunks, err := readChunkDB(ctx, filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, err
	}
	var sp *sparse.Index
	if err := readCompressed(filepath.Join(dir, SparseFile), func(r io.Reader) (err error) {
		sp, err = sparse.Read(r)
		return err
	}); err != nil {
		return nil, err
	}
	var de *dense.Index
	if err := readCompressed(filepath.Join(dir, DenseFile), func(r io.Reader) (err error) {
		de, err = dense.Read(r)
		return err
	}); err != nil {
		return nil, err
	}
	return New(m, chunks, sp, de)
}

// Prune removes snapshot directories other than the manifest's current one, keeping
// the newest keep of them by modification time. Returns the removed versions.
func (s *Store) Prune(keep int) ([]string, error) {
	current := ""
	if m, err := s.LoadManifest(); err == nil {
		current = filepath.Base(m.Dir)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, SnapshotsDir))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	type dirInfo struct {
		name string
		mod  int64
	}
	var old []dirInfo
	for _, e := range entries {
		if !e.IsDir() || e.Name() == current {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		old = append(old, dirInfo{e.Name(), info.ModTime().UnixNano()})
	}
	sort.Slice(old, func(i, j int) bool { return old[i].mod > old[j].mod })
	if keep < 0 {
		keep = 0
	}
	var removed []string
	for i := keep; i < len(old); i++ {
		if err := os.RemoveAll(filepath.Join(s.root, SnapshotsDir, old[i].name)); err != nil {
			return removed, fmt.Errorf("remove snapshot %s: %w", old[i].name, err)
		}
		removed = append(removed, old[i].name)
	}
	return removed, nil
}

func (s *Store) writeManifest(m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp, err := os.CreateTemp(s.root, ManifestFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync manifest temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest temp: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.root, ManifestFile)); err != nil {
		return fmt.Errorf("swap manifest: %w", err)
	}
	// The swap is already visible to readers, so Save must not fail past this point.
	if err := s.syncDir(s.root); err != nil {
		s.logger.Warn("manifest swapped but root dir sync failed",
			zap.String("version", m.Version),
			zap.Error(err),
		)
	}
	return nil
}

func writeCompressed(path string, w io.WriterTo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := w.WriteTo(enc); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readCompressed(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd %s: %w", filepath.Base(path), err)
	}
	defer dec.Close()
	if err := read(dec); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// contentHash is sha256 over the data files in a fixed order.
func contentHash(dir string) (string, error) {
	h := sha256.New()
	for _, name := range dataFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", name, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", name, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
