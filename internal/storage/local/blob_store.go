// Package local implements a file-backed cache backend. Each entry is a pair
// of files named after the SHA-256 of its key: <name>.blob holds the payload
// and <name>.json holds the metadata.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/document"
)

const (
	blobExt = ".blob"
	metaExt = ".json"
)

var _ cache.Backend = (*BlobStore)(nil)

// Config captures the parameters for the local filesystem backend.
type Config struct {
	// BaseDir is the root directory where entries are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore stores cache entries on the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *BlobStore) paths(key string) (blobPath, metaPath string) {
	name := document.StorageName(key)
	return filepath.Join(s.baseDir, name+blobExt), filepath.Join(s.baseDir, name+metaExt)
}

// Get reads the payload and metadata for key.
func (s *BlobStore) Get(_ context.Context, key string) (document.CachedBlob, error) {
	blobPath, metaPath := s.paths(key)
	meta, err := readMeta(metaPath)
	if err != nil {
		return document.CachedBlob{}, err
	}
	data, err := os.ReadFile(blobPath) // #nosec G304 -- path derived from a hash inside baseDir.
	if errors.Is(err, fs.ErrNotExist) {
		return document.CachedBlob{}, document.ErrNotFound
	}
	if err != nil {
		return document.CachedBlob{}, fmt.Errorf("read blob: %w", err)
	}
	return document.CachedBlob{
		Key:            meta.Key,
		Bytes:          data,
		SourceURL:      meta.SourceURL,
		SizeBytes:      meta.SizeBytes,
		ContentType:    meta.ContentType,
		FetchedAt:      meta.FetchedAt,
		LastAccessedAt: meta.LastAccessedAt,
	}, nil
}

// Put writes the payload first and the metadata last, so a listed entry
// always has its payload on disk.
func (s *BlobStore) Put(_ context.Context, blob document.CachedBlob) error {
	if strings.TrimSpace(blob.Key) == "" {
		return fmt.Errorf("key is required")
	}
	blobPath, metaPath := s.paths(blob.Key)
	if err := writeAtomic(blobPath, blob.Bytes); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := writeMeta(metaPath, blob.Meta()); err != nil {
		return err
	}
	return nil
}

// Touch rewrites the metadata with a new last-access time.
func (s *BlobStore) Touch(_ context.Context, key string, at time.Time) error {
	_, metaPath := s.paths(key)
	meta, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	meta.LastAccessedAt = at
	return writeMeta(metaPath, meta)
}

// Delete removes both files of key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	blobPath, metaPath := s.paths(key)
	metaErr := os.Remove(metaPath)
	blobErr := os.Remove(blobPath)
	if errors.Is(metaErr, fs.ErrNotExist) && errors.Is(blobErr, fs.ErrNotExist) {
		return document.ErrNotFound
	}
	if metaErr != nil && !errors.Is(metaErr, fs.ErrNotExist) {
		return fmt.Errorf("remove meta: %w", metaErr)
	}
	if blobErr != nil && !errors.Is(blobErr, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", blobErr)
	}
	return nil
}

// List scans the base directory for metadata files.
func (s *BlobStore) List(_ context.Context) ([]document.BlobMeta, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}
	out := make([]document.BlobMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != metaExt {
			continue
		}
		meta, err := readMeta(filepath.Join(s.baseDir, entry.Name()))
		if errors.Is(err, document.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

func readMeta(path string) (document.BlobMeta, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path derived from a hash inside baseDir.
	if errors.Is(err, fs.ErrNotExist) {
		return document.BlobMeta{}, document.ErrNotFound
	}
	if err != nil {
		return document.BlobMeta{}, fmt.Errorf("read meta: %w", err)
	}
	var meta document.BlobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return document.BlobMeta{}, fmt.Errorf("decode meta %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}

func writeMeta(path string, meta document.BlobMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := writeAtomic(path, raw); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
