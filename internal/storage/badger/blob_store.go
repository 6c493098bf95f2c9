// Package badger implements an embedded-database cache backend on BadgerDB.
// Metadata and payload are stored under separate key prefixes so listing
// entries never loads payload values.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/document"
)

const (
	metaPrefix = "meta:"
	blobPrefix = "blob:"
)

var _ cache.Backend = (*BlobStore)(nil)

// Config controls where and how the database is opened.
type Config struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// BlobStore stores cache entries in BadgerDB.
type BlobStore struct {
	db *badgerdb.DB
}

type zapAdapter struct {
	logger *zap.SugaredLogger
}

func (l zapAdapter) Errorf(format string, args ...any)   { l.logger.Errorf(format, args...) }
func (l zapAdapter) Warningf(format string, args ...any) { l.logger.Warnf(format, args...) }
func (l zapAdapter) Infof(format string, args ...any)    { l.logger.Debugf(format, args...) }
func (l zapAdapter) Debugf(format string, args ...any)   { l.logger.Debugf(format, args...) }

// Open opens (or creates) the database described by cfg.
func Open(cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("cache.badger.path is required unless in_memory is set")
	}
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(zapAdapter{logger: logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BlobStore{db: db}, nil
}

// Close releases the database.
func (s *BlobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get loads metadata and payload for key in one read transaction.
func (s *BlobStore) Get(_ context.Context, key string) (document.CachedBlob, error) {
	var out document.CachedBlob
	err := s.db.View(func(txn *badgerdb.Txn) error {
		meta, err := getMeta(txn, key)
		if err != nil {
			return err
		}
		item, err := txn.Get([]byte(blobPrefix + key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return document.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get blob: %w", err)
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy blob: %w", err)
		}
		out = document.CachedBlob{
			Key:            meta.Key,
			Bytes:          data,
			SourceURL:      meta.SourceURL,
			SizeBytes:      meta.SizeBytes,
			ContentType:    meta.ContentType,
			FetchedAt:      meta.FetchedAt,
			LastAccessedAt: meta.LastAccessedAt,
		}
		return nil
	})
	if err != nil {
		return document.CachedBlob{}, err
	}
	return out, nil
}

// Put writes payload and metadata atomically.
func (s *BlobStore) Put(_ context.Context, blob document.CachedBlob) error {
	raw, err := json.Marshal(blob.Meta())
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set([]byte(blobPrefix+blob.Key), blob.Bytes); err != nil {
			return fmt.Errorf("set blob: %w", err)
		}
		if err := txn.Set([]byte(metaPrefix+blob.Key), raw); err != nil {
			return fmt.Errorf("set meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", blob.Key, err)
	}
	return nil
}

// Touch updates the last-access time of key.
func (s *BlobStore) Touch(_ context.Context, key string, at time.Time) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		meta, err := getMeta(txn, key)
		if err != nil {
			return err
		}
		meta.LastAccessedAt = at
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}
		return txn.Set([]byte(metaPrefix+key), raw)
	})
}

// Delete removes key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + key)); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return document.ErrNotFound
		}
		if err := txn.Delete([]byte(metaPrefix + key)); err != nil {
			return fmt.Errorf("delete meta: %w", err)
		}
		if err := txn.Delete([]byte(blobPrefix + key)); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
		return nil
	})
}

// List iterates the metadata prefix.
func (s *BlobStore) List(_ context.Context) ([]document.BlobMeta, error) {
	var out []document.BlobMeta
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var meta document.BlobMeta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("decode meta %s: %w", it.Item().Key(), err)
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getMeta(txn *badgerdb.Txn, key string) (document.BlobMeta, error) {
	item, err := txn.Get([]byte(metaPrefix + key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return document.BlobMeta{}, document.ErrNotFound
	}
	if err != nil {
		return document.BlobMeta{}, fmt.Errorf("get meta: %w", err)
	}
	var meta document.BlobMeta
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	if err != nil {
		return document.BlobMeta{}, fmt.Errorf("decode meta: %w", err)
	}
	return meta, nil
}
