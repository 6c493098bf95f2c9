// Package gcs implements a cache backend on Google Cloud Storage. Entry
// metadata travels as object metadata so listing never downloads payloads.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/document"
)

const (
	metaKey          = "cache-key"
	metaSourceURL    = "source-url"
	metaFetchedAt    = "fetched-at"
	metaLastAccessed = "last-accessed-at"
)

var _ cache.Backend = (*BlobStore)(nil)

// Config captures the bucket and object prefix used for cache entries.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// BlobStore stores cache entries as objects in a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed cache backend.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *BlobStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + document.StorageName(key))
}

// Get downloads the payload for key.
func (s *BlobStore) Get(ctx context.Context, key string) (document.CachedBlob, error) {
	obj := s.object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return document.CachedBlob{}, notFound(err, "object attrs")
	}
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return document.CachedBlob{}, notFound(err, "open reader")
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return document.CachedBlob{}, fmt.Errorf("read object: %w", err)
	}
	meta := metaFromAttrs(attrs)
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

// Put uploads the payload along with its metadata.
func (s *BlobStore) Put(ctx context.Context, blob document.CachedBlob) error {
	if strings.TrimSpace(blob.Key) == "" {
		return fmt.Errorf("key is required")
	}
	writer := s.object(blob.Key).NewWriter(ctx)
	writer.ContentType = blob.ContentType
	writer.Metadata = map[string]string{
		metaKey:          blob.Key,
		metaSourceURL:    blob.SourceURL,
		metaFetchedAt:    blob.FetchedAt.UTC().Format(time.RFC3339Nano),
		metaLastAccessed: blob.LastAccessedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := writer.Write(blob.Bytes); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Touch rewrites the last-access metadata of key.
func (s *BlobStore) Touch(ctx context.Context, key string, at time.Time) error {
	obj := s.object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return notFound(err, "object attrs")
	}
	metadata := make(map[string]string, len(attrs.Metadata)+1)
	for k, v := range attrs.Metadata {
		metadata[k] = v
	}
	metadata[metaLastAccessed] = at.UTC().Format(time.RFC3339Nano)
	if _, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{Metadata: metadata}); err != nil {
		return notFound(err, "update object")
	}
	return nil
}

// Delete removes the object for key.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil {
		return notFound(err, "delete object")
	}
	return nil
}

// List enumerates every cache object under the prefix.
func (s *BlobStore) List(ctx context.Context) ([]document.BlobMeta, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	var out []document.BlobMeta
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		if attrs.Metadata[metaKey] == "" {
			continue
		}
		out = append(out, metaFromAttrs(attrs))
	}
	return out, nil
}

func metaFromAttrs(attrs *storage.ObjectAttrs) document.BlobMeta {
	return document.BlobMeta{
		Key:            attrs.Metadata[metaKey],
		SourceURL:      attrs.Metadata[metaSourceURL],
		SizeBytes:      attrs.Size,
		ContentType:    attrs.ContentType,
		FetchedAt:      parseTime(attrs.Metadata[metaFetchedAt], attrs.Created),
		LastAccessedAt: parseTime(attrs.Metadata[metaLastAccessed], attrs.Updated),
	}
}

func parseTime(raw string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return fallback.UTC()
}

func notFound(err error, op string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return document.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
