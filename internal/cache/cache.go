// Package cache implements the size-bounded content cache. Entries live in a
// pluggable Backend; the Cache keeps an in-process index of entry metadata.
//
// Index bookkeeping is serialized by one mutex. Blob reads and writes run
// outside it under a per-key lock: a write first reserves its bytes against
// the budget and settles the reservation when the backend returns, so the
// budget holds under concurrency without one slow upload stalling other keys.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/clock/system"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
)

// DefaultMaxBytes is the default global byte budget.
const DefaultMaxBytes int64 = 500 << 20

var (
	// ErrEntryTooLarge is returned when a single entry exceeds the whole budget.
	ErrEntryTooLarge = errors.New("cache entry larger than cache budget")

	// ErrBudgetReserved is returned when the entry would fit only once
	// concurrent writes finish.
	ErrBudgetReserved = errors.New("cache budget reserved by in-flight writes")
)

// Backend persists cached blobs. Implementations must return
// document.ErrNotFound for absent keys.
type Backend interface {
	Get(ctx context.Context, key string) (document.CachedBlob, error)
	Put(ctx context.Context, blob document.CachedBlob) error
	Touch(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]document.BlobMeta, error)
}

// Options tunes a Cache.
type Options struct {
	MaxBytes int64
	Clock    document.Clock
	Logger   *zap.Logger
}

// Cache is an LRU content cache bounded by total payload bytes.
type Cache struct {
	backend  Backend
	maxBytes int64
	clock    document.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	loaded   bool
	index    map[string]document.BlobMeta
	total    int64
	reserved int64

	keysMu sync.Mutex
	keys   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

var _ document.BlobStore = (*Cache)(nil)

// New wraps backend in a Cache.
func New(backend Backend, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("cache backend is required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		backend:  backend,
		maxBytes: opts.MaxBytes,
		clock:    opts.Clock,
		logger:   opts.Logger.Named("cache"),
		index:    make(map[string]document.BlobMeta),
		keys:     make(map[string]*keyLock),
	}, nil
}

// Get returns the entry for key and marks it as recently used.
func (c *Cache) Get(ctx context.Context, key string) (document.CachedBlob, error) {
	unlock := c.lockKey(key)
	defer unlock()

	c.mu.Lock()
	if err := c.loadLocked(ctx); err != nil {
		c.mu.Unlock()
		return document.CachedBlob{}, err
	}
	_, ok := c.index[key]
	c.mu.Unlock()
	if !ok {
		metrics.ObserveCacheLookup(false)
		return document.CachedBlob{}, document.ErrNotFound
	}

	blob, err := c.backend.Get(ctx, key)
	if errors.Is(err, document.ErrNotFound) {
		c.mu.Lock()
		c.forgetLocked(key)
		c.publishUsageLocked()
		c.mu.Unlock()
		metrics.ObserveCacheLookup(false)
		return document.CachedBlob{}, document.ErrNotFound
	}
	if err != nil {
		return document.CachedBlob{}, fmt.Errorf("get %s: %w", key, err)
	}

	now := c.clock.Now().UTC()
	if err := c.backend.Touch(ctx, key, now); err != nil {
		c.logger.Warn("touch cache entry failed", zap.String("key", key), zap.Error(err))
	} else {
		c.mu.Lock()
		if meta, ok := c.index[key]; ok {
			meta.LastAccessedAt = now
			c.index[key] = meta
		}
		c.mu.Unlock()
		blob.LastAccessedAt = now
	}
	metrics.ObserveCacheLookup(true)
	return blob, nil
}

// Put stores blob, evicting least-recently-used entries until it fits. An
// existing entry with the same key is replaced; if the write fails the
// existing entry stays accounted for.
func (c *Cache) Put(ctx context.Context, blob document.CachedBlob) error {
	if strings.TrimSpace(blob.Key) == "" {
		return fmt.Errorf("cache key is required")
	}
	blob.SizeBytes = int64(len(blob.Bytes))
	if blob.SizeBytes > c.maxBytes {
		return fmt.Errorf("put %s (%d bytes): %w", blob.Key, blob.SizeBytes, ErrEntryTooLarge)
	}

	unlock := c.lockKey(blob.Key)
	defer unlock()

	old, hadOld, err := c.reserve(ctx, &blob)
	if err != nil {
		return err
	}
	putErr := c.backend.Put(ctx, blob)
	c.settle(ctx, blob, old, hadOld, putErr)
	if putErr != nil {
		return fmt.Errorf("put %s: %w", blob.Key, putErr)
	}
	return nil
}

// reserve takes the previous entry for the key out of the index, evicts until
// blob fits next to the other in-flight writes and reserves its bytes.
func (c *Cache) reserve(ctx context.Context, blob *document.CachedBlob) (document.BlobMeta, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return document.BlobMeta{}, false, err
	}
	now := c.clock.Now().UTC()
	if blob.FetchedAt.IsZero() {
		blob.FetchedAt = now
	}
	blob.LastAccessedAt = now

	old, hadOld := c.index[blob.Key]
	if hadOld {
		c.total -= old.SizeBytes
		delete(c.index, blob.Key)
	}
	if _, err := c.evictLocked(ctx, blob.SizeBytes); err != nil {
		c.restoreLocked(old, hadOld)
		return document.BlobMeta{}, false, err
	}
	if c.total+c.reserved+blob.SizeBytes > c.maxBytes {
		c.restoreLocked(old, hadOld)
		return document.BlobMeta{}, false, fmt.Errorf("put %s (%d bytes): %w", blob.Key, blob.SizeBytes, ErrBudgetReserved)
	}
	c.reserved += blob.SizeBytes
	return old, hadOld, nil
}

// settle releases the reservation for blob and records the outcome of the
// backend write.
func (c *Cache) settle(ctx context.Context, blob document.CachedBlob, old document.BlobMeta, hadOld bool, putErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reserved -= blob.SizeBytes
	if putErr == nil {
		c.index[blob.Key] = blob.Meta()
		c.total += blob.SizeBytes
		c.publishUsageLocked()
		return
	}
	c.restoreLocked(old, hadOld)
	if _, err := c.evictLocked(ctx, 0); err != nil {
		c.logger.Warn("trim after failed write", zap.String("key", blob.Key), zap.Error(err))
	}
	c.publishUsageLocked()
}

// EvictLRU removes least-recently-used entries until neededBytes more would
// fit in the budget. It returns the number of entries removed.
func (c *Cache) EvictLRU(ctx context.Context, neededBytes int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return 0, err
	}
	n, err := c.evictLocked(ctx, neededBytes)
	c.publishUsageLocked()
	return n, err
}

// Delete removes a single entry. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	unlock := c.lockKey(key)
	defer unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return err
	}
	if err := c.removeLocked(ctx, key); err != nil {
		return err
	}
	c.publishUsageLocked()
	return nil
}

// ClearRow removes every entry belonging to one spreadsheet row.
func (c *Cache) ClearRow(ctx context.Context, sheet string, row int) (int, error) {
	return c.clearMatching(ctx, func(key string) bool {
		return strings.HasPrefix(key, document.RowPrefix(sheet, row))
	})
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	return c.clearMatching(ctx, func(string) bool { return true })
}

func (c *Cache) clearMatching(ctx context.Context, match func(string) bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return 0, err
	}
	removed := 0
	for key := range c.index {
		if !match(key) {
			continue
		}
		if err := c.removeLocked(ctx, key); err != nil {
			c.publishUsageLocked()
			return removed, err
		}
		removed++
	}
	c.publishUsageLocked()
	return removed, nil
}

// Stats reports entry count and byte usage.
func (c *Cache) Stats(ctx context.Context) (document.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return document.CacheStats{}, err
	}
	return document.CacheStats{
		Count:      len(c.index),
		TotalBytes: c.total,
		MaxBytes:   c.maxBytes,
	}, nil
}

// loadLocked builds the index from the backend on first use. Entries that
// already exceed the budget (for example after lowering cache.max_bytes) are
// trimmed immediately.
func (c *Cache) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	metas, err := c.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("list cache entries: %w", err)
	}
	for _, meta := range metas {
		c.index[meta.Key] = meta
		c.total += meta.SizeBytes
	}
	c.loaded = true
	if c.total > c.maxBytes {
		if _, err := c.evictLocked(ctx, 0); err != nil {
			return err
		}
	}
	c.publishUsageLocked()
	return nil
}

func (c *Cache) evictLocked(ctx context.Context, needed int64) (int, error) {
	if c.total+c.reserved+needed <= c.maxBytes || len(c.index) == 0 {
		return 0, nil
	}
	order := make([]document.BlobMeta, 0, len(c.index))
	for _, meta := range c.index {
		order = append(order, meta)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].LastAccessedAt.Equal(order[j].LastAccessedAt) {
			return order[i].Key < order[j].Key
		}
		return order[i].LastAccessedAt.Before(order[j].LastAccessedAt)
	})

	evicted := 0
	for _, meta := range order {
		if c.total+c.reserved+needed <= c.maxBytes {
			break
		}
		if err := c.removeLocked(ctx, meta.Key); err != nil {
			metrics.ObserveCacheEvictions(evicted)
			return evicted, err
		}
		c.logger.Debug("evicted cache entry",
			zap.String("key", meta.Key),
			zap.Int64("size_bytes", meta.SizeBytes),
			zap.Time("last_accessed_at", meta.LastAccessedAt),
		)
		evicted++
	}
	metrics.ObserveCacheEvictions(evicted)
	return evicted, nil
}

func (c *Cache) removeLocked(ctx context.Context, key string) error {
	meta, ok := c.index[key]
	if !ok {
		return nil
	}
	if err := c.backend.Delete(ctx, key); err != nil && !errors.Is(err, document.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	delete(c.index, key)
	c.total -= meta.SizeBytes
	return nil
}

func (c *Cache) restoreLocked(meta document.BlobMeta, ok bool) {
	if !ok {
		return
	}
	c.index[meta.Key] = meta
	c.total += meta.SizeBytes
}

func (c *Cache) forgetLocked(key string) {
	if meta, ok := c.index[key]; ok {
		delete(c.index, key)
		c.total -= meta.SizeBytes
	}
}

func (c *Cache) publishUsageLocked() {
	metrics.SetCacheUsage(len(c.index), c.total)
}

// lockKey serializes backend reads and writes of one key. It must be taken
// before c.mu.
func (c *Cache) lockKey(key string) func() {
	c.keysMu.Lock()
	kl, ok := c.keys[key]
	if !ok {
		kl = &keyLock{}
		c.keys[key] = kl
	}
	kl.refs++
	c.keysMu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		c.keysMu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(c.keys, key)
		}
		c.keysMu.Unlock()
	}
}
