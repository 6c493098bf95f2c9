package document

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by blob stores when a key is absent.
var ErrNotFound = errors.New("document not found")

// BlobStore is the content cache capability used by the orchestrator.
type BlobStore interface {
	Get(ctx context.Context, key string) (CachedBlob, error)
	Put(ctx context.Context, blob CachedBlob) error
	Delete(ctx context.Context, key string) error
	EvictLRU(ctx context.Context, neededBytes int64) (int, error)
	Stats(ctx context.Context) (CacheStats, error)
}

// Fetcher retrieves a URL and returns the body plus metadata.
type Fetcher interface {
	Get(ctx context.Context, url string) (Response, error)
	Head(ctx context.Context, url string) (Response, error)
}

// Publisher pushes outcome events to the annotation layer.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TextExtractor reads the text layer of a loaded document.
type TextExtractor interface {
	Extract(ctx context.Context, handle DocumentHandle) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
