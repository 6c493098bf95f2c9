// Package acquire implements the fetch orchestrator: validate the URL, try
// the content cache, fetch directly and fall back to the proxy intermediary.
//
// Each acquisition runs as a small state machine:
//
//	validating -> cache_check -> direct_fetch -> proxy_fetch -> done | failed
//
// Document failures are returned as FailureRecords inside the Outcome. A Go
// error only means the caller gave up or a newer request for the same key
// superseded this one.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/clock/system"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxBytes      = int64(100 << 20)
	DefaultProxyMaxBytes = int64(10 << 20)
	defaultProbeTimeout  = 5 * time.Second
)

// ErrSuperseded is returned when a newer request for the same cache key
// cancelled this one.
var ErrSuperseded = errors.New("acquisition superseded by a newer request")

// State names a step of the acquisition state machine.
type State string

// Acquisition states.
const (
	StateValidating  State = "validating"
	StateCacheCheck  State = "cache_check"
	StateDirectFetch State = "direct_fetch"
	StateProxyFetch  State = "proxy_fetch"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// ProxyClient fetches a target through the intermediary. Failures reported
// by the intermediary are *proxy.Error values.
type ProxyClient interface {
	Fetch(ctx context.Context, target string) (document.Response, error)
}

// HostPolicy reports whether the proxy may be used for a host.
type HostPolicy interface {
	AllowsHost(host string) bool
}

// Config tunes the orchestrator.
type Config struct {
	// Timeout bounds the direct attempt when the request carries none.
	Timeout time.Duration

	// ProxyTimeout bounds the proxy attempt. It is independent of Timeout.
	ProxyTimeout time.Duration

	MaxBytes      int64
	ProxyMaxBytes int64
	ProbeTimeout  time.Duration
}

// Deps are the collaborators of an Orchestrator. Proxy and Allow may be nil,
// in which case every cross-origin failure is terminal.
type Deps struct {
	Cache      document.BlobStore
	Direct     document.Fetcher
	Proxy      ProxyClient
	Allow      HostPolicy
	Classifier *classify.Classifier
	Clock      document.Clock
	Logger     *zap.Logger
}

// Orchestrator acquires documents. It is safe for concurrent use.
type Orchestrator struct {
	cache      document.BlobStore
	direct     document.Fetcher
	proxy      ProxyClient
	allow      HostPolicy
	classifier *classify.Classifier
	clock      document.Clock
	cfg        Config
	logger     *zap.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*generation
}

type generation struct {
	seq    uint64
	cancel context.CancelCauseFunc

	// committing is non-nil while the generation writes to the cache and is
	// closed when the write returns.
	committing chan struct{}
}

// New builds an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Direct == nil {
		return nil, fmt.Errorf("direct fetcher is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.ProxyMaxBytes <= 0 {
		cfg.ProxyMaxBytes = DefaultProxyMaxBytes
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(deps.Clock, nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cache:      deps.Cache,
		direct:     deps.Direct,
		proxy:      deps.Proxy,
		allow:      deps.Allow,
		classifier: deps.Classifier,
		clock:      deps.Clock,
		cfg:        cfg,
		logger:     deps.Logger.Named("acquire"),
		inflight:   make(map[string]*generation),
	}, nil
}

// Acquire resolves req to a DocumentHandle or a FailureRecord. Starting a
// second acquisition for the same key cancels the first, which then returns
// ErrSuperseded and never writes to the cache.
func (o *Orchestrator) Acquire(ctx context.Context, req document.FetchRequest) (document.Outcome, error) {
	key := req.Key.String()
	runCtx, seq := o.begin(ctx, key)
	defer o.finish(key, seq)

	r := &run{o: o, req: req, key: key, seq: seq, state: StateValidating}
	for r.state != StateDone && r.state != StateFailed {
		from := r.state
		if err := r.step(runCtx); err != nil {
			if errors.Is(err, ErrSuperseded) {
				metrics.ObserveSuperseded()
				o.logger.Debug("acquisition superseded", zap.String("key", key), zap.String("state", string(from)))
			}
			return document.Outcome{}, err
		}
		o.logger.Debug("acquisition transition",
			zap.String("key", key),
			zap.String("from", string(from)),
			zap.String("to", string(r.state)),
		)
	}

	if r.state == StateFailed {
		metrics.ObserveAcquisition("", false)
		metrics.ObserveFailure(string(r.failure.Category))
		return document.Outcome{Failure: r.failure}, nil
	}
	metrics.ObserveAcquisition(string(r.handle.Source), true)
	return document.Outcome{Handle: r.handle}, nil
}

// begin registers a new generation for key and cancels the previous one. A
// previous generation that is already writing to the cache finishes its write
// first, so a stale blob can never land after a newer one.
func (o *Orchestrator) begin(ctx context.Context, key string) (context.Context, uint64) {
	runCtx, cancel := context.WithCancelCause(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		prev, ok := o.inflight[key]
		if !ok || prev.committing == nil {
			break
		}
		wait := prev.committing
		o.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		o.mu.Lock()
		if ctx.Err() != nil {
			break
		}
	}
	o.seq++
	if prev, ok := o.inflight[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	o.inflight[key] = &generation{seq: o.seq, cancel: cancel}
	return runCtx, o.seq
}

func (o *Orchestrator) finish(key string, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen, ok := o.inflight[key]; ok && gen.seq == seq {
		gen.cancel(context.Canceled)
		delete(o.inflight, key)
	}
}

// commit runs write only while seq is still the newest generation for key.
// The generation check holds o.mu; the write itself does not, so a slow cache
// backend only delays newer requests for the same key.
func (o *Orchestrator) commit(key string, seq uint64, write func() error) error {
	o.mu.Lock()
	gen, ok := o.inflight[key]
	if !ok || gen.seq != seq {
		o.mu.Unlock()
		return ErrSuperseded
	}
	done := make(chan struct{})
	gen.committing = done
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		gen.committing = nil
		o.mu.Unlock()
		close(done)
	}()
	return write()
}

// InFlight returns the number of acquisitions currently running.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}
