// Package collyfetcher implements document.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 100 << 20
)

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	// Stage labels metrics, for example "direct" or "proxy".
	Stage string

	UserAgent string
	Timeout   time.Duration

	// MaxBytes caps the body kept in memory. Larger bodies are cut and
	// reported with Response.Truncated.
	MaxBytes int64

	Headers   http.Header
	Limiter   Waiter
	Transport http.RoundTripper
}

// Fetcher issues one-shot GET and HEAD requests through a fresh collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

var _ document.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Stage == "" {
		cfg.Stage = "direct"
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	return &Fetcher{cfg: cfg, transport: transport}
}

// Get downloads rawURL.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (document.Response, error) {
	return f.do(ctx, http.MethodGet, rawURL)
}

// Head probes rawURL without a body.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (document.Response, error) {
	return f.do(ctx, http.MethodHead, rawURL)
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (document.Response, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
			return document.Response{}, err
		}
	}
	var (
		result   document.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	visit := collector.Visit
	if method == http.MethodHead {
		visit = collector.Head
	}
	if err := runCollector(ctx, visit, rawURL, &fetchErr); err != nil {
		return document.Response{}, err
	}
	metrics.ObserveFetch(f.cfg.Stage, rawURL, len(result.Body), result.Duration)
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(int(f.cfg.MaxBytes) + 1),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(&contextTransport{ctx: ctx, base: f.transport})
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *document.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		body := r.Body
		truncated := false
		if int64(len(body)) > f.cfg.MaxBytes {
			body = body[:f.cfg.MaxBytes]
			truncated = true
		}
		if declared, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64); err == nil && declared > f.cfg.MaxBytes {
			truncated = true
		}
		*result = document.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), body...),
			Duration:   time.Since(start),
			Truncated:  truncated,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, visit func(string) error, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// contextTransport binds every outgoing request to the caller's context so
// cancellation aborts the in-flight connection, not just the wait.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
