package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
)

// BreakerConfig tunes the circuit breaker guarding the intermediary.
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
	HalfOpenMax  uint32        `mapstructure:"half_open_max"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint string
	Breaker  BreakerConfig
}

// Client fetches documents through the intermediary. Repeated transport
// failures open the breaker, after which calls fail fast as proxy_failed.
type Client struct {
	endpoint *url.URL
	fetcher  document.Fetcher
	breaker  *gobreaker.CircuitBreaker[document.Response]
	logger   *zap.Logger
}

// NewClient builds a Client for cfg.Endpoint. fetcher performs the HTTP
// call to the intermediary and should carry the proxy-stage timeout.
func NewClient(cfg ClientConfig, fetcher document.Fetcher, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("proxy.endpoint is required")
	}
	endpoint, err := parseURL(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse proxy endpoint: %w", err)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("proxy fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint: endpoint,
		fetcher:  fetcher,
		logger:   logger.Named("proxy_client"),
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, c.logger)
	}
	return c, nil
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[document.Response] {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = 1
	}
	settings := gobreaker.Settings{
		Name:        "proxy",
		MaxRequests: cfg.HalfOpenMax,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// Structured errors and caller cancellation say nothing about the
		// intermediary's health.
		IsSuccessful: func(err error) bool {
			var perr *Error
			if errors.As(err, &perr) {
				return perr.Code != CodeProxyFailed
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, int(to))
		},
	}
	return gobreaker.NewCircuitBreaker[document.Response](settings)
}

// Fetch retrieves target through the intermediary. Failures are returned as
// *Error unless ctx itself was cancelled.
func (c *Client) Fetch(ctx context.Context, target string) (document.Response, error) {
	call := func() (document.Response, error) {
		return c.fetch(ctx, target)
	}
	var (
		resp document.Response
		err  error
	)
	if c.breaker != nil {
		resp, err = c.breaker.Execute(call)
	} else {
		resp, err = call()
	}
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return document.Response{}, &Error{Code: CodeProxyFailed, Message: "proxy circuit breaker is open"}
	}
	var perr *Error
	if errors.As(err, &perr) {
		return resp, perr
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return document.Response{}, ctx.Err()
	}
	if isTimeout(ctx, err) {
		return document.Response{}, &Error{Code: CodeTimeout, Message: "proxy did not respond in time"}
	}
	return document.Response{}, &Error{Code: CodeProxyFailed, Message: err.Error()}
}

func (c *Client) fetch(ctx context.Context, target string) (document.Response, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("url", target)
	u.RawQuery = q.Encode()

	resp, err := c.fetcher.Get(ctx, u.String())
	if err != nil {
		return document.Response{}, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, nil
	}
	return resp, parseError(resp.StatusCode, resp.Body)
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	return u, nil
}
