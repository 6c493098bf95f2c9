package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
)

// DefaultMaxBytes is the intermediary's default byte ceiling.
const DefaultMaxBytes int64 = 10 << 20

// HostPolicy decides which hosts the intermediary may contact.
type HostPolicy interface {
	AllowsHost(host string) bool
}

// HandlerConfig tunes the intermediary.
type HandlerConfig struct {
	MaxBytes int64
	Timeout  time.Duration
}

// Handler serves GET ?url=<target> by fetching target on the server side.
type Handler struct {
	policy   HostPolicy
	fetcher  document.Fetcher
	maxBytes int64
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHandler builds the intermediary. fetcher should enforce the same byte
// ceiling as cfg.MaxBytes so oversized bodies are never fully buffered.
func NewHandler(policy HostPolicy, fetcher document.Fetcher, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		policy:   policy,
		fetcher:  fetcher,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
		logger:   logger.Named("proxy"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if problem := classify.ValidateURL(target); problem != "" {
		h.fail(w, http.StatusBadRequest, &Error{Code: CodeInvalidURL, Message: fmt.Sprintf("target url rejected: %s", problem)})
		return
	}
	host := hostname(target)
	if h.policy == nil || !h.policy.AllowsHost(host) {
		h.fail(w, http.StatusForbidden, &Error{Code: CodeHostNotAllowed, Message: fmt.Sprintf("host %q is not on the allow-list", host)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.fetcher.Get(ctx, target)
	if err != nil {
		if isTimeout(ctx, err) {
			h.fail(w, http.StatusGatewayTimeout, &Error{Code: CodeTimeout, Message: "upstream did not respond in time"})
			return
		}
		h.logger.Debug("upstream fetch failed", zap.String("url", target), zap.Error(err))
		h.fail(w, http.StatusBadGateway, &Error{Code: CodeNetwork, Message: err.Error()})
		return
	}

	size := declaredSize(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.fail(w, http.StatusBadGateway, &Error{
			Code:    CodeUpstreamStatus,
			Status:  resp.StatusCode,
			Size:    size,
			Message: fmt.Sprintf("upstream responded with HTTP %d", resp.StatusCode),
		})
		return
	}
	if resp.Truncated || size > h.maxBytes {
		size = resp.OversizeBytes(h.maxBytes)
		h.fail(w, http.StatusRequestEntityTooLarge, &Error{
			Code:    CodeFileTooLarge,
			Status:  resp.StatusCode,
			Size:    size,
			Message: document.SizeLimitMessage(size, h.maxBytes),
		})
		return
	}

	contentType := resp.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.Header().Set(SourceURLHeader, target)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Warn("write proxy response failed", zap.Error(err))
	}
	metrics.ObserveProxyRequest("ok")
}

func (h *Handler) fail(w http.ResponseWriter, status int, e *Error) {
	metrics.ObserveProxyRequest(e.Code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		h.logger.Warn("encode proxy error failed", zap.Error(err))
	}
}

// declaredSize prefers the upstream Content-Length and falls back to the
// received body length.
func declaredSize(resp document.Response) int64 {
	if n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64); err == nil && n >= 0 {
		return n
	}
	return int64(len(resp.Body))
}

func hostname(rawURL string) string {
	u, err := parseURL(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
