package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docverify/internal/classify"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/proxy"
)

// run carries one acquisition through the state machine.
type run struct {
	o     *Orchestrator
	req   document.FetchRequest
	key   string
	seq   uint64
	state State

	directErr error
	handle    *document.DocumentHandle
	failure   *document.FailureRecord
}

func (r *run) step(ctx context.Context) error {
	switch r.state {
	case StateValidating:
		return r.validate()
	case StateCacheCheck:
		return r.cacheCheck(ctx)
	case StateDirectFetch:
		return r.directFetch(ctx)
	case StateProxyFetch:
		return r.proxyFetch(ctx)
	default:
		return fmt.Errorf("unexpected acquisition state %q", r.state)
	}
}

func (r *run) validate() error {
	if problem := classify.ValidateURL(r.req.URL); problem != "" {
		r.fail(classify.Signals{URL: r.req.URL, URLProblem: problem})
		return nil
	}
	r.state = StateCacheCheck
	return nil
}

func (r *run) cacheCheck(ctx context.Context) error {
	r.state = StateDirectFetch
	if r.o.cache == nil {
		return nil
	}
	blob, err := r.o.cache.Get(ctx, r.key)
	if err != nil {
		if stop := interrupted(ctx); stop != nil {
			return stop
		}
		if !errors.Is(err, document.ErrNotFound) {
			r.o.logger.Warn("cache lookup failed, treating as miss", zap.String("key", r.key), zap.Error(err))
		}
		return nil
	}
	r.handle = &document.DocumentHandle{
		Key:         r.key,
		URL:         r.req.URL,
		Bytes:       blob.Bytes,
		ContentType: blob.ContentType,
		SizeBytes:   blob.SizeBytes,
		Source:      document.SourceCache,
		IsCached:    true,
		FetchedAt:   blob.FetchedAt,
	}
	r.state = StateDone
	return nil
}

func (r *run) directFetch(ctx context.Context) error {
	timeout := r.req.Timeout
	if timeout <= 0 {
		timeout = r.o.cfg.Timeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.o.direct.Get(fetchCtx, r.req.URL)
	if err != nil {
		if stop := interrupted(ctx); stop != nil {
			return stop
		}
		if isTimeout(fetchCtx, err) {
			r.fail(classify.Signals{
				URL:     r.req.URL,
				Code:    classify.CodeTimeout,
				Message: fmt.Sprintf("no response within %s", timeout),
			})
			return nil
		}
		r.directErr = err
		r.state = StateProxyFetch
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.fail(classify.Signals{
			URL:         r.req.URL,
			HTTPStatus:  resp.StatusCode,
			ContentType: resp.ContentType(),
			SizeBytes:   responseSize(resp),
		})
		return nil
	}
	return r.accept(ctx, resp, document.SourceDirect, r.o.cfg.MaxBytes)
}

func (r *run) proxyFetch(ctx context.Context) error {
	host := hostname(r.req.URL)
	if r.o.proxy == nil || r.o.allow == nil || !r.o.allow.AllowsHost(host) {
		code := classify.CodeCORS
		msg := "direct fetch failed and no proxy is configured"
		if r.o.proxy != nil {
			code = classify.CodeHostNotAllowed
			msg = fmt.Sprintf("direct fetch failed and host %q is not on the proxy allow-list", host)
		}
		if r.directErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, r.directErr)
		}
		r.fail(classify.Signals{URL: r.req.URL, Code: code, Message: msg})
		// The probe size is diagnostic only and must not turn the record into file_too_large.
		r.failure.SizeBytes = r.probeSize(ctx)
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.o.cfg.ProxyTimeout)
	defer cancel()

	resp, err := r.o.proxy.Fetch(fetchCtx, r.req.URL)
	if err != nil {
		if stop := interrupted(ctx); stop != nil {
			return stop
		}
		var perr *proxy.Error
		if errors.As(err, &perr) {
			r.fail(perr.Signals(r.req.URL, r.o.cfg.ProxyMaxBytes))
			return nil
		}
		code := classify.CodeProxyFailed
		if isTimeout(fetchCtx, err) {
			code = classify.CodeTimeout
		}
		r.fail(classify.Signals{URL: r.req.URL, Code: code, Message: err.Error()})
		return nil
	}
	return r.accept(ctx, resp, document.SourceProxy, r.o.cfg.ProxyMaxBytes)
}

// accept checks a 2xx response, writes it to the cache and finishes the run.
func (r *run) accept(ctx context.Context, resp document.Response, source document.Source, maxBytes int64) error {
	size := responseSize(resp)
	if resp.Truncated || size > maxBytes {
		r.fail(classify.Signals{URL: r.req.URL, SizeBytes: resp.OversizeBytes(maxBytes), MaxBytes: maxBytes})
		return nil
	}
	if !looksLikeDocument(r.req.URL, resp) {
		r.fail(classify.Signals{
			URL:              r.req.URL,
			ContentType:      resp.ContentType(),
			SignatureInvalid: true,
		})
		return nil
	}

	now := r.o.clock.Now().UTC()
	contentType := resp.ContentType()
	if contentType == "" {
		contentType = "application/pdf"
	}
	blob := document.CachedBlob{
		Key:            r.key,
		Bytes:          resp.Body,
		SourceURL:      r.req.URL,
		SizeBytes:      int64(len(resp.Body)),
		ContentType:    contentType,
		FetchedAt:      now,
		LastAccessedAt: now,
	}
	err := r.o.commit(r.key, r.seq, func() error {
		if r.o.cache == nil {
			return nil
		}
		if err := r.o.cache.Put(ctx, blob); err != nil {
			r.o.logger.Warn("cache write failed, document not cached", zap.String("key", r.key), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.handle = &document.DocumentHandle{
		Key:         r.key,
		URL:         r.req.URL,
		Bytes:       resp.Body,
		ContentType: contentType,
		SizeBytes:   blob.SizeBytes,
		Source:      source,
		IsCached:    false,
		FetchedAt:   now,
	}
	r.state = StateDone
	return nil
}

func (r *run) fail(s classify.Signals) {
	rec := r.o.classifier.Classify(s)
	r.failure = &rec
	r.state = StateFailed
}

// probeSize issues a best-effort HEAD request and returns the declared size,
// or zero when it is unknown.
func (r *run) probeSize(ctx context.Context) int64 {
	probeCtx, cancel := context.WithTimeout(ctx, r.o.cfg.ProbeTimeout)
	defer cancel()
	resp, err := r.o.direct.Head(probeCtx, r.req.URL)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// interrupted returns the error to surface when ctx has ended: ErrSuperseded
// if a newer request cancelled it, otherwise the caller's context error.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		return ErrSuperseded
	}
	return ctx.Err()
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// looksLikeDocument accepts a body carrying the PDF signature, or a declared
// document content type or .pdf path whose body is not markup.
func looksLikeDocument(rawURL string, resp document.Response) bool {
	if document.HasPDFSignature(resp.Body) {
		return true
	}
	head := resp.Body
	if len(head) > document.SignatureWindow {
		head = head[:document.SignatureWindow]
	}
	if len(resp.Body) == 0 || isMarkup(head) {
		return false
	}
	return classify.IsDocumentContentType(resp.ContentType()) || hasPDFExtension(rawURL)
}

func isMarkup(head []byte) bool {
	trimmed := bytes.TrimLeft(head, " \t\r\n\ufeff")
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func hasPDFExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func responseSize(resp document.Response) int64 {
	if n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64); err == nil && n > int64(len(resp.Body)) {
		return n
	}
	return int64(len(resp.Body))
}

func hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
