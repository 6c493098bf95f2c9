package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docverify/internal/document"
)

func TestGetReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docverify-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 hello"))
	}))
	defer server.Close()

	f := New(Config{UserAgent: "docverify-test", Headers: http.Header{"X-Trace": {"yes"}}})
	resp, err := f.Get(context.Background(), server.URL+"/a.pdf")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/pdf", resp.ContentType())
	require.Equal(t, "%PDF-1.7 hello", string(resp.Body))
	require.False(t, resp.Truncated)
}

func TestGetReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := New(Config{}).Get(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetMarksTruncatedBodies(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	resp, err := New(Config{MaxBytes: 16}).Get(context.Background(), server.URL)
	require.NoError(t, err)
	require.True(t, resp.Truncated)
	require.Len(t, resp.Body, 16)
}

func TestHeadReportsDeclaredLength(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := New(Config{MaxBytes: 1024}).Head(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, "4096", resp.Headers.Get("Content-Length"))
	require.True(t, resp.Truncated)
	require.Empty(t, resp.Body)
}

func TestGetTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Get(ctx, server.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := New(Config{Timeout: time.Second}).Get(context.Background(), addr)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
}

type countingWaiter struct{ n atomic.Int32 }

func (c *countingWaiter) Wait(context.Context, string) error {
	c.n.Add(1)
	return nil
}

type failingWaiter struct{}

func (failingWaiter) Wait(context.Context, string) error { return errors.New("throttled") }

func TestLimiterConsulted(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	waiter := &countingWaiter{}
	_, err := New(Config{Limiter: waiter}).Get(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, int32(1), waiter.n.Load())

	_, err = New(Config{Limiter: failingWaiter{}}).Get(context.Background(), server.URL)
	require.EqualError(t, err, "throttled")
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}, MaxBytes: 4})
	var result document.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body!"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.True(t, result.Truncated)
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
