package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docverify/internal/acquire"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/publisher/memory"
)

type fakeAcquirer struct {
	mu   sync.Mutex
	fn   func(req document.FetchRequest) (document.Outcome, error)
	reqs []document.FetchRequest
}

func (f *fakeAcquirer) Acquire(_ context.Context, req document.FetchRequest) (document.Outcome, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

type fakeExtractor struct {
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(context.Context, document.DocumentHandle) (string, error) {
	f.calls.Add(1)
	return f.text, f.err
}

func okOutcome(req document.FetchRequest) (document.Outcome, error) {
	return document.Outcome{Handle: &document.DocumentHandle{
		Key:         req.Key.String(),
		URL:         req.URL,
		Bytes:       []byte("%PDF-1.7"),
		ContentType: "application/pdf",
		SizeBytes:   8,
		Source:      document.SourceDirect,
	}}, nil
}

var contractText = strings.Repeat("This services agreement is made between the parties listed. ", 5) +
	"Vendor: ACME Corp. Contract number C-2024-001."

func newService(t *testing.T, acq Acquirer, ext document.TextExtractor, pub document.Publisher) *Service {
	t.Helper()
	s, err := New(Deps{Acquirer: acq, Extractor: ext, Publisher: pub})
	require.NoError(t, err)
	return s
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{Extractor: &fakeExtractor{}})
	require.Error(t, err)
	_, err = New(Deps{Acquirer: &fakeAcquirer{}})
	require.Error(t, err)
}

func TestVerifyProducesVerdict(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{fn: okOutcome}
	ext := &fakeExtractor{text: contractText}
	pub := memory.New()
	s := newService(t, acq, ext, pub)

	res, err := s.Verify(context.Background(), Request{
		Sheet:  "Contracts",
		Row:    4,
		URL:    "https://example.com/c.pdf",
		Fields: map[string]string{"vendor": "ACME Corp", "contract": "C-2024-001", "blank": ""},
	})
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	require.NotNil(t, res.Verdict)
	require.Equal(t, document.DecisionMatchable, res.Verdict.Decision)
	require.Equal(t, 2, res.Verdict.MatchedFieldCount)
	require.Equal(t, "direct", res.Verdict.Source)
	require.Len(t, res.Eligible, 2)

	require.Len(t, acq.reqs, 1)
	require.Equal(t, document.NewCacheKey("Contracts", 4, "https://example.com/c.pdf"), acq.reqs[0].Key)

	require.Len(t, pub.Topic(EventAcquired), 1)
	verdicts := pub.Topic(EventVerdict)
	require.Len(t, verdicts, 1)
	ev := verdicts[0].(Event)
	require.Equal(t, res.Key, ev.Key)
	require.False(t, ev.At.IsZero())
}

func TestVerifyAcquisitionFailure(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{fn: func(document.FetchRequest) (document.Outcome, error) {
		return document.Outcome{Failure: &document.FailureRecord{Category: document.CategoryNotFound}}, nil
	}}
	ext := &fakeExtractor{}
	pub := memory.New()
	s := newService(t, acq, ext, pub)

	res, err := s.Verify(context.Background(), Request{Sheet: "S", Row: 1, URL: "https://example.com/x.pdf", Fields: map[string]string{"a": "long value"}})
	require.NoError(t, err)
	require.Equal(t, document.CategoryNotFound, res.Failure.Category)
	require.Nil(t, res.Verdict)
	require.Zero(t, ext.calls.Load())
	require.Len(t, pub.Topic(EventFailed), 1)
}

func TestVerifySkipsReadabilityWithoutEligibleFields(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{text: contractText}
	s := newService(t, &fakeAcquirer{fn: okOutcome}, ext, nil)

	res, err := s.Verify(context.Background(), Request{Sheet: "S", Row: 1, URL: "https://example.com/x.pdf"})
	require.NoError(t, err)
	require.NotNil(t, res.Handle)
	require.Nil(t, res.Verdict)
	require.Zero(t, ext.calls.Load())
}

func TestVerifyExtractionErrorIsParseFailure(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{err: errors.New("malformed xref table")}
	pub := memory.New()
	s := newService(t, &fakeAcquirer{fn: okOutcome}, ext, pub)

	res, err := s.Verify(context.Background(), Request{Sheet: "S", Row: 1, URL: "https://example.com/x.pdf", Fields: map[string]string{"a": "long value"}})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	require.Equal(t, document.CategoryParseError, res.Failure.Category)
	require.Equal(t, int64(8), res.Failure.SizeBytes)
	require.Nil(t, res.Verdict)
	require.Len(t, pub.Topic(EventFailed), 1)
}

func TestVerifyExtractionErrorUsesSniffedType(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		body     string
		category document.Category
	}{
		"signed body labelled as html": {body: "%PDF-1.4\n1 0 obj", category: document.CategoryParseError},
		"html body labelled as html":   {body: "<html><body>login</body></html>", category: document.CategoryNotPDF},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			acq := &fakeAcquirer{fn: func(req document.FetchRequest) (document.Outcome, error) {
				out, err := okOutcome(req)
				out.Handle.Bytes = []byte(tc.body)
				out.Handle.ContentType = "text/html; charset=utf-8"
				return out, err
			}}
			s := newService(t, acq, &fakeExtractor{err: errors.New("unreadable")}, nil)

			res, err := s.Verify(context.Background(), Request{Sheet: "S", Row: 1, URL: "https://example.com/x", Fields: map[string]string{"a": "long value"}})
			require.NoError(t, err)
			require.NotNil(t, res.Failure)
			require.Equal(t, tc.category, res.Failure.Category)
			require.Equal(t, "text/html; charset=utf-8", res.Failure.ContentType)
		})
	}
}

func TestVerifyPropagatesSupersede(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{fn: func(document.FetchRequest) (document.Outcome, error) {
		return document.Outcome{}, acquire.ErrSuperseded
	}}
	pub := memory.New()
	s := newService(t, acq, &fakeExtractor{}, pub)

	_, err := s.Verify(context.Background(), Request{Sheet: "S", Row: 1, URL: "https://example.com/x.pdf"})
	require.ErrorIs(t, err, acquire.ErrSuperseded)
	require.Empty(t, pub.Messages())
}

func TestBatchBoundsConcurrencyAndKeepsOrder(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	acq := &fakeAcquirer{fn: func(req document.FetchRequest) (document.Outcome, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if strings.HasSuffix(req.URL, "bad.pdf") {
			return document.Outcome{Failure: &document.FailureRecord{Category: document.CategoryTimeout}}, nil
		}
		return okOutcome(req)
	}}
	s := newService(t, acq, &fakeExtractor{text: contractText}, nil)

	reqs := make([]Request, 0, 10)
	for i := 0; i < 10; i++ {
		u := "https://example.com/ok.pdf"
		if i%5 == 0 {
			u = "https://example.com/bad.pdf"
		}
		reqs = append(reqs, Request{Sheet: "S", Row: i, URL: u, Fields: map[string]string{"vendor": "ACME Corp"}})
	}

	results, err := s.Batch(context.Background(), reqs, 3)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		require.Equal(t, i, r.Request.Row)
		require.Equal(t, i, r.Result.Row)
	}
	require.LessOrEqual(t, peak.Load(), int32(3))

	sum := Summarize(results)
	require.Equal(t, 10, sum.Total)
	require.Equal(t, 2, sum.Failed)
	require.Equal(t, 8, sum.Acquired)
	require.Equal(t, 2, sum.Categories["timeout"])
	require.Equal(t, 8, sum.Decisions["matchable"])
}

func TestBatchStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newService(t, &fakeAcquirer{fn: okOutcome}, &fakeExtractor{}, nil)

	results, err := s.Batch(ctx, []Request{{Sheet: "S", Row: 1, URL: "https://example.com/a.pdf"}}, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, results[0].Err, context.Canceled)
	require.Equal(t, 1, Summarize(results).Interrupted)
}
