package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docverify/internal/document"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

func TestClassifyPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		signals    Signals
		category   document.Category
		confidence document.Confidence
	}{
		{
			name:       "url problem beats status",
			signals:    Signals{URLProblem: document.CategoryHiddenChars, HTTPStatus: 404},
			category:   document.CategoryHiddenChars,
			confidence: document.ConfidenceHigh,
		},
		{
			name:       "status beats message",
			signals:    Signals{HTTPStatus: 404, Message: "timeout"},
			category:   document.CategoryNotFound,
			confidence: document.ConfidenceHigh,
		},
		{name: "401", signals: Signals{HTTPStatus: 401}, category: document.CategoryUnauthorized, confidence: document.ConfidenceHigh},
		{name: "403", signals: Signals{HTTPStatus: 403}, category: document.CategoryForbidden, confidence: document.ConfidenceHigh},
		{name: "429", signals: Signals{HTTPStatus: 429}, category: document.CategoryRateLimited, confidence: document.ConfidenceHigh},
		{name: "503", signals: Signals{HTTPStatus: 503}, category: document.CategoryServerError, confidence: document.ConfidenceHigh},
		{name: "410", signals: Signals{HTTPStatus: 410}, category: document.CategoryHTTPOther, confidence: document.ConfidenceMedium},
		{
			name:       "2xx status falls through to content type",
			signals:    Signals{HTTPStatus: 200, ContentType: "text/html; charset=utf-8"},
			category:   document.CategoryNotPDF,
			confidence: document.ConfidenceMedium,
		},
		{
			name:       "size beats content type",
			signals:    Signals{SizeBytes: 11 << 20, ContentType: "text/html"},
			category:   document.CategoryFileTooLarge,
			confidence: document.ConfidenceHigh,
		},
		{
			name:       "custom ceiling",
			signals:    Signals{SizeBytes: 2048, MaxBytes: 1024},
			category:   document.CategoryFileTooLarge,
			confidence: document.ConfidenceHigh,
		},
		{
			name:       "pdf content type with bad signature",
			signals:    Signals{ContentType: "application/pdf", SignatureInvalid: true},
			category:   document.CategoryNotPDF,
			confidence: document.ConfidenceHigh,
		},
		{name: "timeout code", signals: Signals{Code: CodeTimeout}, category: document.CategoryTimeout, confidence: document.ConfidenceHigh},
		{name: "network code", signals: Signals{Code: CodeNetwork}, category: document.CategoryNetworkError, confidence: document.ConfidenceMedium},
		{name: "proxy failed code", signals: Signals{Code: CodeProxyFailed}, category: document.CategoryCORSBlocked, confidence: document.ConfidenceMedium},
		{
			name:       "code beats message",
			signals:    Signals{Code: CodeParse, Message: "network down"},
			category:   document.CategoryParseError,
			confidence: document.ConfidenceHigh,
		},
		{name: "message timed out", signals: Signals{Message: "request Timed Out"}, category: document.CategoryTimeout, confidence: document.ConfidenceMedium},
		{name: "message cors", signals: Signals{Message: "blocked by CORS policy"}, category: document.CategoryCORSBlocked, confidence: document.ConfidenceMedium},
		{name: "message fetch failed", signals: Signals{Message: "TypeError: fetch failed"}, category: document.CategoryNetworkError, confidence: document.ConfidenceMedium},
		{name: "message corrupted", signals: Signals{Message: "file is corrupted"}, category: document.CategoryParseError, confidence: document.ConfidenceMedium},
		{name: "fallback", signals: Signals{Message: "something odd"}, category: document.CategoryUnknown, confidence: document.ConfidenceLow},
		{name: "empty", signals: Signals{}, category: document.CategoryUnknown, confidence: document.ConfidenceLow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := Classify(tc.signals)
			require.Equal(t, tc.category, rec.Category)
			require.Equal(t, tc.category, rec.DetectedCategory)
			require.Equal(t, tc.confidence, rec.Confidence)
			require.True(t, rec.Category.Valid())
			require.NotEmpty(t, rec.Message)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	s := Signals{URL: "https://example.com/a.pdf", HTTPStatus: 500, Message: "boom"}
	require.Equal(t, Classify(s), Classify(s))
}

func TestClassifierStampsRecord(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(fixedClock{t: at}, staticIDs{id: "rec-1"})
	rec := c.Classify(Signals{HTTPStatus: 404, URL: "https://example.com/x.pdf"})
	require.Equal(t, "rec-1", rec.ID)
	require.Equal(t, at, rec.DetectedAt)
	require.Equal(t, "https://example.com/x.pdf", rec.URL)
	require.Equal(t, 404, rec.HTTPStatus)
}

func TestIsDocumentContentType(t *testing.T) {
	t.Parallel()

	require.True(t, IsDocumentContentType("application/pdf"))
	require.True(t, IsDocumentContentType("Application/PDF; charset=binary"))
	require.True(t, IsDocumentContentType("application/octet-stream"))
	require.False(t, IsDocumentContentType("text/html"))
	require.False(t, IsDocumentContentType(""))
}

func TestLabelAndGuidanceCoverEveryCategory(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, c := range document.Categories {
		require.NotEmpty(t, Label(c), c)
		require.NotEmpty(t, Guidance(c), c)
		require.False(t, seen[Label(c)], "duplicate label %q", Label(c))
		seen[Label(c)] = true
	}
	require.Equal(t, Label(document.CategoryUnknown), Label("nonsense"))
}
