package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveAcquisition(t *testing.T) {
	before := testutil.ToFloat64(acquisitionsTotal.WithLabelValues("none", "failed"))
	ObserveAcquisition("", false)
	require.Equal(t, before+1, testutil.ToFloat64(acquisitionsTotal.WithLabelValues("none", "failed")))

	before = testutil.ToFloat64(acquisitionsTotal.WithLabelValues("proxy", "ok"))
	ObserveAcquisition("proxy", true)
	require.Equal(t, before+1, testutil.ToFloat64(acquisitionsTotal.WithLabelValues("proxy", "ok")))
}

func TestCacheCollectors(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup(true)
	require.Equal(t, hits+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")))

	evictions := testutil.ToFloat64(cacheEvictionsTotal)
	ObserveCacheEvictions(0)
	ObserveCacheEvictions(3)
	require.Equal(t, evictions+3, testutil.ToFloat64(cacheEvictionsTotal))

	SetCacheUsage(2, 2048)
	require.Equal(t, float64(2), testutil.ToFloat64(cacheEntries))
	require.Equal(t, float64(2048), testutil.ToFloat64(cacheBytes))
}

func TestObserveFetchCountsBytesPerSite(t *testing.T) {
	before := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("docs.example.org"))
	ObserveFetch("direct", "https://docs.example.org/a.pdf", 100, time.Second)
	ObserveFetch("direct", "https://docs.example.org/b.pdf", 0, time.Second)
	require.Equal(t, before+100, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("docs.example.org")))
	require.Positive(t, testutil.CollectAndCount(fetchDurationSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
