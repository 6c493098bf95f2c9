package allowlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListMatching(t *testing.T) {
	t.Parallel()

	l := New([]string{" Docs.Example.com ", "*.gov.example", ".files.example.net", "", "*."})
	require.Equal(t, 3, l.Len())

	cases := map[string]bool{
		"docs.example.com":      true,
		"DOCS.EXAMPLE.COM.":     true,
		"www.docs.example.com":  false,
		"gov.example":           true,
		"city.gov.example":      true,
		"notgov.example":        false,
		"a.b.files.example.net": true,
		"files.example.net":     true,
		"evilfiles.example.net": false,
		"":                      false,
	}
	for host, want := range cases {
		require.Equal(t, want, l.AllowsHost(host), host)
	}
}

func TestListAllowsURL(t *testing.T) {
	t.Parallel()

	l := New([]string{"example.com"})
	require.True(t, l.AllowsURL("https://example.com:8443/a.pdf"))
	require.False(t, l.AllowsURL("https://example.org/a.pdf"))
	require.False(t, l.AllowsURL("://bad"))
}

func TestEmptyListAllowsNothing(t *testing.T) {
	t.Parallel()

	l := New([]string{"  "})
	require.Nil(t, l)
	require.False(t, l.AllowsHost("example.com"))
	require.Zero(t, l.Len())
}
