// Package allowlist decides which hosts may be fetched through the proxy.
package allowlist

import (
	"net/url"
	"strings"
)

// List stores exact hosts and suffix wildcards. Patterns of the form
// "*.example.com" or ".example.com" match example.com and any subdomain.
// A nil List allows nothing.
type List struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a List from configured patterns. It returns nil when no usable
// pattern is given.
func New(patterns []string) *List {
	l := &List{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			l.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			l.addSuffix(strings.TrimPrefix(value, "."))
		default:
			l.exact[value] = struct{}{}
		}
	}
	if len(l.exact) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

func (l *List) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

// AllowsHost reports whether host matches a pattern.
func (l *List) AllowsHost(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AllowsURL reports whether the host of rawURL matches a pattern.
func (l *List) AllowsURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return l.AllowsHost(u.Hostname())
}

// Len returns the number of configured patterns.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.exact) + len(l.suffixes)
}
