package classify

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/JakeFAU/docverify/internal/document"
)

// invisibleSpaces are space separators that survive copy and paste but
// break URLs. Zero-width and bidi marks are caught as unicode.Cf.
var invisibleSpaces = map[rune]struct{}{
	'\u00a0': {},
	'\u2007': {},
	'\u202f': {},
	'\u3000': {},
}

// ValidateURL checks that raw is an absolute http(s) URL with no hidden or
// control characters. It returns the zero category when the URL is usable,
// otherwise invalid_url or hidden_chars.
func ValidateURL(raw string) document.Category {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return document.CategoryInvalidURL
	}
	for _, r := range trimmed {
		if _, ok := invisibleSpaces[r]; ok {
			return document.CategoryHiddenChars
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return document.CategoryHiddenChars
		}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return document.CategoryInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return document.CategoryInvalidURL
	}
	if u.Hostname() == "" || strings.ContainsAny(trimmed, " \t") {
		return document.CategoryInvalidURL
	}
	return ""
}
