package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// urlHashLen is the number of hex characters of the URL digest kept in a key.
const urlHashLen = 16

// CacheKey identifies one cached document by (sheet, row, url-hash).
type CacheKey struct {
	Sheet   string
	Row     int
	URLHash string
}

// NewCacheKey derives the cache key for a spreadsheet row and document URL.
func NewCacheKey(sheet string, row int, rawURL string) CacheKey {
	return CacheKey{
		Sheet:   sheet,
		Row:     row,
		URLHash: HashURL(rawURL),
	}
}

// HashURL returns a short, stable digest of a URL.
func HashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(rawURL)))
	return hex.EncodeToString(sum[:])[:urlHashLen]
}

// String renders the key as "sheet/row/hash" with the sheet name path-escaped.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s%s", RowPrefix(k.Sheet, k.Row), k.URLHash)
}

// RowPrefix returns the key prefix shared by every document of one row.
func RowPrefix(sheet string, row int) string {
	return url.PathEscape(sheet) + "/" + strconv.Itoa(row) + "/"
}

// ParseCacheKey is the inverse of CacheKey.String.
func ParseCacheKey(raw string) (CacheKey, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return CacheKey{}, fmt.Errorf("malformed cache key %q", raw)
	}
	sheet, err := url.PathUnescape(parts[0])
	if err != nil {
		return CacheKey{}, fmt.Errorf("unescape sheet: %w", err)
	}
	row, err := strconv.Atoi(parts[1])
	if err != nil {
		return CacheKey{}, fmt.Errorf("parse row: %w", err)
	}
	if parts[2] == "" {
		return CacheKey{}, fmt.Errorf("malformed cache key %q", raw)
	}
	return CacheKey{Sheet: sheet, Row: row, URLHash: parts[2]}, nil
}

// StorageName converts an arbitrary key into a filesystem/object-safe name.
func StorageName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
