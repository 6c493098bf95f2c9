// Package document defines the data model shared by the acquisition,
// cache, classification and readability subsystems.
package document

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Category is the closed set of failure categories a FailureRecord can carry.
type Category string

// Failure categories.
const (
	CategoryCORSBlocked  Category = "cors_blocked"
	CategoryUnauthorized Category = "http_unauthorized"
	CategoryForbidden    Category = "http_forbidden"
	CategoryNotFound     Category = "http_not_found"
	CategoryRateLimited  Category = "http_rate_limited"
	CategoryServerError  Category = "http_server_error"
	CategoryHTTPOther    Category = "http_other"
	CategoryNotPDF       Category = "not_pdf"
	CategoryFileTooLarge Category = "file_too_large"
	CategoryTimeout      Category = "timeout"
	CategoryNetworkError Category = "network_error"
	CategoryInvalidURL   Category = "invalid_url"
	CategoryHiddenChars  Category = "hidden_chars"
	CategoryParseError   Category = "parse_error"
	CategoryUnknown      Category = "unknown"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryCORSBlocked,
	CategoryUnauthorized,
	CategoryForbidden,
	CategoryNotFound,
	CategoryRateLimited,
	CategoryServerError,
	CategoryHTTPOther,
	CategoryNotPDF,
	CategoryFileTooLarge,
	CategoryTimeout,
	CategoryNetworkError,
	CategoryInvalidURL,
	CategoryHiddenChars,
	CategoryParseError,
	CategoryUnknown,
}

// Valid reports whether c belongs to the fixed enumeration.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Confidence grades how sure the classifier is about a category.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Source records where the bytes behind a DocumentHandle came from.
type Source string

// Document sources.
const (
	SourceCache  Source = "cache"
	SourceDirect Source = "direct"
	SourceProxy  Source = "proxy"
)

// FetchRequest is one acquisition attempt. It is immutable once created.
type FetchRequest struct {
	URL     string
	Key     CacheKey
	Timeout time.Duration
}

// CachedBlob is a document stored by the content cache.
type CachedBlob struct {
	Key            string    `json:"key"`
	Bytes          []byte    `json:"-"`
	SourceURL      string    `json:"source_url"`
	SizeBytes      int64     `json:"size_bytes"`
	ContentType    string    `json:"content_type"`
	FetchedAt      time.Time `json:"fetched_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Meta returns the blob without its payload.
func (b CachedBlob) Meta() BlobMeta {
	return BlobMeta{
		Key:            b.Key,
		SourceURL:      b.SourceURL,
		SizeBytes:      b.SizeBytes,
		ContentType:    b.ContentType,
		FetchedAt:      b.FetchedAt,
		LastAccessedAt: b.LastAccessedAt,
	}
}

// BlobMeta is the payload-free view of a CachedBlob used for LRU bookkeeping.
type BlobMeta struct {
	Key            string    `json:"key"`
	SourceURL      string    `json:"source_url"`
	SizeBytes      int64     `json:"size_bytes"`
	ContentType    string    `json:"content_type"`
	FetchedAt      time.Time `json:"fetched_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// CacheStats summarizes the content cache.
type CacheStats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"total_bytes"`
	MaxBytes   int64 `json:"max_bytes"`
}

// DocumentHandle is handed to the text-extraction and rendering layer.
type DocumentHandle struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Bytes       []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Source      Source    `json:"source"`
	IsCached    bool      `json:"is_cached"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// FailureRecord describes why an acquisition failed.
type FailureRecord struct {
	ID               string     `json:"id,omitempty"`
	Category         Category   `json:"category"`
	DetectedCategory Category   `json:"detected_category"`
	Confidence       Confidence `json:"confidence"`
	HTTPStatus       int        `json:"http_status,omitempty"`
	ContentType      string     `json:"content_type,omitempty"`
	SizeBytes        int64      `json:"size_bytes,omitempty"`
	URL              string     `json:"url,omitempty"`
	Message          string     `json:"message"`
	DetectedAt       time.Time  `json:"detected_at"`
	Overridden       bool       `json:"overridden,omitempty"`
	OverrideReason   string     `json:"override_reason,omitempty"`
	OverriddenAt     *time.Time `json:"overridden_at,omitempty"`
}

// Outcome is the result of an acquisition: exactly one of Handle or Failure is set.
type Outcome struct {
	Handle  *DocumentHandle `json:"handle,omitempty"`
	Failure *FailureRecord  `json:"failure,omitempty"`
}

// OK reports whether the acquisition produced a document.
func (o Outcome) OK() bool {
	return o.Handle != nil
}

// EligibleField is a row field expected to appear verbatim in the document.
type EligibleField struct {
	FieldName string `json:"field_name"`
	Value     string `json:"value"`
}

// Decision is the readability verdict for a loaded document.
type Decision string

// Readability decisions.
const (
	DecisionMatchable            Decision = "matchable"
	DecisionUnreadable           Decision = "unreadable"
	DecisionInsufficientEvidence Decision = "insufficient_evidence"
	DecisionExtractionFailed     Decision = "text_extraction_failed"
)

// Verdict is the outcome of a readability evaluation.
type Verdict struct {
	EligibleFieldCount  int        `json:"eligible_field_count"`
	MatchedFieldCount   int        `json:"matched_field_count"`
	ExtractedTextLength int        `json:"extracted_text_length"`
	GibberishRatio      float64    `json:"gibberish_ratio"`
	Decision            Decision   `json:"decision"`
	Confidence          Confidence `json:"confidence"`
	Reason              string     `json:"reason"`
	Source              string     `json:"source,omitempty"`
	SizeBytes           int64      `json:"size_bytes,omitempty"`
}

// GlossaryEntry describes how a spreadsheet column should be treated.
type GlossaryEntry struct {
	Field    string `json:"field"`
	Required bool   `json:"required"`
	DataType string `json:"data_type"`
}

// Glossary maps field names to their glossary entries.
type Glossary map[string]GlossaryEntry

// Response is returned by Fetcher implementations.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Truncated  bool
}

// SignatureWindow is how far into a body the PDF signature may appear.
const SignatureWindow = 1024

var pdfMagic = []byte("%PDF-")

// HasPDFSignature reports whether body carries the PDF signature within
// SignatureWindow bytes.
func HasPDFSignature(body []byte) bool {
	if len(body) > SignatureWindow {
		body = body[:SignatureWindow]
	}
	return bytes.Contains(body, pdfMagic)
}

// OversizeBytes returns the size to report for a response that broke
// maxBytes. It is the declared or received size when that exceeds the
// ceiling, otherwise maxBytes+1, which reads as "more than maxBytes".
func (r Response) OversizeBytes(maxBytes int64) int64 {
	size := int64(len(r.Body))
	if n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64); err == nil && n > size {
		size = n
	}
	if size <= maxBytes {
		return maxBytes + 1
	}
	return size
}

// SizeLimitMessage describes a document that broke maxBytes, using the size
// convention of OversizeBytes.
func SizeLimitMessage(sizeBytes, maxBytes int64) string {
	if sizeBytes <= maxBytes+1 {
		return fmt.Sprintf("document is more than %d bytes", maxBytes)
	}
	return fmt.Sprintf("document is %d bytes, more than the %d byte limit", sizeBytes, maxBytes)
}

// ContentType returns the declared content type of the response.
func (r Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}
