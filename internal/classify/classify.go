// Package classify maps heterogeneous acquisition failure signals onto the
// fixed failure taxonomy. Classify is pure and total: every input yields
// exactly one category with a confidence.
package classify

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/docverify/internal/document"
)

// DefaultMaxBytes is the size ceiling applied when Signals.MaxBytes is zero.
const DefaultMaxBytes int64 = 10 << 20

// ErrorCode is an internal error code raised by the fetch path or the proxy.
type ErrorCode string

// Known internal error codes.
const (
	CodeNone           ErrorCode = ""
	CodeTimeout        ErrorCode = "timeout"
	CodeCORS           ErrorCode = "cors"
	CodeNetwork        ErrorCode = "network"
	CodeParse          ErrorCode = "parse"
	CodeNotPDF         ErrorCode = "not_pdf"
	CodeTooLarge       ErrorCode = "file_too_large"
	CodeInvalidURL     ErrorCode = "invalid_url"
	CodeHiddenChars    ErrorCode = "hidden_chars"
	CodeHostNotAllowed ErrorCode = "host_not_allowed"
	CodeProxyFailed    ErrorCode = "proxy_failed"
)

type codeRule struct {
	category   document.Category
	confidence document.Confidence
}

var codeRules = map[ErrorCode]codeRule{
	CodeTimeout:        {document.CategoryTimeout, document.ConfidenceHigh},
	CodeCORS:           {document.CategoryCORSBlocked, document.ConfidenceMedium},
	CodeNetwork:        {document.CategoryNetworkError, document.ConfidenceMedium},
	CodeParse:          {document.CategoryParseError, document.ConfidenceHigh},
	CodeNotPDF:         {document.CategoryNotPDF, document.ConfidenceHigh},
	CodeTooLarge:       {document.CategoryFileTooLarge, document.ConfidenceHigh},
	CodeInvalidURL:     {document.CategoryInvalidURL, document.ConfidenceHigh},
	CodeHiddenChars:    {document.CategoryHiddenChars, document.ConfidenceHigh},
	CodeHostNotAllowed: {document.CategoryCORSBlocked, document.ConfidenceHigh},
	CodeProxyFailed:    {document.CategoryCORSBlocked, document.ConfidenceMedium},
}

type messageRule struct {
	needles  []string
	category document.Category
}

// Checked in order; the first rule with a matching needle wins.
var messageRules = []messageRule{
	{needles: []string{"timeout", "timed out"}, category: document.CategoryTimeout},
	{needles: []string{"cors", "cross-origin"}, category: document.CategoryCORSBlocked},
	{needles: []string{"network", "fetch failed"}, category: document.CategoryNetworkError},
	{needles: []string{"parse", "corrupted"}, category: document.CategoryParseError},
}

// Signals carries everything known about a failed acquisition. URLProblem
// holds the result of ValidateURL.
type Signals struct {
	URL              string            `json:"url,omitempty"`
	URLProblem       document.Category `json:"url_problem,omitempty"`
	HTTPStatus       int               `json:"http_status,omitempty"`
	ContentType      string            `json:"content_type,omitempty"`
	SizeBytes        int64             `json:"size_bytes,omitempty"`
	MaxBytes         int64             `json:"max_bytes,omitempty"`
	SignatureInvalid bool              `json:"signature_invalid,omitempty"`
	Code             ErrorCode         `json:"code,omitempty"`
	Message          string            `json:"message,omitempty"`
}

// Classifier builds FailureRecords from Signals.
type Classifier struct {
	clock document.Clock
	ids   document.IDGenerator
}

// New constructs a Classifier. Either collaborator may be nil: records then
// carry a zero DetectedAt or an empty ID.
func New(clock document.Clock, ids document.IDGenerator) *Classifier {
	return &Classifier{clock: clock, ids: ids}
}

// Classify returns the FailureRecord for s, stamped with an ID and detection time.
func (c *Classifier) Classify(s Signals) document.FailureRecord {
	rec := Classify(s)
	if c == nil {
		return rec
	}
	if c.clock != nil {
		rec.DetectedAt = c.clock.Now().UTC()
	}
	if c.ids != nil {
		if id, err := c.ids.NewID(); err == nil {
			rec.ID = id
		}
	}
	return rec
}

// Classify applies the priority rules to s. The result has no ID and a zero
// DetectedAt; identical inputs always produce identical records.
func Classify(s Signals) document.FailureRecord {
	category, confidence := decide(s)
	return document.FailureRecord{
		Category:         category,
		DetectedCategory: category,
		Confidence:       confidence,
		HTTPStatus:       s.HTTPStatus,
		ContentType:      s.ContentType,
		SizeBytes:        s.SizeBytes,
		URL:              s.URL,
		Message:          message(category, s),
	}
}

func decide(s Signals) (document.Category, document.Confidence) {
	if s.URLProblem == document.CategoryInvalidURL || s.URLProblem == document.CategoryHiddenChars {
		return s.URLProblem, document.ConfidenceHigh
	}
	if cat, conf, ok := byStatus(s.HTTPStatus); ok {
		return cat, conf
	}
	if s.SizeBytes > s.limit() {
		return document.CategoryFileTooLarge, document.ConfidenceHigh
	}
	if ct := strings.TrimSpace(s.ContentType); ct != "" && !IsDocumentContentType(ct) {
		return document.CategoryNotPDF, document.ConfidenceMedium
	}
	if s.SignatureInvalid {
		return document.CategoryNotPDF, document.ConfidenceHigh
	}
	if rule, ok := codeRules[s.Code]; ok {
		return rule.category, rule.confidence
	}
	if msg := strings.ToLower(s.Message); msg != "" {
		for _, rule := range messageRules {
			for _, needle := range rule.needles {
				if strings.Contains(msg, needle) {
					return rule.category, document.ConfidenceMedium
				}
			}
		}
	}
	return document.CategoryUnknown, document.ConfidenceLow
}

func byStatus(status int) (document.Category, document.Confidence, bool) {
	switch {
	case status == 0:
		return "", "", false
	case status >= 200 && status < 300:
		return "", "", false
	case status == http.StatusUnauthorized:
		return document.CategoryUnauthorized, document.ConfidenceHigh, true
	case status == http.StatusForbidden:
		return document.CategoryForbidden, document.ConfidenceHigh, true
	case status == http.StatusNotFound:
		return document.CategoryNotFound, document.ConfidenceHigh, true
	case status == http.StatusTooManyRequests:
		return document.CategoryRateLimited, document.ConfidenceHigh, true
	case status >= 500 && status < 600:
		return document.CategoryServerError, document.ConfidenceHigh, true
	default:
		return document.CategoryHTTPOther, document.ConfidenceMedium, true
	}
}

func (s Signals) limit() int64 {
	if s.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return s.MaxBytes
}

func message(category document.Category, s Signals) string {
	detail := strings.TrimSpace(s.Message)
	switch category {
	case document.CategoryUnauthorized, document.CategoryForbidden, document.CategoryNotFound,
		document.CategoryRateLimited, document.CategoryServerError, document.CategoryHTTPOther:
		base := fmt.Sprintf("server responded with HTTP %d", s.HTTPStatus)
		if text := http.StatusText(s.HTTPStatus); text != "" {
			base = fmt.Sprintf("%s (%s)", base, text)
		}
		return base
	case document.CategoryFileTooLarge:
		return document.SizeLimitMessage(s.SizeBytes, s.limit())
	case document.CategoryNotPDF:
		if s.ContentType != "" {
			return fmt.Sprintf("unexpected content type %q", s.ContentType)
		}
		return "response does not look like a PDF"
	}
	if detail != "" {
		return detail
	}
	return Label(category)
}

// IsDocumentContentType reports whether a declared content type may carry a PDF.
func IsDocumentContentType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	switch mediaType {
	case "application/pdf", "application/x-pdf", "application/octet-stream",
		"binary/octet-stream", "application/force-download", "application/download":
		return true
	}
	return false
}
