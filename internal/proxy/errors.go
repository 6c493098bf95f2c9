// Package proxy implements the trusted intermediary used when a document
// cannot be fetched directly: an HTTP handler that fetches allow-listed
// hosts under a byte ceiling, and a client that calls it.
package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/docverify/internal/classify"
)

// Error codes carried in the JSON error body.
const (
	CodeInvalidURL     = "invalid_url"
	CodeHostNotAllowed = "host_not_allowed"
	CodeFileTooLarge   = "file_too_large"
	CodeUpstreamStatus = "upstream_status"
	CodeTimeout        = "timeout"
	CodeNetwork        = "network"
	CodeProxyFailed    = "proxy_failed"
)

// SourceURLHeader echoes the fetched URL on successful proxy responses.
const SourceURLHeader = "X-Proxy-Source-URL"

// Error is the structured failure returned by the intermediary.
type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"status,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("proxy %s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("proxy %s: %s", e.Code, e.Message)
}

// Signals converts e into classifier input. maxBytes is the ceiling the
// intermediary enforced.
func (e *Error) Signals(target string, maxBytes int64) classify.Signals {
	s := classify.Signals{URL: target, MaxBytes: maxBytes, Message: e.Message}
	switch e.Code {
	case CodeInvalidURL:
		s.Code = classify.CodeInvalidURL
	case CodeHostNotAllowed:
		s.Code = classify.CodeHostNotAllowed
	case CodeFileTooLarge:
		s.Code = classify.CodeTooLarge
		s.SizeBytes = e.Size
	case CodeUpstreamStatus:
		s.HTTPStatus = e.Status
		s.SizeBytes = e.Size
	case CodeTimeout:
		s.Code = classify.CodeTimeout
	case CodeNetwork:
		s.Code = classify.CodeNetwork
	default:
		s.Code = classify.CodeProxyFailed
	}
	return s
}

// parseError decodes an error body. Bodies that are not structured errors
// yield a proxy_failed Error carrying the HTTP status.
func parseError(status int, body []byte) *Error {
	var e Error
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		return &Error{
			Code:    CodeProxyFailed,
			Status:  status,
			Message: fmt.Sprintf("proxy returned HTTP %d", status),
		}
	}
	return &e
}
