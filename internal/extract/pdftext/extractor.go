// Package pdftext reads the text layer of loaded documents.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/JakeFAU/docverify/internal/document"
)

// ErrUnsupported is returned for documents that are neither PDF nor UTF-8 text.
var ErrUnsupported = errors.New("unsupported document format")

// Extractor implements document.TextExtractor.
type Extractor struct {
	maxPages int
}

var _ document.TextExtractor = (*Extractor)(nil)

// New creates an Extractor. maxPages <= 0 reads every page.
func New(maxPages int) *Extractor {
	return &Extractor{maxPages: maxPages}
}

// Extract returns the plain text of handle.
func (e *Extractor) Extract(ctx context.Context, handle document.DocumentHandle) (string, error) {
	if len(handle.Bytes) == 0 {
		return "", fmt.Errorf("extract %s: empty document", handle.Key)
	}
	if !document.HasPDFSignature(handle.Bytes) {
		if isPlainText(handle) {
			return strings.TrimSpace(string(handle.Bytes)), nil
		}
		return "", fmt.Errorf("extract %s: %w", handle.Key, ErrUnsupported)
	}
	text, err := e.readPDF(ctx, handle.Bytes)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", handle.Key, err)
	}
	return text, nil
}

func (e *Extractor) readPDF(ctx context.Context, data []byte) (text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	if e.maxPages > 0 && pages > e.maxPages {
		pages = e.maxPages
	}
	var buf strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", i, err)
		}
		buf.WriteString(pageText)
		buf.WriteByte('\n')
	}
	return strings.TrimSpace(buf.String()), nil
}

func isPlainText(handle document.DocumentHandle) bool {
	ct := strings.ToLower(handle.ContentType)
	return strings.HasPrefix(ct, "text/plain") && utf8.Valid(handle.Bytes)
}
