// Package readability decides whether the text layer of a loaded document
// is usable for verifying spreadsheet rows against it.
package readability

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/metrics"
)

// Config holds the decision ladder thresholds.
type Config struct {
	MinTextLength      int     `mapstructure:"min_text_length"`
	GibberishThreshold float64 `mapstructure:"gibberish_threshold"`
	MinEligibleFields  int     `mapstructure:"min_eligible_fields"`
	MinFieldLength     int     `mapstructure:"min_field_length"`
	MinMatches         int     `mapstructure:"min_matches"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinTextLength:      200,
		GibberishThreshold: 0.02,
		MinEligibleFields:  2,
		MinFieldLength:     4,
		MinMatches:         1,
	}
}

// Evaluator applies the decision ladder.
type Evaluator struct {
	cfg Config
}

// New creates an Evaluator. Zero fields in cfg take their default.
func New(cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = def.MinTextLength
	}
	if cfg.GibberishThreshold <= 0 {
		cfg.GibberishThreshold = def.GibberishThreshold
	}
	if cfg.MinEligibleFields <= 0 {
		cfg.MinEligibleFields = def.MinEligibleFields
	}
	if cfg.MinFieldLength <= 0 {
		cfg.MinFieldLength = def.MinFieldLength
	}
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = def.MinMatches
	}
	return &Evaluator{cfg: cfg}
}

// Config returns the thresholds in effect.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// Evaluate judges text against the eligible fields of one row using the
// default thresholds.
func Evaluate(text string, fields []document.EligibleField) document.Verdict {
	return New(Config{}).Evaluate(text, fields)
}

// Evaluate judges text against fields. The first matching rung wins: too
// little text, too much gibberish, then field matching.
func (e *Evaluator) Evaluate(text string, fields []document.EligibleField) document.Verdict {
	v := e.evaluate(text, fields)
	metrics.ObserveReadability(string(v.Decision))
	return v
}

// EvaluateDocument is Evaluate with the document provenance recorded on the verdict.
func (e *Evaluator) EvaluateDocument(text string, fields []document.EligibleField, source string, sizeBytes int64) document.Verdict {
	v := e.Evaluate(text, fields)
	v.Source = source
	v.SizeBytes = sizeBytes
	return v
}

func (e *Evaluator) evaluate(text string, fields []document.EligibleField) document.Verdict {
	trimmed := strings.TrimSpace(text)
	v := document.Verdict{
		EligibleFieldCount:  len(fields),
		ExtractedTextLength: utf8.RuneCountInString(trimmed),
		GibberishRatio:      GibberishRatio(trimmed),
	}

	if v.ExtractedTextLength < e.cfg.MinTextLength {
		v.Decision = document.DecisionExtractionFailed
		v.Confidence = document.ConfidenceMedium
		v.Reason = fmt.Sprintf("only %d characters of text extracted", v.ExtractedTextLength)
		return v
	}
	if v.GibberishRatio > e.cfg.GibberishThreshold {
		v.Decision = document.DecisionUnreadable
		v.Confidence = document.ConfidenceMedium
		v.Reason = fmt.Sprintf("%.1f%% of extracted characters are replacement or control characters", v.GibberishRatio*100)
		return v
	}

	haystack := compact(trimmed)
	tested := 0
	for _, f := range fields {
		needle := compact(f.Value)
		if utf8.RuneCountInString(needle) < e.cfg.MinFieldLength {
			continue
		}
		tested++
		if strings.Contains(haystack, needle) {
			v.MatchedFieldCount++
		}
	}

	// Too few fields blocks an unreadable verdict, not a matchable one.
	if v.MatchedFieldCount >= e.cfg.MinMatches {
		v.Decision = document.DecisionMatchable
		v.Confidence = document.ConfidenceHigh
		v.Reason = fmt.Sprintf("%d of %d tested fields found in the text", v.MatchedFieldCount, tested)
		return v
	}
	if v.EligibleFieldCount < e.cfg.MinEligibleFields {
		v.Decision = document.DecisionInsufficientEvidence
		v.Confidence = document.ConfidenceLow
		v.Reason = fmt.Sprintf("%d eligible fields, need at least %d", v.EligibleFieldCount, e.cfg.MinEligibleFields)
		return v
	}
	v.Decision = document.DecisionUnreadable
	v.Confidence = document.ConfidenceHigh
	v.Reason = fmt.Sprintf("none of %d tested fields found in the text", tested)
	return v
}

// GibberishRatio is the share of runes in text that are U+FFFD or control
// characters other than tab, newline and carriage return.
func GibberishRatio(text string) float64 {
	total, bad := 0, 0
	for _, r := range text {
		total++
		if isGibberish(r) {
			bad++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}

func isGibberish(r rune) bool {
	switch r {
	case utf8.RuneError:
		return true
	case '\t', '\n', '\r':
		return false
	}
	return unicode.IsControl(r)
}

var fold = cases.Fold()

// Normalize applies NFKC and case folding, turns punctuation and symbols into
// word separators, and collapses whitespace. Ligatures, full-width forms and
// decomposed accents compare equal to their plain forms.
func Normalize(s string) string {
	s = fold.String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// compact is Normalize without separators. Containment is tested on it so
// "Smith-Jones", "Smith Jones" and "SmithJones" all match each other.
func compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}
