package readability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docverify/internal/document"
)

func cleanText(extra string) string {
	return strings.Repeat("This agreement is entered into by the parties named below. ", 6) + extra
}

func TestEvaluateEmptyText(t *testing.T) {
	t.Parallel()

	v := Evaluate("", nil)
	require.Equal(t, document.DecisionExtractionFailed, v.Decision)
	require.Equal(t, document.ConfidenceMedium, v.Confidence)
	require.Zero(t, v.ExtractedTextLength)
}

func TestEvaluateNoFields(t *testing.T) {
	t.Parallel()

	v := Evaluate(strings.Repeat("x", 300), nil)
	require.Equal(t, document.DecisionInsufficientEvidence, v.Decision)
	require.Equal(t, document.ConfidenceLow, v.Confidence)
	require.Equal(t, 300, v.ExtractedTextLength)
}

func TestEvaluateSingleMatchingField(t *testing.T) {
	t.Parallel()

	v := Evaluate(cleanText("Supplier: acme corp, Springfield."), []document.EligibleField{{FieldName: "f", Value: "ACME Corp"}})
	require.Equal(t, document.DecisionMatchable, v.Decision)
	require.Equal(t, document.ConfidenceHigh, v.Confidence)
	require.Equal(t, 1, v.MatchedFieldCount)
	require.Equal(t, 1, v.EligibleFieldCount)
}

func TestEvaluateSingleUnmatchedFieldIsInsufficient(t *testing.T) {
	t.Parallel()

	v := Evaluate(cleanText(""), []document.EligibleField{{FieldName: "f", Value: "Globex"}})
	require.Equal(t, document.DecisionInsufficientEvidence, v.Decision)
}

func TestEvaluateNoMatchesIsUnreadable(t *testing.T) {
	t.Parallel()

	fields := []document.EligibleField{
		{FieldName: "vendor", Value: "Globex Industries"},
		{FieldName: "contract", Value: "C-99812"},
	}
	v := Evaluate(cleanText(""), fields)
	require.Equal(t, document.DecisionUnreadable, v.Decision)
	require.Equal(t, document.ConfidenceHigh, v.Confidence)
	require.Zero(t, v.MatchedFieldCount)
}

func TestEvaluateMatchingIgnoresCaseAndPunctuation(t *testing.T) {
	t.Parallel()

	fields := []document.EligibleField{
		{FieldName: "vendor", Value: "Globex, Inc."},
		{FieldName: "contract", Value: "c-99812"},
		{FieldName: "short", Value: "ab"},
	}
	v := Evaluate(cleanText("GLOBEX INC  signed contract C99812."), fields)
	require.Equal(t, document.DecisionMatchable, v.Decision)
	require.Equal(t, 2, v.MatchedFieldCount)
	require.Equal(t, 3, v.EligibleFieldCount)
}

func TestEvaluateGibberishBoundary(t *testing.T) {
	t.Parallel()

	text := func(bad int) string {
		return strings.Repeat("\uFFFD", bad) + strings.Repeat("a", 300-bad)
	}

	atThreshold := Evaluate(text(6), nil)
	require.InDelta(t, 0.02, atThreshold.GibberishRatio, 1e-12)
	require.Equal(t, document.DecisionInsufficientEvidence, atThreshold.Decision)

	over := Evaluate(text(7), nil)
	require.Equal(t, document.DecisionUnreadable, over.Decision)
	require.Equal(t, document.ConfidenceMedium, over.Confidence)
}

func TestEvaluateDocumentRecordsProvenance(t *testing.T) {
	t.Parallel()

	v := New(Config{}).EvaluateDocument("", nil, "proxy", 2048)
	require.Equal(t, "proxy", v.Source)
	require.Equal(t, int64(2048), v.SizeBytes)
}

func TestEvaluatorCustomThresholds(t *testing.T) {
	t.Parallel()

	e := New(Config{MinTextLength: 10, MinMatches: 2})
	require.Equal(t, 0.02, e.Config().GibberishThreshold)

	fields := []document.EligibleField{
		{FieldName: "a", Value: "alpha"},
		{FieldName: "b", Value: "bravo"},
	}
	require.Equal(t, document.DecisionUnreadable, e.Evaluate("alpha charlie delta", fields).Decision)
	require.Equal(t, document.DecisionMatchable, e.Evaluate("alpha bravo delta", fields).Decision)
}

func TestGibberishRatioIgnoresLayoutWhitespace(t *testing.T) {
	t.Parallel()

	require.Zero(t, GibberishRatio("a\tb\nc\r\n"))
	require.InDelta(t, 0.5, GibberishRatio("a\x00"), 1e-12)
	require.Zero(t, GibberishRatio(""))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme corp", Normalize("  ACME,   Corp. "))
	require.Equal(t, "c 99812", Normalize("C-99812"))
	require.Equal(t, "", Normalize("--"))
	require.Equal(t, "caf\u00e9", Normalize("Cafe\u0301"))
	require.Equal(t, "office", Normalize("O\ufb03ce"))
	require.Equal(t, "strasse", Normalize("Stra\u00dfe"))
}

func TestEvaluateMatchesAcrossTextForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		text  string
	}{
		{name: "hyphen vs space", value: "Smith-Jones", text: "Counterparty: Smith Jones LLP."},
		{name: "space vs hyphen", value: "Smith Jones", text: "Counterparty: Smith-Jones LLP."},
		{name: "slash vs nothing", value: "PO 4471/B", text: "Purchase order PO4471B attached."},
		{name: "nfc value nfd text", value: "Caf\u00e9 Rouge", text: "Tenant: Cafe\u0301 Rouge Ltd."},
		{name: "nfd value nfc text", value: "Cafe\u0301 Rouge", text: "Tenant: Caf\u00e9 Rouge Ltd."},
		{name: "ligature in text", value: "Fiscal Office", text: "Issued by the \ufb01scal o\ufb03ce."},
		{name: "full-width digits", value: "C-2024-001", text: "Contract \uff23\uff0d\uff12\uff10\uff12\uff14-001."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := Evaluate(cleanText(tt.text), []document.EligibleField{{FieldName: "f", Value: tt.value}})
			require.Equal(t, 1, v.MatchedFieldCount)
			require.Equal(t, document.DecisionMatchable, v.Decision)
		})
	}
}
