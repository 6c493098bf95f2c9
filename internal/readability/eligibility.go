package readability

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/JakeFAU/docverify/internal/document"
)

// Data types that rarely appear verbatim in a document.
var nonTextualTypes = map[string]bool{
	"number":      true,
	"numeric":     true,
	"integer":     true,
	"int":         true,
	"decimal":     true,
	"float":       true,
	"currency":    true,
	"money":       true,
	"percent":     true,
	"percentage":  true,
	"date":        true,
	"datetime":    true,
	"time":        true,
	"boolean":     true,
	"bool":        true,
	"enum":        true,
	"enumeration": true,
	"picklist":    true,
	"select":      true,
	"list":        true,
}

var notApplicable = map[string]bool{
	"n/a":            true,
	"na":             true,
	"n.a.":           true,
	"none":           true,
	"null":           true,
	"nil":            true,
	"-":              true,
	"--":             true,
	"not applicable": true,
}

// Address parts are formatted too inconsistently for exact matching.
var addressParts = map[string]bool{
	"city":     true,
	"town":     true,
	"state":    true,
	"province": true,
	"zip":      true,
	"zipcode":  true,
	"postal":   true,
	"postcode": true,
}

// Eligible returns the fields of row expected to appear verbatim in the
// source document, sorted by field name. Without a glossary any value
// longer than three characters is eligible unless it is an absolute URL or
// a not-applicable marker.
func Eligible(row map[string]string, glossary document.Glossary) []document.EligibleField {
	lookup := make(map[string]document.GlossaryEntry, len(glossary))
	for name, entry := range glossary {
		lookup[fieldKey(name)] = entry
	}

	fields := make([]document.EligibleField, 0, len(row))
	for name, raw := range row {
		value := strings.TrimSpace(raw)
		if len(lookup) == 0 {
			if len([]rune(value)) > 3 && !notApplicable[strings.ToLower(value)] && !isAbsoluteURL(value) {
				fields = append(fields, document.EligibleField{FieldName: name, Value: value})
			}
			continue
		}
		entry, ok := lookup[fieldKey(name)]
		if !ok || !entry.Required || !isTextual(entry.DataType) {
			continue
		}
		if value == "" || notApplicable[strings.ToLower(value)] || isAddressPart(name) {
			continue
		}
		fields = append(fields, document.EligibleField{FieldName: name, Value: value})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].FieldName < fields[j].FieldName })
	return fields
}

// isAbsoluteURL catches link columns such as the source document URL.
func isAbsoluteURL(value string) bool {
	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func isTextual(dataType string) bool {
	return !nonTextualTypes[strings.ToLower(strings.TrimSpace(dataType))]
}

func isAddressPart(name string) bool {
	for _, token := range nameTokens(name) {
		if addressParts[token] {
			return true
		}
	}
	return false
}

// nameTokens splits a field name on separators and camelCase boundaries.
func nameTokens(name string) []string {
	var (
		tokens []string
		cur    []rune
		prev   rune
	)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for _, r := range name {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return tokens
}

func fieldKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
