package readability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docverify/internal/document"
)

func TestEligibleWithGlossary(t *testing.T) {
	t.Parallel()

	glossary := document.Glossary{
		"Vendor Name":  {Field: "Vendor Name", Required: true, DataType: "text"},
		"Contract ID":  {Field: "Contract ID", Required: true, DataType: "identifier"},
		"Amount":       {Field: "Amount", Required: true, DataType: "currency"},
		"Notes":        {Field: "Notes", Required: false, DataType: "text"},
		"Vendor City":  {Field: "Vendor City", Required: true, DataType: "text"},
		"postalCode":   {Field: "postalCode", Required: true, DataType: "text"},
		"Statement Id": {Field: "Statement Id", Required: true, DataType: "text"},
		"Region":       {Field: "Region", Required: true, DataType: "text"},
	}
	row := map[string]string{
		"vendor name":  " Acme Corp ",
		"Contract ID":  "C-1",
		"Amount":       "1200.00",
		"Notes":        "call back",
		"Vendor City":  "Springfield",
		"postalCode":   "12345",
		"Statement Id": "ST-2024-77",
		"Region":       "N/A",
		"Unlisted":     "something long",
	}

	got := Eligible(row, glossary)
	require.Equal(t, []document.EligibleField{
		{FieldName: "Contract ID", Value: "C-1"},
		{FieldName: "Statement Id", Value: "ST-2024-77"},
		{FieldName: "vendor name", Value: "Acme Corp"},
	}, got)
}

func TestEligibleWithoutGlossary(t *testing.T) {
	t.Parallel()

	row := map[string]string{
		"a": "abc",
		"b": "abcd",
		"c": "   ",
		"d": "Acme Corp",
		"e": "https://files.example.com/contracts/a.pdf",
		"f": "None",
		"g": "NULL",
		"h": "not applicable",
		"i": "ftp://archive.example.com/a.pdf",
		"j": "Section 4: payment terms",
	}
	got := Eligible(row, nil)
	require.Equal(t, []document.EligibleField{
		{FieldName: "b", Value: "abcd"},
		{FieldName: "d", Value: "Acme Corp"},
		{FieldName: "j", Value: "Section 4: payment terms"},
	}, got)
}

func TestNameTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"vendor", "city"}, nameTokens("vendorCity"))
	require.Equal(t, []string{"zip", "code"}, nameTokens("ZIP_code"))
	require.Equal(t, []string{"statement", "id"}, nameTokens("Statement Id"))
}
