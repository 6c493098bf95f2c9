// Package workbook loads spreadsheet rows and their glossary from .xlsx files
// for batch verification.
package workbook

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/docverify/internal/document"
)

// Defaults for Options.
const (
	DefaultURLColumn     = "URL"
	DefaultGlossarySheet = "Glossary"
)

// Options selects what to read.
type Options struct {
	// Sheet is the data sheet. Empty selects the first non-glossary sheet.
	Sheet string

	URLColumn     string
	GlossarySheet string
}

// Row is one data row. Index is the spreadsheet row number as displayed,
// so the first row below the header is 2.
type Row struct {
	Sheet  string
	Index  int
	URL    string
	Fields map[string]string
}

// Workbook is the parsed content of a file.
type Workbook struct {
	Sheet    string
	Header   []string
	Rows     []Row
	Glossary document.Glossary
}

// Load reads the workbook at path.
func Load(path string, opts Options) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return parse(f, opts)
}

// Read parses a workbook from r.
func Read(r io.Reader, opts Options) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return parse(f, opts)
}

func parse(f *excelize.File, opts Options) (*Workbook, error) {
	if opts.URLColumn == "" {
		opts.URLColumn = DefaultURLColumn
	}
	if opts.GlossarySheet == "" {
		opts.GlossarySheet = DefaultGlossarySheet
	}

	sheets := f.GetSheetList()
	sheet := opts.Sheet
	if sheet == "" {
		for _, name := range sheets {
			if !strings.EqualFold(name, opts.GlossarySheet) {
				sheet = name
				break
			}
		}
	}
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no data sheet")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	header := trimAll(rows[0])
	urlCol := indexOf(header, opts.URLColumn)
	if urlCol < 0 {
		return nil, fmt.Errorf("sheet %q has no %q column", sheet, opts.URLColumn)
	}

	wb := &Workbook{Sheet: sheet, Header: header}
	for i, cells := range rows[1:] {
		row := Row{Sheet: sheet, Index: i + 2, Fields: make(map[string]string, len(header))}
		for col, name := range header {
			if name == "" {
				continue
			}
			value := ""
			if col < len(cells) {
				value = strings.TrimSpace(cells[col])
			}
			if col == urlCol {
				row.URL = value
				continue
			}
			row.Fields[name] = value
		}
		if row.URL == "" {
			continue
		}
		wb.Rows = append(wb.Rows, row)
	}

	for _, name := range sheets {
		if strings.EqualFold(name, opts.GlossarySheet) {
			glossaryRows, err := f.GetRows(name)
			if err != nil {
				return nil, fmt.Errorf("read glossary: %w", err)
			}
			wb.Glossary, err = ParseGlossary(glossaryRows)
			if err != nil {
				return nil, err
			}
			break
		}
	}
	return wb, nil
}

// ParseGlossary reads a Field | Required | DataType table with a header row.
func ParseGlossary(rows [][]string) (document.Glossary, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	header := trimAll(rows[0])
	fieldCol := indexOf(header, "Field")
	requiredCol := indexOf(header, "Required")
	typeCol := indexOf(header, "DataType")
	if typeCol < 0 {
		typeCol = indexOf(header, "Data Type")
	}
	if fieldCol < 0 || requiredCol < 0 || typeCol < 0 {
		return nil, fmt.Errorf("glossary header must contain Field, Required and DataType")
	}

	glossary := make(document.Glossary)
	for _, cells := range rows[1:] {
		field := cell(cells, fieldCol)
		if field == "" {
			continue
		}
		glossary[field] = document.GlossaryEntry{
			Field:    field,
			Required: truthy(cell(cells, requiredCol)),
			DataType: strings.ToLower(cell(cells, typeCol)),
		}
	}
	return glossary, nil
}

func cell(cells []string, col int) string {
	if col < len(cells) {
		return strings.TrimSpace(cells[col])
	}
	return ""
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "y", "true", "1", "x", "required":
		return true
	}
	return false
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
