// Package rows turns uploaded CSV and XLSX files into a header index and
// string cells. It knows nothing about what the cells mean.
package rows

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrNoHeader          = errors.New("rows: file has no header row")
	ErrUnsupportedFormat = errors.New("rows: unsupported file format")
	ErrTooManyRows       = errors.New("rows: row limit exceeded")
	ErrMissingColumns    = errors.New("rows: required columns missing")
)

// HeaderIndex maps cleaned header names to their column position.
type HeaderIndex map[string]int

// Record is one data row. Line is its 1-based position in the file,
// counting the header.
type Record struct {
	Line  int
	Cells []string
}

// Table is a parsed file.
type Table struct {
	Headers []string
	Index   HeaderIndex
	Records []Record
}

// Cell returns the trimmed value of column name in rec, or "" when the
// column or cell does not exist.
func (t *Table) Cell(rec Record, name string) string {
	i, ok := t.Index[CleanHeader(name)]
	if !ok || i >= len(rec.Cells) {
		return ""
	}
	return strings.TrimSpace(rec.Cells[i])
}

// Require returns ErrMissingColumns naming every column of names not in the header.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := t.Index[CleanHeader(n)]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// Options controls parsing.
type Options struct {
	Delimiter rune   // CSV only, defaults to ','
	Sheet     string // XLSX only, defaults to the first sheet
	MaxRows   int    // 0 means unlimited
}

// CleanHeader normalizes a header cell: trimmed, lower case, inner
// whitespace and dashes folded to underscores.
func CleanHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("-", " ", "_", " ").Replace(h)
	return strings.Join(strings.Fields(h), "_")
}

// Read parses r according to the extension of filename.
func Read(filename string, r io.Reader, opts Options) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv", ".txt", ".tsv":
		if ext == ".tsv" && opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
		return ReadCSV(r, opts)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ReadCSV parses delimited text. r is wrapped to drop a BOM and repair
// invalid UTF-8.
func ReadCSV(r io.Reader, opts Options) (*Table, error) {
	cr := csv.NewReader(Wrap(r, 0))
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var (
		records [][]string
		lines   []int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
		if opts.MaxRows > 0 && len(records) > opts.MaxRows+1 {
			return nil, fmt.Errorf("%w: more than %d rows", ErrTooManyRows, opts.MaxRows)
		}
	}
	return build(records, lines)
}

// ReadXLSX parses one sheet of a workbook.
func ReadXLSX(r io.Reader, opts Options) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoHeader
		}
		sheet = sheets[0]
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if opts.MaxRows > 0 && len(records) > opts.MaxRows+1 {
		return nil, fmt.Errorf("%w: more than %d rows", ErrTooManyRows, opts.MaxRows)
	}
	return build(records, nil)
}

// build takes the first non-blank record as header and keeps every later
// non-blank record. lines holds the file line of each record; nil means
// records are consecutive lines.
func build(records [][]string, lines []int) (*Table, error) {
	start := -1
	for i, rec := range records {
		if !blank(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrNoHeader
	}

	t := &Table{Index: make(HeaderIndex)}
	for i, h := range records[start] {
		name := CleanHeader(h)
		t.Headers = append(t.Headers, name)
		if name == "" {
			continue
		}
		if _, dup := t.Index[name]; !dup {
			t.Index[name] = i
		}
	}

	for i := start + 1; i < len(records); i++ {
		if blank(records[i]) {
			continue
		}
		line := i + 1
		if lines != nil {
			line = lines[i]
		}
		t.Records = append(t.Records, Record{Line: line, Cells: records[i]})
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
