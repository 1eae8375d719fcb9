package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Delimiter separates columns in PHOENIX-2014-T corpus files.
const Delimiter = '|'

// Annotation is a single corpus row.
type Annotation struct {
	Name        string
	Speaker     string
	Orth        string
	Translation string

	// HasName is false when the source had no "name" column for this row.
	HasName    bool
	SourceFile string
	Line       int
}

// LoadAll reads every path in order and concatenates the rows.
func LoadAll(paths ...string) ([]Annotation, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one annotation file is required")
	}

	var all []Annotation
	for _, path := range paths {
		rows, err := LoadAnnotations(path)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

// LoadAnnotations parses one annotation file. Pipe-delimited text is the
// default; .xlsx workbooks are read from their first sheet.
func LoadAnnotations(path string) ([]Annotation, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return loadWorkbook(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %q: empty csv", path)
		}
		return nil, fmt.Errorf("read %q header: %w", path, err)
	}
	idx := indexColumns(header)

	rows := make([]Annotation, 0, 1024)
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read %q row: %w", path, err)
		}
		if isBlank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, rowToAnnotation(record, idx, path, line))
	}
	return rows, nil
}

func loadWorkbook(path string) ([]Annotation, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("read %q: workbook has no sheets", path)
	}
	all, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %q sheet %q: %w", path, sheets[0], err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("read %q: empty sheet", path)
	}

	idx := indexColumns(all[0])
	rows := make([]Annotation, 0, len(all)-1)
	for i, record := range all[1:] {
		if isBlank(record) {
			continue
		}
		rows = append(rows, rowToAnnotation(record, idx, path, i+2))
	}
	return rows, nil
}

func rowToAnnotation(record []string, idx map[string]int, path string, line int) Annotation {
	nameIdx, hasName := idx["name"]
	return Annotation{
		Name:        valueAt(record, nameIdx, hasName),
		Speaker:     field(record, idx, "speaker"),
		Orth:        field(record, idx, "orth"),
		Translation: field(record, idx, "translation"),
		HasName:     hasName && nameIdx < len(record),
		SourceFile:  filepath.ToSlash(path),
		Line:        line,
	}
}

func indexColumns(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		out[strings.ToLower(name)] = i
	}
	return out
}

func field(record []string, idx map[string]int, column string) string {
	i, ok := idx[column]
	return valueAt(record, i, ok)
}

func valueAt(record []string, index int, ok bool) string {
	if !ok || index < 0 || index >= len(record) {
		return ""
	}
	return record[index]
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
