package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither CSV nor Excel.
	ErrUnsupportedFormat = errors.New("only CSV or XLS/XLSX files are allowed")
	// ErrEmptyDataset is returned when the file has no header or no data rows.
	ErrEmptyDataset = errors.New("dataset has no rows")
)

// Format identifies the encoding of an uploaded dataset.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

// DetectFormat infers the dataset format from the file name.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xls", ".xlsx":
		return FormatExcel, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Dataset is a header row plus data rows, addressed by column name.
type Dataset struct {
	header []string
	index  map[string]int
	rows   [][]string
}

// Parse decodes an uploaded file into a Dataset.
func Parse(filename string, data []byte) (*Dataset, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	var records [][]string
	switch format {
	case FormatCSV:
		records, err = readCSV(data)
	case FormatExcel:
		records, err = readExcel(data)
	}
	if err != nil {
		return nil, err
	}
	return New(records)
}

// New builds a Dataset from raw records; the first record is the header.
func New(records [][]string) (*Dataset, error) {
	if len(records) < 2 {
		return nil, ErrEmptyDataset
	}

	header := make([]string, len(records[0]))
	index := make(map[string]int, len(header))
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		header[i] = name
		if _, dup := index[name]; !dup && name != "" {
			index[name] = i
		}
	}

	rows := make([][]string, 0, len(records)-1)
	for _, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		row := make([]string, len(header))
		copy(row, record)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	return &Dataset{header: header, index: index, rows: rows}, nil
}

// Header returns the column names in file order.
func (d *Dataset) Header() []string {
	return append([]string(nil), d.header...)
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// HasColumn reports whether the named column exists.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Column returns the trimmed cell values of a column and whether it exists.
func (d *Dataset) Column(name string) ([]string, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	values := make([]string, len(d.rows))
	for r, row := range d.rows {
		values[r] = strings.TrimSpace(row[i])
	}
	return values, true
}

// Floats returns the numeric cells of a column, skipping blanks, values that
// do not parse and non-finite values such as NaN or inf.
func (d *Dataset) Floats(name string) ([]float64, bool) {
	values, ok := d.Column(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		out = append(out, f)
	}
	return out, true
}

func readCSV(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return records, nil
}

func readExcel(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyDataset
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
