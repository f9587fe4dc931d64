package importer

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one parsed record keyed by its header column names. Ordered
// per the source file; values are raw strings.
type Row map[string]string

// Parser turns an uploaded tabular file into header-keyed rows. The
// orchestrator never touches file formats directly.
type Parser interface {
	Parse(r io.Reader, filename string) ([]Row, error)
}

// FormatParser dispatches on file extension to a CSV or XLSX reader.
type FormatParser struct{}

// NewParser creates the default format-dispatching parser.
func NewParser() *FormatParser { return &FormatParser{} }

// Parse reads the whole file into rows. Unreadable or unsupported
// content yields a *ParseError, which is fatal to the job.
func (p *FormatParser) Parse(r io.Reader, filename string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt", "":
		return parseCSV(r)
	case ".xlsx":
		return parseXLSX(r)
	default:
		return nil, &ParseError{Filename: filename, Reason: "unsupported file format"}
	}
}

func parseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(bufio.NewReaderSize(r, 1024*1024))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &ParseError{Reason: "file is empty"}
	}
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("read header: %v", err)}
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("read row %d: %v", len(rows)+2, err)}
		}
		row := make(Row, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("open workbook: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Reason: "workbook has no sheets"}
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("read sheet: %v", err)}
	}
	if len(records) == 0 {
		return nil, &ParseError{Reason: "file is empty"}
	}

	header := records[0]
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var rows []Row
	for _, record := range records[1:] {
		row := make(Row, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
