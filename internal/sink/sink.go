// Package sink writes result rows to disk. The CSV is the canonical output,
// appended to as groups finish; the XLSX is derived from it once at the end.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/xuri/excelize/v2"

	"docpipe/internal/domain/docModel"
	"docpipe/internal/metrics"
)

// CSVWriter appends rows under a fixed column order. The header goes out
// once at construction; concurrent appends serialize on the mutex.
type CSVWriter struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	columns []string
	rows    int
}

func NewCSVWriter(path string, columns []string) (*CSVWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flush header: %w", err)
	}
	return &CSVWriter{
		file:    file,
		writer:  writer,
		columns: columns,
	}, nil
}

// Append writes one row, flushed immediately so a crash loses at most the
// in-flight row. Columns absent from the row render empty.
func (w *CSVWriter) Append(row docModel.ResultRow) error {
	record := make([]string, len(w.columns))
	for i, col := range w.columns {
		record[i] = renderCell(row[col])
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	w.rows++
	metrics.CaptureRowWritten()
	return nil
}

func (w *CSVWriter) RowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	flushErr := w.writer.Error()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func renderCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ExportXLSX converts a finished result CSV into a spreadsheet alongside it.
func ExportXLSX(csvPath string, xlsxPath string) error {
	file, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open result csv: %w", err)
	}
	defer func() { _ = file.Close() }()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return fmt.Errorf("read result csv: %w", err)
	}

	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	const sheet = "Sheet1"
	for i, record := range records {
		cells := make([]any, len(record))
		for j, v := range record {
			cells[j] = v
		}
		anchor, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("compute cell anchor: %w", err)
		}
		if err := book.SetSheetRow(sheet, anchor, &cells); err != nil {
			return fmt.Errorf("write sheet row %d: %w", i+1, err)
		}
	}

	if err := book.SaveAs(xlsxPath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
