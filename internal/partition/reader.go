package partition

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rawblock/entropy-scorer/internal/logging"
	"github.com/xuri/excelize/v2"
)

// FileSource reads a partition table from a CSV or XLSX file.
//
// The first row is the header. The first column holds the row key and is
// not part of the schema; every other header names a label column. XLSX
// files are read from their first sheet.
type FileSource struct {
	path     string
	fileType string // "xlsx" or "csv"

	schema Schema
	rows   [][]string
}

// OpenFile reads the file once and keeps the rows in memory so Schema can
// be answered without another pass.
func OpenFile(path string) (*FileSource, error) {
	ext := strings.ToLower(filepath.Ext(path))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	fs := &FileSource{path: path, fileType: fileType}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s file not found: %w", strings.ToUpper(fileType), err)
	}

	var (
		rows [][]string
		err  error
	)
	start := time.Now()
	switch fileType {
	case "csv":
		rows, err = fs.readCSV()
	default:
		rows, err = fs.readExcel()
	}
	if err != nil {
		return nil, err
	}
	logging.L().Debugf("[Partition] %s read in %.2fms (%d rows)", path, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	if len(rows) < 1 || len(rows[0]) < 2 {
		return nil, fmt.Errorf("%s must start with a header naming a key column and at least one label column", path)
	}

	header := make([]string, 0, len(rows[0])-1)
	for _, h := range rows[0][1:] {
		header = append(header, strings.TrimSpace(h))
	}
	fs.schema = Schema{Columns: header}
	fs.rows = rows[1:]
	return fs, nil
}

func (fs *FileSource) readCSV() ([][]string, error) {
	file, err := os.Open(fs.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func (fs *FileSource) readExcel() ([][]string, error) {
	f, err := excelize.OpenFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("Excel file %s has no sheets", fs.path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheets[0], err)
	}
	return rows, nil
}

// Path returns the file the source was read from.
func (fs *FileSource) Path() string { return fs.path }

func (fs *FileSource) Schema() Schema { return fs.schema }

// Scan yields one Row per data line. Blank lines are skipped; short lines
// yield fewer cells and resolve to MissingLabel.
func (fs *FileSource) Scan(ctx context.Context, fn func(Row) error) error {
	for _, rec := range fs.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		cells := make([]string, 0, len(rec)-1)
		for _, c := range rec[1:] {
			cells = append(cells, strings.TrimSpace(c))
		}
		if err := fn(Row{Key: strings.TrimSpace(rec[0]), Cells: cells}); err != nil {
			return err
		}
	}
	return nil
}
