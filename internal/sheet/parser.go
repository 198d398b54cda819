package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/caktus/commcare-utilities/internal/casedata"
	"github.com/caktus/commcare-utilities/pkg/errors"
)

// ContactSheetName is the workbook sheet that carries case data when users
// supply an Excel file instead of a CSV.
const ContactSheetName = "contacts"

// Table is a parsed case data sheet: the header in sheet order plus one row
// per record. Every cell is kept as text; inferred numeric or date types
// would defeat validation.
type Table struct {
	Columns []string
	Rows    []casedata.Row
}

// Parse reads case data from raw file bytes, dispatching on the file
// extension: .xlsx goes through excelize, anything else is treated as CSV.
func Parse(data []byte, filename string) (*Table, error) {
	if strings.EqualFold(path.Ext(filename), ".xlsx") {
		return ParseWorkbook(data)
	}
	return ParseCSV(bytes.NewReader(data))
}

// ParseWorkbook reads the contacts sheet of an Excel workbook. Rows with no
// populated cells are skipped.
func ParseWorkbook(data []byte) (*Table, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer file.Close()

	sheetName := ContactSheetName
	if idx, err := file.GetSheetIndex(sheetName); err != nil || idx < 0 {
		sheets := file.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.ErrInvalidFileFormat
		}
		sheetName = sheets[0]
	}

	rows, err := file.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	var nonEmpty [][]string
	for _, row := range rows {
		for _, cell := range row {
			if cell != "" {
				nonEmpty = append(nonEmpty, row)
				break
			}
		}
	}
	return fromRecords(nonEmpty)
}

// ParseCSV reads case data from a CSV stream.
func ParseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) (*Table, error) {
	if len(records) < 2 { // header + at least one data row
		return nil, errors.ErrInvalidFileFormat
	}

	columns := make([]string, len(records[0]))
	for i, col := range records[0] {
		columns[i] = strings.TrimSpace(col)
	}

	table := &Table{Columns: columns}
	for _, record := range records[1:] {
		row := make(casedata.Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
