package sheet

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	ccerrors "github.com/caktus/commcare-utilities/pkg/errors"
)

func TestParseCSV(t *testing.T) {
	csv := "first_name, dob ,age\n" +
		"Jane,1990-01-15,34\n" +
		"Ahmed,,\n"

	table, err := ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, []string{"first_name", "dob", "age"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Jane", table.Rows[0]["first_name"])
	assert.Equal(t, "1990-01-15", table.Rows[0]["dob"])
	assert.Equal(t, "", table.Rows[1]["dob"])
}

func TestParseCSVShortRows(t *testing.T) {
	csv := "first_name,dob,age\nJane\n"
	table, err := ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)

	// Missing trailing cells read as empty rather than failing the parse.
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Jane", table.Rows[0]["first_name"])
	assert.Equal(t, "", table.Rows[0]["dob"])
	assert.Equal(t, "", table.Rows[0]["age"])
}

func TestParseCSVHeaderOnly(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("first_name,dob\n"))
	require.ErrorIs(t, err, ccerrors.ErrInvalidFileFormat)
}

func TestParseCSVEmpty(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	require.ErrorIs(t, err, ccerrors.ErrInvalidFileFormat)
}

func buildWorkbook(t *testing.T, sheetName string, records [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheetName != "Sheet1" {
		require.NoError(t, f.SetSheetName("Sheet1", sheetName))
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheetName, cell, &record))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestParseWorkbookContactsSheet(t *testing.T) {
	data := buildWorkbook(t, ContactSheetName, [][]string{
		{"first_name", "dob"},
		{"Jane", "1990-01-15"},
		{"", ""}, // a fully empty row in the middle of the data
		{"Ahmed", "1985-06-02"},
	})

	table, err := ParseWorkbook(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"first_name", "dob"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Jane", table.Rows[0]["first_name"])
	assert.Equal(t, "Ahmed", table.Rows[1]["first_name"])
}

func TestParseWorkbookFallsBackToFirstSheet(t *testing.T) {
	data := buildWorkbook(t, "legacy data", [][]string{
		{"first_name"},
		{"Jane"},
	})

	table, err := ParseWorkbook(data)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Jane", table.Rows[0]["first_name"])
}

func TestParseWorkbookNoData(t *testing.T) {
	data := buildWorkbook(t, ContactSheetName, [][]string{{"first_name"}})
	_, err := ParseWorkbook(data)
	require.ErrorIs(t, err, ccerrors.ErrInvalidFileFormat)
}

func TestParseDispatchesOnExtension(t *testing.T) {
	xlsx := buildWorkbook(t, ContactSheetName, [][]string{
		{"first_name"},
		{"Jane"},
	})
	table, err := Parse(xlsx, "legacy_contacts.XLSX")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	csv := []byte("first_name\nJane\n")
	table, err = Parse(csv, "legacy_contacts.csv")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	_, err = Parse(csv, fmt.Sprintf("%s.xlsx", "not_actually_excel"))
	require.Error(t, err)
}
