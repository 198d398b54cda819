package casedata

import (
	"fmt"
	"strings"

	"github.com/caktus/commcare-utilities/internal/schema"
)

// Row is one record of raw case data: column name → raw cell value. All
// values are carried as text on ingest so nothing gets silently coerced.
type Row map[string]string

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Annotated pairs a row with its validation verdict and the accumulated,
// human-readable problem messages.
type Annotated struct {
	Row      Row
	IsValid  bool
	Problems []string
}

// ProblemsString joins the problem messages the way they appear in the
// validation report.
func (a Annotated) ProblemsString() string {
	return strings.Join(a.Problems, ", ")
}

var cleanupTypes = map[schema.DataType]bool{
	schema.TypeDate:        true,
	schema.TypePhoneNumber: true,
	schema.TypeMultiSelect: true,
	schema.TypeNumber:      true,
	schema.TypeSelect:      true,
}

// Clean fixes idiosyncracies in user-supplied data ahead of validation.
// Copy-pasted cells sometimes carry stray newlines, especially in phone
// number columns; those characters are stripped and the value trimmed for
// every column whose type is sensitive to them.
func Clean(columns []string, rows []Row, dict schema.Dictionary) []Row {
	cleaned := make([]Row, len(rows))
	for i, row := range rows {
		out := row.Clone()
		for _, col := range columns {
			field, ok := dict[col]
			if !ok || !cleanupTypes[field.Type] {
				continue
			}
			val := strings.TrimSpace(out[col])
			val = strings.ReplaceAll(val, "\n", "")
			val = strings.ReplaceAll(val, "\r", "")
			out[col] = val
		}
		cleaned[i] = out
	}
	return cleaned
}

// ValidateColumns checks the sheet's column set against the dictionary:
// every column must be declared, and every required column must appear.
// Returns a list of problems; an empty list means the columns are fine.
func ValidateColumns(columns []string, dict schema.Dictionary, requiredColumns []string) []string {
	var problems []string
	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[col] = true
		if _, ok := dict[col]; !ok {
			problems = append(problems, fmt.Sprintf(
				"Found column `%s` in case data but this does not appear in data dictionary", col))
		}
	}
	for _, col := range requiredColumns {
		if !present[col] {
			problems = append(problems, fmt.Sprintf(
				"Column `%s` is required, but was missing from case data", col))
		}
	}
	return problems
}
