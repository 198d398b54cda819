package casedata

import (
	"fmt"

	"github.com/caktus/commcare-utilities/internal/schema"
	"github.com/caktus/commcare-utilities/pkg/errors"
)

// Normalize canonicalizes validated rows per the data dictionary. Columns in
// ignoreColumns (bookkeeping fields such as the contact_id correlation id)
// pass through untouched. Callers must filter to valid rows first; invalid
// input here means a bug upstream and surfaces as an error.
func Normalize(columns []string, rows []Row, dict schema.Dictionary, ignoreColumns []string) ([]Row, error) {
	ignore := make(map[string]bool, len(ignoreColumns))
	for _, col := range ignoreColumns {
		ignore[col] = true
	}

	normalized := make([]Row, len(rows))
	for i, row := range rows {
		out := row.Clone()
		for _, col := range columns {
			if ignore[col] {
				continue
			}
			field, ok := dict[col]
			if !ok {
				return nil, errors.NewSchemaError(col, "column not declared in data dictionary")
			}
			val, err := field.Normalize(out[col])
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			out[col] = val
		}
		normalized[i] = out
	}
	return normalized, nil
}
