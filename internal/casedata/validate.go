package casedata

import (
	"fmt"
	"strings"

	"github.com/caktus/commcare-utilities/internal/schema"
	"github.com/caktus/commcare-utilities/pkg/errors"
)

// Validate annotates every row with a validity verdict based on the data
// dictionary. It works column by column across the whole record set so each
// column's rule lookup is paid once:
//
//  1. every populated cell must pass its field's type validator,
//  2. every field marked required must be non-empty,
//  3. if requiredOneOfs is non-empty, at least one of those columns must hold
//     a non-empty value that also passes its own validator.
//
// A row is valid only if all three checks pass. Rows are never dropped here;
// invalid rows are reported back so users can see what went wrong.
func Validate(columns []string, rows []Row, dict schema.Dictionary, requiredOneOfs []string) ([]Annotated, error) {
	annotated := make([]Annotated, len(rows))
	for i, row := range rows {
		annotated[i] = Annotated{Row: row, IsValid: true}
	}

	// per-cell type validation, column at a time
	for _, col := range columns {
		field, ok := dict[col]
		if !ok {
			return nil, errors.NewSchemaError(col, "column not declared in data dictionary")
		}
		for i := range annotated {
			if !field.Validate(annotated[i].Row[col]) {
				annotated[i].IsValid = false
				annotated[i].Problems = append(annotated[i].Problems,
					fmt.Sprintf("Invalid value for %s", col))
			}
		}
	}

	// required fields must be present and non-empty, independent of whether
	// the value would have passed its type check
	for _, col := range dict.RequiredFields() {
		for i := range annotated {
			if annotated[i].Row[col] == "" {
				annotated[i].IsValid = false
				annotated[i].Problems = append(annotated[i].Problems,
					fmt.Sprintf("A value must be supplied for %s", col))
			}
		}
	}

	if len(requiredOneOfs) > 0 {
		for _, col := range requiredOneOfs {
			if _, ok := dict[col]; !ok {
				return nil, errors.NewSchemaError(col, "required-one-of column not declared in data dictionary")
			}
		}
		for i := range annotated {
			if !satisfiesOneOf(annotated[i].Row, dict, requiredOneOfs) {
				annotated[i].IsValid = false
				annotated[i].Problems = append(annotated[i].Problems,
					fmt.Sprintf("A valid value must be supplied for one of the following columns: %s",
						strings.Join(requiredOneOfs, ", ")))
			}
		}
	}

	return annotated, nil
}

func satisfiesOneOf(row Row, dict schema.Dictionary, requiredOneOfs []string) bool {
	for _, col := range requiredOneOfs {
		val := row[col]
		if val != "" && dict[col].Validate(val) {
			return true
		}
	}
	return false
}

// FilterValid returns only the rows that passed validation.
func FilterValid(annotated []Annotated) []Row {
	var valid []Row
	for _, a := range annotated {
		if a.IsValid {
			valid = append(valid, a.Row)
		}
	}
	return valid
}
