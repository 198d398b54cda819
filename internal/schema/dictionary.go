package schema

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/caktus/commcare-utilities/pkg/errors"
)

type DataType string

const (
	TypePlain       DataType = "plain"
	TypeNumber      DataType = "number"
	TypeDate        DataType = "date"
	TypeSelect      DataType = "select"
	TypeMultiSelect DataType = "multi_select"
	TypePhoneNumber DataType = "phone_number"
)

// ContactPhoneField is the one phone column CommCareHQ wants prefixed with
// the country code digits; every other phone column normalizes to bare
// national digits.
const ContactPhoneField = "contact_phone_number"

// Field is one entry of the data dictionary. Its validation and
// normalization rule is resolved once at load time.
type Field struct {
	Name          string
	Type          DataType
	Required      bool
	AllowedValues []string

	rule Rule
}

// Validate reports whether a raw cell value is acceptable for this field.
func (f Field) Validate(raw string) bool { return f.rule.Validate(raw) }

// Normalize canonicalizes a raw cell value. Callers must validate first;
// behavior on invalid input is undefined.
func (f Field) Normalize(raw string) (string, error) { return f.rule.Normalize(raw) }

// Dictionary maps field names to their schema. Loaded once per import run
// and immutable thereafter.
type Dictionary map[string]Field

var dictColumns = []string{"field", "data_type", "required", "allowed_values"}

// Load reads a data dictionary CSV. Every row must supply field, data_type,
// required and allowed_values; a missing header column, a duplicate field
// name, or an unknown data type fails with a SchemaError before any case
// data is touched.
func Load(r io.Reader) (Dictionary, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewSchemaError("", fmt.Sprintf("failed to read header: %v", err))
	}

	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range dictColumns {
		if _, ok := colIdx[col]; !ok {
			return nil, errors.NewSchemaError("", fmt.Sprintf("missing required column: %s", col))
		}
	}

	dict := make(Dictionary)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewSchemaError("", fmt.Sprintf("failed to read row: %v", err))
		}

		get := func(col string) string {
			idx := colIdx[col]
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		name := get("field")
		if name == "" {
			continue
		}
		if _, exists := dict[name]; exists {
			return nil, errors.NewSchemaError(name, "duplicate field name")
		}

		field := Field{
			Name:          name,
			Type:          DataType(get("data_type")),
			Required:      parseRequired(get("required")),
			AllowedValues: splitAllowedValues(get("allowed_values")),
		}
		rule, err := ruleFor(field)
		if err != nil {
			return nil, err
		}
		field.rule = rule
		dict[name] = field
	}

	return dict, nil
}

// RequiredFields returns the names of all fields marked required.
func (d Dictionary) RequiredFields() []string {
	var fields []string
	for name, f := range d {
		if f.Required {
			fields = append(fields, name)
		}
	}
	return fields
}

// FieldNames returns every field name declared in the dictionary.
func (d Dictionary) FieldNames() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	return names
}

func parseRequired(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

func splitAllowedValues(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			values = append(values, v)
		}
	}
	return values
}
