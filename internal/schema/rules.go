package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/nyaruka/phonenumbers"

	"github.com/caktus/commcare-utilities/pkg/errors"
)

// DefaultPhoneRegion is assumed when users omit a country code, which is
// nearly always for this data.
const DefaultPhoneRegion = "US"

// Rule pairs a validator with a normalizer for one field. Rules are resolved
// from the field's data type once at dictionary load time rather than
// re-dispatched per cell.
type Rule struct {
	Validate  func(raw string) bool
	Normalize func(raw string) (string, error)
}

func ruleFor(f Field) (Rule, error) {
	switch f.Type {
	case TypePlain:
		return Rule{
			Validate:  func(string) bool { return true },
			Normalize: func(raw string) (string, error) { return strings.TrimSpace(raw), nil },
		}, nil
	case TypeNumber:
		return Rule{Validate: validateNumber, Normalize: normalizeNumber}, nil
	case TypeDate:
		return Rule{Validate: validateDate, Normalize: normalizeDate}, nil
	case TypeSelect:
		allowed := toSet(f.AllowedValues)
		return Rule{
			Validate: func(raw string) bool {
				if strings.TrimSpace(raw) == "" {
					return true
				}
				_, ok := allowed[strings.TrimSpace(raw)]
				return ok
			},
			Normalize: func(raw string) (string, error) { return strings.TrimSpace(raw), nil },
		}, nil
	case TypeMultiSelect:
		allowed := toSet(f.AllowedValues)
		return Rule{
			Validate: func(raw string) bool {
				if strings.TrimSpace(raw) == "" {
					return true
				}
				for _, part := range strings.Split(raw, ",") {
					if _, ok := allowed[strings.TrimSpace(part)]; !ok {
						return false
					}
				}
				return true
			},
			Normalize: normalizeMultiSelect,
		}, nil
	case TypePhoneNumber:
		name := f.Name
		return Rule{
			Validate: validatePhoneNumber,
			Normalize: func(raw string) (string, error) {
				return normalizePhoneNumber(raw, name)
			},
		}, nil
	default:
		return Rule{}, errors.NewSchemaError(f.Name, fmt.Sprintf("unexpected data type: %s", f.Type))
	}
}

func validateNumber(raw string) bool {
	if raw == "" {
		return true
	}
	_, err := strconv.Atoi(raw)
	return err == nil
}

func normalizeNumber(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", fmt.Errorf("normalize number: %w", err)
	}
	return strconv.Itoa(n), nil
}

func validateDate(raw string) bool {
	if raw == "" {
		return true
	}
	_, err := dateparse.ParseAny(raw)
	return err == nil
}

func normalizeDate(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	parsed, err := dateparse.ParseAny(raw)
	if err != nil {
		return "", fmt.Errorf("normalize date: %w", err)
	}
	return parsed.Format("2006-01-02"), nil
}

func normalizeMultiSelect(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return strings.TrimSpace(raw), nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		values = append(values, strings.TrimSpace(p))
	}
	// CommCare represents multi-select values as space-separated
	return strings.Join(values, " "), nil
}

func validatePhoneNumber(raw string) bool {
	if raw == "" {
		return true
	}
	number, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(number)
}

func normalizePhoneNumber(raw, colName string) (string, error) {
	if raw == "" {
		return "", nil
	}
	number, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return "", fmt.Errorf("normalize phone number: %w", err)
	}
	national := phonenumbers.GetNationalSignificantNumber(number)
	if colName == ContactPhoneField {
		return fmt.Sprintf("%d%s", number.GetCountryCode(), national), nil
	}
	return national, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
