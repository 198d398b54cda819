package upload

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/caktus/commcare-utilities/internal/casedata"
)

// ContactIDField is the caller-generated correlation column attached to every
// contact before upload. It is how CommCare-assigned case ids get mapped back
// to input rows.
const ContactIDField = "contact_id"

// Patient stub columns, in upload payload order.
var patientColumns = []string{"external_id", "case_id", "stub", "name", "stub_type", "current_status"}

// Key/values CommCare expects on every uploaded legacy contact. A blank
// case_id makes CommCare assign one.
var defaultContactValues = casedata.Row{
	"case_id":     "",
	"parent_type": "patient",
	"ooj":         "no",
}

// NewExternalID generates the 6-character uppercase id attached to a dummy
// patient as its external_id property.
func NewExternalID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return id[:6]
}

// dummyPatientRow builds the upload payload for one dummy patient. Contacts
// imported from legacy data have no real index case, so a closed stub patient
// is synthesized purely to satisfy CommCare's parent requirement; the
// external id lets us retrieve its case id after creation.
func dummyPatientRow(externalID string) casedata.Row {
	return casedata.Row{
		"external_id":    externalID,
		"case_id":        "",
		"stub":           "yes",
		"name":           "(no index case)",
		"stub_type":      "contact_without_index",
		"current_status": "closed",
	}
}

// contactRow assembles the full upload payload for one contact: CommCare's
// default contact key/values, the parent reference, the normalized user data,
// and any caller-supplied extra fields.
func contactRow(contact casedata.Row, parentID string, extra map[string]string) casedata.Row {
	row := defaultContactValues.Clone()
	row["parent_id"] = parentID
	for k, v := range contact {
		row[k] = v
	}
	for k, v := range extra {
		row[k] = v
	}
	return row
}

// contactColumns derives the payload header: the sheet's columns plus every
// default, parent and extra field not already present.
func contactColumns(columns []string, extra map[string]string) []string {
	out := make([]string, 0, len(columns)+len(extra)+4)
	seen := make(map[string]bool)
	add := func(col string) {
		if !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	for _, col := range columns {
		add(col)
	}
	for _, col := range sortedKeys(defaultContactValues) {
		add(col)
	}
	add("parent_id")
	extraCols := make([]string, 0, len(extra))
	for col := range extra {
		extraCols = append(extraCols, col)
	}
	sort.Strings(extraCols)
	for _, col := range extraCols {
		add(col)
	}
	return out
}

func sortedKeys(row casedata.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// chunkRows splits rows into contiguous batches of at most size records; the
// last batch may be smaller.
func chunkRows(rows []casedata.Row, size int) [][]casedata.Row {
	if size <= 0 || len(rows) == 0 {
		return nil
	}
	batches := make([][]casedata.Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}
