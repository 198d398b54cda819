package model

import "time"

type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	// RunStatusPartial means some valid records were uploaded but at least one
	// batch failed. The gap between valid and uploaded counts tells the caller
	// what still needs a retry on a later run.
	RunStatusPartial RunStatus = "PARTIAL"
	RunStatusFailed  RunStatus = "FAILED"
)

// ImportRun tracks one end-to-end import of a legacy case data sheet.
type ImportRun struct {
	ID            string     `json:"id" db:"id"`
	SheetPath     string     `json:"sheet_path" db:"sheet_path"`
	DataDictPath  string     `json:"data_dict_path" db:"data_dict_path"`
	Status        RunStatus  `json:"status" db:"status"`
	TotalRecords  int        `json:"total_records" db:"total_records"`
	ValidRecords  int        `json:"valid_records" db:"valid_records"`
	UploadedCount int        `json:"uploaded_count" db:"uploaded_count"`
	ErrorMessage  *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// RecordOutcome is the per-row result surface: validation verdict plus, for
// uploaded rows, the CommCare-assigned case id and a dashboard link.
type RecordOutcome struct {
	RunID              string  `json:"run_id" db:"run_id"`
	RowNum             int     `json:"row_num" db:"row_num"`
	ContactID          string  `json:"contact_id" db:"contact_id"`
	IsValid            bool    `json:"is_valid" db:"is_valid"`
	ValidationProblems *string `json:"validation_problems,omitempty" db:"validation_problems"`
	CaseID             *string `json:"case_id,omitempty" db:"case_id"`
	CaseURL            *string `json:"case_url,omitempty" db:"case_url"`
	Uploaded           bool    `json:"uploaded" db:"uploaded"`
}

type StatusResponse struct {
	RunID         string    `json:"run_id"`
	Status        string    `json:"status"`
	TotalRecords  int       `json:"total_records"`
	ValidRecords  int       `json:"valid_records"`
	UploadedCount int       `json:"uploaded_count"`
	Problems      []string  `json:"problems,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}
