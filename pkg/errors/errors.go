package errors

import (
	"errors"
	"fmt"
)

var (
	ErrSheetNotFound     = errors.New("case data sheet not found")
	ErrInvalidFileFormat = errors.New("invalid file format")
	ErrLookupTimeout     = errors.New("case lookup retries exhausted")
	ErrExternalAPIError  = errors.New("commcare API error")
)

// SchemaError reports a malformed or unresolvable data dictionary. It is
// fatal to an import run and is raised before any network side effect.
type SchemaError struct {
	Field   string
	Message string
}

func (e SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("data dictionary error: %s", e.Message)
	}
	return fmt.Sprintf("data dictionary error for field '%s': %s", e.Field, e.Message)
}

func NewSchemaError(field, message string) error {
	return SchemaError{Field: field, Message: message}
}

// UploadIssue is a single error item reported by the bulk upload API.
type UploadIssue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UploadError means CommCare rejected a batch outright or completed it with
// reported errors. Handled per batch, never aborts the run.
type UploadError struct {
	Message string
	Issues  []UploadIssue
}

func (e UploadError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("upload failed: %s", e.Message)
	}
	return fmt.Sprintf("upload failed: %s (%d reported errors)", e.Message, len(e.Issues))
}

func NewUploadError(message string, issues []UploadIssue) error {
	return &UploadError{Message: message, Issues: issues}
}

// RetryableError marks a transient failure (network error, 5xx, rate limit)
// that a caller may retry.
type RetryableError struct {
	Err     error
	Message string
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s - %s", e.Message, e.Err.Error())
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error, message string) error {
	return RetryableError{Err: err, Message: message}
}
