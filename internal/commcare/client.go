package commcare

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/caktus/commcare-utilities/internal/casedata"
	"github.com/caktus/commcare-utilities/internal/config"
	"github.com/caktus/commcare-utilities/internal/logger"
	"github.com/caktus/commcare-utilities/pkg/errors"
)

// Upload job states reported by the bulk upload status endpoint.
const (
	uploadStateNotStarted = 0
	uploadStateStarted    = 1
	uploadStateSuccess    = 2
	uploadStateFailed     = 3
)

// Case is a CommCare case as returned by the case API.
type Case struct {
	CaseID     string            `json:"case_id"`
	Properties map[string]string `json:"properties"`
	ChildCases map[string]Case   `json:"child_cases,omitempty"`
}

// UploadOptions mirror the bulk upload API's form fields.
type UploadOptions struct {
	CaseType       string
	SearchColumn   string
	SearchField    string
	CreateNewCases string
}

// Client talks to the CommCare HQ API: bulk case upload with asynchronous
// status polling, plus the case read paths used to resolve created cases.
type Client struct {
	cfg          *config.Config
	httpClient   *http.Client
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.CommCare.Timeout,
		},
		pollInterval: cfg.CommCare.Upload.PollInterval,
		log:          logger.Get(),
	}
}

func (c *Client) bulkUploadURL() string {
	return fmt.Sprintf("%s/a/%s/importer/excel/bulk_upload_api/",
		c.cfg.CommCare.BaseURL, c.cfg.CommCare.ProjectSlug)
}

func (c *Client) listCasesURL() string {
	return fmt.Sprintf("%s/a/%s/api/v0.5/case/",
		c.cfg.CommCare.BaseURL, c.cfg.CommCare.ProjectSlug)
}

// CaseReportURL is the dashboard deep link for a case, used to annotate
// user-facing reports.
func (c *Client) CaseReportURL(caseID string) string {
	return fmt.Sprintf("%s/a/%s/reports/case_data/%s/",
		c.cfg.CommCare.BaseURL, c.cfg.CommCare.ProjectSlug, caseID)
}

func (c *Client) authHeader() string {
	return fmt.Sprintf("ApiKey %s:%s", c.cfg.CommCare.Username, c.cfg.CommCare.APIKey)
}

type uploadResponse struct {
	StatusURL string `json:"status_url"`
}

type uploadStatus struct {
	State  int `json:"state"`
	Result struct {
		Errors []errors.UploadIssue `json:"errors"`
	} `json:"result"`
}

// UploadCases submits one batch of cases as a CSV payload and blocks until
// the remote import job reaches a terminal state. A failed job, or a
// successful job that reports per-row errors, surfaces as an UploadError
// carrying the reported issues.
func (c *Client) UploadCases(ctx context.Context, columns []string, rows []casedata.Row, opts UploadOptions) error {
	if len(rows) == 0 {
		return fmt.Errorf("empty case batch")
	}

	payload, contentType, err := buildUploadPayload(columns, rows, opts)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bulkUploadURL(), payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", c.authHeader())

	c.log.Debug().Int("batch_size", len(rows)).Str("case_type", opts.CaseType).Msg("Submitting case batch")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewRetryableError(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		// fall through to status polling
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewRetryableError(fmt.Errorf("HTTP %d", resp.StatusCode), "bulk upload API unavailable")
	default:
		return errors.NewUploadError(fmt.Sprintf("bulk upload rejected with HTTP %d", resp.StatusCode), nil)
	}

	var submitted uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return fmt.Errorf("failed to decode upload response: %w", err)
	}
	if submitted.StatusURL == "" {
		return errors.NewUploadError("bulk upload response missing status_url", nil)
	}

	return c.pollUploadStatus(ctx, submitted.StatusURL)
}

// pollUploadStatus checks the remote job every poll interval until it is
// terminal. No further network calls for the batch are issued while a status
// check is in flight.
func (c *Client) pollUploadStatus(ctx context.Context, statusURL string) error {
	for {
		if err := sleepContext(ctx, c.pollInterval); err != nil {
			return err
		}

		status, err := c.fetchUploadStatus(ctx, statusURL)
		if err != nil {
			return err
		}

		switch status.State {
		case uploadStateFailed:
			return errors.NewUploadError("remote import job reported failure", status.Result.Errors)
		case uploadStateSuccess:
			if len(status.Result.Errors) > 0 {
				return errors.NewUploadError("remote import job completed with errors", status.Result.Errors)
			}
			return nil
		default:
			c.log.Debug().Int("state", status.State).Msg("Upload not ready, will wait")
		}
	}
}

func (c *Client) fetchUploadStatus(ctx context.Context, statusURL string) (*uploadStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRetryableError(err, "status check failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewRetryableError(fmt.Errorf("HTTP %d", resp.StatusCode), "status check failed")
	}

	var status uploadStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// GetCase fetches a single case by id, optionally with its child cases
// inlined.
func (c *Client) GetCase(ctx context.Context, caseID string, includeChildCases bool) (*Case, error) {
	params := url.Values{}
	params.Set("format", "json")
	if includeChildCases {
		params.Set("child_cases__full", "true")
	}

	reqURL := c.listCasesURL() + caseID + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRetryableError(err, "case fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching case %s returned HTTP %d",
			errors.ErrExternalAPIError, caseID, resp.StatusCode)
	}

	var result Case
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode case response: %w", err)
	}
	return &result, nil
}

// GetCasesByExternalID fetches cases matching an external_id. A just-created
// case may legitimately be missing from the response for a while; callers
// that need read-after-write go through Lookup instead.
func (c *Client) GetCasesByExternalID(ctx context.Context, externalID string) ([]Case, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("external_id", externalID)

	reqURL := c.listCasesURL() + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRetryableError(err, "case list failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: listing cases returned HTTP %d",
			errors.ErrExternalAPIError, resp.StatusCode)
	}

	var result struct {
		Objects []Case `json:"objects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode case list response: %w", err)
	}
	return result.Objects, nil
}

// buildUploadPayload renders rows to CSV and wraps them in the multipart form
// the bulk upload API expects.
func buildUploadPayload(columns []string, rows []casedata.Row, opts UploadOptions) (*bytes.Buffer, string, error) {
	var csvBuf bytes.Buffer
	writer := csv.NewWriter(&csvBuf)
	if err := writer.Write(columns); err != nil {
		return nil, "", fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return nil, "", fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", fmt.Errorf("failed to flush CSV: %w", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", opts.CaseType+".csv")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(csvBuf.Bytes()); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}

	fields := map[string]string{
		"case_type":        opts.CaseType,
		"search_column":    opts.SearchColumn,
		"search_field":     opts.SearchField,
		"create_new_cases": opts.CreateNewCases,
	}
	for key, val := range fields {
		if err := form.WriteField(key, val); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}

	return &body, form.FormDataContentType(), nil
}
