package commcare

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caktus/commcare-utilities/internal/casedata"
	"github.com/caktus/commcare-utilities/internal/config"
	ccerrors "github.com/caktus/commcare-utilities/pkg/errors"
)

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.CommCare.BaseURL = baseURL
	cfg.CommCare.ProjectSlug = "demo"
	cfg.CommCare.Username = "uploader@example.com"
	cfg.CommCare.APIKey = "sekrit"
	cfg.CommCare.Timeout = 5 * time.Second
	cfg.CommCare.ContactCaseType = "contact"
	cfg.CommCare.PatientCaseType = "patient"
	cfg.CommCare.Upload.MaxRecordsPerParent = 100
	cfg.CommCare.Upload.PollInterval = time.Millisecond
	cfg.CommCare.Upload.CreateNewCases = "on"
	return cfg
}

func TestUploadCasesSuccess(t *testing.T) {
	var statusCalls int32
	var gotAuth, gotCaseType, gotSearchColumn, gotCSV string

	mux := http.NewServeMux()
	mux.HandleFunc("/a/demo/importer/excel/bulk_upload_api/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Error(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotCaseType = r.FormValue("case_type")
		gotSearchColumn = r.FormValue("search_column")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Error(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			t.Error(err)
			return
		}
		gotCSV = string(data)

		json.NewEncoder(w).Encode(map[string]string{
			"status_url": "http://" + r.Host + "/status",
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ApiKey uploader@example.com:sekrit", r.Header.Get("Authorization"))
		// Report the job in flight once before completing.
		if atomic.AddInt32(&statusCalls, 1) == 1 {
			json.NewEncoder(w).Encode(map[string]any{"state": uploadStateStarted})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"state": uploadStateSuccess})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	columns := []string{"contact_id", "first_name"}
	rows := []casedata.Row{
		{"contact_id": "id-1", "first_name": "Jane"},
		{"contact_id": "id-2", "first_name": "Ahmed"},
	}

	err := client.UploadCases(context.Background(), columns, rows, UploadOptions{
		CaseType:       "contact",
		SearchColumn:   "case_id",
		SearchField:    "case_id",
		CreateNewCases: "on",
	})
	require.NoError(t, err)

	assert.Equal(t, "ApiKey uploader@example.com:sekrit", gotAuth)
	assert.Equal(t, "contact", gotCaseType)
	assert.Equal(t, "case_id", gotSearchColumn)
	assert.Equal(t, int32(2), atomic.LoadInt32(&statusCalls))

	lines := strings.Split(strings.TrimSpace(gotCSV), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "contact_id,first_name", lines[0])
	assert.Equal(t, "id-1,Jane", lines[1])
	assert.Equal(t, "id-2,Ahmed", lines[2])
}

func TestUploadCasesCompletedWithErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a/demo/importer/excel/bulk_upload_api/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status_url": "http://" + r.Host + "/status",
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"state": uploadStateSuccess,
			"result": map[string]any{
				"errors": []map[string]string{
					{"title": "Invalid case_id", "description": "row 3 referenced an unknown case"},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.UploadCases(context.Background(),
		[]string{"contact_id"}, []casedata.Row{{"contact_id": "id-1"}}, UploadOptions{CaseType: "contact"})
	require.Error(t, err)

	var uploadErr *ccerrors.UploadError
	require.ErrorAs(t, err, &uploadErr)
	require.Len(t, uploadErr.Issues, 1)
	assert.Equal(t, "Invalid case_id", uploadErr.Issues[0].Title)
}

func TestUploadCasesFailedJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a/demo/importer/excel/bulk_upload_api/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status_url": "http://" + r.Host + "/status",
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"state": uploadStateFailed})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.UploadCases(context.Background(),
		[]string{"contact_id"}, []casedata.Row{{"contact_id": "id-1"}}, UploadOptions{CaseType: "contact"})
	require.Error(t, err)

	var uploadErr *ccerrors.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Message, "failure")
}

func TestUploadCasesRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.UploadCases(context.Background(),
		[]string{"contact_id"}, []casedata.Row{{"contact_id": "id-1"}}, UploadOptions{CaseType: "contact"})

	var uploadErr *ccerrors.UploadError
	require.ErrorAs(t, err, &uploadErr)
}

func TestUploadCasesServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.UploadCases(context.Background(),
		[]string{"contact_id"}, []casedata.Row{{"contact_id": "id-1"}}, UploadOptions{CaseType: "contact"})

	var retryable ccerrors.RetryableError
	require.ErrorAs(t, err, &retryable)
}

func TestUploadCasesEmptyBatch(t *testing.T) {
	client := NewClient(testConfig("http://unused"))
	err := client.UploadCases(context.Background(), []string{"contact_id"}, nil, UploadOptions{CaseType: "contact"})
	require.Error(t, err)
}

func TestUploadCasesMissingStatusURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.UploadCases(context.Background(),
		[]string{"contact_id"}, []casedata.Row{{"contact_id": "id-1"}}, UploadOptions{CaseType: "contact"})

	var uploadErr *ccerrors.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Message, "status_url")
}

func TestGetCasesByExternalID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/a/demo/api/v0.5/case/", r.URL.Path)
		assert.Equal(t, "F00BA4", r.URL.Query().Get("external_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"objects": []map[string]any{
				{"case_id": "abc123", "properties": map[string]string{"external_id": "F00BA4"}},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	cases, err := client.GetCasesByExternalID(context.Background(), "F00BA4")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "abc123", cases[0].CaseID)
	assert.Equal(t, "F00BA4", cases[0].Properties["external_id"])
}

func TestGetCaseWithChildren(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/a/demo/api/v0.5/case/abc123/", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("child_cases__full"))
		json.NewEncoder(w).Encode(map[string]any{
			"case_id": "abc123",
			"child_cases": map[string]any{
				"child1": map[string]any{
					"case_id":    "child1",
					"properties": map[string]string{"contact_id": "id-1"},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	got, err := client.GetCase(context.Background(), "abc123", true)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.CaseID)
	require.Contains(t, got.ChildCases, "child1")
	assert.Equal(t, "id-1", got.ChildCases["child1"].Properties["contact_id"])
}

func TestGetCaseNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.GetCase(context.Background(), "missing", false)
	require.ErrorIs(t, err, ccerrors.ErrExternalAPIError)
}

func TestCaseReportURL(t *testing.T) {
	client := NewClient(testConfig("https://www.commcarehq.org"))
	assert.Equal(t,
		"https://www.commcarehq.org/a/demo/reports/case_data/abc123/",
		client.CaseReportURL("abc123"))
}
