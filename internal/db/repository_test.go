package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caktus/commcare-utilities/internal/model"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewRepository(mockDB), mock
}

func TestCreateImportRun(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO import_runs").
		WithArgs("run-1", "imports/contacts.xlsx", "imports/dict.csv", string(model.RunStatusPending)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateImportRun(context.Background(), &model.ImportRun{
		ID:           "run-1",
		SheetPath:    "imports/contacts.xlsx",
		DataDictPath: "imports/dict.csv",
		Status:       model.RunStatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetImportRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "sheet_path", "data_dict_path", "status", "total_records",
		"valid_records", "uploaded_count", "error_message", "created_at", "updated_at",
	}).AddRow("run-1", "imports/contacts.xlsx", "imports/dict.csv", "COMPLETED", 250, 240, 240, nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM import_runs WHERE id = ?").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := repo.GetImportRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 250, run.TotalRecords)
	assert.Nil(t, run.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetImportRunNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM import_runs WHERE id = ?").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetImportRun(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateRunStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	msg := "data dictionary is unusable"
	mock.ExpectExec("UPDATE import_runs SET status").
		WithArgs(string(model.RunStatusFailed), msg, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateRunStatus(context.Background(), "run-1", model.RunStatusFailed, &msg)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunCounts(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE import_runs SET total_records").
		WithArgs(250, 240, 230, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateRunCounts(context.Background(), "run-1", 250, 240, 230)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOutcomes(t *testing.T) {
	repo, mock := newMockRepo(t)

	caseID := "abc123"
	caseURL := "https://www.commcarehq.org/a/demo/reports/case_data/abc123/"
	problems := "Invalid value for dob"
	outcomes := []model.RecordOutcome{
		{RunID: "run-1", RowNum: 1, ContactID: "id-1", IsValid: true, CaseID: &caseID, CaseURL: &caseURL, Uploaded: true},
		{RunID: "run-1", RowNum: 2, ContactID: "id-2", IsValid: false, ValidationProblems: &problems},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO record_outcomes").
		WithArgs("run-1", 1, "id-1", true, nil, caseID, caseURL, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO record_outcomes").
		WithArgs("run-1", 2, "id-2", false, problems, nil, nil, false).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repo.InsertOutcomes(context.Background(), outcomes)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOutcomesRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO record_outcomes").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.InsertOutcomes(context.Background(), []model.RecordOutcome{
		{RunID: "run-1", RowNum: 1, ContactID: "id-1"},
	})
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOutcomesEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)
	require.NoError(t, repo.InsertOutcomes(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT id, status, total_records").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "total_records", "valid_records", "uploaded_count", "updated_at",
		}).AddRow("run-1", "PARTIAL", 250, 240, 150, now))

	mock.ExpectQuery("SELECT DISTINCT validation_problems").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"validation_problems"}).
			AddRow("Invalid value for dob").
			AddRow("A value must be supplied for first_name"))

	status, err := repo.GetRunStatus(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", status.RunID)
	assert.Equal(t, string(model.RunStatusPartial), status.Status)
	assert.Equal(t, 250, status.TotalRecords)
	assert.Equal(t, 150, status.UploadedCount)
	assert.Equal(t, []string{
		"Invalid value for dob",
		"A value must be supplied for first_name",
	}, status.Problems)
	require.NoError(t, mock.ExpectationsWereMet())
}
