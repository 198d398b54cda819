package db

import (
	"context"
	"database/sql"

	"github.com/caktus/commcare-utilities/internal/model"
)

type Repository interface {
	CreateImportRun(ctx context.Context, run *model.ImportRun) error
	GetImportRun(ctx context.Context, runID string) (*model.ImportRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage *string) error
	UpdateRunCounts(ctx context.Context, runID string, total, valid, uploaded int) error
	InsertOutcomes(ctx context.Context, outcomes []model.RecordOutcome) error
	GetRunStatus(ctx context.Context, runID string) (*model.StatusResponse, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateImportRun(ctx context.Context, run *model.ImportRun) error {
	query := `INSERT INTO import_runs (id, sheet_path, data_dict_path, status, created_at, updated_at)
			  VALUES (?, ?, ?, ?, NOW(), NOW())`
	_, err := r.db.ExecContext(ctx, query, run.ID, run.SheetPath, run.DataDictPath, run.Status)
	return err
}

func (r *repository) GetImportRun(ctx context.Context, runID string) (*model.ImportRun, error) {
	query := `SELECT id, sheet_path, data_dict_path, status, total_records, valid_records,
					 uploaded_count, error_message, created_at, updated_at
			  FROM import_runs WHERE id = ?`

	var run model.ImportRun
	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.SheetPath, &run.DataDictPath, &run.Status,
		&run.TotalRecords, &run.ValidRecords, &run.UploadedCount,
		&run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage *string) error {
	query := `UPDATE import_runs SET status = ?, error_message = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, errorMessage, runID)
	return err
}

func (r *repository) UpdateRunCounts(ctx context.Context, runID string, total, valid, uploaded int) error {
	query := `UPDATE import_runs SET total_records = ?, valid_records = ?, uploaded_count = ?,
					 updated_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, total, valid, uploaded, runID)
	return err
}

func (r *repository) InsertOutcomes(ctx context.Context, outcomes []model.RecordOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO record_outcomes
			  (run_id, row_num, contact_id, is_valid, validation_problems, case_id, case_url, uploaded)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	for _, o := range outcomes {
		_, err := tx.ExecContext(ctx, query, o.RunID, o.RowNum, o.ContactID, o.IsValid,
			o.ValidationProblems, o.CaseID, o.CaseURL, o.Uploaded)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *repository) GetRunStatus(ctx context.Context, runID string) (*model.StatusResponse, error) {
	query := `SELECT id, status, total_records, valid_records, uploaded_count, updated_at
			  FROM import_runs WHERE id = ?`

	var response model.StatusResponse
	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&response.RunID, &response.Status, &response.TotalRecords,
		&response.ValidRecords, &response.UploadedCount, &response.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// distinct validation problems for failed rows, for the status surface
	problemQuery := `SELECT DISTINCT validation_problems FROM record_outcomes
					 WHERE run_id = ? AND is_valid = FALSE AND validation_problems IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, problemQuery, runID)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var problem string
			if rows.Scan(&problem) == nil {
				response.Problems = append(response.Problems, problem)
			}
		}
	}

	return &response, nil
}
