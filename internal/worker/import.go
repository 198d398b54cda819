package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caktus/commcare-utilities/internal/casedata"
	"github.com/caktus/commcare-utilities/internal/commcare"
	"github.com/caktus/commcare-utilities/internal/config"
	"github.com/caktus/commcare-utilities/internal/db"
	"github.com/caktus/commcare-utilities/internal/logger"
	"github.com/caktus/commcare-utilities/internal/model"
	"github.com/caktus/commcare-utilities/internal/queue"
	"github.com/caktus/commcare-utilities/internal/schema"
	"github.com/caktus/commcare-utilities/internal/sheet"
	"github.com/caktus/commcare-utilities/internal/storage"
	"github.com/caktus/commcare-utilities/internal/upload"
)

// ImportWorker consumes import jobs and runs the full pipeline: fetch the
// sheet and data dictionary, validate and normalize the case data, upload
// contacts in batches, and persist per-row outcomes.
type ImportWorker struct {
	cfg        *config.Config
	repo       db.Repository
	storage    storage.Storage
	client     *commcare.Client
	uploader   *upload.Service
	consumer   *queue.Consumer
	workerPool *WorkerPool
	log        zerolog.Logger
}

func NewImportWorker(
	cfg *config.Config,
	repo db.Repository,
	store storage.Storage,
	redisClient *queue.RedisClient,
) *ImportWorker {
	client := commcare.NewClient(cfg)
	lookup := commcare.NewLookup(client, cfg.CommCare.Lookup)
	return &ImportWorker{
		cfg:        cfg,
		repo:       repo,
		storage:    store,
		client:     client,
		uploader:   upload.NewService(cfg, client, lookup),
		consumer:   queue.NewConsumer(redisClient, cfg),
		workerPool: NewWorkerPool(cfg.Workers.Import.Count),
		log:        logger.Get(),
	}
}

func (w *ImportWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting import worker")
	w.workerPool.Start(ctx)
	return w.consumer.ConsumeImportQueue(ctx, w.handleMessage)
}

func (w *ImportWorker) Stop() {
	w.log.Info().Msg("Stopping import worker")
	w.workerPool.Stop()
}

func (w *ImportWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal import job")
		return err
	}

	w.log.Info().Str("run_id", job.RunID).Str("sheet_path", job.SheetPath).Msg("Processing import job")

	w.workerPool.Submit(func(ctx context.Context) error {
		return w.processRun(ctx, job)
	})

	return nil
}

func (w *ImportWorker) processRun(ctx context.Context, job model.ImportJob) error {
	log := w.log.With().Str("run_id", job.RunID).Logger()

	if err := w.repo.UpdateRunStatus(ctx, job.RunID, model.RunStatusRunning, nil); err != nil {
		log.Error().Err(err).Msg("Failed to mark run as running")
		return err
	}

	if err := w.runImport(ctx, job, log); err != nil {
		log.Error().Err(err).Msg("Import run failed")
		errorMsg := err.Error()
		w.repo.UpdateRunStatus(ctx, job.RunID, model.RunStatusFailed, &errorMsg)
		return err
	}
	return nil
}

func (w *ImportWorker) runImport(ctx context.Context, job model.ImportJob, log zerolog.Logger) error {
	// the data dictionary drives everything downstream; schema problems are
	// fatal and must surface before any upload attempt
	log.Debug().Str("path", job.DataDictPath).Msg("Loading data dictionary")
	dictReader, err := w.storage.Download(ctx, job.DataDictPath)
	if err != nil {
		return fmt.Errorf("failed to download data dictionary: %w", err)
	}
	dict, err := schema.Load(dictReader)
	dictReader.Close()
	if err != nil {
		return err
	}

	log.Debug().Str("path", job.SheetPath).Msg("Downloading case data sheet")
	sheetReader, err := w.storage.Download(ctx, job.SheetPath)
	if err != nil {
		return fmt.Errorf("failed to download case data sheet: %w", err)
	}
	data, err := io.ReadAll(sheetReader)
	sheetReader.Close()
	if err != nil {
		return fmt.Errorf("failed to read case data sheet: %w", err)
	}

	table, err := sheet.Parse(data, job.SheetPath)
	if err != nil {
		return err
	}

	if problems := casedata.ValidateColumns(table.Columns, dict, dict.RequiredFields()); len(problems) > 0 {
		for _, p := range problems {
			log.Error().Msg(p)
		}
		return fmt.Errorf("case data columns failed validation: %d problems", len(problems))
	}

	rows := casedata.Clean(table.Columns, table.Rows, dict)
	annotated, err := casedata.Validate(table.Columns, rows, dict, job.RequiredOneOfs)
	if err != nil {
		return err
	}

	// every row gets a correlation id up front; invalid rows keep theirs so
	// the persisted outcome lines up with the sheet
	contactIDs := make([]string, len(annotated))
	for i := range annotated {
		contactIDs[i] = uuid.NewString()
	}

	var validRows []casedata.Row
	var validIdx []int
	for i, a := range annotated {
		if a.IsValid {
			validRows = append(validRows, a.Row)
			validIdx = append(validIdx, i)
		}
	}
	log.Info().
		Int("total", len(annotated)).
		Int("valid", len(validRows)).
		Msg("Validated case data")

	normalized, err := casedata.Normalize(table.Columns, validRows, dict, nil)
	if err != nil {
		return err
	}
	for j, i := range validIdx {
		normalized[j][upload.ContactIDField] = contactIDs[i]
	}

	columns := append([]string{upload.ContactIDField}, table.Columns...)
	result, err := w.uploader.UploadContacts(ctx, normalized, columns, job.ExtraFields)
	if err != nil {
		return err
	}

	outcomes := w.buildOutcomes(job.RunID, annotated, contactIDs, result)
	if err := w.repo.InsertOutcomes(ctx, outcomes); err != nil {
		log.Error().Err(err).Msg("Failed to persist record outcomes")
		return err
	}
	if err := w.repo.UpdateRunCounts(ctx, job.RunID, len(annotated), len(validRows), len(result)); err != nil {
		return err
	}

	status := model.RunStatusCompleted
	if len(result) < len(validRows) {
		status = model.RunStatusPartial
	}
	log.Info().
		Int("uploaded", len(result)).
		Str("status", string(status)).
		Msg("Import run finished")
	return w.repo.UpdateRunStatus(ctx, job.RunID, status, nil)
}

func (w *ImportWorker) buildOutcomes(runID string, annotated []casedata.Annotated, contactIDs []string, result map[string]string) []model.RecordOutcome {
	outcomes := make([]model.RecordOutcome, len(annotated))
	for i, a := range annotated {
		outcome := model.RecordOutcome{
			RunID:     runID,
			RowNum:    i + 1,
			ContactID: contactIDs[i],
			IsValid:   a.IsValid,
		}
		if !a.IsValid {
			problems := a.ProblemsString()
			outcome.ValidationProblems = &problems
		}
		if caseID, ok := result[contactIDs[i]]; ok {
			caseURL := w.client.CaseReportURL(caseID)
			outcome.CaseID = &caseID
			outcome.CaseURL = &caseURL
			outcome.Uploaded = true
		}
		outcomes[i] = outcome
	}
	return outcomes
}
