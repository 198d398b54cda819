package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/caktus/commcare-utilities/internal/casedata"
	"github.com/caktus/commcare-utilities/internal/commcare"
	"github.com/caktus/commcare-utilities/internal/config"
	"github.com/caktus/commcare-utilities/internal/logger"
	ccerrors "github.com/caktus/commcare-utilities/pkg/errors"
)

// CaseService is the slice of the CommCare client the orchestrator uses.
type CaseService interface {
	UploadCases(ctx context.Context, columns []string, rows []casedata.Row, opts commcare.UploadOptions) error
	GetCase(ctx context.Context, caseID string, includeChildCases bool) (*commcare.Case, error)
}

// ParentResolver resolves a just-created case by its external id, retrying
// past CommCare's read-after-write lag.
type ParentResolver interface {
	CasesByExternalID(ctx context.Context, externalID string) ([]commcare.Case, error)
}

// Service uploads validated, normalized legacy contacts in bounded batches.
// CommCare requires every contact case to declare a parent, and imported
// legacy contacts have none, so disposable dummy patients are created as
// grouping containers, one per batch of at most MaxRecordsPerParent contacts.
type Service struct {
	cases        CaseService
	lookup       ParentResolver
	cfg          *config.Config
	maxPerParent int
	log          zerolog.Logger
}

func NewService(cfg *config.Config, cases CaseService, lookup ParentResolver) *Service {
	return &Service{
		cases:        cases,
		lookup:       lookup,
		cfg:          cfg,
		maxPerParent: cfg.CommCare.Upload.MaxRecordsPerParent,
		log:          logger.Get(),
	}
}

// UploadContacts uploads contacts batch by batch and returns a map of
// contact_id → CommCare case_id for every contact confirmed created. The map
// is built incrementally: a failed batch contributes nothing but never erases
// what earlier batches accumulated, and the run never aborts mid-loop.
// Callers diff the map against their input to know what needs a retry.
func (s *Service) UploadContacts(ctx context.Context, contacts []casedata.Row, columns []string, extra map[string]string) (map[string]string, error) {
	result := make(map[string]string)
	if len(contacts) == 0 {
		return result, nil
	}

	for i, contact := range contacts {
		if contact[ContactIDField] == "" {
			return nil, fmt.Errorf("contact %d is missing a %s value", i, ContactIDField)
		}
	}

	batches := chunkRows(contacts, s.maxPerParent)
	s.log.Info().
		Int("num_contacts", len(contacts)).
		Int("num_batches", len(batches)).
		Int("batch_size", s.maxPerParent).
		Msg("Planning contact upload")

	parents, err := s.createDummyPatients(ctx, len(batches))
	if err != nil {
		return nil, err
	}

	uploadCols := contactColumns(columns, extra)
	for i, batch := range batches {
		batchNum := i + 1
		// pop the next parent; each is consumed exactly once
		parentID := parents[i]
		if parentID == "" {
			s.log.Error().Int("batch", batchNum).Msg("No resolved parent for batch, skipping")
			continue
		}

		if err := s.uploadBatch(ctx, batch, uploadCols, parentID, extra, result); err != nil {
			// Contained at the batch boundary: if early batches succeeded and
			// a later one fails, the caller still needs the partial result so
			// already-created contacts are not re-imported on the next run.
			s.logBatchFailure(batchNum, err)
			continue
		}
		s.log.Info().Int("batch", batchNum).Int("size", len(batch)).Msg("Batch uploaded")
	}

	return result, nil
}

// createDummyPatients bulk-creates count patient stubs in one call and
// resolves each one's case id. Entries that cannot be resolved are left
// empty; their batch is skipped rather than failing the run.
func (s *Service) createDummyPatients(ctx context.Context, count int) ([]string, error) {
	externalIDs := make([]string, count)
	rows := make([]casedata.Row, count)
	for i := range externalIDs {
		externalIDs[i] = NewExternalID()
		rows[i] = dummyPatientRow(externalIDs[i])
	}

	s.log.Info().Int("num_patients", count).Msg("Generating dummy patients")
	err := s.cases.UploadCases(ctx, patientColumns, rows, commcare.UploadOptions{
		CaseType:       s.cfg.CommCare.PatientCaseType,
		SearchColumn:   "case_id",
		SearchField:    "case_id",
		CreateNewCases: s.cfg.CommCare.Upload.CreateNewCases,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dummy patients: %w", err)
	}

	parents := make([]string, count)
	for i, extID := range externalIDs {
		cases, err := s.lookup.CasesByExternalID(ctx, extID)
		if err != nil {
			s.log.Warn().Err(err).Str("external_id", extID).Msg("Dummy patient never became visible")
			continue
		}
		parents[i] = cases[0].CaseID
	}
	return parents, nil
}

func (s *Service) uploadBatch(ctx context.Context, batch []casedata.Row, columns []string, parentID string, extra map[string]string, result map[string]string) error {
	prepped := make([]casedata.Row, len(batch))
	for i, contact := range batch {
		prepped[i] = contactRow(contact, parentID, extra)
	}

	err := s.cases.UploadCases(ctx, columns, prepped, commcare.UploadOptions{
		CaseType:       s.cfg.CommCare.ContactCaseType,
		SearchColumn:   "case_id",
		SearchField:    "case_id",
		CreateNewCases: s.cfg.CommCare.Upload.CreateNewCases,
	})
	if err != nil {
		return err
	}

	// the upload response does not echo created case ids, so re-fetch the
	// parent with its children and read them off
	parentCase, err := s.cases.GetCase(ctx, parentID, true)
	if err != nil {
		return err
	}
	for _, child := range parentCase.ChildCases {
		contactID := child.Properties[ContactIDField]
		if contactID == "" {
			continue
		}
		result[contactID] = child.CaseID
	}
	return nil
}

func (s *Service) logBatchFailure(batchNum int, err error) {
	var uploadErr *ccerrors.UploadError
	switch {
	case errors.As(err, &uploadErr):
		s.log.Error().Int("batch", batchNum).Int("reported_errors", len(uploadErr.Issues)).
			Err(err).Msg("CommCare rejected batch")
	case errors.Is(err, ccerrors.ErrLookupTimeout):
		s.log.Error().Int("batch", batchNum).Err(err).Msg("Batch resolution timed out")
	default:
		s.log.Error().Int("batch", batchNum).Err(err).Msg("Unexpected error processing batch")
	}
}
