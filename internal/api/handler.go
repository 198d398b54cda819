package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caktus/commcare-utilities/internal/config"
	"github.com/caktus/commcare-utilities/internal/db"
	"github.com/caktus/commcare-utilities/internal/logger"
	"github.com/caktus/commcare-utilities/internal/model"
	"github.com/caktus/commcare-utilities/internal/queue"
	"github.com/caktus/commcare-utilities/internal/storage"
)

type Handler struct {
	repo     db.Repository
	producer *queue.Producer
	storage  storage.Storage
	cfg      *config.Config
	log      zerolog.Logger
}

func NewHandler(
	repo db.Repository,
	producer *queue.Producer,
	store storage.Storage,
	cfg *config.Config,
) *Handler {
	return &Handler{
		repo:     repo,
		producer: producer,
		storage:  store,
		cfg:      cfg,
		log:      logger.Get(),
	}
}

// CreateImport registers an import run for an already-uploaded sheet and
// enqueues the job for the import worker.
func (h *Handler) CreateImport(c *gin.Context) {
	var req model.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	for _, key := range []string{req.SheetPath, req.DataDictPath} {
		exists, err := h.storage.Exists(c.Request.Context(), key)
		if err != nil || !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found in storage", "key": key})
			return
		}
	}

	run := &model.ImportRun{
		ID:           uuid.NewString(),
		SheetPath:    req.SheetPath,
		DataDictPath: req.DataDictPath,
		Status:       model.RunStatusPending,
	}
	if err := h.repo.CreateImportRun(c.Request.Context(), run); err != nil {
		h.log.Error().Err(err).Msg("Failed to create import run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create import run"})
		return
	}

	job := model.ImportJob{
		RunID:          run.ID,
		SheetPath:      req.SheetPath,
		DataDictPath:   req.DataDictPath,
		RequiredOneOfs: req.RequiredOneOfs,
		ExtraFields:    req.ExtraFields,
	}
	if err := h.producer.EnqueueImportJob(c.Request.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue import job"})
		return
	}

	h.log.Info().
		Str("run_id", run.ID).
		Str("sheet_path", req.SheetPath).
		Msg("Import job enqueued")

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// GetImportStatus reports run progress: counts, status, and the distinct
// validation problems seen so far.
func (h *Handler) GetImportStatus(c *gin.Context) {
	runID := c.Param("run_id")
	if _, err := uuid.Parse(runID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
		return
	}

	status, err := h.repo.GetRunStatus(c.Request.Context(), runID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Import run not found"})
			return
		}
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}
