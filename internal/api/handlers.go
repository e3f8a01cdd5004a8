package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RishiKendai/codetrace/internal/config"
	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/RishiKendai/codetrace/internal/plagiarism"
	"github.com/RishiKendai/codetrace/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	// multipartOverhead leaves room for boundaries and headers around the file part.
	multipartOverhead = 64 << 10
)

// AnalysisService is what the handlers need from the submission service.
type AnalysisService interface {
	Analyze(ctx context.Context, filename, code string) *models.Report
	Enqueue(ctx context.Context, queue submission.Queue, sub *models.Submission) error
	Report(ctx context.Context, runID string) (*models.Report, error)
	Status(ctx context.Context, runID string) (models.Step, error)
	Recent(ctx context.Context, limit int64) ([]*models.Submission, error)
}

// Handler holds dependencies for handlers
type Handler struct {
	cfg     *config.Config
	service AnalysisService
	queue   submission.Queue
	runSem  chan struct{} // bounds synchronous analyses
}

func NewHandler(cfg *config.Config, service AnalysisService, queue submission.Queue) *Handler {
	return &Handler{
		cfg:     cfg,
		service: service,
		queue:   queue,
		runSem:  make(chan struct{}, max(1, cfg.MaxConcurrentRuns)),
	}
}

// SubmissionSummary lists a stored submission without its source text.
type SubmissionSummary struct {
	RunID     string    `json:"run_id"`
	Filename  string    `json:"filename,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

type StatusResponse struct {
	RunID string      `json:"run_id"`
	Step  models.Step `json:"step"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// Check analyses code sent as JSON and answers with the comparisons.
func (h *Handler) Check(c *gin.Context) {
	var req models.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	log.Info().Int("chars", len(req.Code)).Msg("Received code check request")
	h.analyze(c, "", req.Code)
}

// Upload analyses the UTF-8 text of a multipart "file" field.
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fileTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "No file provided",
			Code:  "NO_FILE",
		})
		return
	}
	if fileHeader.Size > h.cfg.MaxUploadBytes {
		h.fileTooLarge(c)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error().Err(err).Str("filename", fileHeader.Filename).Msg("Error reading file")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Error reading file",
			Code:  "INVALID_FILE",
		})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Error reading file",
			Code:  "INVALID_FILE",
		})
		return
	}
	if int64(len(content)) > h.cfg.MaxUploadBytes {
		h.fileTooLarge(c)
		return
	}

	code, err := submission.DecodeCode(content)
	if errors.Is(err, submission.ErrInvalidEncoding) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "File must be a text file with UTF-8 encoding",
			Code:  "INVALID_ENCODING",
		})
		return
	}

	log.Info().Str("filename", fileHeader.Filename).Int("chars", len(code)).Msg("Received file upload request")
	h.analyze(c, fileHeader.Filename, code)
}

func (h *Handler) analyze(c *gin.Context, filename, code string) {
	if strings.TrimSpace(code) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: plagiarism.ErrEmptyInput.Error(),
			Code:  "EMPTY_INPUT",
		})
		return
	}

	ctx := c.Request.Context()
	select {
	case h.runSem <- struct{}{}:
	case <-ctx.Done():
		c.JSON(http.StatusRequestTimeout, ErrorResponse{
			Error: "Request cancelled",
			Code:  "REQUEST_TIMEOUT",
		})
		return
	}
	defer func() { <-h.runSem }()

	report := h.service.Analyze(ctx, filename, code)
	c.JSON(http.StatusOK, models.NewCheckResponse(report))
}

func (h *Handler) fileTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
		Error: "File exceeds the maximum upload size of " + strconv.FormatInt(h.cfg.MaxUploadBytes, 10) + " bytes",
		Code:  "FILE_TOO_LARGE",
	})
}

// Submit queues code for background analysis.
func (h *Handler) Submit(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	sub, err := submission.NewSubmission("", req.Filename, req.Code, submission.SourceAPI)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "EMPTY_INPUT",
		})
		return
	}

	if err := h.service.Enqueue(c.Request.Context(), h.queue, sub); err != nil {
		log.Error().Err(err).Str("run_id", sub.RunID).Msg("Failed to queue submission")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Submission queue unavailable",
			Code:  "QUEUE_UNAVAILABLE",
		})
		return
	}

	c.JSON(http.StatusAccepted, models.SubmitResponse{
		RunID: sub.RunID,
		Step:  models.StepQueued,
	})
}

func (h *Handler) GetReport(c *gin.Context) {
	runID := c.Param("id")

	report, err := h.service.Report(c.Request.Context(), runID)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to get report")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to get report",
			Code:  "INTERNAL_ERROR",
		})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "No report found for run",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetStatus(c *gin.Context) {
	runID := c.Param("id")

	step, err := h.service.Status(c.Request.Context(), runID)
	if errors.Is(err, plagiarism.ErrUnknownRun) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Unknown run",
			Code:  "RUN_NOT_FOUND",
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to get status")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to get status",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{RunID: runID, Step: step})
}

func (h *Handler) ListSubmissions(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = min(n, maxListLimit)
	}

	subs, err := h.service.Recent(c.Request.Context(), int64(limit))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list submissions")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to list submissions",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	summaries := make([]SubmissionSummary, 0, len(subs))
	for _, s := range subs {
		summaries = append(summaries, SubmissionSummary{
			RunID:     s.RunID,
			Filename:  s.Filename,
			Source:    s.Source,
			CreatedAt: s.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"submissions": summaries})
}
