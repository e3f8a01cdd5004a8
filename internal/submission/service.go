package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RishiKendai/codetrace/internal/logger"
	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/RishiKendai/codetrace/internal/plagiarism"
	"github.com/RishiKendai/codetrace/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	SourceAPI    = "api"
	SourceStream = "stream"
)

type Runner interface {
	Run(ctx context.Context, runID, code string) *plagiarism.State
}

type SubmissionStore interface {
	InsertSubmission(ctx context.Context, submission *models.Submission) error
	ListRecent(ctx context.Context, limit int64) ([]*models.Submission, error)
}

type ReportStore interface {
	SaveReport(ctx context.Context, report *models.Report) error
	GetReportByRunID(ctx context.Context, runID string) (*models.Report, error)
}

type StatusStore interface {
	Record(ctx context.Context, runID string, step models.Step) error
	Get(ctx context.Context, runID string) (models.Step, error)
}

var ErrInvalidEncoding = errors.New("code must be UTF-8 text")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeCode turns raw file content into analysable source. A leading BOM is
// dropped; content that is not UTF-8 or holds only whitespace is rejected.
func DecodeCode(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(raw) {
		return "", ErrInvalidEncoding
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", plagiarism.ErrEmptyInput
	}
	return string(raw), nil
}

// Queue accepts jobs for background execution.
type Queue interface {
	Submit(job plagiarism.Job) error
}

// Service runs submissions through the pipeline and persists their reports.
type Service struct {
	runner      Runner
	submissions SubmissionStore
	reports     ReportStore
	status      StatusStore
	runTimeout  time.Duration
	log         zerolog.Logger
}

func NewService(runner Runner, submissions SubmissionStore, reports ReportStore, status StatusStore, runTimeout time.Duration) *Service {
	return &Service{
		runner:      runner,
		submissions: submissions,
		reports:     reports,
		status:      status,
		runTimeout:  runTimeout,
		log:         logger.For("submission"),
	}
}

// NewSubmission validates code and assigns a run id when none is given.
func NewSubmission(runID, filename, code, source string) (*models.Submission, error) {
	if strings.TrimSpace(code) == "" {
		return nil, plagiarism.ErrEmptyInput
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &models.Submission{
		RunID:     runID,
		Filename:  filename,
		Code:      code,
		Source:    source,
		CreatedAt: time.Now(),
	}, nil
}

// Analyze runs code synchronously without persisting anything.
func (s *Service) Analyze(ctx context.Context, filename, code string) *models.Report {
	runID := uuid.NewString()
	ctx, cancel := s.withRunTimeout(ctx)
	defer cancel()

	report := s.runner.Run(ctx, runID, code).Report(runID)
	report.Filename = filename
	report.CreatedAt = time.Now()
	return report
}

// Enqueue marks the submission as queued and hands it to the queue.
func (s *Service) Enqueue(ctx context.Context, queue Queue, submission *models.Submission) error {
	if s.status != nil {
		if err := s.status.Record(ctx, submission.RunID, models.StepQueued); err != nil {
			s.log.Warn().Err(err).Str("run_id", submission.RunID).Msg("Failed to record queued status")
		}
	}

	// The job outlives the request that queued it.
	return queue.Submit(plagiarism.JobFunc(func(ctx context.Context) error {
		return s.ProcessSubmission(ctx, submission)
	}))
}

// ProcessSubmission stores the submission, runs the pipeline and stores the report.
// A failed analysis is a stored report, not an error; errors mean the
// outcome could not be persisted and the submission may be retried.
func (s *Service) ProcessSubmission(ctx context.Context, submission *models.Submission) error {
	log := s.log.With().Str("run_id", submission.RunID).Str("source", submission.Source).Logger()

	if err := s.submissions.InsertSubmission(ctx, submission); err != nil {
		if !errors.Is(err, repository.ErrDuplicateSubmission) {
			return fmt.Errorf("failed to store submission: %w", err)
		}
		existing, getErr := s.reports.GetReportByRunID(ctx, submission.RunID)
		if getErr != nil {
			return fmt.Errorf("failed to look up report: %w", getErr)
		}
		if existing != nil {
			log.Info().Msg("Submission already analysed, skipping")
			return nil
		}
		log.Info().Msg("Resuming stored submission without report")
	}

	runCtx, cancel := s.withRunTimeout(ctx)
	state := s.runner.Run(runCtx, submission.RunID, submission.Code)
	cancel()

	report := state.Report(submission.RunID)
	report.Filename = submission.Filename

	// Persist even when the run was cancelled.
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer saveCancel()
	if err := s.reports.SaveReport(saveCtx, report); err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}

	log.Info().
		Bool("success", report.Success).
		Str("failed_stage", report.FailedStage).
		Int("comparisons", len(report.Comparisons)).
		Msg("Submission processed")
	return nil
}

// Report returns the stored report of runID, or nil when there is none yet.
func (s *Service) Report(ctx context.Context, runID string) (*models.Report, error) {
	return s.reports.GetReportByRunID(ctx, runID)
}

// Recent lists the latest submissions, newest first.
func (s *Service) Recent(ctx context.Context, limit int64) ([]*models.Submission, error) {
	return s.submissions.ListRecent(ctx, limit)
}

// Status returns the current step of runID. Once the live status has
// expired the step of the stored report is used.
func (s *Service) Status(ctx context.Context, runID string) (models.Step, error) {
	if s.status != nil {
		step, err := s.status.Get(ctx, runID)
		if err == nil {
			return step, nil
		}
		if !errors.Is(err, plagiarism.ErrUnknownRun) {
			return "", err
		}
	}

	report, err := s.reports.GetReportByRunID(ctx, runID)
	if err != nil {
		return "", err
	}
	if report == nil {
		return "", plagiarism.ErrUnknownRun
	}
	return report.Step, nil
}

func (s *Service) withRunTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.runTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.runTimeout)
}
