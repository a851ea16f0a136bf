package services

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/invoice"
	"github.com/v2fin/backoffice/internal/models"
	apperrors "github.com/v2fin/backoffice/pkg/errors"
	"github.com/v2fin/backoffice/pkg/logger"
	"github.com/v2fin/backoffice/pkg/mail"
	"github.com/v2fin/backoffice/pkg/metrics"
)

var (
	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = apperrors.New("JOB_NOT_FOUND", "Invoice job not found", http.StatusNotFound)
	// ErrJobNotCompleted guards downloads of unfinished jobs.
	ErrJobNotCompleted = apperrors.New("JOB_NOT_COMPLETED", "Job has not completed yet", http.StatusBadRequest)
	// ErrQueueFull is returned when the worker queue cannot accept more jobs.
	ErrQueueFull = apperrors.New("JOB_QUEUE_FULL", "Too many jobs queued, please try again later", http.StatusServiceUnavailable)
)

const (
	defaultWorkers     = 2
	defaultEntityDelay = 2 * time.Second
	defaultStuckAfter  = 30 * time.Minute
	jobQueueCapacity   = 64

	cancelledByAdminMessage = "Job cancelled by admin"
	stuckJobMessage         = "Job marked as failed due to timeout (stuck for more than 30 minutes)"
	resumeValidateMessage   = "Failed to re-validate Excel file during resume"
	resumeTemplateMessage   = "Template not found during resume"
)

// JobServiceConfig tunes the invoice pipeline.
type JobServiceConfig struct {
	// Workers bounds how many jobs generate concurrently. Default 2.
	Workers int
	// EntityDelay is the throttle between entities within a job. Default 2s;
	// tests set 0.
	EntityDelay time.Duration
	// OutputRoot is the directory under which each job gets its own output
	// folder.
	OutputRoot string
	// StuckAfter is how long a job may sit in processing before the sweeper
	// fails it. Default 30 minutes.
	StuckAfter time.Duration
}

type jobRequest struct {
	jobID string
	fresh bool
}

// SubmitJobInput carries everything needed to enqueue a generation batch.
type SubmitJobInput struct {
	CreatedBy     string
	TemplateID    string
	InputFileName string
	InputFilePath string
	InvoiceYear   string
}

// JobView is the status projection returned to clients.
type JobView struct {
	JobID             string     `json:"job_id"`
	Status            string     `json:"status"`
	TemplateName      string     `json:"template_name"`
	InputFileName     string     `json:"input_file_name"`
	InvoiceYear       string     `json:"invoice_year"`
	TotalEntities     int        `json:"total_entities"`
	ProcessedEntities int        `json:"processed_entities"`
	Progress          float64    `json:"progress"`
	GeneratedFiles    []string   `json:"generated_files"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	StartedAt         *time.Time `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ListJobsOptions controls job listing.
type ListJobsOptions struct {
	Page     int
	PageSize int
	Status   string
}

// JobService owns the invoice generation pipeline: a bounded worker pool
// pulls queued jobs and walks entity by entity, persisting progress and
// re-checking job status between entities so cancel and pause take effect
// mid-batch.
type JobService struct {
	db        *gorm.DB
	templates *TemplateService
	mailer    mail.Mailer
	cfg       JobServiceConfig
	now       func() time.Time

	queue chan jobRequest
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewJobService constructs a JobService. The mailer may be nil.
func NewJobService(db *gorm.DB, templates *TemplateService, mailer mail.Mailer, cfg JobServiceConfig) (*JobService, error) {
	if db == nil {
		return nil, errors.New("job service: db is required")
	}
	if templates == nil {
		return nil, errors.New("job service: template service is required")
	}
	if cfg.OutputRoot == "" {
		return nil, errors.New("job service: output root is required")
	}

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.EntityDelay < 0 {
		cfg.EntityDelay = defaultEntityDelay
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = defaultStuckAfter
	}

	return &JobService{
		db:        db,
		templates: templates,
		mailer:    mailer,
		cfg:       cfg,
		now:       time.Now,
		queue:     make(chan jobRequest, jobQueueCapacity),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Stop is called.
func (s *JobService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go s.worker(ctx, i)
		}
	})
}

// Stop drains the pool and waits for in-flight jobs to reach a stable state.
func (s *JobService) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *JobService) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	log := logger.WithModule("invoice-worker").With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case request := <-s.queue:
			if err := s.RunJob(ctx, request.jobID, request.fresh); err != nil {
				log.Error("Job run failed",
					zap.String("job_id", request.jobID),
					zap.Error(err))
			}
		}
	}
}

// Submit validates the uploaded workbook, creates the job record and queues
// it for the worker pool. The response carries the pending job so clients
// can poll immediately.
func (s *JobService) Submit(ctx context.Context, input SubmitJobInput) (*models.InvoiceJob, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.InvoiceYear) == "" {
		return nil, apperrors.NewBadRequest("invoice year is required")
	}

	template, err := s.templates.GetByID(ctx, input.TemplateID)
	if err != nil {
		return nil, err
	}

	entities, err := invoice.ValidateWorkbook(input.InputFilePath)
	if err != nil {
		var verr *invoice.ValidationError
		if errors.As(err, &verr) {
			return nil, apperrors.NewBadRequest(verr.Message)
		}
		return nil, err
	}

	jobID := uuid.NewString()
	job := models.InvoiceJob{
		JobID:           jobID,
		Status:          models.JobStatusPending,
		CreatedBy:       input.CreatedBy,
		TemplateID:      template.ID,
		InputFileName:   input.InputFileName,
		InputFilePath:   input.InputFilePath,
		InvoiceYear:     strings.TrimSpace(input.InvoiceYear),
		TotalEntities:   len(entities),
		OutputDirectory: filepath.Join(s.cfg.OutputRoot, jobID),
		GeneratedFiles:  datatypes.JSON([]byte("[]")),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusPending).Inc()

	if err := s.enqueue(jobID, true); err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *JobService) enqueue(jobID string, fresh bool) error {
	select {
	case s.queue <- jobRequest{jobID: jobID, fresh: fresh}:
		return nil
	default:
		return ErrQueueFull
	}
}

// RunJob executes one generation run for the given job. A fresh run wipes
// the output directory and resets progress before regenerating; this is the
// path for both first runs and resume-restarts. Exposed so tests can drive
// the pipeline synchronously.
func (s *JobService) RunJob(ctx context.Context, jobID string, fresh bool) error {
	ctx = ensureContext(ctx)

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	// A cancel can land between enqueue and pickup.
	if job.IsTerminal() {
		return nil
	}

	generation := job.RunGeneration

	entities, err := invoice.ValidateWorkbook(job.InputFilePath)
	if err != nil {
		return s.failRun(ctx, job, generation, fmt.Sprintf("Input file validation failed: %v", err))
	}

	if fresh {
		if err := os.RemoveAll(job.OutputDirectory); err != nil {
			return s.failRun(ctx, job, generation, fmt.Sprintf("Failed to reset output directory: %v", err))
		}
	}
	if err := os.MkdirAll(job.OutputDirectory, 0o755); err != nil {
		return s.failRun(ctx, job, generation, fmt.Sprintf("Failed to create output directory: %v", err))
	}

	started := s.now()
	updates := map[string]any{
		"status":     models.JobStatusProcessing,
		"started_at": &started,
	}
	if fresh {
		updates["processed_entities"] = 0
		updates["generated_files"] = datatypes.JSON([]byte("[]"))
		updates["error_message"] = ""
	}
	applied, err := s.applyRun(ctx, job, generation, updates)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if !applied {
		return nil
	}
	metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusProcessing).Inc()
	metrics.ActiveInvoiceJobs.Inc()
	defer metrics.ActiveInvoiceJobs.Dec()

	generated := []string{}
	processed := 0

	for _, row := range entities {
		// Honour cancel/pause requested while the batch is running.
		current, err := s.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		if current.RunGeneration != generation {
			logger.Info("Job run superseded by resume", zap.String("job_id", jobID))
			return nil
		}
		switch current.Status {
		case models.JobStatusCancelled:
			logger.Info("Job cancelled mid-batch", zap.String("job_id", jobID))
			return nil
		case models.JobStatusPaused:
			logger.Info("Job paused mid-batch",
				zap.String("job_id", jobID),
				zap.Int("processed", processed))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Entities without a path are validated but never rendered.
		if strings.TrimSpace(row.EntityPath) == "" {
			continue
		}

		files, err := invoice.RenderEntity(row, job.InvoiceYear, job.OutputDirectory)
		if err != nil {
			logger.Error("Entity generation failed, skipping",
				zap.String("job_id", jobID),
				zap.String("entity_id", row.EntityID),
				zap.Error(err))
			continue
		}

		generated = append(generated, files...)
		processed++
		metrics.InvoiceEntitiesProcessed.Inc()

		encoded, err := json.Marshal(generated)
		if err != nil {
			return fmt.Errorf("marshal generated files: %w", err)
		}
		progress := map[string]any{
			"processed_entities": processed,
			"generated_files":    datatypes.JSON(encoded),
		}
		applied, err := s.applyRun(ctx, job, generation, progress)
		if err != nil {
			return fmt.Errorf("persist progress: %w", err)
		}
		if !applied {
			logger.Info("Job run superseded by resume", zap.String("job_id", jobID))
			return nil
		}

		if s.cfg.EntityDelay > 0 {
			select {
			case <-time.After(s.cfg.EntityDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	completed := s.now()
	finish := map[string]any{
		"status":       models.JobStatusCompleted,
		"completed_at": &completed,
	}
	finished, err := s.applyRun(ctx, job, generation, finish)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if !finished {
		return nil
	}
	metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusCompleted).Inc()

	s.notifyCompleted(ctx, job, len(generated))

	logger.Info("Job completed",
		zap.String("job_id", jobID),
		zap.Int("entities", processed),
		zap.Int("files", len(generated)))

	return nil
}

// Cancel stops a job from any non-terminal state.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*models.InvoiceJob, error) {
	ctx = ensureContext(ctx)

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, apperrors.NewStateConflict(fmt.Sprintf("Job is already %s", job.Status))
	}

	completed := s.now()
	updates := map[string]any{
		"status":        models.JobStatusCancelled,
		"error_message": cancelledByAdminMessage,
		"completed_at":  &completed,
	}
	if err := s.db.WithContext(ctx).Model(job).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusCancelled).Inc()

	return s.loadJob(ctx, jobID)
}

// Pause suspends a processing job between entities.
func (s *JobService) Pause(ctx context.Context, jobID string) (*models.InvoiceJob, error) {
	ctx = ensureContext(ctx)

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusProcessing {
		return nil, apperrors.NewStateConflict(fmt.Sprintf("Only processing jobs can be paused, job is %s", job.Status))
	}

	if err := s.db.WithContext(ctx).Model(job).Update("status", models.JobStatusPaused).Error; err != nil {
		return nil, fmt.Errorf("pause job: %w", err)
	}
	metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusPaused).Inc()

	return s.loadJob(ctx, jobID)
}

// Resume moves a paused job straight back to processing and requeues it.
// The input workbook and template are re-validated from disk first; the
// restarted run regenerates the output directory from scratch, and the run
// generation is bumped so any writer left over from the paused run goes
// stale.
func (s *JobService) Resume(ctx context.Context, jobID string) (*models.InvoiceJob, error) {
	ctx = ensureContext(ctx)

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPaused {
		return nil, apperrors.NewStateConflict(fmt.Sprintf("Only paused jobs can be resumed, job is %s", job.Status))
	}

	if _, err := invoice.ValidateWorkbook(job.InputFilePath); err != nil {
		if err := s.failJob(ctx, job, resumeValidateMessage); err != nil {
			return nil, err
		}
		return nil, apperrors.NewBadRequest(resumeValidateMessage)
	}

	template, err := s.templates.GetByID(ctx, job.TemplateID)
	if err != nil || !fileExists(template.FilePath) {
		if err := s.failJob(ctx, job, resumeTemplateMessage); err != nil {
			return nil, err
		}
		return nil, apperrors.NewBadRequest(resumeTemplateMessage)
	}

	started := s.now()
	result := s.db.WithContext(ctx).Model(job).
		Where("status = ?", models.JobStatusPaused).
		Updates(map[string]any{
			"status":         models.JobStatusProcessing,
			"started_at":     &started,
			"run_generation": gorm.Expr("run_generation + 1"),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("resume job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewStateConflict("Job is no longer paused")
	}
	metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusProcessing).Inc()

	if err := s.enqueue(jobID, true); err != nil {
		// No worker will pick the job up; put it back so resume can be
		// retried instead of leaving it processing unattended.
		_ = s.db.WithContext(ctx).Model(job).Update("status", models.JobStatusPaused).Error
		return nil, err
	}

	return s.loadJob(ctx, jobID)
}

// Status returns the client-facing view of one job.
func (s *JobService) Status(ctx context.Context, jobID string) (*JobView, error) {
	ctx = ensureContext(ctx)

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return s.toView(job), nil
}

// List returns a page of jobs, newest first.
func (s *JobService) List(ctx context.Context, opts ListJobsOptions) ([]JobView, int64, error) {
	ctx = ensureContext(ctx)

	page, pageSize := normalizePagination(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.InvoiceJob{})
	if status := strings.TrimSpace(opts.Status); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	var jobs []models.InvoiceJob
	err := query.
		Preload("Template").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	views := make([]JobView, len(jobs))
	for i := range jobs {
		views[i] = *s.toView(&jobs[i])
	}

	return views, total, nil
}

// SweepStuck fails every job that has been processing for longer than the
// configured staleness window. Returns how many jobs were failed.
func (s *JobService) SweepStuck(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().Add(-s.cfg.StuckAfter)
	completed := s.now()

	result := s.db.WithContext(ctx).Model(&models.InvoiceJob{}).
		Where("status = ? AND started_at < ?", models.JobStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":        models.JobStatusFailed,
			"error_message": stuckJobMessage,
			"completed_at":  &completed,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("sweep stuck jobs: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusFailed).Add(float64(result.RowsAffected))
		logger.Warn("Failed stuck invoice jobs", zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

// ZipTo streams a zip archive of a completed job's generated files. Files
// missing on disk are skipped rather than failing the download.
func (s *JobService) ZipTo(ctx context.Context, jobID string, w io.Writer) error {
	ctx = ensureContext(ctx)

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusCompleted {
		return ErrJobNotCompleted
	}

	files := decodeFiles(job.GeneratedFiles)

	archive := zip.NewWriter(w)
	for _, path := range files {
		source, err := os.Open(path)
		if err != nil {
			logger.Warn("Skipping missing generated file",
				zap.String("job_id", jobID),
				zap.String("path", path))
			continue
		}

		entry, err := archive.Create(filepath.Base(path))
		if err != nil {
			source.Close()
			return fmt.Errorf("create zip entry: %w", err)
		}
		if _, err := io.Copy(entry, source); err != nil {
			source.Close()
			return fmt.Errorf("write zip entry: %w", err)
		}
		source.Close()
	}

	if err := archive.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}

	return nil
}

func (s *JobService) loadJob(ctx context.Context, jobID string) (*models.InvoiceJob, error) {
	var job models.InvoiceJob
	err := s.db.WithContext(ctx).Preload("Template").Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return &job, nil
}

// applyRun performs a job update conditioned on the run generation the
// caller observed when it loaded the job. A resume bumps the stored
// generation, so writes from the superseded run match zero rows and report
// applied=false instead of clobbering the newer run's state.
func (s *JobService) applyRun(ctx context.Context, job *models.InvoiceJob, generation int, updates map[string]any) (bool, error) {
	result := s.db.WithContext(ctx).Model(job).
		Where("run_generation = ?", generation).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *JobService) failRun(ctx context.Context, job *models.InvoiceJob, generation int, message string) error {
	completed := s.now()
	applied, err := s.applyRun(ctx, job, generation, map[string]any{
		"status":        models.JobStatusFailed,
		"error_message": message,
		"completed_at":  &completed,
	})
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if applied {
		metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusFailed).Inc()
	}
	return nil
}

func (s *JobService) failJob(ctx context.Context, job *models.InvoiceJob, message string) error {
	completed := s.now()
	updates := map[string]any{
		"status":        models.JobStatusFailed,
		"error_message": message,
		"completed_at":  &completed,
	}
	if err := s.db.WithContext(ctx).Model(job).Updates(updates).Error; err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	metrics.InvoiceJobTransitions.WithLabelValues(models.JobStatusFailed).Inc()
	return nil
}

func (s *JobService) notifyCompleted(ctx context.Context, job *models.InvoiceJob, fileCount int) {
	if s.mailer == nil {
		return
	}

	var creator models.User
	if err := s.db.WithContext(ctx).First(&creator, "id = ?", job.CreatedBy).Error; err != nil {
		return
	}

	msg := mail.JobCompletedMessage(creator.Email, job.JobID, job.InvoiceYear, fileCount)
	if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		logger.Warn("Failed to send job completion email",
			zap.String("job_id", job.JobID),
			zap.Error(err))
	}
}

func (s *JobService) toView(job *models.InvoiceJob) *JobView {
	view := &JobView{
		JobID:             job.JobID,
		Status:            job.Status,
		InputFileName:     job.InputFileName,
		InvoiceYear:       job.InvoiceYear,
		TotalEntities:     job.TotalEntities,
		ProcessedEntities: job.ProcessedEntities,
		Progress:          job.Progress(),
		GeneratedFiles:    decodeFiles(job.GeneratedFiles),
		ErrorMessage:      job.ErrorMessage,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
		CreatedAt:         job.CreatedAt,
	}
	if job.Template != nil {
		view.TemplateName = job.Template.Name
	}
	return view
}

func decodeFiles(raw datatypes.JSON) []string {
	files := []string{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &files)
	}
	return files
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
