package services

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/database"
	"github.com/v2fin/backoffice/internal/models"
	apperrors "github.com/v2fin/backoffice/pkg/errors"
)

var workbookHeaders = []any{
	"Entity ID", "Entity Name", "Group Name", "Entity Path", "Inception Date",
	"Inception Benchmark", "Year Benchmark", "Performance Fee Rate", "Fee Cap",
	"Inception Performance", "Period Ending Market Value", "Period Performance",
	"Period Beginning Market Value",
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func writeEntityWorkbook(t *testing.T, dir string, rows ...[]any) string {
	t.Helper()

	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	all := append([][]any{workbookHeaders}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, file.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(dir, "entities.xlsx")
	require.NoError(t, file.SaveAs(path))
	return path
}

func entityRow(id, path string) []any {
	return []any{id, id + " Fund", "Test Group", path, "2020-01-15",
		8.0, 6.5, 15.0, 10.0, 12.0, 1000000.0, 9.0, 900000.0}
}

func newTestJobService(t *testing.T, db *gorm.DB) (*JobService, *TemplateService) {
	t.Helper()

	dir := t.TempDir()
	templates, err := NewTemplateService(db, filepath.Join(dir, "templates"))
	require.NoError(t, err)

	service, err := NewJobService(db, templates, nil, JobServiceConfig{
		OutputRoot:  filepath.Join(dir, "output"),
		EntityDelay: 0,
		Workers:     1,
	})
	require.NoError(t, err)

	return service, templates
}

func createTestTemplate(t *testing.T, templates *TemplateService) *models.InvoiceTemplate {
	t.Helper()

	template, err := templates.Upload(context.Background(), UploadTemplateInput{
		Name:      "Standard",
		FileName:  "standard.xlsx",
		Content:   bytes.NewReader([]byte("template-bytes")),
		IsDefault: true,
	})
	require.NoError(t, err)
	return template
}

func submitTestJob(t *testing.T, service *JobService, templates *TemplateService, rows ...[]any) *models.InvoiceJob {
	t.Helper()

	template := createTestTemplate(t, templates)
	input := writeEntityWorkbook(t, t.TempDir(), rows...)

	job, err := service.Submit(context.Background(), SubmitJobInput{
		CreatedBy:     createJobUser(t, service.db).ID,
		TemplateID:    template.ID,
		InputFileName: "entities.xlsx",
		InputFilePath: input,
		InvoiceYear:   "2025",
	})
	require.NoError(t, err)
	return job
}

func createJobUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	user := &models.User{
		Email:    "ops-" + time.Now().Format("150405.000000000") + "@example.com",
		Password: "hashed",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates,
		entityRow("ENT-001", "/funds/alpha"),
		entityRow("ENT-002", "/funds/beta"),
	)

	require.Equal(t, models.JobStatusPending, job.Status)
	require.Equal(t, 2, job.TotalEntities)
	require.Zero(t, job.ProcessedEntities)
	require.NotEmpty(t, job.JobID)
	require.Contains(t, job.OutputDirectory, job.JobID)
}

func TestSubmitRejectsInvalidWorkbook(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)
	template := createTestTemplate(t, templates)

	_, err := service.Submit(context.Background(), SubmitJobInput{
		CreatedBy:     createJobUser(t, db).ID,
		TemplateID:    template.ID,
		InputFileName: "missing.xlsx",
		InputFilePath: filepath.Join(t.TempDir(), "missing.xlsx"),
		InvoiceYear:   "2025",
	})
	require.Error(t, err)

	appErr := apperrors.FromError(err)
	require.Equal(t, 400, appErr.StatusCode)
	require.Equal(t, "File does not exist", appErr.Message)
}

func TestSubmitRejectsUnknownTemplate(t *testing.T) {
	db := openTestDB(t)
	service, _ := newTestJobService(t, db)

	_, err := service.Submit(context.Background(), SubmitJobInput{
		CreatedBy:   createJobUser(t, db).ID,
		TemplateID:  "00000000-0000-0000-0000-000000000000",
		InvoiceYear: "2025",
	})
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRunJobCompletesAndPersistsProgress(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates,
		entityRow("ENT-001", "/funds/alpha"),
		entityRow("ENT-002", "/funds/beta"),
	)

	require.NoError(t, service.RunJob(context.Background(), job.JobID, true))

	view, err := service.Status(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, view.Status)
	require.Equal(t, 2, view.ProcessedEntities)
	require.InDelta(t, 100, view.Progress, 1e-9)
	require.Len(t, view.GeneratedFiles, 4) // xlsx + pdf per entity
	require.NotNil(t, view.StartedAt)
	require.NotNil(t, view.CompletedAt)
	require.Equal(t, "Standard", view.TemplateName)

	for _, file := range view.GeneratedFiles {
		_, err := os.Stat(file)
		require.NoError(t, err)
	}
}

func TestRunJobSkipsEntitiesWithoutPath(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates,
		entityRow("ENT-001", "/funds/alpha"),
		entityRow("ENT-002", ""),
	)
	require.Equal(t, 2, job.TotalEntities)

	require.NoError(t, service.RunJob(context.Background(), job.JobID, true))

	view, err := service.Status(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, view.Status)
	require.Equal(t, 1, view.ProcessedEntities)
	require.Len(t, view.GeneratedFiles, 2)
}

func TestRunJobLeavesCancelledJobAlone(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	_, err := service.Cancel(context.Background(), job.JobID)
	require.NoError(t, err)

	require.NoError(t, service.RunJob(context.Background(), job.JobID, true))

	view, err := service.Status(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, view.Status)
	require.Equal(t, "Job cancelled by admin", view.ErrorMessage)
	require.Zero(t, view.ProcessedEntities)
}

func TestCancelRejectsTerminalJob(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))
	require.NoError(t, service.RunJob(context.Background(), job.JobID, true))

	_, err := service.Cancel(context.Background(), job.JobID)
	require.Error(t, err)

	appErr := apperrors.FromError(err)
	require.Equal(t, 409, appErr.StatusCode)
	require.Contains(t, appErr.Message, "completed")
}

func TestPauseOnlyFromProcessing(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	_, err := service.Pause(context.Background(), job.JobID)
	require.Error(t, err)

	appErr := apperrors.FromError(err)
	require.Equal(t, 409, appErr.StatusCode)
	require.Contains(t, appErr.Message, "pending")

	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Update("status", models.JobStatusProcessing).Error)

	paused, err := service.Pause(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPaused, paused.Status)
}

func TestPauseResumePreservesProgressCounter(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Updates(map[string]any{
			"status":             models.JobStatusProcessing,
			"processed_entities": 1,
		}).Error)

	_, err := service.Pause(context.Background(), job.JobID)
	require.NoError(t, err)

	resumed, err := service.Resume(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusProcessing, resumed.Status)
	require.Equal(t, 1, resumed.ProcessedEntities)
}

func TestResumeMovesPausedJobToProcessing(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Update("status", models.JobStatusPaused).Error)

	resumed, err := service.Resume(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusProcessing, resumed.Status)
	require.NotNil(t, resumed.StartedAt)
	require.Equal(t, job.RunGeneration+1, resumed.RunGeneration)

	// A second resume must observe the job is no longer paused.
	_, err = service.Resume(context.Background(), job.JobID)
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	require.Equal(t, 409, appErr.StatusCode)
}

func TestStaleRunCannotOverwriteResumedJob(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	// A resume bumps the stored generation; writes conditioned on the old
	// generation must match nothing.
	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Update("run_generation", gorm.Expr("run_generation + 1")).Error)

	applied, err := service.applyRun(context.Background(), job, job.RunGeneration, map[string]any{
		"processed_entities": 99,
		"status":             models.JobStatusCompleted,
	})
	require.NoError(t, err)
	require.False(t, applied)

	view, err := service.Status(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, view.Status)
	require.Equal(t, 0, view.ProcessedEntities)
}

func TestResumeFailsWhenInputFileMissing(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Update("status", models.JobStatusPaused).Error)
	require.NoError(t, os.Remove(job.InputFilePath))

	_, err := service.Resume(context.Background(), job.JobID)
	require.Error(t, err)

	view, verr := service.Status(context.Background(), job.JobID)
	require.NoError(t, verr)
	require.Equal(t, models.JobStatusFailed, view.Status)
	require.Equal(t, "Failed to re-validate Excel file during resume", view.ErrorMessage)
}

func TestResumeFailsWhenTemplateFileMissing(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Update("status", models.JobStatusPaused).Error)

	var template models.InvoiceTemplate
	require.NoError(t, db.First(&template, "id = ?", job.TemplateID).Error)
	require.NoError(t, os.Remove(template.FilePath))

	_, err := service.Resume(context.Background(), job.JobID)
	require.Error(t, err)

	view, verr := service.Status(context.Background(), job.JobID)
	require.NoError(t, verr)
	require.Equal(t, models.JobStatusFailed, view.Status)
	require.Equal(t, "Template not found during resume", view.ErrorMessage)
}

func TestSweepStuckFailsLongRunningJobs(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	stale := time.Now().Add(-45 * time.Minute)
	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Updates(map[string]any{
			"status":     models.JobStatusProcessing,
			"started_at": &stale,
		}).Error)

	swept, err := service.SweepStuck(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, swept)

	view, err := service.Status(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, view.Status)
	require.Equal(t, "Job marked as failed due to timeout (stuck for more than 30 minutes)", view.ErrorMessage)
}

func TestSweepStuckIgnoresRecentJobs(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	recent := time.Now().Add(-5 * time.Minute)
	require.NoError(t, db.Model(&models.InvoiceJob{}).Where("job_id = ?", job.JobID).
		Updates(map[string]any{
			"status":     models.JobStatusProcessing,
			"started_at": &recent,
		}).Error)

	swept, err := service.SweepStuck(context.Background())
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestZipToStreamsCompletedJob(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))
	require.NoError(t, service.RunJob(context.Background(), job.JobID, true))

	var buffer bytes.Buffer
	require.NoError(t, service.ZipTo(context.Background(), job.JobID, &buffer))

	reader, err := zip.NewReader(bytes.NewReader(buffer.Bytes()), int64(buffer.Len()))
	require.NoError(t, err)
	require.Len(t, reader.File, 2)
}

func TestZipToSkipsMissingFiles(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))
	require.NoError(t, service.RunJob(context.Background(), job.JobID, true))

	view, err := service.Status(context.Background(), job.JobID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(view.GeneratedFiles[0]))

	var buffer bytes.Buffer
	require.NoError(t, service.ZipTo(context.Background(), job.JobID, &buffer))

	reader, err := zip.NewReader(bytes.NewReader(buffer.Bytes()), int64(buffer.Len()))
	require.NoError(t, err)
	require.Len(t, reader.File, 1)
}

func TestZipToRejectsUnfinishedJob(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	var buffer bytes.Buffer
	require.ErrorIs(t, service.ZipTo(context.Background(), job.JobID, &buffer), ErrJobNotCompleted)
}

func TestListJobsPaginates(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	template := createTestTemplate(t, templates)
	user := createJobUser(t, db)

	for i := 0; i < 3; i++ {
		input := writeEntityWorkbook(t, t.TempDir(), entityRow("ENT-001", "/funds/alpha"))
		_, err := service.Submit(context.Background(), SubmitJobInput{
			CreatedBy:     user.ID,
			TemplateID:    template.ID,
			InputFileName: "entities.xlsx",
			InputFilePath: input,
			InvoiceYear:   "2025",
		})
		require.NoError(t, err)
	}

	views, total, err := service.List(context.Background(), ListJobsOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, views, 2)

	views, _, err = service.List(context.Background(), ListJobsOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, views, 1)
}

func TestWorkerPoolProcessesQueuedJob(t *testing.T) {
	db := openTestDB(t)
	service, templates := newTestJobService(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)
	defer service.Stop()

	job := submitTestJob(t, service, templates, entityRow("ENT-001", "/funds/alpha"))

	require.Eventually(t, func() bool {
		view, err := service.Status(context.Background(), job.JobID)
		return err == nil && view.Status == models.JobStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)
}
