package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/database"
	"github.com/v2fin/backoffice/internal/models"
	"github.com/v2fin/backoffice/internal/services"
)

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

func newTestJobService(t *testing.T, db *gorm.DB) *services.JobService {
	t.Helper()

	dir := t.TempDir()
	templates, err := services.NewTemplateService(db, filepath.Join(dir, "templates"))
	require.NoError(t, err)

	jobs, err := services.NewJobService(db, templates, nil, services.JobServiceConfig{
		OutputRoot: filepath.Join(dir, "output"),
		Workers:    1,
	})
	require.NoError(t, err)
	return jobs
}

func seedJob(t *testing.T, db *gorm.DB, jobID, status string, startedAt time.Time) {
	t.Helper()

	require.NoError(t, db.Create(&models.InvoiceJob{
		JobID:           jobID,
		Status:          status,
		CreatedBy:       "8b0d9a06-7bbf-4f51-a966-8a2c5a10c9b1",
		TemplateID:      "7db1a6a4-3ac1-4a86-97a1-b300e38cc4c4",
		InputFileName:   "entities.xlsx",
		InputFilePath:   "/tmp/entities.xlsx",
		InvoiceYear:     "2025",
		OutputDirectory: "/tmp/out/" + jobID,
		GeneratedFiles:  []byte("[]"),
		StartedAt:       &startedAt,
	}).Error)
}

func TestCleanupResetTokens(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 2, 10, 15, 0, 0, 0, time.UTC)

	expired := now.Add(-time.Hour)
	active := now.Add(time.Hour)

	stale := &models.User{Email: "stale@v2fin.test", Password: "x",
		ResetPasswordToken: "stale-token", ResetPasswordExpires: &expired}
	fresh := &models.User{Email: "fresh@v2fin.test", Password: "x",
		ResetPasswordToken: "fresh-token", ResetPasswordExpires: &active}
	require.NoError(t, db.Create(stale).Error)
	require.NoError(t, db.Create(fresh).Error)

	cleared, err := CleanupResetTokens(context.Background(), db, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), cleared)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", stale.ID).Error)
	require.Empty(t, reloaded.ResetPasswordToken)

	require.NoError(t, db.First(&reloaded, "id = ?", fresh.ID).Error)
	require.Equal(t, "fresh-token", reloaded.ResetPasswordToken)
}

func TestSweeperRunOnce(t *testing.T) {
	db := openTestDB(t)
	jobs := newTestJobService(t, db)

	now := time.Now()
	seedJob(t, db, "job-stuck", models.JobStatusProcessing, now.Add(-45*time.Minute))
	seedJob(t, db, "job-live", models.JobStatusProcessing, now.Add(-5*time.Minute))

	expired := now.Add(-time.Hour)
	require.NoError(t, db.Create(&models.User{
		Email: "sweeper@v2fin.test", Password: "x",
		ResetPasswordToken: "old-token", ResetPasswordExpires: &expired,
	}).Error)

	s := NewSweeper(db, jobs,
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, s.RunOnce(context.Background()))

	var stuck models.InvoiceJob
	require.NoError(t, db.First(&stuck, "job_id = ?", "job-stuck").Error)
	require.Equal(t, models.JobStatusFailed, stuck.Status)

	var live models.InvoiceJob
	require.NoError(t, db.First(&live, "job_id = ?", "job-live").Error)
	require.Equal(t, models.JobStatusProcessing, live.Status)

	var user models.User
	require.NoError(t, db.First(&user, "email = ?", "sweeper@v2fin.test").Error)
	require.Empty(t, user.ResetPasswordToken)
}
