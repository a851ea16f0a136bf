package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/models"
	"github.com/v2fin/backoffice/internal/services"
	"github.com/v2fin/backoffice/pkg/logger"
)

const (
	defaultSweepSpec = "*/10 * * * *"
	defaultTokenSpec = "@daily"
)

// Sweeper coordinates background maintenance tasks: failing invoice jobs that
// have sat in processing for too long, and clearing expired password reset
// tokens.
type Sweeper struct {
	db   *gorm.DB
	jobs *services.JobService
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	sweepSchedule string
	tokenSchedule string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for token expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepSchedule overrides the cron specification for the stuck-job sweep.
func WithSweepSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.sweepSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for reset token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.tokenSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. A nil dependency
// results in the corresponding maintenance job being skipped.
func NewSweeper(db *gorm.DB, jobs *services.JobService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:            db,
		jobs:          jobs,
		now:           time.Now,
		sweepSchedule: defaultSweepSpec,
		tokenSchedule: defaultTokenSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers maintenance jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.jobs == nil && s.db == nil {
		return nil
	}

	if s.jobs != nil {
		if _, err := s.cron.AddFunc(s.sweepSchedule, func() {
			ctx := context.Background()
			swept, err := s.jobs.SweepStuck(ctx)
			if err != nil {
				s.log.Warn("stuck job sweep failed", zap.Error(err))
				return
			}
			if swept > 0 {
				s.log.Info("swept stuck invoice jobs", zap.Int64("count", swept))
			}
		}); err != nil {
			return err
		}
	}

	if s.db != nil {
		if _, err := s.cron.AddFunc(s.tokenSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupResetTokens(ctx, s.db, s.now()); err != nil {
				s.log.Warn("reset token cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.jobs != nil {
		if _, err := s.jobs.SweepStuck(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.db != nil {
		if _, err := CleanupResetTokens(ctx, s.db, s.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// CleanupResetTokens clears expired password reset tokens so they can no
// longer be redeemed.
func CleanupResetTokens(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup reset tokens: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Model(&models.User{}).
		Where("reset_password_token <> '' AND reset_password_expires < ?", now).
		Updates(map[string]any{
			"reset_password_token":   "",
			"reset_password_expires": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup reset tokens: %w", result.Error)
	}

	return result.RowsAffected, nil
}
