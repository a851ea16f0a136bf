package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/api"
	"github.com/v2fin/backoffice/internal/app"
	"github.com/v2fin/backoffice/internal/app/maintenance"
	iauth "github.com/v2fin/backoffice/internal/auth"
	"github.com/v2fin/backoffice/internal/auth/mfa"
	"github.com/v2fin/backoffice/internal/database"
	"github.com/v2fin/backoffice/internal/services"
	"github.com/v2fin/backoffice/pkg/logger"
	"github.com/v2fin/backoffice/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backoffice-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Info("generated runtime secret", zap.String("key", key))
	}

	if err := ensureSecretsPresent(cfg); err != nil {
		return err
	}

	encryptionKey, err := app.DecodeKey(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("decode encryption key: %w", err)
	}

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	pendingService, err := iauth.NewPendingTokenService(cfg.Auth.PendingTokenServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise pending token service: %w", err)
	}

	totpService, err := mfa.NewTOTPService(db, encryptionKey, cfg.Auth.TOTPServiceOptions()...)
	if err != nil {
		return fmt.Errorf("initialise totp service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}

	userService, err := services.NewUserService(db, mailer, cfg.Server.FrontendURL)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}

	workflowService, err := services.NewWorkflowService(db)
	if err != nil {
		return fmt.Errorf("initialise workflow service: %w", err)
	}

	templateService, err := services.NewTemplateService(db, cfg.Invoice.TemplateDir)
	if err != nil {
		return fmt.Errorf("initialise template service: %w", err)
	}

	jobService, err := services.NewJobService(db, templateService, mailer, cfg.Invoice.JobServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise job service: %w", err)
	}

	jobService.Start(ctx)
	defer jobService.Stop()

	sweeper := maintenance.NewSweeper(db, jobService,
		maintenance.WithSweepSchedule(cfg.Invoice.SweepSchedule),
	)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		<-sweeper.Stop().Done()
	}()

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		Config:    cfg,
		JWT:       jwtService,
		Pending:   pendingService,
		TOTP:      totpService,
		Users:     userService,
		Workflows: workflowService,
		Templates: templateService,
		Jobs:      jobService,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	cfg.Security.EncryptionKey = strings.TrimSpace(cfg.Security.EncryptionKey)
	if cfg.Security.EncryptionKey == "" {
		return errors.New("security.encryption_key must be configured")
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseOptions()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	if err := database.SeedAdmin(db, cfg.Bootstrap.AdminSeed()); err != nil {
		return nil, fmt.Errorf("seed bootstrap admin: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("get database handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
