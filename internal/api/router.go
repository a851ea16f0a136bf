package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/app"
	iauth "github.com/v2fin/backoffice/internal/auth"
	"github.com/v2fin/backoffice/internal/auth/mfa"
	"github.com/v2fin/backoffice/internal/handlers"
	"github.com/v2fin/backoffice/internal/middleware"
	"github.com/v2fin/backoffice/internal/services"
)

// Dependencies bundles everything the router needs. Handlers are constructed
// here so route registration stays in one place.
type Dependencies struct {
	DB        *gorm.DB
	Config    *app.Config
	JWT       *iauth.JWTService
	Pending   *iauth.PendingTokenService
	TOTP      *mfa.TOTPService
	Users     *services.UserService
	Workflows *services.WorkflowService
	Templates *services.TemplateService
	Jobs      *services.JobService
	Version   string
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil || deps.Pending == nil || deps.TOTP == nil {
		return nil, fmt.Errorf("auth services must be provided")
	}
	if deps.Users == nil || deps.Workflows == nil || deps.Templates == nil || deps.Jobs == nil {
		return nil, fmt.Errorf("domain services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))

	// Health endpoint (public)
	if deps.Config.Monitoring.Health.Enabled {
		r.GET("/api/health", handlers.NewHealthHandler(deps.DB, deps.Version).Health)
	}

	authHandler, err := handlers.NewAuthHandler(deps.Users, deps.JWT, deps.Pending, deps.TOTP)
	if err != nil {
		return nil, err
	}
	twoFactorHandler, err := handlers.NewTwoFactorHandler(deps.Users, deps.JWT, deps.Pending, deps.TOTP)
	if err != nil {
		return nil, err
	}
	userHandler, err := handlers.NewUserHandler(deps.Users)
	if err != nil {
		return nil, err
	}
	workflowHandler, err := handlers.NewWorkflowHandler(deps.Workflows)
	if err != nil {
		return nil, err
	}
	invoiceHandler, err := handlers.NewInvoiceHandler(deps.Jobs, deps.Templates, deps.Config.Invoice.UploadDir)
	if err != nil {
		return nil, err
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerAuthRoutes(r, api, authRouteDeps{
		Auth:      authHandler,
		TwoFactor: twoFactorHandler,
		LoginRate: deps.Config.Auth.LoginRate,
	})
	registerUserRoutes(api, userHandler)
	registerWorkflowRoutes(api, workflowHandler)
	registerInvoiceRoutes(api, invoiceHandler)

	// Metrics endpoint
	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
