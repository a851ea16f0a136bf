package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/v2fin/backoffice/internal/app"
	"github.com/v2fin/backoffice/internal/handlers"
	"github.com/v2fin/backoffice/internal/middleware"
)

type authRouteDeps struct {
	Auth      *handlers.AuthHandler
	TwoFactor *handlers.TwoFactorHandler
	LoginRate app.RateLimitSettings
}

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, deps authRouteDeps) {
	limit := deps.LoginRate.Requests
	window := deps.LoginRate.Window
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	loginLimiter := middleware.RateLimit(limit, window)

	// Public: the login handshake and password reset flows. Both credential
	// steps sit behind the same limiter so an attacker cannot trade one
	// factor's budget for the other's.
	auth := engine.Group("/api/auth")
	{
		auth.POST("/login", loginLimiter, deps.Auth.Login)
		auth.POST("/2fa/setup", loginLimiter, deps.TwoFactor.SetupDuringLogin)
		auth.POST("/2fa/verify", loginLimiter, deps.TwoFactor.VerifyLogin)
		auth.POST("/forgot-password", loginLimiter, deps.Auth.ForgotPassword)
		auth.POST("/reset-password", loginLimiter, deps.Auth.ResetPassword)
	}

	// Authenticated session routes
	api.GET("/auth/me", deps.Auth.Me)
	api.POST("/auth/logout", deps.Auth.Logout)
	api.GET("/auth/2fa/status", deps.TwoFactor.Status)
	api.POST("/auth/2fa/backup-codes/regenerate", deps.TwoFactor.RegenerateBackupCodes)
}
