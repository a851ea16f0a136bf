package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/v2fin/backoffice/internal/auth"
	"github.com/v2fin/backoffice/internal/auth/mfa"
	"github.com/v2fin/backoffice/internal/models"
	"github.com/v2fin/backoffice/internal/services"
	"github.com/v2fin/backoffice/pkg/crypto"
	appErrors "github.com/v2fin/backoffice/pkg/errors"
	"github.com/v2fin/backoffice/pkg/logger"
	"github.com/v2fin/backoffice/pkg/metrics"
	"github.com/v2fin/backoffice/pkg/response"
)

const (
	loginMaxAttempts = 3
	loginRetryDelay  = 500 * time.Millisecond
)

// AuthHandler serves the password step of the login handshake plus profile,
// logout and password reset endpoints. A successful password check never
// returns a session token; it returns a short-lived pending token that must
// be exchanged at the two-factor step.
type AuthHandler struct {
	users   *services.UserService
	jwt     *auth.JWTService
	pending *auth.PendingTokenService
	totp    *mfa.TOTPService

	// retryDelay is overridable in tests so backoff does not slow the suite.
	retryDelay time.Duration
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users *services.UserService, jwt *auth.JWTService, pending *auth.PendingTokenService, totp *mfa.TOTPService) (*AuthHandler, error) {
	if users == nil || jwt == nil || pending == nil || totp == nil {
		return nil, errors.New("auth handler: all dependencies are required")
	}
	return &AuthHandler{
		users:      users,
		jwt:        jwt,
		pending:    pending,
		totp:       totp,
		retryDelay: loginRetryDelay,
	}, nil
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	RequiresTwoFactor      bool   `json:"requires_two_factor"`
	TwoFactorToken         string `json:"two_factor_token"`
	TwoFactorSetupRequired bool   `json:"two_factor_setup_required"`
}

// Login handles POST /api/auth/login. Credential failures, disabled accounts
// and unknown emails are deliberately hard to tell apart; transient storage
// failures are retried with increasing backoff before giving up with a 503.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.lookupWithRetry(c, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	if !crypto.VerifyPassword(user.Password, req.Password) {
		metrics.AuthAttempts.WithLabelValues("invalid_credentials").Inc()
		response.Error(c, appErrors.ErrInvalidCredentials)
		return
	}

	if !user.IsActive {
		metrics.AuthAttempts.WithLabelValues("account_disabled").Inc()
		response.Error(c, appErrors.ErrAccountDisabled)
		return
	}

	token, err := h.pending.Issue(user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	setupRequired := true
	if status, err := h.totp.StatusFor(user.ID); err == nil {
		setupRequired = !status.SetupCompleted
	}

	metrics.AuthAttempts.WithLabelValues("password_ok").Inc()
	logger.Info("Password verified, awaiting second factor",
		zap.String("user_id", user.ID),
		zap.Bool("setup_required", setupRequired))

	response.Success(c, http.StatusOK, loginResponse{
		RequiresTwoFactor:      true,
		TwoFactorToken:         token,
		TwoFactorSetupRequired: setupRequired,
	})
}

func (h *AuthHandler) lookupWithRetry(c *gin.Context, email string) (*models.User, error) {
	ctx := requestContext(c)

	var lastErr error
	for attempt := 1; attempt <= loginMaxAttempts; attempt++ {
		user, err := h.users.GetByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, services.ErrUserNotFound) {
			metrics.AuthAttempts.WithLabelValues("unknown_email").Inc()
			return nil, appErrors.ErrInvalidCredentials
		}

		lastErr = err
		logger.Warn("Login storage lookup failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < loginMaxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * h.retryDelay):
			case <-ctx.Done():
				return nil, appErrors.ErrStorageUnavailable.WithInternal(ctx.Err())
			}
		}
	}

	metrics.AuthAttempts.WithLabelValues("storage_unavailable").Inc()
	return nil, appErrors.ErrStorageUnavailable.WithInternal(lastErr)
}

// Me handles GET /api/auth/me for the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// Logout handles POST /api/auth/logout. Tokens are stateless, so logout is
// client-side; the endpoint exists so the frontend has a uniform API.
func (h *AuthHandler) Logout(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out"})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPassword handles POST /api/auth/forgot-password. The response is the
// same whether or not the address is registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.users.RequestPasswordReset(requestContext(c), req.Email); err != nil {
		logger.Error("Password reset request failed", zap.Error(err))
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "If the email address is registered, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.users.ResetPassword(requestContext(c), req.Token, req.Password); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Password has been reset"})
}
