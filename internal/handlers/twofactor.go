package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/v2fin/backoffice/internal/auth"
	"github.com/v2fin/backoffice/internal/auth/mfa"
	"github.com/v2fin/backoffice/internal/services"
	appErrors "github.com/v2fin/backoffice/pkg/errors"
	"github.com/v2fin/backoffice/pkg/logger"
	"github.com/v2fin/backoffice/pkg/metrics"
	"github.com/v2fin/backoffice/pkg/response"
)

// TwoFactorHandler serves the second step of the login handshake and the
// authenticated 2FA management endpoints.
type TwoFactorHandler struct {
	users   *services.UserService
	jwt     *auth.JWTService
	pending *auth.PendingTokenService
	totp    *mfa.TOTPService
}

// NewTwoFactorHandler constructs a TwoFactorHandler.
func NewTwoFactorHandler(users *services.UserService, jwt *auth.JWTService, pending *auth.PendingTokenService, totp *mfa.TOTPService) (*TwoFactorHandler, error) {
	if users == nil || jwt == nil || pending == nil || totp == nil {
		return nil, errors.New("two-factor handler: all dependencies are required")
	}
	return &TwoFactorHandler{
		users:   users,
		jwt:     jwt,
		pending: pending,
		totp:    totp,
	}, nil
}

type setupDuringLoginRequest struct {
	TwoFactorToken string `json:"two_factor_token" validate:"required"`
}

type setupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRCode          string   `json:"qr_code"`
	BackupCodes     []string `json:"backup_codes"`
}

// SetupDuringLogin handles POST /api/auth/2fa/setup. It exchanges a pending
// token for enrolment material on first login, before any session exists.
func (h *TwoFactorHandler) SetupDuringLogin(c *gin.Context) {
	var req setupDuringLoginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	userID, err := h.pending.Resolve(req.TwoFactorToken)
	if err != nil {
		response.Error(c, appErrors.ErrTwoFactorTokenInvalid)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, appErrors.ErrTwoFactorTokenInvalid)
		return
	}

	enrollment, err := h.totp.EnsureSecret(user.ID, user.Email)
	if err != nil {
		if errors.Is(err, mfa.ErrAlreadyEnabled) {
			response.Error(c, appErrors.NewStateConflict("Two-factor authentication is already enabled"))
			return
		}
		response.Error(c, err)
		return
	}

	png, err := h.totp.QRCodePNG(enrollment.Secret, user.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, setupResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		BackupCodes:     enrollment.BackupCodes,
	})
}

type verifyLoginRequest struct {
	TwoFactorToken string `json:"two_factor_token" validate:"required"`
	Code           string `json:"code" validate:"required,min=6,max=8"`
}

type verifyLoginResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

// VerifyLogin handles POST /api/auth/2fa/verify. A six digit TOTP code is
// tried first, then backup codes. Success completes enrolment if needed and
// issues the session JWT.
func (h *TwoFactorHandler) VerifyLogin(c *gin.Context) {
	var req verifyLoginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	userID, err := h.pending.Resolve(req.TwoFactorToken)
	if err != nil {
		metrics.TwoFactorChecks.WithLabelValues("pending_token", "invalid").Inc()
		response.Error(c, appErrors.ErrTwoFactorTokenInvalid)
		return
	}

	ctx := requestContext(c)
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		response.Error(c, appErrors.ErrTwoFactorTokenInvalid)
		return
	}
	if !user.IsActive {
		response.Error(c, appErrors.ErrAccountDisabled)
		return
	}

	method := "totp"
	valid, err := h.totp.VerifyCode(user.ID, req.Code)
	if err != nil && !errors.Is(err, mfa.ErrSecretNotFound) {
		response.Error(c, err)
		return
	}
	if !valid {
		method = "backup_code"
		valid, err = h.totp.UseBackupCode(user.ID, req.Code)
		if err != nil && !errors.Is(err, mfa.ErrSecretNotFound) {
			response.Error(c, err)
			return
		}
	}
	if !valid {
		metrics.TwoFactorChecks.WithLabelValues(method, "failure").Inc()
		response.Error(c, appErrors.ErrTwoFactorCodeInvalid)
		return
	}
	metrics.TwoFactorChecks.WithLabelValues(method, "success").Inc()

	// First successful verification completes enrolment and makes the
	// second factor mandatory from now on.
	if err := h.totp.MarkSetupCompleted(user.ID); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.users.UpdateLastLogin(ctx, user.ID); err != nil {
		logger.Warn("Failed to stamp last login", zap.Error(err))
	}

	token, err := h.jwt.GenerateAccessToken(auth.AccessTokenInput{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	logger.Info("Login completed",
		zap.String("user_id", user.ID),
		zap.String("method", method))

	response.Success(c, http.StatusOK, verifyLoginResponse{
		Token: token,
		User:  user,
	})
}

// Status handles GET /api/2fa/status for the authenticated user.
func (h *TwoFactorHandler) Status(c *gin.Context) {
	status, err := h.totp.StatusFor(currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

type regenerateBackupCodesRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// RegenerateBackupCodes handles POST /api/2fa/backup-codes/regenerate. The
// caller must prove possession of the authenticator first.
func (h *TwoFactorHandler) RegenerateBackupCodes(c *gin.Context) {
	var req regenerateBackupCodesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	userID := currentUserID(c)

	valid, err := h.totp.VerifyCode(userID, req.Code)
	if err != nil && !errors.Is(err, mfa.ErrSecretNotFound) {
		response.Error(c, err)
		return
	}
	if !valid {
		response.Error(c, appErrors.ErrTwoFactorCodeInvalid)
		return
	}

	codes, err := h.totp.RegenerateBackupCodes(userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"backup_codes": codes})
}
