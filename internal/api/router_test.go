package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/v2fin/backoffice/internal/app"
	iauth "github.com/v2fin/backoffice/internal/auth"
	"github.com/v2fin/backoffice/internal/auth/mfa"
	"github.com/v2fin/backoffice/internal/database"
	"github.com/v2fin/backoffice/internal/services"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *services.UserService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateAndSeed(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-secret", Issuer: "test", AccessTokenTTL: 15 * time.Minute})
	require.NoError(t, err)
	pendingSvc, err := iauth.NewPendingTokenService(iauth.PendingTokenConfig{Secret: "router-secret"})
	require.NoError(t, err)
	totpSvc, err := mfa.NewTOTPService(db, bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	users, err := services.NewUserService(db, nil, "http://localhost:5173")
	require.NoError(t, err)
	workflows, err := services.NewWorkflowService(db)
	require.NoError(t, err)

	dir := t.TempDir()
	templates, err := services.NewTemplateService(db, dir+"/templates")
	require.NoError(t, err)
	jobs, err := services.NewJobService(db, templates, nil, services.JobServiceConfig{
		OutputRoot: dir + "/output",
		Workers:    1,
	})
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Invoice.UploadDir = dir + "/uploads"
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"
	cfg.Monitoring.Health.Enabled = true

	router, err := NewRouter(Dependencies{
		DB:        db,
		Config:    cfg,
		JWT:       jwtSvc,
		Pending:   pendingSvc,
		TOTP:      totpSvc,
		Users:     users,
		Workflows: workflows,
		Templates: templates,
		Jobs:      jobs,
		Version:   "test",
	})
	require.NoError(t, err)

	return router, users
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterLoginHandshake(t *testing.T) {
	router, users := newTestRouter(t)

	_, err := users.Create(context.Background(), services.CreateUserInput{
		Email:     "handshake@v2fin.test",
		Password:  "correct horse battery",
		FirstName: "Ada",
		LastName:  "Admin",
		Role:      "admin",
	})
	require.NoError(t, err)

	// Step one: password.
	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    "handshake@v2fin.test",
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var login struct {
		RequiresTwoFactor      bool   `json:"requires_two_factor"`
		TwoFactorToken         string `json:"two_factor_token"`
		TwoFactorSetupRequired bool   `json:"two_factor_setup_required"`
	}
	decodeData(t, rec, &login)
	require.True(t, login.RequiresTwoFactor)
	require.True(t, login.TwoFactorSetupRequired)
	require.NotEmpty(t, login.TwoFactorToken)

	// First login: enrol an authenticator.
	rec = doJSON(t, router, http.MethodPost, "/api/auth/2fa/setup", "", gin.H{
		"two_factor_token": login.TwoFactorToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var setup struct {
		Secret      string   `json:"secret"`
		QRCode      string   `json:"qr_code"`
		BackupCodes []string `json:"backup_codes"`
	}
	decodeData(t, rec, &setup)
	require.NotEmpty(t, setup.Secret)
	require.True(t, strings.HasPrefix(setup.QRCode, "data:image/png;base64,"))
	require.Len(t, setup.BackupCodes, 10)

	// Step two: TOTP code.
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/2fa/verify", "", gin.H{
		"two_factor_token": login.TwoFactorToken,
		"code":             code,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var verified struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &verified)
	require.NotEmpty(t, verified.Token)

	// The JWT unlocks authenticated and admin routes.
	rec = doJSON(t, router, http.MethodGet, "/api/auth/me", verified.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/users", verified.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/workflows", verified.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A wrong code is rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/auth/2fa/verify", "", gin.H{
		"two_factor_token": login.TwoFactorToken,
		"code":             "000000",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterAdminOnlyRoutes(t *testing.T) {
	router, users := newTestRouter(t)

	user, err := users.Create(context.Background(), services.CreateUserInput{
		Email:    "viewer@v2fin.test",
		Password: "correct horse battery",
		Role:     "user",
	})
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-secret", Issuer: "test", AccessTokenTTL: 15 * time.Minute})
	require.NoError(t, err)
	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, Email: user.Email, Role: user.Role})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/users", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/invoices/jobs", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/workflows", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	metricsRec := doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	require.Contains(t, metricsRec.Body.String(), "backoffice_api_latency_seconds")
}
