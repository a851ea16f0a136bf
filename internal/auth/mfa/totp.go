package mfa

import (
	cryptoRand "crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/v2fin/backoffice/internal/models"
	"github.com/v2fin/backoffice/pkg/crypto"
)

const (
	defaultIssuer          = "V2 Financial Group"
	defaultBackupCodeCount = 10
	defaultQRCodeSize      = 256

	// totpSkewSteps widens the acceptance window by this many 30-second
	// steps on each side to absorb client clock drift.
	totpSkewSteps = 3
)

// ErrAlreadyEnabled is returned when enrolment is attempted for a user whose
// two-factor setup is already completed.
var ErrAlreadyEnabled = errors.New("totp: two-factor authentication already enabled")

// ErrSecretNotFound is returned when a user has no stored two-factor secret.
var ErrSecretNotFound = errors.New("totp: secret not found")

// Option allows customising the TOTP service.
type Option func(*TOTPService)

// WithIssuer overrides the default issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *TOTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithBackupCodeCount overrides the number of backup codes generated for users.
func WithBackupCodeCount(count int) Option {
	return func(s *TOTPService) {
		if count > 0 {
			s.backupCodes = count
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) Option {
	return func(s *TOTPService) {
		if size > 0 {
			s.qrCodeSize = size
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *TOTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Enrollment carries everything a client needs to finish two-factor setup.
type Enrollment struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// Status summarises a user's two-factor state.
type Status struct {
	Enabled              bool       `json:"enabled"`
	SetupCompleted       bool       `json:"setup_completed"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
	LastUsedAt           *time.Time `json:"last_used_at"`
}

// TOTPService manages user two-factor secrets, backup codes, and QR
// provisioning.
type TOTPService struct {
	db            *gorm.DB
	encryptionKey []byte

	issuer      string
	backupCodes int
	qrCodeSize  int
	now         func() time.Time
}

// NewTOTPService constructs a TOTP service backed by the provided database.
func NewTOTPService(db *gorm.DB, encryptionKey []byte, opts ...Option) (*TOTPService, error) {
	if db == nil {
		return nil, errors.New("totp: db is required")
	}
	if len(encryptionKey) == 0 {
		return nil, errors.New("totp: encryption key is required")
	}

	service := &TOTPService{
		db:            db,
		encryptionKey: encryptionKey,
		issuer:        defaultIssuer,
		backupCodes:   defaultBackupCodeCount,
		qrCodeSize:    defaultQRCodeSize,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// EnsureSecret provisions a secret and backup codes for a user who has not
// completed setup. Re-invoking before completion rotates the secret so a
// stale authenticator entry can never linger; invoking after completion is
// rejected with ErrAlreadyEnabled.
func (s *TOTPService) EnsureSecret(userID, email string) (*Enrollment, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)

	if userID == "" || email == "" {
		return nil, errors.New("totp: user id and email are required")
	}

	rawSecret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("totp: generate secret: %w", err)
	}

	backupCodes := make([]string, s.backupCodes)
	for i := range backupCodes {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("totp: generate backup code: %w", err)
		}
		backupCodes[i] = code
	}

	encryptedSecret, err := crypto.Encrypt([]byte(rawSecret), s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("totp: encrypt secret: %w", err)
	}

	codesJSON, err := json.Marshal(backupCodes)
	if err != nil {
		return nil, fmt.Errorf("totp: marshal backup codes: %w", err)
	}

	var secret models.TwoFactorSecret
	if err := s.db.Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("totp: load secret: %w", err)
		}

		secret = models.TwoFactorSecret{
			UserID:      userID,
			Secret:      encryptedSecret,
			BackupCodes: datatypes.JSON(codesJSON),
		}

		if err := s.db.Create(&secret).Error; err != nil {
			return nil, fmt.Errorf("totp: create secret: %w", err)
		}
	} else {
		if secret.SetupCompleted {
			return nil, ErrAlreadyEnabled
		}

		secret.Secret = encryptedSecret
		secret.BackupCodes = datatypes.JSON(codesJSON)
		secret.LastUsedAt = nil

		if err := s.db.Save(&secret).Error; err != nil {
			return nil, fmt.Errorf("totp: update secret: %w", err)
		}
	}

	return &Enrollment{
		Secret:          rawSecret,
		ProvisioningURI: s.ProvisioningURI(rawSecret, email),
		BackupCodes:     backupCodes,
	}, nil
}

// ProvisioningURI renders an otpauth URI for the given secret and account
// label. The parameter order is fixed so the URI round-trips byte-for-byte
// through authenticator apps and tests.
func (s *TOTPService) ProvisioningURI(secret, email string) string {
	label := url.PathEscape(s.issuer + ":" + email)
	return fmt.Sprintf(
		"otpauth://totp/%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=30",
		label, secret, url.QueryEscape(s.issuer),
	)
}

// QRCodePNG returns a PNG-encoded QR code for the provisioning URI.
func (s *TOTPService) QRCodePNG(secret, email string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("totp: secret is required")
	}
	return qrcode.Encode(s.ProvisioningURI(secret, email), qrcode.Medium, s.qrCodeSize)
}

// VerifyCode checks a submitted TOTP code against the stored secret,
// accepting codes within the configured skew window.
func (s *TOTPService) VerifyCode(userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return false, errors.New("totp: user id and code are required")
	}

	secret, err := s.loadSecret(userID)
	if err != nil {
		return false, err
	}

	rawSecret, err := crypto.Decrypt(secret.Secret, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("totp: decrypt secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, string(rawSecret), s.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      totpSkewSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("totp: validate code: %w", err)
	}

	if valid {
		now := s.now()
		if err := s.db.Model(secret).Update("last_used_at", &now).Error; err != nil {
			return false, fmt.Errorf("totp: update last used: %w", err)
		}
	}

	return valid, nil
}

// UseBackupCode validates and consumes a single backup code. Matching is
// case-insensitive; each code works exactly once.
func (s *TOTPService) UseBackupCode(userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.ToUpper(strings.TrimSpace(code))
	if userID == "" || code == "" {
		return false, errors.New("totp: user id and code are required")
	}

	secret, err := s.loadSecret(userID)
	if err != nil {
		return false, err
	}

	var codes []string
	if err := json.Unmarshal(secret.BackupCodes, &codes); err != nil {
		return false, fmt.Errorf("totp: unmarshal backup codes: %w", err)
	}

	consumed := false
	for i, stored := range codes {
		if strings.EqualFold(stored, code) {
			codes = append(codes[:i], codes[i+1:]...)
			consumed = true
			break
		}
	}

	if !consumed {
		return false, nil
	}

	encoded, err := json.Marshal(codes)
	if err != nil {
		return false, fmt.Errorf("totp: marshal backup codes: %w", err)
	}

	now := s.now()
	updates := map[string]any{
		"backup_codes": datatypes.JSON(encoded),
		"last_used_at": &now,
	}
	if err := s.db.Model(secret).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("totp: update backup codes: %w", err)
	}

	return true, nil
}

// RegenerateBackupCodes replaces all of a user's backup codes with a fresh
// set and returns the new plaintext codes.
func (s *TOTPService) RegenerateBackupCodes(userID string) ([]string, error) {
	secret, err := s.loadSecret(strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}

	codes := make([]string, s.backupCodes)
	for i := range codes {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("totp: generate backup code: %w", err)
		}
		codes[i] = code
	}

	encoded, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("totp: marshal backup codes: %w", err)
	}

	if err := s.db.Model(secret).Update("backup_codes", datatypes.JSON(encoded)).Error; err != nil {
		return nil, fmt.Errorf("totp: update backup codes: %w", err)
	}

	return codes, nil
}

// MarkSetupCompleted flips the enrolment flag after the first successful
// verification, making the second factor mandatory for future logins.
func (s *TOTPService) MarkSetupCompleted(userID string) error {
	secret, err := s.loadSecret(strings.TrimSpace(userID))
	if err != nil {
		return err
	}

	if secret.SetupCompleted {
		return nil
	}

	if err := s.db.Model(secret).Update("setup_completed", true).Error; err != nil {
		return fmt.Errorf("totp: mark setup completed: %w", err)
	}

	return nil
}

// Disable removes a user's two-factor credential entirely. The next login
// restarts enrolment from scratch.
func (s *TOTPService) Disable(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("totp: user id is required")
	}

	result := s.db.Where("user_id = ?", userID).Delete(&models.TwoFactorSecret{})
	if result.Error != nil {
		return fmt.Errorf("totp: disable: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSecretNotFound
	}

	return nil
}

// StatusFor reports a user's two-factor state. A missing record is not an
// error; it simply means setup has never started.
func (s *TOTPService) StatusFor(userID string) (*Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("totp: user id is required")
	}

	var secret models.TwoFactorSecret
	if err := s.db.Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Status{}, nil
		}
		return nil, fmt.Errorf("totp: load secret: %w", err)
	}

	var codes []string
	if len(secret.BackupCodes) > 0 {
		if err := json.Unmarshal(secret.BackupCodes, &codes); err != nil {
			return nil, fmt.Errorf("totp: unmarshal backup codes: %w", err)
		}
	}

	return &Status{
		Enabled:              secret.SetupCompleted,
		SetupCompleted:       secret.SetupCompleted,
		RemainingBackupCodes: len(codes),
		LastUsedAt:           secret.LastUsedAt,
	}, nil
}

func (s *TOTPService) loadSecret(userID string) (*models.TwoFactorSecret, error) {
	if userID == "" {
		return nil, errors.New("totp: user id is required")
	}

	var secret models.TwoFactorSecret
	if err := s.db.Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("totp: load secret: %w", err)
	}

	return &secret, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func generateBackupCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
