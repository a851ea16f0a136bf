package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPendingTokenTTL bounds how long a password-verified login may wait
// for its second factor before the handshake must restart.
const DefaultPendingTokenTTL = 15 * time.Minute

const pendingTokenType = "2fa"

var (
	// ErrPendingTokenInvalid is returned when a pending token fails
	// structural or signature checks.
	ErrPendingTokenInvalid = errors.New("pending token: invalid")
	// ErrPendingTokenExpired is returned when a pending token is
	// well-formed but past its validity window.
	ErrPendingTokenExpired = errors.New("pending token: expired")
)

type pendingTokenPayload struct {
	UserID   string `json:"uid"`
	Type     string `json:"typ"`
	IssuedAt int64  `json:"iat_ms"`
}

// PendingTokenConfig bundles the configuration for a PendingTokenService.
type PendingTokenConfig struct {
	Secret string
	TTL    time.Duration
	Clock  func() time.Time
}

// PendingTokenService issues and resolves the short-lived tokens that bridge
// the password step and the TOTP step of the login handshake. Tokens are
// HMAC-SHA256 signed and carry no session state server-side.
type PendingTokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewPendingTokenService constructs a PendingTokenService.
func NewPendingTokenService(cfg PendingTokenConfig) (*PendingTokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("pending token: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultPendingTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &PendingTokenService{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		now:    now,
	}, nil
}

// Issue creates a signed pending token for the given user.
func (s *PendingTokenService) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("pending token: user id is required")
	}

	payload := pendingTokenPayload{
		UserID:   userID,
		Type:     pendingTokenType,
		IssuedAt: s.now().UnixMilli(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("pending token: marshal payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	signature := s.sign(encoded)

	return encoded + "." + signature, nil
}

// Resolve validates a pending token and returns the user ID it was issued
// for. Tampered, malformed and expired tokens all fail closed.
func (s *PendingTokenService) Resolve(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrPendingTokenInvalid
	}

	expected := s.sign(parts[0])
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return "", ErrPendingTokenInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrPendingTokenInvalid
	}

	var payload pendingTokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", ErrPendingTokenInvalid
	}

	if payload.Type != pendingTokenType || payload.UserID == "" {
		return "", ErrPendingTokenInvalid
	}

	issuedAt := time.UnixMilli(payload.IssuedAt)
	if s.now().Sub(issuedAt) > s.ttl {
		return "", ErrPendingTokenExpired
	}

	return payload.UserID, nil
}

func (s *PendingTokenService) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
