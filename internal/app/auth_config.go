package app

import (
	"github.com/v2fin/backoffice/internal/auth"
	"github.com/v2fin/backoffice/internal/auth/mfa"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// PendingTokenServiceConfig converts AuthConfig into PendingTokenService parameters.
// Pending tokens are signed with the JWT secret; they never leave the login
// handshake so a dedicated key would buy nothing.
func (c AuthConfig) PendingTokenServiceConfig() auth.PendingTokenConfig {
	ttl := c.TwoFactor.PendingTokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultPendingTokenTTL
	}

	return auth.PendingTokenConfig{
		Secret: c.JWT.Secret,
		TTL:    ttl,
	}
}

// TOTPServiceOptions converts AuthConfig into functional options for the TOTP service.
func (c AuthConfig) TOTPServiceOptions() []mfa.Option {
	var opts []mfa.Option
	if issuer := c.TwoFactor.Issuer; issuer != "" {
		opts = append(opts, mfa.WithIssuer(issuer))
	}
	if count := c.TwoFactor.BackupCodes; count > 0 {
		opts = append(opts, mfa.WithBackupCodeCount(count))
	}
	return opts
}
