package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the back-office server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Security   SecurityConfig   `mapstructure:"security"`
	Invoice    InvoiceConfig    `mapstructure:"invoice"`
	Email      EmailConfig      `mapstructure:"email"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Bootstrap  BootstrapConfig  `mapstructure:"bootstrap"`
}

// BootstrapConfig seeds the first administrator account on start-up.
type BootstrapConfig struct {
	Admin BootstrapAdmin `mapstructure:"admin"`
}

// BootstrapAdmin holds the credentials for the seeded administrator.
type BootstrapAdmin struct {
	Email     string `mapstructure:"email"`
	Password  string `mapstructure:"password"`
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	FrontendURL    string   `mapstructure:"frontend_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT       JWTSettings       `mapstructure:"jwt"`
	TwoFactor TwoFactorSettings `mapstructure:"two_factor"`
	LoginRate RateLimitSettings `mapstructure:"login_rate"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// TwoFactorSettings controls the TOTP enrollment and verification flow.
type TwoFactorSettings struct {
	Issuer          string        `mapstructure:"issuer"`
	PendingTokenTTL time.Duration `mapstructure:"pending_token_ttl"`
	BackupCodes     int           `mapstructure:"backup_codes"`
}

// RateLimitSettings bounds request rates on sensitive endpoints.
type RateLimitSettings struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// SecurityConfig documents encryption requirements for stored secrets.
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// InvoiceConfig tunes the invoice generation pipeline.
type InvoiceConfig struct {
	Workers       int           `mapstructure:"workers"`
	EntityDelay   time.Duration `mapstructure:"entity_delay"`
	OutputDir     string        `mapstructure:"output_dir"`
	TemplateDir   string        `mapstructure:"template_dir"`
	UploadDir     string        `mapstructure:"upload_dir"`
	StuckAfter    time.Duration `mapstructure:"stuck_after"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("BACKOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.frontend_url", "http://localhost:5173")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/backoffice.sqlite")

	v.SetDefault("auth.jwt.issuer", "v2fin-backoffice")
	v.SetDefault("auth.jwt.access_token_ttl", "24h")
	v.SetDefault("auth.two_factor.issuer", "V2 Financial Group")
	v.SetDefault("auth.two_factor.pending_token_ttl", "15m")
	v.SetDefault("auth.two_factor.backup_codes", 10)
	v.SetDefault("auth.login_rate.requests", 10)
	v.SetDefault("auth.login_rate.window", "1m")

	v.SetDefault("invoice.workers", 2)
	v.SetDefault("invoice.entity_delay", "2s")
	v.SetDefault("invoice.output_dir", "./data/invoices")
	v.SetDefault("invoice.template_dir", "./data/templates")
	v.SetDefault("invoice.upload_dir", "./data/uploads")
	v.SetDefault("invoice.stuck_after", "30m")
	v.SetDefault("invoice.sweep_schedule", "*/10 * * * *")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
