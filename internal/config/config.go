// Package config loads ringside configuration from file, .env and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Site     SiteConfig     `mapstructure:"site"`
	Admin    AdminConfig    `mapstructure:"admin"`
	ChillPay ChillPayConfig `mapstructure:"chillpay"`
	PayPal   PayPalConfig   `mapstructure:"paypal"`
	Payments PaymentsConfig `mapstructure:"payments"`
	Media    MediaConfig    `mapstructure:"media"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	// Driver is "sqlite3" (development, tests) or "postgres" (production).
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SiteConfig describes the public site.
type SiteConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

// AdminConfig holds admin authentication settings.
type AdminConfig struct {
	// APIKey grants admin access to /api/v1 via "Authorization: Bearer <key>".
	// Empty disables key access; sessions still work.
	APIKey       string        `mapstructure:"api_key"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

// ChillPayConfig holds ChillPay merchant credentials.
type ChillPayConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	APIURL       string `mapstructure:"api_url"`
	MerchantCode string `mapstructure:"merchant_code"`
	APIKey       string `mapstructure:"api_key"`
	MD5Secret    string `mapstructure:"md5_secret"`
	RouteNo      string `mapstructure:"route_no"`
	ChannelCode  string `mapstructure:"channel_code"`
	LangCode     string `mapstructure:"lang_code"`
}

// PayPalConfig holds PayPal REST credentials.
type PayPalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	ClientID  string `mapstructure:"client_id"`
	Secret    string `mapstructure:"secret"`
	WebhookID string `mapstructure:"webhook_id"`
	BrandName string `mapstructure:"brand_name"`
}

// PaymentsConfig holds booking payment lifecycle settings.
type PaymentsConfig struct {
	// PendingTTL is how long a booking may stay PENDING or PROCESSING before it expires.
	PendingTTL time.Duration `mapstructure:"pending_ttl"`

	// SweepInterval is how often the expiry worker runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// MediaConfig selects where uploaded images are stored.
type MediaConfig struct {
	Backend   string        `mapstructure:"backend"`
	Dir       string        `mapstructure:"dir"`
	PublicURL string        `mapstructure:"public_url"`
	S3        MediaS3Config `mapstructure:"s3"`
}

// MediaS3Config holds S3 (or S3-compatible) bucket settings.
type MediaS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicURL       string `mapstructure:"public_url"`
}

// =============================================================================
// Config Loading
// =============================================================================

// Load loads configuration from an optional .env file, the config file and environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/ringside.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("site.name", "Ringside")
	v.SetDefault("site.base_url", "http://localhost:8080")
	v.SetDefault("admin.api_key", "")
	v.SetDefault("admin.session_ttl", "12h")
	v.SetDefault("admin.cookie_secure", false)

	v.SetDefault("chillpay.enabled", false)
	v.SetDefault("chillpay.api_url", "https://sandbox-appsrv2.chillpay.co")
	v.SetDefault("chillpay.merchant_code", "")
	v.SetDefault("chillpay.api_key", "")
	v.SetDefault("chillpay.md5_secret", "")
	v.SetDefault("chillpay.route_no", "1")
	v.SetDefault("chillpay.channel_code", "creditcard")
	v.SetDefault("chillpay.lang_code", "TH")

	v.SetDefault("paypal.enabled", false)
	v.SetDefault("paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.secret", "")
	v.SetDefault("paypal.webhook_id", "")
	v.SetDefault("paypal.brand_name", "Ringside")

	v.SetDefault("payments.pending_ttl", "30m")
	v.SetDefault("payments.sweep_interval", "1m")

	v.SetDefault("media.backend", "local")
	v.SetDefault("media.dir", "./data/media")
	v.SetDefault("media.public_url", "/media")
	v.SetDefault("media.s3.bucket", "")
	v.SetDefault("media.s3.region", "ap-southeast-1")
	v.SetDefault("media.s3.endpoint", "")
	v.SetDefault("media.s3.access_key_id", "")
	v.SetDefault("media.s3.secret_access_key", "")
	v.SetDefault("media.s3.public_url", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	v.SetEnvPrefix("RINGSIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail at the first request.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.ChillPay.Enabled {
		if c.ChillPay.MerchantCode == "" || c.ChillPay.APIKey == "" || c.ChillPay.MD5Secret == "" {
			return errors.New("chillpay.merchant_code, chillpay.api_key and chillpay.md5_secret are required when chillpay is enabled")
		}
	}
	if c.PayPal.Enabled {
		if c.PayPal.ClientID == "" || c.PayPal.Secret == "" {
			return errors.New("paypal.client_id and paypal.secret are required when paypal is enabled")
		}
		// Webhook signatures are verified against this id; without it every webhook is rejected.
		if c.PayPal.WebhookID == "" {
			return errors.New("paypal.webhook_id is required when paypal is enabled")
		}
	}
	switch c.Media.Backend {
	case "local":
	case "s3":
		if c.Media.S3.Bucket == "" {
			return errors.New("media.s3.bucket is required for the s3 media backend")
		}
	default:
		return fmt.Errorf("media.backend must be local or s3, got %q", c.Media.Backend)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
