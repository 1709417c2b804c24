package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "./data/ringside.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 12*time.Hour, cfg.Admin.SessionTTL)
	assert.Equal(t, 30*time.Minute, cfg.Payments.PendingTTL)
	assert.Equal(t, time.Minute, cfg.Payments.SweepInterval)
	assert.Equal(t, "local", cfg.Media.Backend)
	assert.False(t, cfg.ChillPay.Enabled)
	assert.False(t, cfg.PayPal.Enabled)
	assert.Equal(t, "https://api-m.sandbox.paypal.com", cfg.PayPal.BaseURL)
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  shutdown_timeout: 15s

database:
  driver: "postgres"
  dsn: "postgres://ringside@localhost/ringside?sslmode=disable"

chillpay:
  enabled: true
  merchant_code: "M0001"
  api_key: "key"
  md5_secret: "secret"

payments:
  pending_ttl: 45m
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := Load(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.ChillPay.Enabled)
	assert.Equal(t, "M0001", cfg.ChillPay.MerchantCode)
	assert.Equal(t, 45*time.Minute, cfg.Payments.PendingTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("RINGSIDE_SERVER_PORT", "3000")
	t.Setenv("RINGSIDE_DATABASE_DSN", "/custom/path.db")
	t.Setenv("RINGSIDE_PAYPAL_CLIENT_ID", "client-abc")
	t.Setenv("RINGSIDE_MEDIA_S3_BUCKET", "ringside-media")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "client-abc", cfg.PayPal.ClientID)
	assert.Equal(t, "ringside-media", cfg.Media.S3.Bucket)
}

func TestLoad_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := Load(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Validation Tests
// =============================================================================

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"},
		Media:    MediaConfig{Backend: "local", Dir: "media"},
	}
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "database.driver")
}

func TestValidate_ChillPayMissingSecret(t *testing.T) {
	cfg := validConfig()
	cfg.ChillPay = ChillPayConfig{Enabled: true, MerchantCode: "M1", APIKey: "k"}
	assert.ErrorContains(t, cfg.Validate(), "chillpay")
}

func TestValidate_PayPalMissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.PayPal = PayPalConfig{Enabled: true, ClientID: "id"}
	assert.ErrorContains(t, cfg.Validate(), "paypal")
}

func TestValidate_PayPalMissingWebhookID(t *testing.T) {
	cfg := validConfig()
	cfg.PayPal = PayPalConfig{Enabled: true, ClientID: "id", Secret: "secret"}
	assert.ErrorContains(t, cfg.Validate(), "paypal.webhook_id")

	cfg.PayPal.WebhookID = "WH-7YX49823S2290830K"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_S3WithoutBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Media.Backend = "s3"
	assert.ErrorContains(t, cfg.Validate(), "bucket")

	cfg.Media.S3.Bucket = "ringside"
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := SetupLogger(&Config{Log: LogConfig{Level: tt.level, Format: "text"}})
			require.NotNil(t, logger)
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.want-4))
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "localhost", Port: 8080}
	assert.Equal(t, "localhost:8080", cfg.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "RINGSIDE_") {
			os.Unsetenv(name)
		}
	}
}
