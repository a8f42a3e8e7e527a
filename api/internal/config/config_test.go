package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// viper treats empty variables as unset
	for _, k := range []string{"BACKEND_URL", "UPLOAD_TIMEOUT", "HEALTH_TIMEOUT", "MAX_UPLOAD_BYTES", "UPLOAD_FIELDS", "DASHBOARD_PATH"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.BackendURL)
	assert.Equal(t, 15*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 5*time.Second, cfg.HealthTimeout)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"signature"}, cfg.UploadFields)
	assert.Equal(t, "/dashboard", cfg.DashboardPath)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BACKEND_URL", "http://verifier:5000/")
	t.Setenv("UPLOAD_TIMEOUT", "3s")
	t.Setenv("UPLOAD_FIELDS", "file, image ,signature")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://verifier:5000", cfg.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.UploadTimeout)
	assert.Equal(t, []string{"file", "image", "signature"}, cfg.UploadFields)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.NoError(t, cfg.RequireTelegram())
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("UPLOAD_TIMEOUT", "-1s")

	_, err := Load()
	assert.EqualError(t, err, "upload_timeout must be > 0, got -1s")
}

func TestRequireTelegram(t *testing.T) {
	cfg := &Config{}
	assert.EqualError(t, cfg.RequireTelegram(), "missing required env TELEGRAM_BOT_TOKEN")
}
