package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DefaultMaxUploadBytes is the largest image the uploader accepts (5 MiB).
const DefaultMaxUploadBytes = 5 * 1024 * 1024

type Config struct {
	Port string

	BackendURL     string
	UploadTimeout  time.Duration
	HealthTimeout  time.Duration
	MaxUploadBytes int64
	// UploadFields lists the multipart field names the image is sent under.
	UploadFields  []string
	DashboardPath string
	OutputDir     string

	TelegramBotToken string
	WebhookURL       string

	// DatabaseURL enables the analysis history when set (postgres:// or mysql DSN).
	DatabaseURL string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("backend_url", "http://localhost:5000")
	v.SetDefault("upload_timeout", 15*time.Second)
	v.SetDefault("health_timeout", 5*time.Second)
	v.SetDefault("max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("upload_fields", "signature")
	v.SetDefault("dashboard_path", "/dashboard")
	v.SetDefault("output_dir", ".")
}

// Load reads config.yaml from the working directory (optional) and then the
// environment. Environment variables win: BACKEND_URL, UPLOAD_TIMEOUT, ...
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, errors.Wrap(err, "read config.yaml")
		}
	}

	cfg := &Config{
		Port:             strings.TrimSpace(v.GetString("port")),
		BackendURL:       strings.TrimRight(strings.TrimSpace(v.GetString("backend_url")), "/"),
		UploadTimeout:    v.GetDuration("upload_timeout"),
		HealthTimeout:    v.GetDuration("health_timeout"),
		MaxUploadBytes:   v.GetInt64("max_upload_bytes"),
		UploadFields:     splitList(v.GetString("upload_fields")),
		DashboardPath:    v.GetString("dashboard_path"),
		OutputDir:        v.GetString("output_dir"),
		TelegramBotToken: strings.TrimSpace(v.GetString("telegram_bot_token")),
		WebhookURL:       strings.TrimSpace(v.GetString("webhook_url")),
		DatabaseURL:      strings.TrimSpace(v.GetString("database_url")),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BackendURL == "" {
		return errors.New("backend_url is empty")
	}
	if c.UploadTimeout <= 0 {
		return errors.Errorf("upload_timeout must be > 0, got %s", c.UploadTimeout)
	}
	if c.HealthTimeout <= 0 {
		return errors.Errorf("health_timeout must be > 0, got %s", c.HealthTimeout)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.Errorf("max_upload_bytes must be > 0, got %d", c.MaxUploadBytes)
	}
	if len(c.UploadFields) == 0 {
		return errors.New("upload_fields is empty")
	}
	return nil
}

// RequireTelegram reports a missing bot token; only the bot needs one.
func (c *Config) RequireTelegram() error {
	if c.TelegramBotToken == "" {
		return errors.New("missing required env TELEGRAM_BOT_TOKEN")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
