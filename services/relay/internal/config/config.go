package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	DeliveryStream string `yaml:"deliveryStream"`
	DeliveryGroup  string `yaml:"deliveryGroup"`
	Concurrency    int    `yaml:"concurrency"`
	MaxRetries     int    `yaml:"maxRetries"`
	RetryDelay     string `yaml:"retryDelay"`

	WebhookURL            string `yaml:"webhookURL"`
	WebhookAudience       string `yaml:"webhookAudience"`
	RequestTimeout        string `yaml:"requestTimeout"`
	SigningPrivateKeyPath string `yaml:"signingPrivateKeyPath"`
	SigningKeyID          string `yaml:"signingKeyId"`
	SigningIssuer         string `yaml:"signingIssuer"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	for _, o := range []struct {
		env string
		dst *string
	}{
		{"PORT", &cfg.Port},
		{"LOG_LEVEL", &cfg.LogLevel},
		{"REDIS_ADDR", &cfg.RedisAddr},
		{"REDIS_PASSWORD", &cfg.RedisPassword},
		{"WEBHOOK_URL", &cfg.WebhookURL},
		{"SIGNING_PRIVATE_KEY_PATH", &cfg.SigningPrivateKeyPath},
		{"SIGNING_KEY_ID", &cfg.SigningKeyID},
	} {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
	if n, err := strconv.Atoi(os.Getenv("RELAY_CONCURRENCY")); err == nil && n > 0 {
		cfg.Concurrency = n
	}
	applyDefaults(&cfg)
	return cfg, validateConfig(cfg)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DeliveryStream == "" {
		cfg.DeliveryStream = "interviewprep:deliveries"
	}
	if cfg.DeliveryGroup == "" {
		cfg.DeliveryGroup = "relay"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.WebhookAudience == "" {
		cfg.WebhookAudience = "api"
	}
	if cfg.SigningIssuer == "" {
		cfg.SigningIssuer = "relay"
	}
}

func validateConfig(cfg FileConfig) error {
	var errs []error
	for key, v := range map[string]string{
		"port":                  cfg.Port,
		"redisAddr":             cfg.RedisAddr,
		"webhookURL":            cfg.WebhookURL,
		"signingPrivateKeyPath": cfg.SigningPrivateKeyPath,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("config: %s is required", key))
		}
	}
	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: webhookURL must be an absolute http(s) URL, got %q", cfg.WebhookURL))
		}
	}
	return errors.Join(errs...)
}

// Durations holds the parsed duration settings.
type Durations struct {
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// ParseDurations parses duration settings, applying defaults for empty values.
func ParseDurations(cfg FileConfig) (Durations, error) {
	retry, err1 := parseDuration("retryDelay", cfg.RetryDelay, 2*time.Second)
	timeout, err2 := parseDuration("requestTimeout", cfg.RequestTimeout, 3*time.Minute)
	if err := errors.Join(err1, err2); err != nil {
		return Durations{}, err
	}
	return Durations{RetryDelay: retry, RequestTimeout: timeout}, nil
}

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil || dur < 0 {
		return 0, fmt.Errorf("config: %s must be a non-negative duration, got %q", name, raw)
	}
	return dur, nil
}
