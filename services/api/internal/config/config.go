package config

import (
	"errors"
	"fmt"
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
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	DatabaseURL    string   `yaml:"databaseURL"`
	TrustedProxies []string `yaml:"trustedProxies"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	DeliveryStream string `yaml:"deliveryStream"`

	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	WebhookPublicKeyPath    string   `yaml:"webhookPublicKeyPath"`
	WebhookVerifyPublicKeys string   `yaml:"webhookVerifyPublicKeys"`
	WebhookKeyID            string   `yaml:"webhookKeyId"`
	WebhookAudience         string   `yaml:"webhookAudience"`
	WebhookIssuers          []string `yaml:"webhookIssuers"`

	GenerationProvider    string `yaml:"generationProvider"`
	GenerationModel       string `yaml:"generationModel"`
	GenerationAPIKey      string `yaml:"generationAPIKey"`
	GenerationBaseURL     string `yaml:"generationBaseURL"`
	VertexProject         string `yaml:"vertexProject"`
	VertexLocation        string `yaml:"vertexLocation"`
	GenerationTimeout     string `yaml:"generationTimeout"`
	GenerationMaxAttempts int    `yaml:"generationMaxAttempts"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	RawOutputURLExpiry string `yaml:"rawOutputURLExpiry"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	DispatchRateLimit  int    `yaml:"dispatchRateLimit"`
	DispatchRateWindow string `yaml:"dispatchRateWindow"`
	AlertPrefix        string `yaml:"alertPrefix"`

	StaleJobAfter  string `yaml:"staleJobAfter"`
	QueuedJobAfter string `yaml:"queuedJobAfter"`
	ReaperInterval string `yaml:"reaperInterval"`
}

// Durations holds the parsed duration settings.
type Durations struct {
	JWTLeeway          time.Duration
	GenerationTimeout  time.Duration
	RawOutputURLExpiry time.Duration
	DispatchRateWindow time.Duration
	StaleJobAfter      time.Duration
	QueuedJobAfter     time.Duration
	ReaperInterval     time.Duration
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
	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)
	return cfg, validateConfig(cfg)
}

// applyEnv overlays non-empty environment variables onto cfg.
func applyEnv(cfg *FileConfig, lookup func(string) (string, bool)) {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	for name, dst := range map[string]*string{
		"PORT":                       &cfg.Port,
		"LOG_LEVEL":                  &cfg.LogLevel,
		"DATABASE_URL":               &cfg.DatabaseURL,
		"REDIS_ADDR":                 &cfg.RedisAddr,
		"REDIS_PASSWORD":             &cfg.RedisPassword,
		"AUTH_JWKS_URL":              &cfg.AuthJWKSURL,
		"WEBHOOK_VERIFY_PUBLIC_KEYS": &cfg.WebhookVerifyPublicKeys,
		"GENERATION_PROVIDER":        &cfg.GenerationProvider,
		"GENERATION_MODEL":           &cfg.GenerationModel,
		"GENERATION_API_KEY":         &cfg.GenerationAPIKey,
		"GENERATION_BASE_URL":        &cfg.GenerationBaseURL,
		"VERTEX_PROJECT":             &cfg.VertexProject,
		"MINIO_ENDPOINT":             &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":           &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":           &cfg.MinioSecretKey,
		"AMQP_URL":                   &cfg.AMQPURL,
	} {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	for name, dst := range map[string]*int{
		"GENERATION_MAX_ATTEMPTS": &cfg.GenerationMaxAttempts,
		"DISPATCH_RATE_LIMIT":     &cfg.DispatchRateLimit,
	} {
		if v, ok := get(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	if v, ok := get("MINIO_USE_SSL"); ok {
		cfg.MinioUseSSL, _ = strconv.ParseBool(v)
	}
	if v, ok := get("TRUSTED_PROXIES"); ok {
		cfg.TrustedProxies = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DeliveryStream == "" {
		cfg.DeliveryStream = "interviewprep:deliveries"
	}
	if cfg.WebhookAudience == "" {
		cfg.WebhookAudience = "api"
	}
	if len(cfg.WebhookIssuers) == 0 {
		cfg.WebhookIssuers = []string{"relay"}
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "interviewprep.jobs"
	}
	if cfg.DispatchRateLimit <= 0 {
		cfg.DispatchRateLimit = 10
	}
}

// validateConfig reports every missing or inconsistent setting at once.
func validateConfig(cfg FileConfig) error {
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("config: %s is required", key))
		}
	}
	require(cfg.Port, "port")
	require(cfg.DatabaseURL, "databaseURL")
	require(cfg.RedisAddr, "redisAddr")
	require(cfg.AuthJWKSURL, "authJwksURL")
	require(cfg.WebhookPublicKeyPath+cfg.WebhookVerifyPublicKeys, "webhookPublicKeyPath or webhookVerifyPublicKeys")

	switch provider := strings.ToLower(strings.TrimSpace(cfg.GenerationProvider)); provider {
	case "gemini", "ollama", "openai-compat":
	case "vertex":
		require(cfg.VertexProject, "vertexProject (vertex provider)")
	case "":
		require(provider, "generationProvider")
	default:
		errs = append(errs, fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider))
	}
	if cfg.MinioEndpoint != "" {
		require(cfg.MinioAccessKey, "minioAccessKey")
		require(cfg.MinioSecretKey, "minioSecretKey")
		require(cfg.MinioBucket, "minioBucket")
	}
	return errors.Join(errs...)
}

// ParseDurations parses every duration setting, applying defaults for empty values.
func ParseDurations(cfg FileConfig) (Durations, error) {
	var (
		out Durations
		err error
	)
	fields := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"jwtLeeway", cfg.JWTLeeway, 0, &out.JWTLeeway},
		{"generationTimeout", cfg.GenerationTimeout, 2 * time.Minute, &out.GenerationTimeout},
		{"rawOutputURLExpiry", cfg.RawOutputURLExpiry, 15 * time.Minute, &out.RawOutputURLExpiry},
		{"dispatchRateWindow", cfg.DispatchRateWindow, time.Minute, &out.DispatchRateWindow},
		{"staleJobAfter", cfg.StaleJobAfter, 10 * time.Minute, &out.StaleJobAfter},
		{"queuedJobAfter", cfg.QueuedJobAfter, 30 * time.Minute, &out.QueuedJobAfter},
		{"reaperInterval", cfg.ReaperInterval, time.Minute, &out.ReaperInterval},
	}
	for _, f := range fields {
		if *f.dst, err = parseDuration(f.name, f.raw, f.def); err != nil {
			return out, err
		}
	}
	return out, nil
}

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
}
