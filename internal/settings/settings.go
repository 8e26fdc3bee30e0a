package settings

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"hooky/internal/security"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGitHubAppID        = 227243
	DefaultPrivateKeyPath     = "github_app_secret_key.pem"
	DefaultRedisDSN           = "redis://localhost:6379"
	DefaultConfigCacheTimeout = 600
	DefaultWorkers            = 8
	DefaultHistoryDB          = "./deliveries.db"
)

// Environment variables that override values from the settings file.
const (
	EnvGitHubAppID        = "GITHUB_APP_ID"
	EnvPrivateKeyPath     = "GITHUB_APP_SECRET_KEY"
	EnvWebhookSecret      = "WEBHOOK_SECRET"
	EnvMarketplaceSecret  = "MARKETPLACE_WEBHOOK_SECRET"
	EnvRedisDSN           = "REDIS_DSN"
	EnvConfigCacheTimeout = "CONFIG_CACHE_TIMEOUT"
	EnvGitHubToken        = "GITHUB_TOKEN"
	EnvWorkers            = "HOOKY_WORKERS"
	EnvMetrics            = "HOOKY_METRICS"
	EnvHistoryDB          = "HOOKY_HISTORY_DB"
)

// Settings is the validated, process-wide configuration. It is built once at
// startup and shared read-only by every request.
type Settings struct {
	GitHubAppID    int64
	PrivateKeyPath string
	WebhookSecret  Secret
	// MarketplaceSecret is nil when no marketplace secret is configured.
	MarketplaceSecret  *Secret
	RedisDSN           string
	ConfigCacheTimeout time.Duration
	// GitHubToken switches the GitHub client to a static token instead of
	// app installation auth.
	GitHubToken    Secret
	Workers        int
	MetricsEnabled bool
	HistoryDB      string
}

// FileConfig represents the YAML settings file.
type FileConfig struct {
	GitHubAppID              string  `yaml:"github_app_id"`
	GitHubAppSecretKey       string  `yaml:"github_app_secret_key"`
	WebhookSecret            string  `yaml:"webhook_secret"`
	MarketplaceWebhookSecret *string `yaml:"marketplace_webhook_secret"`
	RedisDSN                 *string `yaml:"redis_dsn"`
	ConfigCacheTimeout       *int    `yaml:"config_cache_timeout"`
	GitHubToken              string  `yaml:"github_token"`
	Workers                  int     `yaml:"workers"`
	MetricsEnabled           bool    `yaml:"metrics_enabled"`
	HistoryDB                *string `yaml:"history_db"`
}

// Load reads settings from configPath (if non-empty), applies environment
// overrides and defaults, and validates the result.
func Load(configPath string) (*Settings, error) {
	var fc FileConfig

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML settings: %w", err)
		}
	}

	applyEnv(&fc, os.LookupEnv)

	if errs := Validate(fc); len(errs) > 0 {
		return nil, fmt.Errorf("invalid settings:\n%s", strings.Join(errs, "\n"))
	}

	return build(fc), nil
}

// applyEnv overlays environment variables on fc. An environment variable that
// is set but empty still counts for the marketplace secret, so "configured as
// empty" survives.
func applyEnv(fc *FileConfig, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvGitHubAppID); ok && v != "" {
		fc.GitHubAppID = v
	}
	if v, ok := lookup(EnvPrivateKeyPath); ok && v != "" {
		fc.GitHubAppSecretKey = v
	}
	if v, ok := lookup(EnvWebhookSecret); ok && v != "" {
		fc.WebhookSecret = v
	}
	if v, ok := lookup(EnvMarketplaceSecret); ok {
		fc.MarketplaceWebhookSecret = &v
	}
	if v, ok := lookup(EnvRedisDSN); ok {
		fc.RedisDSN = &v
	}
	if v, ok := lookup(EnvConfigCacheTimeout); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fc.ConfigCacheTimeout = &n
		} else {
			// Validate reports the bad value
			bad := -1
			fc.ConfigCacheTimeout = &bad
		}
	}
	if v, ok := lookup(EnvGitHubToken); ok && v != "" {
		fc.GitHubToken = v
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fc.Workers = n
		} else {
			fc.Workers = -1
		}
	}
	if v, ok := lookup(EnvMetrics); ok {
		fc.MetricsEnabled = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	if v, ok := lookup(EnvHistoryDB); ok {
		fc.HistoryDB = &v
	}
}

// Validate checks a settings file after environment overrides and returns
// every problem found.
func Validate(fc FileConfig) []string {
	var errors []string

	if fc.WebhookSecret == "" {
		errors = append(errors, "  - missing required 'webhook_secret'")
	}

	if fc.GitHubAppID != "" {
		id, err := strconv.ParseInt(fc.GitHubAppID, 10, 64)
		if err != nil || id <= 0 {
			errors = append(errors, fmt.Sprintf("  - github_app_id must be a positive integer, got '%s'", fc.GitHubAppID))
		}
	}

	if fc.GitHubToken == "" {
		keyPath := fc.GitHubAppSecretKey
		if keyPath == "" {
			keyPath = DefaultPrivateKeyPath
		}
		info, err := os.Stat(keyPath)
		if err != nil {
			if os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("  - github_app_secret_key file does not exist: '%s'", keyPath))
			} else {
				errors = append(errors, fmt.Sprintf("  - cannot stat github_app_secret_key '%s': %v", keyPath, err))
			}
		} else if info.IsDir() {
			errors = append(errors, fmt.Sprintf("  - github_app_secret_key is a directory: '%s'", keyPath))
		}
	}

	if fc.RedisDSN != nil && *fc.RedisDSN != "" {
		u, err := url.Parse(*fc.RedisDSN)
		if err != nil {
			errors = append(errors, fmt.Sprintf("  - redis_dsn is not a valid URL: %v", err))
		} else if u.Scheme != "redis" && u.Scheme != "rediss" && u.Scheme != "unix" {
			errors = append(errors, fmt.Sprintf("  - redis_dsn scheme must be redis, rediss or unix, got '%s'", u.Scheme))
		}
	}

	if fc.ConfigCacheTimeout != nil && *fc.ConfigCacheTimeout < 0 {
		errors = append(errors, fmt.Sprintf("  - config_cache_timeout must be a non-negative integer, got %d", *fc.ConfigCacheTimeout))
	}

	if fc.Workers < 0 {
		errors = append(errors, fmt.Sprintf("  - workers must be a positive integer, got %d", fc.Workers))
	}

	return errors
}

// build applies defaults to a validated FileConfig.
func build(fc FileConfig) *Settings {
	s := &Settings{
		GitHubAppID:        DefaultGitHubAppID,
		PrivateKeyPath:     DefaultPrivateKeyPath,
		WebhookSecret:      NewSecret(fc.WebhookSecret),
		RedisDSN:           DefaultRedisDSN,
		ConfigCacheTimeout: DefaultConfigCacheTimeout * time.Second,
		Workers:            DefaultWorkers,
		MetricsEnabled:     fc.MetricsEnabled,
		HistoryDB:          DefaultHistoryDB,
	}

	if fc.GitHubAppID != "" {
		// already validated
		s.GitHubAppID, _ = strconv.ParseInt(fc.GitHubAppID, 10, 64)
	}
	if fc.GitHubAppSecretKey != "" {
		s.PrivateKeyPath = fc.GitHubAppSecretKey
	}
	if fc.MarketplaceWebhookSecret != nil {
		secret := NewSecret(*fc.MarketplaceWebhookSecret)
		s.MarketplaceSecret = &secret
	}
	if fc.RedisDSN != nil {
		s.RedisDSN = *fc.RedisDSN
	}
	if fc.ConfigCacheTimeout != nil {
		s.ConfigCacheTimeout = time.Duration(*fc.ConfigCacheTimeout) * time.Second
	}
	if fc.GitHubToken != "" {
		s.GitHubToken = NewSecret(fc.GitHubToken)
	}
	if fc.Workers > 0 {
		s.Workers = fc.Workers
	}
	if fc.HistoryDB != nil {
		s.HistoryDB = *fc.HistoryDB
	}

	return s
}

// Warnings returns non-fatal problems worth logging at startup: weak secrets
// and a private key readable by anyone but its owner.
func (s *Settings) Warnings() []string {
	var warnings []string

	if err := security.CheckSecret(s.WebhookSecret.Bytes()); err != nil {
		warnings = append(warnings, fmt.Sprintf("webhook_secret: %v", err))
	}
	if s.MarketplaceSecret != nil {
		if err := security.CheckSecret(s.MarketplaceSecret.Bytes()); err != nil {
			warnings = append(warnings, fmt.Sprintf("marketplace_webhook_secret: %v", err))
		}
	}
	if s.GitHubToken.IsEmpty() {
		if err := security.EnsureSecurePermissions(s.PrivateKeyPath, security.PermPrivateKey); err != nil {
			warnings = append(warnings, fmt.Sprintf("github_app_secret_key: %v", err))
		}
	}

	return warnings
}
