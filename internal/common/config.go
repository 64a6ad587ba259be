// Package common provides shared utilities for keyvault
package common

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/avisanghavi/keyvault/internal/models"
)

// Config holds all configuration for keyvault
type Config struct {
	Environment string                  `toml:"environment"`
	Server      ServerConfig            `toml:"server"`
	Storage     StorageConfig           `toml:"storage"`
	Encryption  EncryptionConfig        `toml:"encryption"`
	OAuth       OAuthConfig             `toml:"oauth"`
	Refresh     RefreshConfig           `toml:"refresh"`
	Audit       AuditConfig             `toml:"audit"`
	Logging     LoggingConfig           `toml:"logging"`
	Services    []*models.ServiceConfig `toml:"services"` // registry additions/overrides
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend string `toml:"backend"` // "badger" (default) or "surrealdb"

	// Badger (embedded) settings
	Path string `toml:"path"`

	// SurrealDB settings
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// EncryptionConfig holds the at-rest encryption key material.
// Keys is ordered newest first; each entry is a base64-encoded 32-byte key.
// Key material is sourced from the environment and never logged.
type EncryptionConfig struct {
	Keys []string `toml:"keys"`
}

// DecodeKeys decodes and validates the configured key ring.
func (c *EncryptionConfig) DecodeKeys() ([][]byte, error) {
	if len(c.Keys) == 0 {
		return nil, fmt.Errorf("no encryption keys configured (set KEYVAULT_ENCRYPTION_KEYS)")
	}
	keys := make([][]byte, 0, len(c.Keys))
	for i, k := range c.Keys {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("encryption key %d is not valid base64: %w", i, err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("encryption key %d must be 32 bytes, got %d", i, len(raw))
		}
		keys = append(keys, raw)
	}
	return keys, nil
}

// OAuthConfig holds OAuth flow settings and per-provider client credentials.
type OAuthConfig struct {
	StateSecret     string                         `toml:"state_secret"`     // HMAC secret for state tokens
	StateTTL        string                         `toml:"state_ttl"`        // duration string, default "10m"
	ProviderTimeout string                         `toml:"provider_timeout"` // duration string, default "10s"
	RedirectURI     string                         `toml:"redirect_uri"`     // default callback for all providers
	RateLimit       int                            `toml:"rate_limit"`       // provider requests/sec, default 10
	Providers       map[string]ProviderCredentials `toml:"providers"`
}

// ProviderCredentials holds OAuth client credentials for one external provider.
type ProviderCredentials struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"` // overrides OAuthConfig.RedirectURI
}

// GetStateTTL parses and returns the OAuth state expiry window.
func (c *OAuthConfig) GetStateTTL() time.Duration {
	d, err := time.ParseDuration(c.StateTTL)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// GetProviderTimeout parses and returns the provider request timeout.
func (c *OAuthConfig) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.ProviderTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetRateLimit returns the provider request rate limit in requests/sec.
func (c *OAuthConfig) GetRateLimit() int {
	if c.RateLimit <= 0 {
		return 10
	}
	return c.RateLimit
}

// RefreshConfig tunes the token refresh engine.
type RefreshConfig struct {
	Margin        string `toml:"margin"`         // refresh when expiry is within this window, default "5m"
	MaxAttempts   int    `toml:"max_attempts"`   // default 3
	BackoffBase   string `toml:"backoff_base"`   // default "500ms"
	BackoffCap    string `toml:"backoff_cap"`    // default "5s"
	QueueSize     int    `toml:"queue_size"`     // bounded retry queue capacity, default 128
	DrainInterval string `toml:"drain_interval"` // background retry interval, default "1m"
}

// GetMargin parses and returns the refresh safety margin.
func (c *RefreshConfig) GetMargin() time.Duration {
	d, err := time.ParseDuration(c.Margin)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// GetBackoffBase parses and returns the initial retry delay.
func (c *RefreshConfig) GetBackoffBase() time.Duration {
	d, err := time.ParseDuration(c.BackoffBase)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetBackoffCap parses and returns the maximum retry delay.
func (c *RefreshConfig) GetBackoffCap() time.Duration {
	d, err := time.ParseDuration(c.BackoffCap)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetMaxAttempts returns the refresh retry budget.
func (c *RefreshConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

// GetQueueSize returns the retry queue capacity.
func (c *RefreshConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 128
	}
	return c.QueueSize
}

// GetDrainInterval parses and returns the retry drain interval.
func (c *RefreshConfig) GetDrainInterval() time.Duration {
	d, err := time.ParseDuration(c.DrainInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// AuditConfig tunes audit trail retention.
type AuditConfig struct {
	RetentionDays int `toml:"retention_days"` // default 90, 0 disables cleanup
}

// GetRetention returns the audit retention window, or 0 when cleanup is disabled.
func (c *AuditConfig) GetRetention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Backend:   "badger",
			Path:      "data/vault",
			Namespace: "keyvault",
			Database:  "vault",
		},
		OAuth: OAuthConfig{
			StateTTL:        "10m",
			ProviderTimeout: "10s",
			RedirectURI:     "http://localhost:8090/api/oauth/callback",
			RateLimit:       10,
		},
		Refresh: RefreshConfig{
			Margin:        "5m",
			MaxAttempts:   3,
			BackoffBase:   "500ms",
			BackoffCap:    "5s",
			QueueSize:     128,
			DrainInterval: "1m",
		},
		Audit: AuditConfig{
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("KEYVAULT_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("KEYVAULT_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("KEYVAULT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("KEYVAULT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if backend := os.Getenv("KEYVAULT_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}
	if path := os.Getenv("KEYVAULT_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}
	if addr := os.Getenv("KEYVAULT_SURREAL_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if v := os.Getenv("KEYVAULT_SURREAL_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("KEYVAULT_SURREAL_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	// Encryption keys: comma-separated base64, newest first.
	if keys := os.Getenv("KEYVAULT_ENCRYPTION_KEYS"); keys != "" {
		config.Encryption.Keys = splitAndTrim(keys)
	}
	if v := os.Getenv("KEYVAULT_STATE_SECRET"); v != "" {
		config.OAuth.StateSecret = v
	}
	if v := os.Getenv("KEYVAULT_OAUTH_REDIRECT_URI"); v != "" {
		config.OAuth.RedirectURI = v
	}

	// Per-provider client credentials, e.g. KEYVAULT_GOOGLE_CLIENT_ID.
	for _, provider := range []string{"google", "hubspot", "linkedin"} {
		prefix := "KEYVAULT_" + strings.ToUpper(provider) + "_"
		id := os.Getenv(prefix + "CLIENT_ID")
		secret := os.Getenv(prefix + "CLIENT_SECRET")
		if id == "" && secret == "" {
			continue
		}
		if config.OAuth.Providers == nil {
			config.OAuth.Providers = make(map[string]ProviderCredentials)
		}
		creds := config.OAuth.Providers[provider]
		if id != "" {
			creds.ClientID = id
		}
		if secret != "" {
			creds.ClientSecret = secret
		}
		config.OAuth.Providers[provider] = creds
	}
}

// validate rejects startup configuration the vault cannot run with.
func validate(config *Config) error {
	if _, err := config.Encryption.DecodeKeys(); err != nil {
		return fmt.Errorf("invalid encryption config: %w", err)
	}
	if config.OAuth.StateSecret == "" {
		return fmt.Errorf("oauth state secret is required (set KEYVAULT_STATE_SECRET)")
	}
	switch config.Storage.Backend {
	case "", "badger":
	case "surrealdb":
		if config.Storage.Address == "" {
			return fmt.Errorf("surrealdb backend requires storage.address")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s (supported: badger, surrealdb)", config.Storage.Backend)
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
