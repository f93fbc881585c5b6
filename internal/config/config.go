// Package config handles loading and validation of service configuration.
// Supports both development (.env and env vars) and production (Secret
// Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
)

// Blob backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// minSecretLength matches the session signer's minimum.
const minSecretLength = 32

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development)
// or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"
	BaseURL     string // public storefront URL, used in emailed links

	// Proxies in front of the service that append to X-Forwarded-For.
	// Zero keys rate limits by the peer address.
	TrustedProxyHops int

	// GCP settings (required in production)
	GCPProject  string
	SecretsName string

	// Storage
	BlobBackend string
	RedisURL    string
	PostgresURL string

	// Product feed
	SpreadsheetID   string
	SheetRange      string
	SyncMaxAttempts int
	SyncMinDelay    time.Duration
	SyncMaxDelay    time.Duration

	// Catalog taxonomy additions, raw category → canonical slug
	CategorySynonyms map[string]string

	// Accounts
	SessionTTL  time.Duration
	AdminEmails []string

	// Outbound services; empty endpoints fall back to log-only mail and
	// manual fulfillment.
	MailEndpoint string
	MailFrom     string
	PartnerURL   string

	Secrets Secrets
}

// Secrets are the credentials loaded from Secret Manager in production.
// In development they come from individual env vars or CONFIG_FILE.
type Secrets struct {
	SessionSecret     string `json:"session_secret"`
	CookieSecret      string `json:"cookie_secret"`
	WebhookSecret     string `json:"webhook_secret"`
	SheetsAPIKey      string `json:"sheets_api_key,omitempty"`
	SheetsCredentials string `json:"sheets_credentials,omitempty"` // service account JSON
	MailAPIKey        string `json:"mail_api_key,omitempty"`
	PartnerAPIKey     string `json:"partner_api_key,omitempty"`
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager. Outside
// production a .env file in the working directory is read first; variables
// already set win over it.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if os.Getenv("ENVIRONMENT") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:          envOrDefault("PORT", "8080"),
		Environment:   envOrDefault("ENVIRONMENT", "development"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		BaseURL:       os.Getenv("BASE_URL"),
		GCPProject:    os.Getenv("GCP_PROJECT"),
		SecretsName:   envOrDefault("SECRETS_NAME", "storefront"),
		BlobBackend:   envOrDefault("BLOB_BACKEND", BackendMemory),
		RedisURL:      os.Getenv("REDIS_URL"),
		PostgresURL:   os.Getenv("DATABASE_URL"),
		SpreadsheetID: os.Getenv("SPREADSHEET_ID"),
		SheetRange:    os.Getenv("SHEET_RANGE"),
		MailEndpoint:  os.Getenv("MAIL_ENDPOINT"),
		MailFrom:      os.Getenv("MAIL_FROM"),
		PartnerURL:    os.Getenv("PARTNER_URL"),
		AdminEmails:   splitList(os.Getenv("ADMIN_EMAILS")),
	}

	var err error
	if cfg.SyncMaxAttempts, err = envInt("SYNC_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.SyncMinDelay, err = envDuration("SYNC_MIN_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SyncMaxDelay, err = envDuration("SYNC_MAX_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TrustedProxyHops, err = envInt("TRUSTED_PROXY_HOPS", 0); err != nil {
		return nil, err
	}
	if raw := os.Getenv("CATEGORY_SYNONYMS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.CategorySynonyms); err != nil {
			return nil, fmt.Errorf("parsing CATEGORY_SYNONYMS JSON: %w", err)
		}
	}

	// Load secrets based on environment
	if cfg.IsProduction() {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig is the CONFIG_FILE layout. Durations are Go duration strings.
type fileConfig struct {
	Port             string            `json:"port"`
	Environment      string            `json:"environment"`
	LogLevel         string            `json:"log_level"`
	BaseURL          string            `json:"base_url"`
	TrustedProxyHops int               `json:"trusted_proxy_hops"`
	BlobBackend      string            `json:"blob_backend"`
	RedisURL         string            `json:"redis_url"`
	PostgresURL      string            `json:"postgres_url"`
	SpreadsheetID    string            `json:"spreadsheet_id"`
	SheetRange       string            `json:"sheet_range"`
	SyncMaxAttempts  int               `json:"sync_max_attempts"`
	SyncMinDelay     string            `json:"sync_min_delay"`
	SyncMaxDelay     string            `json:"sync_max_delay"`
	CategorySynonyms map[string]string `json:"category_synonyms"`
	SessionTTL       string            `json:"session_ttl"`
	AdminEmails      []string          `json:"admin_emails"`
	MailEndpoint     string            `json:"mail_endpoint"`
	MailFrom         string            `json:"mail_from"`
	PartnerURL       string            `json:"partner_url"`
	Secrets          Secrets           `json:"secrets"`
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:             withDefault(fc.Port, "8080"),
		Environment:      withDefault(fc.Environment, "development"),
		LogLevel:         withDefault(fc.LogLevel, "info"),
		BaseURL:          fc.BaseURL,
		TrustedProxyHops: fc.TrustedProxyHops,
		BlobBackend:      withDefault(fc.BlobBackend, BackendMemory),
		RedisURL:         fc.RedisURL,
		PostgresURL:      fc.PostgresURL,
		SpreadsheetID:    fc.SpreadsheetID,
		SheetRange:       fc.SheetRange,
		SyncMaxAttempts:  fc.SyncMaxAttempts,
		CategorySynonyms: fc.CategorySynonyms,
		AdminEmails:      fc.AdminEmails,
		MailEndpoint:     fc.MailEndpoint,
		MailFrom:         fc.MailFrom,
		PartnerURL:       fc.PartnerURL,
		Secrets:          fc.Secrets,
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sync_min_delay", fc.SyncMinDelay, &cfg.SyncMinDelay},
		{"sync_max_delay", fc.SyncMaxDelay, &cfg.SyncMaxDelay},
		{"session_ttl", fc.SessionTTL, &cfg.SessionTTL},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromSecretManager fetches the secrets JSON from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secrets_name}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretsName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Secrets); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads secrets from individual environment variables.
func (c *Config) loadFromEnv() {
	c.Secrets = Secrets{
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		CookieSecret:      os.Getenv("COOKIE_SECRET"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		SheetsAPIKey:      os.Getenv("SHEETS_API_KEY"),
		SheetsCredentials: os.Getenv("SHEETS_CREDENTIALS"),
		MailAPIKey:        os.Getenv("MAIL_API_KEY"),
		PartnerAPIKey:     os.Getenv("PARTNER_API_KEY"),
	}
}

func (c *Config) applyDefaults() {
	if c.SyncMaxAttempts == 0 {
		c.SyncMaxAttempts = 3
	}
	if c.SyncMinDelay == 0 {
		c.SyncMinDelay = 500 * time.Millisecond
	}
	if c.SyncMaxDelay == 0 {
		c.SyncMaxDelay = 10 * time.Second
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 7 * 24 * time.Hour
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%s", c.Port)
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if len(c.Secrets.SessionSecret) < minSecretLength {
		return fmt.Errorf("session_secret must be at least %d bytes", minSecretLength)
	}
	if len(c.Secrets.CookieSecret) < minSecretLength {
		return fmt.Errorf("cookie_secret must be at least %d bytes", minSecretLength)
	}

	if c.SpreadsheetID == "" {
		return fmt.Errorf("spreadsheet_id is required")
	}
	if c.Secrets.SheetsAPIKey == "" && c.Secrets.SheetsCredentials == "" {
		return fmt.Errorf("sheets_api_key or sheets_credentials is required")
	}

	switch c.BlobBackend {
	case BackendMemory:
		if c.IsProduction() {
			return fmt.Errorf("blob_backend memory is not allowed in production")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend")
		}
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown blob_backend %q (memory, redis or postgres)", c.BlobBackend)
	}

	if c.TrustedProxyHops < 0 {
		return fmt.Errorf("trusted_proxy_hops must not be negative")
	}
	if c.SyncMaxAttempts < 1 {
		return fmt.Errorf("sync_max_attempts must be at least 1")
	}
	if c.SyncMinDelay > c.SyncMaxDelay {
		return fmt.Errorf("sync_min_delay must not exceed sync_max_delay")
	}

	if c.MailEndpoint != "" {
		if c.MailFrom == "" || c.Secrets.MailAPIKey == "" {
			return fmt.Errorf("mail_from and mail_api_key are required with mail_endpoint")
		}
		if _, err := url.ParseRequestURI(c.MailEndpoint); err != nil {
			return fmt.Errorf("invalid mail_endpoint: %w", err)
		}
	}
	if c.PartnerURL != "" {
		if _, err := url.ParseRequestURI(c.PartnerURL); err != nil {
			return fmt.Errorf("invalid partner_url: %w", err)
		}
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	return nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
