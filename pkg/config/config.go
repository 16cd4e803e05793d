package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is the file Load reads.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for baman-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Tutoring backend (digestion, retrieval, chat)
	Backend BackendConfig `yaml:"backend"`

	// Object storage used by the upload adapter
	Storage StorageConfig `yaml:"storage"`

	Digestion DigestionConfig `yaml:"digestion"`

	Auth AuthConfig `yaml:"auth"`

	// Database holds the optional PostgreSQL store for conversation bookmarks.
	Database DatabaseConfig `yaml:"database"`

	// Retry applies to idempotent reads against the backend only.
	Retry RetryConfig `yaml:"retry"`
}

// BackendConfig points at the tutoring backend API.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url" env:"BACKEND_URL" env-default:"http://127.0.0.1:5000"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"BACKEND_TIMEOUT_SECONDS" env-default:"120"`
}

// Timeout returns the per-request timeout.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig configures the upload endpoint.
type StorageConfig struct {
	UploadURL string `yaml:"upload_url" env:"STORAGE_UPLOAD_URL" env-default:""` // Defaults to <backend>/upload
	// MaxUploadMB is the per-file cap advertised to users.
	MaxUploadMB int `yaml:"max_upload_mb" env:"STORAGE_MAX_UPLOAD_MB" env-default:"100"`
	// UploadConcurrency bounds how many files are uploaded at once.
	UploadConcurrency int `yaml:"upload_concurrency" env:"STORAGE_UPLOAD_CONCURRENCY" env-default:"4"`
}

// MaxUploadBytes returns the per-file cap in bytes.
func (c StorageConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// DigestionConfig configures the digestion queue.
type DigestionConfig struct {
	// Concurrency is the number of sources digested at once. Artifacts are
	// always committed in input order whatever the value.
	Concurrency int `yaml:"concurrency" env:"DIGESTION_CONCURRENCY" env-default:"1"`
	// MaxRetries is the number of automatic retries per source on transient errors.
	MaxRetries int `yaml:"max_retries" env:"DIGESTION_MAX_RETRIES" env-default:"0"`
}

// AuthConfig holds bearer-credential handling.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are verified against JWKS.
	// The tutoring backend signs its own tokens, so local deployments parse them unverified.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"false"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// CookieName is the browser cookie carrying the bearer token.
	CookieName string `yaml:"cookie_name" env:"AUTH_COOKIE_NAME" env-default:"baman_jwt"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled" env:"PGENABLED" env-default:"false"`
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"baman"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"baman_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"./migrations"`
}

// RetryConfig configures retries of idempotent backend reads.
type RetryConfig struct {
	MaxRetries     int `yaml:"max_retries" env:"RETRY_MAX_RETRIES" env-default:"3"`
	InitialDelayMS int `yaml:"initial_delay_ms" env:"RETRY_INITIAL_DELAY_MS" env-default:"200"`
	MaxDelayMS     int `yaml:"max_delay_ms" env:"RETRY_MAX_DELAY_MS" env-default:"5000"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(DefaultConfigPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", DefaultConfigPath, err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads configuration from path, or from the environment alone when
// path does not exist. Used by the CLI, which must work without a config file.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)

	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.Backend.BaseURL = strings.TrimRight(ResolveURLForDocker(c.Backend.BaseURL), "/")
	if c.Storage.UploadURL == "" {
		c.Storage.UploadURL = c.Backend.BaseURL + "/upload"
	} else {
		c.Storage.UploadURL = ResolveURLForDocker(c.Storage.UploadURL)
	}
	c.Database.Host = ResolveHostForDocker(c.Database.Host)

	// Auto-derive BaseURL from Port if not explicitly set
	if c.BaseURL == "" {
		c.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + c.Port,
		}).String()
	}
	return nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.TimeoutSeconds < 1 {
		return fmt.Errorf("backend.timeout_seconds must be at least 1")
	}
	if c.Digestion.Concurrency < 1 {
		return fmt.Errorf("digestion.concurrency must be at least 1")
	}
	if c.Digestion.MaxRetries < 0 {
		return fmt.Errorf("digestion.max_retries must not be negative")
	}
	if c.Storage.UploadConcurrency < 1 {
		return fmt.Errorf("storage.upload_concurrency must be at least 1")
	}
	if c.Storage.MaxUploadMB < 1 {
		return fmt.Errorf("storage.max_upload_mb must be at least 1")
	}
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth.jwks_endpoints is required when verification is enabled")
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
