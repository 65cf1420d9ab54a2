package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for signportal.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// CORSAllowedOrigins is a comma-separated list of browser origins allowed to call the API.
	CORSAllowedOrigins string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:""`
}

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"2m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
	// MaxUploadBytes caps multipart request bodies for document and version uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES" env-default:"26214400"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are validated.
	// Set to false for local development only.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// Issuer is the "iss" claim written into tokens issued by POST /auth/login.
	Issuer string `yaml:"issuer" env:"AUTH_ISSUER" env-default:"signportal"`

	// TokenTTL is the lifetime of issued tokens and of the login session cookie.
	TokenTTL time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"8h"`

	// SigningKey signs locally issued tokens (HS256).
	SigningKey string `yaml:"-" env:"AUTH_SIGNING_KEY"` // Secret - not in YAML

	// SessionSecret signs the browser session cookie.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"` // Secret - not in YAML

	// CookieDomain is the domain for the session cookie (optional).
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN" env-default:""`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs for
	// tokens minted by an external identity provider.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"signportal"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"signportal"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. Redis is optional; an empty host disables it.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// StorageConfig selects where uploaded document files are kept.
type StorageConfig struct {
	// Backend is "local" or "gcs".
	Backend       string        `yaml:"backend" env:"STORAGE_BACKEND" env-default:"local"`
	LocalDir      string        `yaml:"local_dir" env:"STORAGE_LOCAL_DIR" env-default:"./data/documents"`
	GCSBucket     string        `yaml:"gcs_bucket" env:"STORAGE_GCS_BUCKET" env-default:""`
	UploadTimeout time.Duration `yaml:"upload_timeout" env:"STORAGE_UPLOAD_TIMEOUT" env-default:"2m"`
}

// TrackingConfig controls tracking-number issuance.
type TrackingConfig struct {
	// Prefix is the leading block of every tracking number (three uppercase letters).
	Prefix string `yaml:"prefix" env:"TRACKING_PREFIX" env-default:"PNP"`
	// SequenceBackend is "postgres" or "redis".
	SequenceBackend string `yaml:"sequence_backend" env:"TRACKING_SEQUENCE_BACKEND" env-default:"postgres"`
	// MaxAttempts bounds internal retries when an issued number collides.
	MaxAttempts int `yaml:"max_attempts" env:"TRACKING_MAX_ATTEMPTS" env-default:"5"`
}

// WorkflowConfig holds approval workflow rules.
type WorkflowConfig struct {
	// AllowEscalation lets a higher-ranked authority assign stages that require a lower rank.
	AllowEscalation bool `yaml:"allow_escalation" env:"WORKFLOW_ALLOW_ESCALATION" env-default:"true"`
}

// BootstrapConfig creates the first admin account on an empty installation.
type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email" env:"BOOTSTRAP_ADMIN_EMAIL" env-default:""`
	AdminName     string `yaml:"admin_name" env:"BOOTSTRAP_ADMIN_NAME" env-default:"System Administrator"`
	AdminPassword string `yaml:"-" env:"BOOTSTRAP_ADMIN_PASSWORD"` // Secret - not in YAML
}

var trackingPrefixPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.validateTLS(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want local or gcs)", c.Storage.Backend)
	}

	switch c.Tracking.SequenceBackend {
	case "postgres":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("tracking.sequence_backend=redis requires redis.host")
		}
	default:
		return fmt.Errorf("unknown tracking sequence backend %q (want postgres or redis)", c.Tracking.SequenceBackend)
	}

	if !trackingPrefixPattern.MatchString(c.Tracking.Prefix) {
		return fmt.Errorf("tracking.prefix must be three uppercase letters, got %q", c.Tracking.Prefix)
	}
	if c.Tracking.MaxAttempts < 1 {
		return fmt.Errorf("tracking.max_attempts must be at least 1")
	}

	if c.Auth.EnableVerification && c.Auth.SigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when auth verification is enabled")
	}

	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// AllowedOrigins returns the parsed CORS origin list.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
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

// URL returns the connection string in URL form, as required by golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
