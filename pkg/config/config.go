// Package config provides application configuration management using environment variables.
// It uses github.com/kelseyhightower/envconfig for loading configuration from environment variables
// with support for validation, default values, and environment-specific helpers.
//
// # Basic Usage
//
// Load configuration from environment variables:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatalf("Failed to load configuration: %v", err)
//	}
//
//	// Validate configuration
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//
// # Environment Variables
//
// The following environment variables are supported (unprefixed):
//
// Basic configuration:
//   - ENVIRONMENT: Environment (local, development, staging, production)
//
// Server configuration:
//   - SERVER_PORT: Server port (default: 8080)
//   - SERVER_HOST: Server host (default: localhost)
//   - SERVER_READ_TIMEOUT: Read timeout (default: 1000ms)
//   - SERVER_IDLE_TIMEOUT: Idle timeout (default: 3s)
//   - SHUTDOWN_TIMEOUT: Shutdown timeout (default: 30s)
//
// Database configuration:
//   - DATABASE_HOST: Database host (default: localhost)
//   - DATABASE_PORT: Database port (default: 5432)
//   - DATABASE_NAME: Database name (required)
//   - DATABASE_USER: Database user (required)
//   - DATABASE_SSL_MODE: SSL mode (default: disable)
//   - DATABASE_MAX_OPEN_CONNS: Maximum open connections (default: 25)
//   - DATABASE_MAX_IDLE_CONNS: Maximum idle connections (default: 5)
//   - DATABASE_CONN_MAX_LIFETIME: Connection max lifetime in seconds (default: 300)
//
// Logging configuration:
//   - LOGGING_LEVEL: Log level (debug, info, warn, error, default: info)
//   - LOGGING_FORMAT: Log format (json, text, default: json)
//   - LOGGING_STRUCTURED: Enable structured logging (default: true)
//   - LOGGING_INCLUDE_CALLER: Include caller information (default: false)
//
// Telemetry configuration:
//   - TELEMETRY_OTLP_ENDPOINT: OTLP exporter endpoint for sending traces
//   - TELEMETRY_SERVICE_NAME: Service name for tracing (default: go-backend-scaffold)
//   - TELEMETRY_SERVICE_VERSION: Service version for tracing (default: 1.0.0)
//
// Secrets, messaging, KV, chain, and treasury configuration are documented
// on SecretsConfig, NATSConfig, RedisConfig, ChainConfig, and
// TreasuryConfig respectively.
//
// # Environment Helpers
//
// Use environment detection helpers:
//
//	if cfg.IsDevelopment() {
//		// Development-specific logic
//	}
//
//	if cfg.IsProduction() {
//		// Production-specific logic
//	}
//
// # Database Connection
//
// Get database connection string:
//
//	dsn := cfg.Database.GetDSN()
//	// Returns: "host=localhost port=5432 user=user dbname=dbname sslmode=disable"
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents the application configuration loaded from environment variables.
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Logging configuration
	Logging LoggingConfig

	// Telemetry configuration
	Telemetry TelemetryConfig

	// GCP configuration
	GCP GCPConfig

	// Messaging (NATS JetStream / GoChannel fallback) configuration
	NATS NATSConfig

	// EventService configures the Sync Consumer's outbound callback to the
	// owning event service.
	EventService EventServiceConfig

	// Redis-backed lock/idempotency/recovery/nonce store configuration
	Redis RedisConfig

	// Secrets shared by HMAC-signed QR tokens, JWT auth, and internal RPC
	// authentication
	Secrets SecretsConfig

	// Custodial Key Vault / AWS KMS configuration
	Vault VaultConfig

	// Ticket metadata storage configuration
	Metadata MetadataConfig

	// Chain Adapter RPC endpoint configuration
	Chain ChainConfig

	// Treasury Guard monitoring configuration
	Treasury TreasuryConfig

	// JWT / JWKS configuration for inbound bearer-token validation
	JWT JWTConfig

	// Environment
	Environment string `envconfig:"ENVIRONMENT" default:"local"`

	// Shutdown timeout in seconds
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// NATSConfig configures the Watermill NATS JetStream transport. An empty
// URL falls back to an in-process GoChannel, the local-dev/test path.
type NATSConfig struct {
	// URL is the NATS server address, e.g. "nats://localhost:4222". Empty
	// selects the GoChannel fallback.
	URL string `envconfig:"NATS_URL"`

	// PoisonQueueTopic receives messages the router's retry middleware
	// gave up on after 3 attempts.
	PoisonQueueTopic string `envconfig:"NATS_POISON_QUEUE_TOPIC" default:"poison-queue"`

	// BlockchainSyncTopic is the inbound topic the Sync Consumer
	// subscribes to.
	BlockchainSyncTopic string `envconfig:"NATS_BLOCKCHAIN_SYNC_TOPIC" default:"event.blockchain_sync_requested"`
}

// EventServiceConfig configures the outbound callback the Sync Consumer
// issues against the owning event service once a blockchain_sync_requested
// message reaches a terminal state, and the internal HMAC auth allow-list
// covering that call.
type EventServiceConfig struct {
	// BaseURL is the event service's address, e.g. "http://events.internal:8080".
	BaseURL string `envconfig:"EVENT_SERVICE_BASE_URL"`

	// AllowedCallerServices lists the service names this process accepts
	// on inbound internal-auth-signed requests. This core only signs
	// outbound callbacks today; the allow-list exists for symmetry with
	// any future inbound internal endpoint.
	AllowedCallerServices []string `envconfig:"INTERNAL_ALLOWED_SERVICES" default:"scancore"`
}

// RedisConfig configures the distributed lock / idempotency / recovery /
// nonce replay stores. An empty Addr selects the in-process memory
// fallback (local dev/tests only; never a valid production shape since it
// cannot coordinate across processes).
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// SecretsConfig carries the symmetric secrets this core signs with. All
// three must be at least 32 characters; Validate enforces this in
// production and warns elsewhere.
type SecretsConfig struct {
	// HMACSecret signs offline-manifest tokens (distinct from each
	// ticket's own qr_hmac_secret).
	HMACSecret string `envconfig:"HMAC_SECRET"`

	// JWTSecret verifies bearer tokens on inbound requests when no JWKS
	// endpoint is configured.
	JWTSecret string `envconfig:"JWT_SECRET"`

	// InternalServiceSecret signs/verifies the x-internal-signature header
	// on service-to-service RPC.
	InternalServiceSecret string `envconfig:"INTERNAL_SERVICE_SECRET"`
}

// weakSecrets lists default/placeholder values that must never reach
// production.
var weakSecrets = map[string]bool{
	"":            true,
	"changeme":    true,
	"secret":      true,
	"password":    true,
	"test":        true,
	"development": true,
}

// VaultConfig configures the custodial key vault's KMS envelope encryption.
type VaultConfig struct {
	KMSKeyID string `envconfig:"KMS_KEY_ID"`
	Region   string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// MetadataConfig configures the S3-backed ticket metadata uploader.
type MetadataConfig struct {
	Bucket   string `envconfig:"METADATA_BUCKET"`
	Endpoint string `envconfig:"METADATA_S3_ENDPOINT"`
	Prefix   string `envconfig:"METADATA_KEY_PREFIX" default:"tickets/"`
}

// ChainConfig configures the Chain Adapter's RPC endpoint pool.
type ChainConfig struct {
	// RPCEndpoints is an ordered, comma-separated list of RPC URLs; the
	// first healthy one is preferred.
	RPCEndpoints []string `envconfig:"CHAIN_RPC_ENDPOINTS"`

	// ProbeInterval controls how often an unhealthy endpoint is re-probed.
	ProbeInterval time.Duration `envconfig:"CHAIN_PROBE_INTERVAL" default:"30s"`

	// ConfirmTimeout bounds how long Confirm waits for a submitted
	// transaction to reach finality.
	ConfirmTimeout time.Duration `envconfig:"CHAIN_CONFIRM_TIMEOUT" default:"60s"`
}

// TreasuryConfig configures the Treasury Guard's destination whitelist,
// balance/drain thresholds, and alert dispatch.
type TreasuryConfig struct {
	// WhitelistedDestinations is the set of addresses outbound treasury
	// transfers are permitted to target, on top of hardcoded program/system
	// addresses.
	WhitelistedDestinations []string `envconfig:"TREASURY_WHITELISTED_DESTINATIONS"`

	// Address is the treasury account balance alerts are computed against.
	// Empty disables the balance thresholds (single-transfer and drain
	// thresholds still apply).
	Address string `envconfig:"TREASURY_ADDRESS"`

	// AlertWebhookURL is the Slack incoming webhook alerts are dispatched
	// to. Empty falls back to log-only dispatch.
	AlertWebhookURL string `envconfig:"TREASURY_ALERT_WEBHOOK_URL"`

	// Threshold crossings, in native units (SOL).
	BalanceWarning  float64 `envconfig:"TREASURY_BALANCE_WARNING" default:"1.0"`
	BalanceCritical float64 `envconfig:"TREASURY_BALANCE_CRITICAL" default:"0.1"`
	SingleTxWarning float64 `envconfig:"TREASURY_SINGLE_TX_WARNING" default:"0.5"`
	DrainCritical1h float64 `envconfig:"TREASURY_DRAIN_CRITICAL_1H" default:"2.0"`
}

// JWTConfig configures JWKS-based bearer-token validation
// (internal/infrastructure/auth.JWTValidator).
type JWTConfig struct {
	// Issuer is the accepted token issuer.
	Issuer string `envconfig:"OIDC_ISSUER_URL"`

	// JWKSURL is the JWKS endpoint the validator's key cache refreshes
	// from.
	JWKSURL string `envconfig:"JWKS_URL"`

	// JWKSRefreshInterval is the minimum interval between JWKS refreshes.
	JWKSRefreshInterval time.Duration `envconfig:"JWKS_REFRESH_INTERVAL" default:"15m"`
}

// ServerConfig represents server-specific configuration.
type ServerConfig struct {
	// Port to listen on
	Port int `envconfig:"SERVER_PORT" default:"8080"`

	// Host to bind to
	Host string `envconfig:"SERVER_HOST" default:"localhost"`

	// Read header timeout in milliseconds
	ReadHeaderTimeout time.Duration `envconfig:"SERVER_READ_HEADER_TIMEOUT" default:"500ms"`

	// Read timeout in milliseconds
	ReadTimeout time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"1000ms"`

	// Handler timeout in seconds
	HandlerTimeout time.Duration `envconfig:"SERVER_HANDLER_TIMEOUT" default:"5s"`

	// Idle timeout in seconds
	IdleTimeout time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"3s"`

	// Allowed CORS origins
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:9000"`
}

// DatabaseConfig represents database-specific configuration.
type DatabaseConfig struct {
	// Database host
	Host string `envconfig:"DATABASE_HOST" default:"localhost"`

	// Database port
	Port int `envconfig:"DATABASE_PORT" default:"5432"`

	// Database name
	Name string `envconfig:"DATABASE_NAME" required:"true"`

	// Database user
	User string `envconfig:"DATABASE_USER" required:"true"`

	// Database SSL mode
	SSLMode string `envconfig:"DATABASE_SSL_MODE" default:"disable"`

	// Connection pool settings
	MaxOpenConns    int `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime int `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"300"`

	// Instance Connection Name (e.g., project:region:instance)
	// Required for Cloud SQL Connector (non-local environments)
	InstanceConnectionName string `envconfig:"DATABASE_INSTANCE_CONNECTION_NAME"`
}

// LoggingConfig represents logging-specific configuration.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `envconfig:"LOGGING_LEVEL" default:"info"`

	// Log format (json, text)
	Format string `envconfig:"LOGGING_FORMAT" default:"json"`

	// Enable structured logging
	Structured bool `envconfig:"LOGGING_STRUCTURED" default:"true"`

	// Include caller information
	IncludeCaller bool `envconfig:"LOGGING_INCLUDE_CALLER" default:"false"`
}

// TelemetryConfig represents telemetry-specific configuration.
type TelemetryConfig struct {
	// OTLP exporter endpoint for sending traces
	OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`

	// Service name for tracing
	ServiceName string `envconfig:"TELEMETRY_SERVICE_NAME" default:"go-backend-scaffold"`

	// Service version for tracing
	ServiceVersion string `envconfig:"TELEMETRY_SERVICE_VERSION" default:"1.0.0"`
}

// GCPConfig represents Google Cloud specific configuration.
type GCPConfig struct {
	// GCP Project ID
	ProjectID string `envconfig:"GCP_PROJECT_ID"`

	// GCP Location (e.g., us-central1)
	Location string `envconfig:"GCP_LOCATION" default:"us-central1"`

	// Gemini Model Name
	GeminiModel string `envconfig:"GCP_GEMINI_MODEL" default:"gemini-3-flash-preview"`

	// Vertex AI Search Data Store ID (full resource name)
	// Format: projects/{project}/locations/global/collections/default_collection/dataStores/{data_store_id}
	VertexAISearchDataStore string `envconfig:"GCP_VERTEX_AI_SEARCH_DATA_STORE"`
}

// Load loads configuration from unprefixed environment variables, e.g.
// DATABASE_NAME, HMAC_SECRET.
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return fmt.Errorf("failed to load config: %w", err)
//	}
func Load() (*Config, error) {
	var cfg Config

	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration according to the following rules:
//   - Server port: 1-65535 range
//   - Database port: 1-65535 range
//   - Environment: local, development, staging, or production
//   - Log level: debug, info, warn, or error
//   - Log format: json or text
//   - Outside local: database instance connection name and allowed origins
//   - Secrets: see validateSecrets
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}

	validEnvironments := []string{"local", "development", "staging", "production"}
	valid := false

	for _, env := range validEnvironments {
		if c.Environment == env {
			valid = true

			break
		}
	}

	if !valid {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid = false

	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			valid = true

			break
		}
	}

	if !valid {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := []string{"json", "text"}
	valid = false

	for _, format := range validLogFormats {
		if c.Logging.Format == format {
			valid = true

			break
		}
	}

	if !valid {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if !c.IsLocal() && c.Database.InstanceConnectionName == "" {
		return fmt.Errorf("database instance connection name is required for non-local environments")
	}

	if !c.IsLocal() && len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed origins are required for non-local environments")
	}

	return c.validateSecrets()
}

// validateSecrets enforces minimum-length and non-placeholder rules for
// HMAC_SECRET, JWT_SECRET, and INTERNAL_SERVICE_SECRET: missing or weak
// secrets abort startup in production, and only warn in other
// environments since local/staging developer loops should not be blocked
// by a missing secret they never touch.
func (c *Config) validateSecrets() error {
	named := map[string]string{
		"HMAC_SECRET":             c.Secrets.HMACSecret,
		"JWT_SECRET":              c.Secrets.JWTSecret,
		"INTERNAL_SERVICE_SECRET": c.Secrets.InternalServiceSecret,
	}

	var errs []error
	for name, value := range named {
		weak := len(value) < 32 || weakSecrets[value]
		if !weak {
			continue
		}
		if c.IsProduction() {
			// One line per missing item so an operator fixing a broken
			// deployment sees every problem at once, not the first.
			errs = append(errs, fmt.Errorf("%s is missing or too weak for production (must be >= 32 characters)", name))
		} else {
			slog.Warn("secret is missing or too weak (must be >= 32 characters)", slog.String("name", name))
		}
	}

	return errors.Join(errs...)
}

// GetDSN returns the database connection string.
func (c DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Name, c.SSLMode)
}

// IsDevelopment returns true if the environment is "development".
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if the environment is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsStaging returns true if the environment is "staging".
func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}

// IsLocal returns true if the environment is "local".
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}
