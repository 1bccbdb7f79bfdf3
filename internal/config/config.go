// Package config provides configuration loading and management for the PFA server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedAssets is the feed supplying equipment-cost lines from the EAM system
const FeedAssets = "assets"

// knownFeeds is the set of feeds a source connection may declare
var knownFeeds = map[string]bool{
	FeedAssets: true,
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server,omitempty"`
	Database    *DatabaseConfig   `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth,omitempty"`
	Source      SourceConfig      `yaml:"source"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
	Sync        SyncConfig        `yaml:"sync,omitempty"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of connections in the pool
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// MinConns is the minimum number of idle connections kept in the pool
	MinConns int32 `yaml:"minConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// AuthConfig defines settings for the JWT permission middleware
type AuthConfig struct {
	// SigningKeyFile is the path to a file containing the HMAC signing key.
	// Falls back to the PFA_JWT_SIGNING_KEY environment variable.
	SigningKeyFile string `yaml:"signingKeyFile,omitempty"`

	// Issuer, when set, is required to match the token's iss claim
	Issuer string `yaml:"issuer,omitempty"`
}

// SourceConfig describes the external EAM API endpoint and fetch tuning.
// It is read-only to the sync engine; persisted per-organization sync
// statistics live on the source_connection table, not here.
type SourceConfig struct {
	// Endpoint is the base API URL (without path). The source client appends
	// the appropriate paths, for instance:
	//   - /api/v1/info - endpoint metadata and API version
	//   - /api/v1/orgs/{code}/assets - paginated equipment-cost lines
	Endpoint string `yaml:"endpoint"`

	// PageSize is the number of records requested per page fetch
	PageSize int `yaml:"pageSize,omitempty"`

	// ChunkSize is the number of records written per transaction
	ChunkSize int `yaml:"chunkSize,omitempty"`

	// MinAPIVersion is the minimum EAM API version accepted at validation time
	MinAPIVersion string `yaml:"minAPIVersion,omitempty"`

	// Feeds declares which entities this endpoint supplies
	Feeds []string `yaml:"feeds"`

	// FetchTimeout bounds a single page fetch (e.g. "60s")
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`

	// WriteTimeout bounds a single chunk write transaction (e.g. "30s")
	WriteTimeout string `yaml:"writeTimeout,omitempty"`
}

// EligibilityConfig defines the four subject-level filter tiers.
// Organization-level gating (service status, enableSync) is data, not config.
type EligibilityConfig struct {
	// AllowedGroups is the allow-list for the subject's group/role tier
	AllowedGroups []string `yaml:"allowedGroups"`

	// GateAttribute is the name of the custom attribute checked by the
	// attribute-gate tier
	GateAttribute string `yaml:"gateAttribute"`

	// GateAcceptedValues are the truthy tokens accepted for GateAttribute,
	// compared case-insensitively
	GateAcceptedValues []string `yaml:"gateAcceptedValues"`

	// RequiredOrganizations is the allow-list for the subject's
	// organization-membership tier
	RequiredOrganizations []string `yaml:"requiredOrganizations"`
}

// SyncConfig defines sync execution tuning
type SyncConfig struct {
	// MaxConcurrentOrgs bounds the fan-out concurrency of sync-all
	MaxConcurrentOrgs int `yaml:"maxConcurrentOrgs,omitempty"`

	// Coordinator configures the optional background sync loop
	Coordinator CoordinatorConfig `yaml:"coordinator,omitempty"`
}

// CoordinatorConfig defines background sync coordination settings
type CoordinatorConfig struct {
	// Enabled turns the background fan-out loop on
	Enabled bool `yaml:"enabled,omitempty"`

	// Interval is the base interval between fan-out passes (e.g. "30m")
	Interval string `yaml:"interval,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from PFA_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("PFA_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or PFA_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetSigningKey returns the JWT signing key from file or the
// PFA_JWT_SIGNING_KEY environment variable.
func (a *AuthConfig) GetSigningKey() ([]byte, error) {
	if a.SigningKeyFile != "" {
		cleanPath := filepath.Clean(a.SigningKeyFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key from file %s: %w", a.SigningKeyFile, err)
		}

		return []byte(strings.TrimSpace(string(data))), nil
	}

	if envKey := os.Getenv("PFA_JWT_SIGNING_KEY"); envKey != "" {
		return []byte(envKey), nil
	}

	return nil, fmt.Errorf(
		"no JWT signing key configured: set signingKeyFile or PFA_JWT_SIGNING_KEY environment variable",
	)
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults applied when optional fields are omitted
const (
	DefaultAddress           = ":8080"
	DefaultPageSize          = 20000
	DefaultChunkSize         = 500
	DefaultMaxConcurrentOrgs = 4
	DefaultFetchTimeout      = 60 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
)

// GetAddress returns the listen address, defaulting to ":8080"
func (c *Config) GetAddress() string {
	if c.Server.Address == "" {
		return DefaultAddress
	}
	return c.Server.Address
}

// GetPageSize returns the source page size with the default applied
func (s *SourceConfig) GetPageSize() int {
	if s.PageSize <= 0 {
		return DefaultPageSize
	}
	return s.PageSize
}

// GetChunkSize returns the write chunk size with the default applied
func (s *SourceConfig) GetChunkSize() int {
	if s.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

// GetFetchTimeout returns the page fetch timeout with the default applied
func (s *SourceConfig) GetFetchTimeout() time.Duration {
	return parseDurationOrDefault(s.FetchTimeout, DefaultFetchTimeout)
}

// GetWriteTimeout returns the chunk write timeout with the default applied
func (s *SourceConfig) GetWriteTimeout() time.Duration {
	return parseDurationOrDefault(s.WriteTimeout, DefaultWriteTimeout)
}

// GetMaxConcurrentOrgs returns the fan-out concurrency bound with the default applied
func (s *SyncConfig) GetMaxConcurrentOrgs() int {
	if s.MaxConcurrentOrgs <= 0 {
		return DefaultMaxConcurrentOrgs
	}
	return s.MaxConcurrentOrgs
}

func parseDurationOrDefault(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Validate checks the configuration for missing or inconsistent settings
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if err := c.validateSource(); err != nil {
		return err
	}

	return c.validateEligibility()
}

// validateSource validates the source connection configuration
func (c *Config) validateSource() error {
	if c.Source.Endpoint == "" {
		return fmt.Errorf("source.endpoint is required")
	}

	parsed, err := url.Parse(c.Source.Endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("source.endpoint must be a valid absolute URL: %s", c.Source.Endpoint)
	}

	if len(c.Source.Feeds) == 0 {
		return fmt.Errorf("source.feeds must declare at least one feed")
	}
	seen := make(map[string]bool)
	for i, feed := range c.Source.Feeds {
		if !knownFeeds[feed] {
			return fmt.Errorf("source.feeds[%d]: unknown feed %q", i, feed)
		}
		if seen[feed] {
			return fmt.Errorf("source.feeds[%d]: duplicate feed %q", i, feed)
		}
		seen[feed] = true
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"source.fetchTimeout", c.Source.FetchTimeout},
		{"source.writeTimeout", c.Source.WriteTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", field.name, err)
		}
	}

	if c.Sync.Coordinator.Enabled && c.Sync.Coordinator.Interval != "" {
		if _, err := time.ParseDuration(c.Sync.Coordinator.Interval); err != nil {
			return fmt.Errorf("sync.coordinator.interval must be a valid duration: %w", err)
		}
	}

	return nil
}

// validateEligibility validates the subject filter tiers
func (c *Config) validateEligibility() error {
	if len(c.Eligibility.AllowedGroups) == 0 {
		return fmt.Errorf("eligibility.allowedGroups must list at least one group")
	}
	if c.Eligibility.GateAttribute == "" {
		return fmt.Errorf("eligibility.gateAttribute is required")
	}
	if len(c.Eligibility.GateAcceptedValues) == 0 {
		return fmt.Errorf("eligibility.gateAcceptedValues must list at least one accepted token")
	}
	if len(c.Eligibility.RequiredOrganizations) == 0 {
		return fmt.Errorf("eligibility.requiredOrganizations must list at least one organization")
	}
	return nil
}
