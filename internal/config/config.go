package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string        `toml:"environment" env:"SP_ENV"`
	Server      ServerConfig  `toml:"server"`
	API         APIConfig     `toml:"api"`
	Auth        AuthConfig    `toml:"auth"`
	Storage     StorageConfig `toml:"storage"`
	MCP         MCPConfig     `toml:"mcp"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int    `toml:"port" env:"SP_SERVER_PORT"`
	Host string `toml:"host" env:"SP_SERVER_HOST"`
}

// APIConfig describes the remote SoftwareProject API.
type APIConfig struct {
	URL          string `toml:"url" env:"SP_API_URL"`
	Timeout      string `toml:"timeout" env:"SP_API_TIMEOUT"`
	RefreshOn    []int  `toml:"refresh_on" env:"SP_API_REFRESH_ON"`
	HomeCacheTTL string `toml:"home_cache_ttl" env:"SP_API_HOME_CACHE_TTL"`
}

// AuthConfig contains session cookie and navigation settings.
// DefaultExpiredPath is where a browser is sent once its session can no
// longer be refreshed.
const DefaultExpiredPath = "/login"

type AuthConfig struct {
	CookieName   string `toml:"cookie_name" env:"SP_AUTH_COOKIE_NAME"`
	CookieSecure bool   `toml:"cookie_secure" env:"SP_AUTH_COOKIE_SECURE"`
	LoginPath    string `toml:"login_path" env:"SP_AUTH_LOGIN_PATH"`
	HomePath     string `toml:"home_path" env:"SP_AUTH_HOME_PATH"`
	ExpiredPath  string `toml:"expired_path" env:"SP_AUTH_EXPIRED_PATH"`
	AdminRole    string `toml:"admin_role" env:"SP_AUTH_ADMIN_ROLE"`
}

// StorageConfig selects where per-browser session state is persisted.
// Backend is "badger" (default), "redis" or "memory".
type StorageConfig struct {
	Backend string       `toml:"backend" env:"SP_STORAGE_BACKEND"`
	Badger  BadgerConfig `toml:"badger"`
	Redis   RedisConfig  `toml:"redis"`
}

// BadgerConfig contains BadgerDB-specific settings.
type BadgerConfig struct {
	Path string `toml:"path" env:"SP_BADGER_PATH"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `toml:"addr" env:"SP_REDIS_ADDR"`
	Password string `toml:"password" env:"SP_REDIS_PASSWORD"`
	DB       int    `toml:"db" env:"SP_REDIS_DB"`
	Prefix   string `toml:"prefix" env:"SP_REDIS_PREFIX"`
}

// MCPConfig toggles the /mcp endpoint.
type MCPConfig struct {
	Enabled bool `toml:"enabled" env:"SP_MCP_ENABLED"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string   `toml:"level" env:"SP_LOG_LEVEL"`
	Format     string   `toml:"format" env:"SP_LOG_FORMAT"`
	Outputs    []string `toml:"outputs" env:"SP_LOG_OUTPUTS"`
	FilePath   string   `toml:"file_path" env:"SP_LOG_FILE"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// IsDevMode reports whether the portal runs with dev conveniences enabled.
func (c *Config) IsDevMode() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "dev")
}

// BaseURL returns the externally visible portal URL.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// GetTimeout parses the API timeout, falling back to 10s.
func (c *APIConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetHomeCacheTTL parses the home message cache TTL. Zero disables caching.
func (c *APIConfig) GetHomeCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.HomeCacheTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate reports mandatory fields that are missing or invalid.
func (c *Config) Validate() []string {
	var issues []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port must be between 1 and 65535 (got %d)", c.Server.Port))
	}
	if strings.TrimSpace(c.API.URL) == "" {
		issues = append(issues, "api.url is required (SP_API_URL)")
	} else if u, err := url.Parse(c.API.URL); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("api.url must be an absolute URL (got %q)", c.API.URL))
	}
	for _, code := range c.API.RefreshOn {
		if code < 400 || code > 499 {
			issues = append(issues, fmt.Sprintf("api.refresh_on must contain 4xx status codes (got %d)", code))
		}
	}
	if !strings.HasPrefix(c.Auth.LoginPath, "/") {
		issues = append(issues, "auth.login_path must start with /")
	}
	if c.Auth.ExpiredPath != "" && !strings.HasPrefix(c.Auth.ExpiredPath, "/") {
		issues = append(issues, "auth.expired_path must start with /")
	}
	if c.Auth.CookieName == "" {
		issues = append(issues, "auth.cookie_name is required")
	}

	switch c.Storage.Backend {
	case "badger":
		if c.Storage.Badger.Path == "" {
			issues = append(issues, "storage.badger.path is required for the badger backend")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			issues = append(issues, "storage.redis.addr is required for the redis backend")
		}
	case "memory":
	default:
		issues = append(issues, fmt.Sprintf("storage.backend must be badger, redis or memory (got %q)", c.Storage.Backend))
	}

	return issues
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> .env -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadDotEnv populates the process environment from path without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// applyEnvOverrides applies SP_* environment variable overrides to config.
func applyEnvOverrides(config *Config) error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	return nil
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
