package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected default host localhost, got %s", cfg.Server.Host)
	}
	if cfg.API.URL != "http://localhost:8080" {
		t.Errorf("expected default API URL http://localhost:8080, got %s", cfg.API.URL)
	}
	if len(cfg.API.RefreshOn) != 2 || cfg.API.RefreshOn[0] != 401 || cfg.API.RefreshOn[1] != 403 {
		t.Errorf("expected default refresh_on [401 403], got %v", cfg.API.RefreshOn)
	}
	if cfg.Auth.LoginPath != "/auth" {
		t.Errorf("expected default login path /auth, got %s", cfg.Auth.LoginPath)
	}
	if cfg.Auth.ExpiredPath != "/login" {
		t.Errorf("expected default expired path /login, got %s", cfg.Auth.ExpiredPath)
	}
	if cfg.Storage.Backend != "badger" {
		t.Errorf("expected default backend badger, got %s", cfg.Storage.Backend)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if issues := cfg.Validate(); len(issues) != 0 {
		t.Errorf("expected default config to validate, got %v", issues)
	}
}

func TestLoadFromFiles_NoFiles(t *testing.T) {
	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles with no files should not error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Server.Port)
	}
}

func TestLoadFromFiles_ValidTOML(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "test.toml")

	content := `
environment = "dev"

[server]
port = 9090
host = "0.0.0.0"

[api]
url = "http://api.internal:8080"
refresh_on = [401]
timeout = "3s"

[storage]
backend = "redis"

[storage.redis]
addr = "redis:6379"
db = 2

[logging]
level = "debug"
`
	if err := os.WriteFile(tomlPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFiles(tomlPath)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if !cfg.IsDevMode() {
		t.Error("expected dev mode")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.API.URL != "http://api.internal:8080" {
		t.Errorf("expected API URL from file, got %s", cfg.API.URL)
	}
	if len(cfg.API.RefreshOn) != 1 || cfg.API.RefreshOn[0] != 401 {
		t.Errorf("expected refresh_on [401], got %v", cfg.API.RefreshOn)
	}
	if cfg.API.GetTimeout() != 3*time.Second {
		t.Errorf("expected timeout 3s, got %s", cfg.API.GetTimeout())
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.Redis.Addr != "redis:6379" || cfg.Storage.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromFiles_MultipleFiles(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	if err := os.WriteFile(base, []byte("[server]\nport = 3100\nhost = \"base-host\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	override := filepath.Join(dir, "override.toml")
	if err := os.WriteFile(override, []byte("[server]\nport = 4000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("expected port 4000 from override, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "base-host" {
		t.Errorf("expected host base-host from base file, got %s", cfg.Server.Host)
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	if _, err := LoadFromFiles("/nonexistent/path.toml"); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFiles_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "invalid.toml")
	if err := os.WriteFile(tomlPath, []byte("this is not valid {{toml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFiles(tomlPath); err == nil {
		t.Error("expected error for invalid TOML, got nil")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := NewDefaultConfig()

	t.Setenv("SP_SERVER_PORT", "9999")
	t.Setenv("SP_SERVER_HOST", "env-host")
	t.Setenv("SP_API_URL", "http://env-api:8080")
	t.Setenv("SP_API_REFRESH_ON", "401")
	t.Setenv("SP_BADGER_PATH", "/env/path")
	t.Setenv("SP_LOG_LEVEL", "error")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected env port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "env-host" {
		t.Errorf("expected env host env-host, got %s", cfg.Server.Host)
	}
	if cfg.API.URL != "http://env-api:8080" {
		t.Errorf("expected env API URL, got %s", cfg.API.URL)
	}
	if len(cfg.API.RefreshOn) != 1 || cfg.API.RefreshOn[0] != 401 {
		t.Errorf("expected env refresh_on [401], got %v", cfg.API.RefreshOn)
	}
	if cfg.Storage.Badger.Path != "/env/path" {
		t.Errorf("expected env badger path /env/path, got %s", cfg.Storage.Badger.Path)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected env log level error, got %s", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	cfg := NewDefaultConfig()
	t.Setenv("SP_SERVER_PORT", "not-a-number")

	if err := applyEnvOverrides(cfg); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SP_TEST_DOTENV_VALUE=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("SP_TEST_DOTENV_VALUE") })

	if err := loadDotEnv(envPath); err != nil {
		t.Fatalf("loadDotEnv failed: %v", err)
	}
	if got := os.Getenv("SP_TEST_DOTENV_VALUE"); got != "from-dotenv" {
		t.Errorf("expected from-dotenv, got %q", got)
	}

	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should not error: %v", err)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 7777, "flag-host")

	if cfg.Server.Port != 7777 {
		t.Errorf("expected flag port 7777, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "flag-host" {
		t.Errorf("expected flag host flag-host, got %s", cfg.Server.Host)
	}

	cfg = NewDefaultConfig()
	ApplyFlagOverrides(cfg, 0, "")
	if cfg.Server.Port != 3000 || cfg.Server.Host != "localhost" {
		t.Errorf("zero flags should not override, got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing api url", func(c *Config) { c.API.URL = "" }, "api.url is required"},
		{"relative api url", func(c *Config) { c.API.URL = "/api" }, "absolute URL"},
		{"non 4xx refresh status", func(c *Config) { c.API.RefreshOn = []int{500} }, "api.refresh_on"},
		{"login path", func(c *Config) { c.Auth.LoginPath = "auth" }, "auth.login_path"},
		{"expired path", func(c *Config) { c.Auth.ExpiredPath = "login" }, "auth.expired_path"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"redis without addr", func(c *Config) {
			c.Storage.Backend = "redis"
			c.Storage.Redis.Addr = ""
		}, "storage.redis.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			issues := cfg.Validate()
			if len(issues) == 0 {
				t.Fatalf("expected validation issue containing %q", tt.want)
			}
			if !strings.Contains(strings.Join(issues, "\n"), tt.want) {
				t.Errorf("expected issue containing %q, got %v", tt.want, issues)
			}
		})
	}
}

func TestAPIConfig_Durations(t *testing.T) {
	c := APIConfig{Timeout: "garbage", HomeCacheTTL: "-1s"}
	if c.GetTimeout() != 10*time.Second {
		t.Errorf("expected fallback timeout 10s, got %s", c.GetTimeout())
	}
	if c.GetHomeCacheTTL() != 0 {
		t.Errorf("expected disabled cache for negative TTL, got %s", c.GetHomeCacheTTL())
	}
	c.HomeCacheTTL = "45s"
	if c.GetHomeCacheTTL() != 45*time.Second {
		t.Errorf("expected 45s, got %s", c.GetHomeCacheTTL())
	}
}
