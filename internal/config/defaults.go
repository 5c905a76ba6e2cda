package config

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "prod",
		Server: ServerConfig{
			Port: 3000,
			Host: "localhost",
		},
		API: APIConfig{
			URL:          "http://localhost:8080",
			Timeout:      "10s",
			RefreshOn:    []int{401, 403},
			HomeCacheTTL: "30s",
		},
		Auth: AuthConfig{
			CookieName:  "sp_client",
			LoginPath:   "/auth",
			HomePath:    "/home",
			ExpiredPath: DefaultExpiredPath,
			AdminRole:   "admin",
		},
		Storage: StorageConfig{
			Backend: "badger",
			Badger: BadgerConfig{
				Path: "./data/sessions",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "sp:session:",
			},
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"console", "file"},
		},
	}
}
