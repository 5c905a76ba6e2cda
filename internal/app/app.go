package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/softwareproject/portal/internal/cache"
	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/handlers"
	"github.com/softwareproject/portal/internal/interfaces"
	"github.com/softwareproject/portal/internal/mcp"
	"github.com/softwareproject/portal/internal/seed"
	"github.com/softwareproject/portal/internal/session"
	"github.com/softwareproject/portal/internal/storage"
)

// homeCacheEntries bounds the landing-message cache. Only a handful of keys
// are ever used.
const homeCacheEntries = 16

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Storage  interfaces.StorageManager
	Registry *session.Registry
	API      *client.APIClient
	Home     *handlers.HomeMessages

	// HTTP handlers
	PageHandler      *handlers.PageHandler
	HealthHandler    *handlers.HealthHandler
	VersionHandler   *handlers.VersionHandler
	AuthHandler      *handlers.AuthHandler
	DashboardHandler *handlers.DashboardHandler
	SessionHandler   *handlers.SessionHandler
	MCPHandler       *mcp.Handler
}

// New initializes the application with all dependencies.
func New(cfg *config.Config, logger *common.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	// Validate environment setting
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if cfg.IsDevMode() {
		logger.Warn().Msg("RUNNING IN DEV MODE: dev users are seeded, do not use in production")
	} else if env != "prod" && env != "" {
		logger.Warn().
			Str("environment", cfg.Environment).
			Msg("unrecognized environment value, defaulting to prod behavior")
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}

	a.initHandlers()

	if cfg.IsDevMode() {
		go seed.DevUsers(context.Background(), a.API, logger)
	}

	logger.Info().Msg("application initialization complete")

	return a, nil
}

// initStorage opens the session KV backend and builds the session registry.
func (a *App) initStorage() error {
	sm, err := storage.NewStorageManager(context.Background(), a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to open session storage: %w", err)
	}
	a.Storage = sm

	a.API = client.NewAPIClient(a.Config.API.URL, a.Config.API.GetTimeout())
	a.Registry = session.NewRegistry(sm, a.API, a.Logger, session.Options{
		RetryStatuses: a.Config.API.RefreshOn,
	})

	a.Logger.Debug().
		Str("backend", sm.Backend()).
		Str("api_url", a.Config.API.URL).
		Msg("session storage initialized")
	return nil
}

// initHandlers initializes all HTTP handlers.
func (a *App) initHandlers() {
	devMode := a.Config.IsDevMode()

	a.Home = handlers.NewHomeMessages(a.API, cache.New[string](a.Config.API.GetHomeCacheTTL(), homeCacheEntries))

	a.PageHandler = handlers.NewPageHandler(a.Logger, devMode, a.Registry, a.Home)
	a.HealthHandler = handlers.NewHealthHandler(a.Logger)
	a.VersionHandler = handlers.NewVersionHandler(a.Logger)
	a.AuthHandler = handlers.NewAuthHandler(a.Logger, devMode, a.Registry, a.API, a.Config.Auth)
	a.DashboardHandler = handlers.NewDashboardHandler(a.Logger, devMode, a.API, a.Config.Auth)
	a.SessionHandler = handlers.NewSessionHandler(a.Logger, a.Registry)

	if a.Config.MCP.Enabled {
		a.MCPHandler = mcp.NewHandler(a.Config, a.Logger, a.Registry, a.Home)
	}

	a.Logger.Debug().Bool("mcp", a.MCPHandler != nil).Msg("HTTP handlers initialized")
}

// Close closes all application resources.
func (a *App) Close() error {
	if a.Registry == nil {
		return nil
	}
	return a.Registry.Close()
}
