package handlers

import (
	"context"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/softwareproject/portal/internal/cache"
	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/session"
)

// HomeMessageFallback is shown when the API message cannot be loaded.
const HomeMessageFallback = "Failed to load message."

// HomeLoader fetches the public landing message.
type HomeLoader interface {
	Home(ctx context.Context) (*client.HomeMessage, error)
}

// HomeMessages serves the landing message from a short-lived cache.
type HomeMessages struct {
	api   HomeLoader
	cache *cache.Cache[string]
}

// NewHomeMessages wraps api with c. A nil or disabled cache always calls api.
func NewHomeMessages(api HomeLoader, c *cache.Cache[string]) *HomeMessages {
	return &HomeMessages{api: api, cache: c}
}

var homeKey = cache.MakeKey(http.MethodGet, "/api/home")

// Message returns the current landing message.
func (m *HomeMessages) Message(ctx context.Context) (string, error) {
	if msg, ok := m.cache.Get(homeKey); ok {
		return msg, nil
	}
	resp, err := m.api.Home(ctx)
	if err != nil {
		return "", err
	}
	m.cache.Set(homeKey, resp.Message)
	return resp.Message, nil
}

// PageHandler serves HTML pages rendered with Go templates.
type PageHandler struct {
	logger    *common.Logger
	templates *template.Template
	devMode   bool
	registry  *session.Registry
	home      *HomeMessages
}

// NewPageHandler creates a new page handler that loads templates from the pages directory.
func NewPageHandler(logger *common.Logger, devMode bool, registry *session.Registry, home *HomeMessages) *PageHandler {
	return &PageHandler{
		logger:    logger,
		templates: ParseTemplates(),
		devMode:   devMode,
		registry:  registry,
		home:      home,
	}
}

// FindPagesDir locates the pages directory.
func FindPagesDir() string {
	dirs := []string{
		"./pages",
		"../pages",
		"../../pages",
		".",
	}

	for _, dir := range dirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			abs, _ := filepath.Abs(dir)
			return abs
		}
	}

	return "."
}

func (h *PageHandler) baseData(r *http.Request, pageName string) map[string]interface{} {
	data := map[string]interface{}{
		"Page":          pageName,
		"DevMode":       h.devMode,
		"LoggedIn":      false,
		"CSRF":          csrfToken(r),
		"PortalVersion": config.GetVersion(),
	}
	if h.registry == nil {
		return data
	}
	sess, err := managerFor(h.registry, r).Session(r.Context())
	if err != nil {
		if h.logger != nil {
			h.logger.Warn().Err(err).Msg("failed to load session for page")
		}
		return data
	}
	if sess.HasAccessToken() {
		data["LoggedIn"] = true
		data["User"] = sess.User
	}
	return data
}

// ServeLanding handles GET / with the API's welcome message.
func (h *PageHandler) ServeLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	data := h.baseData(r, "landing")
	msg, err := h.home.Message(r.Context())
	if err != nil {
		if h.logger != nil {
			h.logger.Warn().Err(err).Msg("failed to load home message")
		}
		msg = HomeMessageFallback
	}
	data["Message"] = msg

	renderTemplate(w, h.logger, h.templates, http.StatusOK, "landing.html", data)
}

// StaticFileHandler serves static files (CSS, JS, images).
func (h *PageHandler) StaticFileHandler(w http.ResponseWriter, r *http.Request) {
	pagesDir := FindPagesDir()
	staticDir := filepath.Join(pagesDir, "static")

	// Remove /static/ prefix from URL path
	path := r.URL.Path[len("/static/"):]
	fullPath := filepath.Join(staticDir, path)

	// Security: prevent directory traversal
	absStaticDir, _ := filepath.Abs(staticDir)
	absFullPath, _ := filepath.Abs(fullPath)
	if len(absFullPath) < len(absStaticDir) || absFullPath[:len(absStaticDir)] != absStaticDir {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, fullPath)
}
