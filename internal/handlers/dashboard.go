package handlers

import (
	"context"
	"html/template"
	"net/http"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/session"
)

// RequestBuilder builds requests against the API.
type RequestBuilder interface {
	NewRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error)
}

// DashboardHandler serves the signed-in pages. It expects the route guard to
// have placed the session manager and user in the request context.
type DashboardHandler struct {
	logger    *common.Logger
	templates *template.Template
	devMode   bool
	api       RequestBuilder
	authPath  string
	expired   string
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(logger *common.Logger, devMode bool, api RequestBuilder, cfg config.AuthConfig) *DashboardHandler {
	authPath := cfg.LoginPath
	if authPath == "" {
		authPath = "/auth"
	}
	expired := cfg.ExpiredPath
	if expired == "" {
		expired = config.DefaultExpiredPath
	}
	return &DashboardHandler{
		logger:    logger,
		templates: ParseTemplates(),
		devMode:   devMode,
		api:       api,
		authPath:  authPath,
		expired:   expired,
	}
}

func (h *DashboardHandler) data(r *http.Request, page string) map[string]interface{} {
	return map[string]interface{}{
		"Page":          page,
		"DevMode":       h.devMode,
		"LoggedIn":      true,
		"User":          session.UserFromContext(r.Context()),
		"CSRF":          csrfToken(r),
		"PortalVersion": config.GetVersion(),
	}
}

// ServeHome renders GET /home with the API message fetched using the
// caller's access token.
func (h *DashboardHandler) ServeHome(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	mgr := session.ManagerFromContext(r.Context())
	if mgr == nil {
		http.Redirect(w, r, h.authPath, http.StatusFound)
		return
	}

	msg, err := h.loadMessage(r.Context(), mgr)
	if err != nil {
		if session.IsAuthError(err) || isRejected(err) {
			h.logger.Info().Err(err).Msg("session ended while loading dashboard")
			http.Redirect(w, r, h.expired, http.StatusFound)
			return
		}
		h.logger.Warn().Err(err).Msg("failed to load dashboard message")
		msg = HomeMessageFallback
	}

	data := h.data(r, "home")
	data["Message"] = msg
	renderTemplate(w, h.logger, h.templates, http.StatusOK, "home.html", data)
}

func (h *DashboardHandler) loadMessage(ctx context.Context, mgr *session.Manager) (string, error) {
	req, err := h.api.NewRequest(ctx, http.MethodGet, "/api/home", nil)
	if err != nil {
		return "", err
	}
	resp, err := mgr.Do(ctx, req)
	if err != nil {
		return "", err
	}
	var out client.HomeMessage
	if err := client.DecodeResponse(resp, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ServeModeration renders GET /moderation. Role checks happen in the guard.
func (h *DashboardHandler) ServeModeration(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	renderTemplate(w, h.logger, h.templates, http.StatusOK, "moderation.html", h.data(r, "moderation"))
}

// isRejected reports whether the API still refused the token after the
// manager's single refresh and retry.
func isRejected(err error) bool {
	status := client.StatusCode(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
