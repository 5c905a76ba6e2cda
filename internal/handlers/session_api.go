package handlers

import (
	"net/http"
	"time"

	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/models"
	"github.com/softwareproject/portal/internal/session"
)

// SessionStatus is the body of GET /api/session.
type SessionStatus struct {
	Authenticated bool         `json:"authenticated"`
	User          *models.User `json:"user,omitempty"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
}

// SessionHandler reports the caller's session state.
type SessionHandler struct {
	logger   *common.Logger
	registry *session.Registry
}

// NewSessionHandler creates a new session status handler.
func NewSessionHandler(logger *common.Logger, registry *session.Registry) *SessionHandler {
	return &SessionHandler{logger: logger, registry: registry}
}

// ServeHTTP handles GET /api/session.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	mgr := managerFor(h.registry, r)
	sess, err := mgr.Session(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load session")
		WriteError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	status := SessionStatus{Authenticated: mgr.IsAuthenticated(r.Context())}
	if sess.HasAccessToken() {
		status.User = sess.User
		if exp, ok := session.TokenExpiry(sess.AccessToken); ok {
			status.ExpiresAt = &exp
		}
	}
	WriteJSON(w, http.StatusOK, status)
}
