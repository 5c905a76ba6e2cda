package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/models"
	"github.com/softwareproject/portal/internal/session"
)

// Form messages shown inline.
const (
	MsgFillAllFields    = "Please fill in all fields"
	MsgPasswordMismatch = "Passwords do not match"
	MsgPasswordTooShort = "Password must be at least 6 characters"
	MsgInvalidRole      = "Please choose a valid role"
	MsgRegistered       = "Account created successfully! You can now login."
	MsgServerDown       = "Unable to reach the server, please try again later"
)

const minPasswordLength = 6

// AuthAPI is the subset of the API client used for login and signup.
type AuthAPI interface {
	Login(ctx context.Context, in client.LoginRequest) (*client.AuthResponse, error)
	Signup(ctx context.Context, in client.SignupRequest) (*client.AuthResponse, error)
}

// LoginForm holds the submitted login fields.
type LoginForm struct {
	Email    string
	Password string
}

// SignupForm holds the submitted signup fields.
type SignupForm struct {
	Email           string
	Name            string
	Password        string
	ConfirmPassword string
	Role            string
}

// Validate returns the message to show, or "" when the form is acceptable.
func (f LoginForm) Validate() string {
	if f.Email == "" || f.Password == "" {
		return MsgFillAllFields
	}
	return ""
}

// Validate returns the message to show, or "" when the form is acceptable.
// An empty role is defaulted to user.
func (f *SignupForm) Validate() string {
	if f.Email == "" || f.Name == "" || f.Password == "" || f.ConfirmPassword == "" {
		return MsgFillAllFields
	}
	if f.Password != f.ConfirmPassword {
		return MsgPasswordMismatch
	}
	if utf8.RuneCountInString(f.Password) < minPasswordLength {
		return MsgPasswordTooShort
	}
	f.Role = strings.ToLower(strings.TrimSpace(f.Role))
	if f.Role == "" {
		f.Role = models.RoleUser
	}
	if !models.IsValidRole(f.Role) {
		return MsgInvalidRole
	}
	return ""
}

// AuthHandler handles login, signup and logout.
type AuthHandler struct {
	logger    *common.Logger
	templates *template.Template
	devMode   bool
	registry  *session.Registry
	api       AuthAPI
	homePath  string
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(logger *common.Logger, devMode bool, registry *session.Registry, api AuthAPI, cfg config.AuthConfig) *AuthHandler {
	homePath := cfg.HomePath
	if homePath == "" {
		homePath = "/home"
	}
	return &AuthHandler{
		logger:    logger,
		templates: ParseTemplates(),
		devMode:   devMode,
		registry:  registry,
		api:       api,
		homePath:  homePath,
	}
}

func (h *AuthHandler) data(r *http.Request, page string) map[string]interface{} {
	return map[string]interface{}{
		"Page":     page,
		"DevMode":  h.devMode,
		"LoggedIn": false,
		"CSRF":     csrfToken(r),
		"Roles":    models.Roles,
		"Login":    LoginForm{},
		"Signup":   SignupForm{Role: models.RoleUser},
	}
}

// ServeAuthPage handles GET /auth: the tabbed login and signup page.
func (h *AuthHandler) ServeAuthPage(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	data := h.data(r, "auth")
	tab := r.URL.Query().Get("tab")
	if tab != "signup" {
		tab = "login"
	}
	data["Tab"] = tab
	if r.URL.Query().Get("notice") == "registered" {
		data["Notice"] = MsgRegistered
	}
	renderTemplate(w, h.logger, h.templates, http.StatusOK, "auth.html", data)
}

// ServeLoginPage handles GET /login.
func (h *AuthHandler) ServeLoginPage(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, h.logger, h.templates, http.StatusOK, "login.html", h.data(r, "login"))
}

// HandleLogin handles POST /login: validates, signs in through the API and
// stores the session.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireForm(w, r) {
		return
	}
	form := LoginForm{
		Email:    strings.TrimSpace(r.FormValue("email")),
		Password: r.FormValue("password"),
	}

	renderError := func(status int, msg string) {
		data := h.data(r, "login")
		data["Login"] = LoginForm{Email: form.Email}
		data["Error"] = msg
		renderTemplate(w, h.logger, h.templates, status, "login.html", data)
	}

	if msg := form.Validate(); msg != "" {
		renderError(http.StatusBadRequest, msg)
		return
	}

	resp, err := h.api.Login(r.Context(), client.LoginRequest{Email: form.Email, Password: form.Password})
	if err != nil {
		status, msg := h.apiFailure(err, "login")
		renderError(status, msg)
		return
	}

	if err := managerFor(h.registry, r).Begin(r.Context(), resp.Session()); err != nil {
		h.logger.Error().Err(err).Msg("failed to store session after login")
		renderError(http.StatusInternalServerError, "Login failed")
		return
	}

	h.logger.Info().Str("user_id", resp.Data.ID).Str("role", resp.Data.Role).Msg("user signed in")
	http.Redirect(w, r, h.homePath, http.StatusFound)
}

// ServeSignupPage handles GET /signup.
func (h *AuthHandler) ServeSignupPage(w http.ResponseWriter, r *http.Request) {
	renderTemplate(w, h.logger, h.templates, http.StatusOK, "signup.html", h.data(r, "signup"))
}

// HandleSignup handles POST /signup. Tokens in the response sign the user in;
// otherwise the browser is sent to the login tab.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if !RequireForm(w, r) {
		return
	}
	form := SignupForm{
		Email:           strings.TrimSpace(r.FormValue("email")),
		Name:            strings.TrimSpace(r.FormValue("name")),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirmPassword"),
		Role:            r.FormValue("role"),
	}

	renderError := func(status int, msg string) {
		data := h.data(r, "signup")
		data["Signup"] = SignupForm{Email: form.Email, Name: form.Name, Role: form.Role}
		data["Error"] = msg
		renderTemplate(w, h.logger, h.templates, status, "signup.html", data)
	}

	if msg := form.Validate(); msg != "" {
		renderError(http.StatusBadRequest, msg)
		return
	}

	resp, err := h.api.Signup(r.Context(), client.SignupRequest{
		Email:    form.Email,
		Name:     form.Name,
		Password: form.Password,
		Role:     form.Role,
	})
	if err != nil {
		status, msg := h.apiFailure(err, "signup")
		renderError(status, msg)
		return
	}

	h.logger.Info().Str("email", form.Email).Str("role", form.Role).Msg("account registered")

	if resp.AccessToken == "" {
		http.Redirect(w, r, "/auth?tab=login&notice=registered", http.StatusFound)
		return
	}
	if err := managerFor(h.registry, r).Begin(r.Context(), resp.Session()); err != nil {
		h.logger.Error().Err(err).Msg("failed to store session after signup")
		http.Redirect(w, r, "/auth?tab=login&notice=registered", http.StatusFound)
		return
	}
	http.Redirect(w, r, h.homePath, http.StatusFound)
}

// apiFailure maps an API error to the status and message for the form.
func (h *AuthHandler) apiFailure(err error, action string) (int, string) {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		h.logger.Error().Str("action", action).Err(err).Msg("failed to reach api")
		return http.StatusBadGateway, MsgServerDown
	}
	h.logger.Warn().Str("action", action).Int("status", apiErr.Status).Str("message", apiErr.Message).Msg("api rejected request")
	msg := apiErr.Message
	if msg == "" {
		msg = "Request failed"
	}
	return http.StatusBadRequest, msg
}

// HandleLogout handles POST /logout: clears the session and returns to /.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := managerFor(h.registry, r).Logout(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("failed to clear session on logout")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
