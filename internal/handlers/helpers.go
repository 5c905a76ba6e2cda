package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"path/filepath"

	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/session"
)

// CSRFCookieName holds the double-submit token checked by the server on
// unsafe form posts.
const CSRFCookieName = "_csrf"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// RequireForm parses the request form. An oversized body gets 413 and any
// other parse failure 400; false means a response was written.
func RequireForm(w http.ResponseWriter, r *http.Request) bool {
	err := r.ParseForm()
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	http.Error(w, "Bad request", http.StatusBadRequest)
	return false
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// ParseTemplates loads every page and partial under the pages directory.
func ParseTemplates() *template.Template {
	pagesDir := FindPagesDir()
	templates := template.Must(template.ParseGlob(filepath.Join(pagesDir, "*.html")))
	template.Must(templates.ParseGlob(filepath.Join(pagesDir, "partials", "*.html")))
	return templates
}

func renderTemplate(w http.ResponseWriter, logger *common.Logger, templates *template.Template, status int, name string, data map[string]interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil && logger != nil {
		logger.Error().Str("template", name).Err(err).Msg("failed to render page")
	}
}

func csrfToken(r *http.Request) string {
	if c, err := r.Cookie(CSRFCookieName); err == nil {
		return c.Value
	}
	return ""
}

// managerFor returns the session manager of the requesting browser. The
// route guard stores one in the context; other routes open it by client id.
func managerFor(registry *session.Registry, r *http.Request) *session.Manager {
	if m := session.ManagerFromContext(r.Context()); m != nil {
		return m
	}
	return registry.Open(session.ClientIDFromContext(r.Context()))
}
