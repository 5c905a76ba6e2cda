package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/softwareproject/portal/internal/models"
)

const maxResponseBytes = 1 << 20

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message,omitempty"`
	Data         models.User `json:"data"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// Session converts the response into the session to persist.
func (r *AuthResponse) Session() models.Session {
	user := r.Data
	return models.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		User:         &user,
	}
}

// RefreshResponse is returned by POST /api/auth/refresh. RefreshToken is
// only set when the API rotates it.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// HomeMessage is returned by GET /api/home.
type HomeMessage struct {
	Message string `json:"message"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of err if it is an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// APIClient communicates with the SoftwareProject REST API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a client targeting baseURL with the given timeout.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HTTPClient returns the underlying HTTP client.
func (c *APIClient) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL returns the API root without a trailing slash.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// NewRequest builds a request for path, JSON-encoding body when non-nil.
// The request body can be replayed via GetBody.
func (c *APIClient) NewRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Home fetches the public landing message.
// GET /api/home -> { message }
func (c *APIClient) Home(ctx context.Context) (*HomeMessage, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, "/api/home", nil)
	if err != nil {
		return nil, err
	}
	var msg HomeMessage
	if err := c.do(req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Login exchanges credentials for a session.
// POST /api/auth/login -> { success, data, accessToken, refreshToken }
func (c *APIClient) Login(ctx context.Context, in LoginRequest) (*AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/login", in, "login failed")
}

// Signup registers a new account. The response has the same shape as Login.
func (c *APIClient) Signup(ctx context.Context, in SignupRequest) (*AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/signup", in, "sign up failed")
}

func (c *APIClient) authenticate(ctx context.Context, path string, body interface{}, fallback string) (*AuthResponse, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var out AuthResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = fallback
		}
		return nil, &APIError{Status: http.StatusOK, Message: msg}
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new access token.
// POST /api/auth/refresh { refreshToken } -> { accessToken }
func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return nil, err
	}

	var out RefreshResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach api: %w", err)
	}
	return DecodeResponse(resp, out)
}

// DecodeResponse reads and closes resp.Body. Non-2xx statuses become an
// *APIError carrying the body's message or error field; otherwise the body
// is decoded into out.
func DecodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
