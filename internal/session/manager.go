package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/models"
)

// Authentication failures. Callers treat all of them as "send the browser to
// the login view".
var (
	ErrNoAccessToken  = errors.New("no access token available, please login first")
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrSessionExpired = errors.New("session expired, please login again")
)

// IsAuthError reports whether err means the session is gone.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoAccessToken) ||
		errors.Is(err, ErrNoRefreshToken) ||
		errors.Is(err, ErrRefreshFailed) ||
		errors.Is(err, ErrSessionExpired)
}

// DefaultRetryStatuses trigger a refresh and a single retry in Do.
var DefaultRetryStatuses = []int{http.StatusUnauthorized, http.StatusForbidden}

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*client.RefreshResponse, error)
}

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tune a Manager.
type Options struct {
	RetryStatuses []int
	Now           func() time.Time
}

// Manager owns the session of one browser: expiry checks, refresh and
// authenticated requests against the API.
type Manager struct {
	store     *Store
	refresher Refresher
	http      Doer
	retryOn   map[int]bool
	now       func() time.Time
	logger    *common.Logger
}

// NewManager creates a Manager over store.
func NewManager(store *Store, refresher Refresher, doer Doer, logger *common.Logger, opts Options) *Manager {
	statuses := opts.RetryStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryStatuses
	}
	retryOn := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		retryOn[s] = true
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		http:      doer,
		retryOn:   retryOn,
		now:       now,
		logger:    logger,
	}
}

// Store returns the underlying session store.
func (m *Manager) Store() *Store {
	return m.store
}

// Begin persists a freshly issued session.
func (m *Manager) Begin(ctx context.Context, sess models.Session) error {
	return m.store.Save(ctx, sess)
}

// Logout clears every session key.
func (m *Manager) Logout(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Session returns the stored session. Absent keys are zero.
func (m *Manager) Session(ctx context.Context) (*models.Session, error) {
	return m.store.Load(ctx)
}

// IsAuthenticated reports whether an unexpired access token is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	token, err := m.store.AccessToken(ctx)
	if err != nil || token == "" {
		return false
	}
	return !TokenExpired(token, m.now())
}

func (m *Manager) clear(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn().Str("namespace", m.store.Namespace()).Err(err).Msg("Failed to clear session")
	}
}

// Refresh exchanges the stored refresh token for a new access token. Any
// failure clears the whole session.
func (m *Manager) Refresh(ctx context.Context) error {
	refreshToken, err := m.store.RefreshToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to read refresh token: %w", err)
	}
	if refreshToken == "" {
		m.clear(ctx)
		return ErrNoRefreshToken
	}

	resp, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		m.clear(ctx)
		m.logger.Warn().Str("namespace", m.store.Namespace()).Err(err).Msg("Token refresh failed")
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if resp == nil || resp.AccessToken == "" {
		m.clear(ctx)
		return fmt.Errorf("%w: response carried no access token", ErrRefreshFailed)
	}

	if err := m.store.SetAccessToken(ctx, resp.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if resp.RefreshToken != "" {
		if err := m.store.SetRefreshToken(ctx, resp.RefreshToken); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
	}

	m.logger.Debug().Str("namespace", m.store.Namespace()).Bool("rotated", resp.RefreshToken != "").Msg("Access token refreshed")
	return nil
}

// EnsureValid returns an access token that has not expired, refreshing once
// when the stored one has.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	token, err := m.store.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoAccessToken
	}
	if !TokenExpired(token, m.now()) {
		return token, nil
	}

	if err := m.Refresh(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	token, err = m.store.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if TokenExpired(token, m.now()) {
		return "", ErrSessionExpired
	}
	return token, nil
}

// Token returns the stored tokens as an oauth2 token. Expiry is taken from
// the access token's exp claim and is zero when it cannot be decoded.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	sess, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	tok := &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, ok := TokenExpiry(sess.AccessToken); ok {
		tok.Expiry = exp
	}
	return tok, nil
}

// Do sends req with the stored access token. A response in the retry set
// triggers one refresh and one retry. When the refresh fails the session is
// cleared and the error wraps ErrSessionExpired. When the retry is rejected
// again the session is cleared and the retry's response is returned.
func (m *Manager) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	token, err := m.store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoAccessToken
	}

	if err := replayable(req); err != nil {
		return nil, err
	}

	resp, err := m.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if !m.retryOn[resp.StatusCode] {
		return resp, nil
	}

	status := resp.StatusCode
	drain(resp)

	m.logger.Info().Str("path", req.URL.Path).Int("status", status).Msg("API rejected access token, refreshing")

	if err := m.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	token, err = m.store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	retry, err := m.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if m.retryOn[retry.StatusCode] {
		m.logger.Warn().Str("path", req.URL.Path).Int("status", retry.StatusCode).Msg("API rejected refreshed token, clearing session")
		m.clear(ctx)
	}
	return retry, nil
}

func (m *Manager) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		r.Body = body
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(r)
	return m.http.Do(r)
}

// replayable buffers a body that cannot be re-read so it can be sent twice.
func replayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to buffer request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
