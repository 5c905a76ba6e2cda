package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/softwareproject/portal/internal/client"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/models"
	"github.com/softwareproject/portal/internal/storage/memory"
)

// fakeAPI serves /api/auth/refresh and /api/data. /api/data answers with
// dataStatus unless the bearer token is accepted.
type fakeAPI struct {
	srv           *httptest.Server
	refreshCalls  atomic.Int32
	dataCalls     atomic.Int32
	refreshStatus int
	refreshBody   string
	acceptToken   string
	dataStatus    int
	retryStatus   int
	lastAuth      atomic.Value
	lastBody      atomic.Value

	// Optional overrides.
	refreshBodyFor func(call int32) string
	accept         func(token string) bool
	onReject       func()
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		refreshStatus: http.StatusOK,
		refreshBody:   `{"accessToken":"T2"}`,
		acceptToken:   "T2",
		dataStatus:    http.StatusUnauthorized,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		call := f.refreshCalls.Add(1)
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body.RefreshToken)
		respBody := f.refreshBody
		if f.refreshBodyFor != nil {
			respBody = f.refreshBodyFor(call)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.refreshStatus)
		_, _ = io.WriteString(w, respBody)
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		f.dataCalls.Add(1)
		auth := r.Header.Get("Authorization")
		f.lastAuth.Store(auth)
		payload, _ := io.ReadAll(r.Body)
		token := strings.TrimPrefix(auth, "Bearer ")
		accepted := token == f.acceptToken
		if f.accept != nil {
			accepted = f.accept(token)
		}
		if accepted {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(append([]byte("ok:"), payload...))
			return
		}
		if f.onReject != nil {
			f.onReject()
		}
		status := f.dataStatus
		if f.retryStatus != 0 && f.dataCalls.Load() > 1 {
			status = f.retryStatus
		}
		w.WriteHeader(status)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type fixture struct {
	api *fakeAPI
	kv  *memory.KVStorage
	m   *Manager
	now time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	api := newFakeAPI(t)
	kv := memory.NewKVStorage()
	apiClient := client.NewAPIClient(api.srv.URL, 5*time.Second)
	now := time.Unix(1_700_000_000, 0)
	if opts.Now == nil {
		opts.Now = func() time.Time { return now }
	}
	m := NewManager(NewStore(kv, "c1"), apiClient, apiClient.HTTPClient(), common.NewSilentLogger(), opts)
	return &fixture{api: api, kv: kv, m: m, now: now}
}

func (f *fixture) seed(t *testing.T, access, refresh string) {
	t.Helper()
	err := f.m.Begin(context.Background(), models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         &models.User{ID: "u1", Email: "a@b.c", Name: "A", Role: models.RoleUser},
	})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
}

func (f *fixture) request(t *testing.T, body string) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(http.MethodPost, f.api.srv.URL+"/api/data", r)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return req
}

func (f *fixture) assertCleared(t *testing.T) {
	t.Helper()
	assertNamespaceEmpty(t, f.kv, "c1")
}

func (f *fixture) session(t *testing.T) *models.Session {
	t.Helper()
	sess, err := f.m.Session(context.Background())
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	return sess
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(b)
}

func TestDo_NoAccessTokenFailsFast(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.m.Do(context.Background(), f.request(t, ""))
	if !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("expected ErrNoAccessToken, got %v", err)
	}
	if n := f.api.dataCalls.Load(); n != 0 {
		t.Errorf("expected no API calls, got %d", n)
	}
}

func TestDo_AttachesBearer(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "T2", "R1")

	resp, err := f.m.Do(context.Background(), f.request(t, "x"))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "ok:x" {
		t.Errorf("expected body ok:x, got %q", body)
	}
	if auth := f.api.lastAuth.Load(); auth != "Bearer T2" {
		t.Errorf("expected Bearer T2, got %v", auth)
	}
	if n := f.api.refreshCalls.Load(); n != 0 {
		t.Errorf("expected no refresh, got %d", n)
	}
}

func TestDo_401RefreshesOnceAndRetries(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "T1", "R1")

	resp, err := f.m.Do(context.Background(), f.request(t, "payload"))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "ok:payload" {
		t.Errorf("expected body replayed on retry, got %q", body)
	}

	if n := f.api.refreshCalls.Load(); n != 1 {
		t.Errorf("expected 1 refresh, got %d", n)
	}
	if n := f.api.dataCalls.Load(); n != 2 {
		t.Errorf("expected 2 data calls, got %d", n)
	}
	if rt := f.api.lastBody.Load(); rt != "R1" {
		t.Errorf("expected refresh with R1, got %v", rt)
	}
	if auth := f.api.lastAuth.Load(); auth != "Bearer T2" {
		t.Errorf("expected retry with Bearer T2, got %v", auth)
	}

	sess := f.session(t)
	if sess.AccessToken != "T2" {
		t.Errorf("expected stored T2, got %q", sess.AccessToken)
	}
	if sess.RefreshToken != "R1" {
		t.Errorf("expected refresh token kept when not rotated, got %q", sess.RefreshToken)
	}
}

func TestDo_403AlsoRetried(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.dataStatus = http.StatusForbidden
	f.seed(t, "T1", "R1")

	resp, err := f.m.Do(context.Background(), f.request(t, ""))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if n := f.api.refreshCalls.Load(); n != 1 {
		t.Errorf("expected 1 refresh, got %d", n)
	}
}

func TestDo_ConfiguredRetrySet(t *testing.T) {
	f := newFixture(t, Options{RetryStatuses: []int{http.StatusUnauthorized}})
	f.api.dataStatus = http.StatusForbidden
	f.seed(t, "T1", "R1")

	resp, err := f.m.Do(context.Background(), f.request(t, ""))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 passed through, got %d", resp.StatusCode)
	}
	if n := f.api.refreshCalls.Load(); n != 0 {
		t.Errorf("expected no refresh, got %d", n)
	}
}

func TestDo_OtherStatusPassesThrough(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.dataStatus = http.StatusInternalServerError
	f.seed(t, "T1", "R1")

	resp, err := f.m.Do(context.Background(), f.request(t, ""))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
	if n := f.api.refreshCalls.Load(); n != 0 {
		t.Errorf("expected no refresh, got %d", n)
	}
	if n := f.api.dataCalls.Load(); n != 1 {
		t.Errorf("expected 1 data call, got %d", n)
	}
}

func TestDo_RefreshFailureClearsSession(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.refreshStatus = http.StatusUnauthorized
	f.api.refreshBody = `{"message":"refresh token revoked"}`
	f.seed(t, "T1", "R1")

	resp, err := f.m.Do(context.Background(), f.request(t, ""))
	if resp != nil {
		t.Errorf("expected nil response, got %d", resp.StatusCode)
	}
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	if !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("expected ErrRefreshFailed, got %v", err)
	}
	if !IsAuthError(err) {
		t.Error("expected IsAuthError to be true")
	}
	if code := client.StatusCode(err); code != http.StatusUnauthorized {
		t.Errorf("expected status 401 in error, got %d", code)
	}
	if n := f.api.dataCalls.Load(); n != 1 {
		t.Errorf("expected 1 data call, got %d", n)
	}
	f.assertCleared(t)
}

func TestDo_NoRefreshTokenClearsSession(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "T1", "")
	if err := f.kv.Delete(context.Background(), "c1:refreshToken"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := f.m.Do(context.Background(), f.request(t, ""))
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("expected ErrNoRefreshToken, got %v", err)
	}
	if n := f.api.refreshCalls.Load(); n != 0 {
		t.Errorf("expected no refresh, got %d", n)
	}
	f.assertCleared(t)
}

func TestDo_RetryRejectedClearsAndReturnsResponse(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.acceptToken = "never"
	f.api.retryStatus = http.StatusForbidden
	f.seed(t, "T1", "R1")

	resp, err := f.m.Do(context.Background(), f.request(t, ""))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected retry response 403, got %d", resp.StatusCode)
	}
	if n := f.api.refreshCalls.Load(); n != 1 {
		t.Errorf("expected 1 refresh, got %d", n)
	}
	if n := f.api.dataCalls.Load(); n != 2 {
		t.Errorf("expected 2 data calls, got %d", n)
	}
	f.assertCleared(t)
}

func TestDo_TransportErrorPropagates(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "T1", "R1")
	req := f.request(t, "")
	f.api.srv.Close()

	_, err := f.m.Do(context.Background(), req)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if IsAuthError(err) {
		t.Errorf("transport error must not be an auth error: %v", err)
	}
	if sess := f.session(t); sess.AccessToken != "T1" {
		t.Errorf("expected session untouched, got %q", sess.AccessToken)
	}
}

func TestDo_ConcurrentExpiredCallsRefreshIndependently(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.refreshBodyFor = func(call int32) string {
		return `{"accessToken":"T2-` + string(rune('0'+call)) + `"}`
	}
	f.api.accept = func(token string) bool { return token != "T1" }

	// Hold rejected responses until both callers have sent T1.
	release := make(chan struct{})
	var arrived atomic.Int32
	f.api.onReject = func() {
		if arrived.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}
	f.seed(t, "T1", "R1")

	var wg sync.WaitGroup
	reqs := []*http.Request{f.request(t, ""), f.request(t, "")}
	statuses := make([]int, 2)
	errs := make([]error, 2)
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.m.Do(context.Background(), reqs[i])
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Errorf("call %d failed: %v", i, errs[i])
		} else if statuses[i] != http.StatusOK {
			t.Errorf("call %d: expected 200, got %d", i, statuses[i])
		}
	}
	if n := f.api.refreshCalls.Load(); n != 2 {
		t.Errorf("expected each caller to refresh once, got %d refreshes", n)
	}
	if n := f.api.dataCalls.Load(); n != 4 {
		t.Errorf("expected 4 data calls, got %d", n)
	}

	sess := f.session(t)
	if sess.AccessToken != "T2-1" && sess.AccessToken != "T2-2" {
		t.Errorf("expected last refreshed token to be stored, got %q", sess.AccessToken)
	}
	if sess.RefreshToken != "R1" {
		t.Errorf("expected refresh token R1, got %q", sess.RefreshToken)
	}
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.refreshBody = `{"accessToken":"T2","refreshToken":"R2"}`
	f.seed(t, "T1", "R1")

	if err := f.m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	sess := f.session(t)
	if sess.AccessToken != "T2" || sess.RefreshToken != "R2" {
		t.Errorf("expected T2/R2, got %q/%q", sess.AccessToken, sess.RefreshToken)
	}
	if sess.User == nil || sess.User.ID != "u1" {
		t.Errorf("expected user u1 kept, got %+v", sess.User)
	}
}

func TestRefresh_MissingAccessTokenInResponse(t *testing.T) {
	f := newFixture(t, Options{})
	f.api.refreshBody = `{}`
	f.seed(t, "T1", "R1")

	if err := f.m.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("expected ErrRefreshFailed, got %v", err)
	}
	f.assertCleared(t)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.kv.Set(context.Background(), "c1:accessToken", "T1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := f.m.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("expected ErrNoRefreshToken, got %v", err)
	}
	if n := f.api.refreshCalls.Load(); n != 0 {
		t.Errorf("expected no refresh call, got %d", n)
	}
	f.assertCleared(t)
}

func TestEnsureValid(t *testing.T) {
	f := newFixture(t, Options{})
	fresh := mintToken(t, f.now.Add(time.Hour))
	stale := mintToken(t, f.now.Add(-time.Minute))

	t.Run("no token", func(t *testing.T) {
		if _, err := f.m.EnsureValid(context.Background()); !errors.Is(err, ErrNoAccessToken) {
			t.Errorf("expected ErrNoAccessToken, got %v", err)
		}
	})

	t.Run("fresh token skips refresh", func(t *testing.T) {
		f.seed(t, fresh, "R1")
		token, err := f.m.EnsureValid(context.Background())
		if err != nil {
			t.Fatalf("EnsureValid failed: %v", err)
		}
		if token != fresh {
			t.Error("expected the stored fresh token")
		}
		if n := f.api.refreshCalls.Load(); n != 0 {
			t.Errorf("expected no refresh, got %d", n)
		}
	})

	t.Run("expired token refreshed once", func(t *testing.T) {
		f.seed(t, stale, "R1")
		f.api.refreshBody = `{"accessToken":"` + fresh + `"}`
		token, err := f.m.EnsureValid(context.Background())
		if err != nil {
			t.Fatalf("EnsureValid failed: %v", err)
		}
		if token != fresh {
			t.Error("expected the refreshed token")
		}
		if n := f.api.refreshCalls.Load(); n != 1 {
			t.Errorf("expected 1 refresh, got %d", n)
		}
		if !f.m.IsAuthenticated(context.Background()) {
			t.Error("expected authenticated after refresh")
		}
	})

	t.Run("refreshed token still expired", func(t *testing.T) {
		f.seed(t, stale, "R1")
		f.api.refreshBody = `{"accessToken":"` + stale + `"}`
		if _, err := f.m.EnsureValid(context.Background()); !errors.Is(err, ErrSessionExpired) {
			t.Errorf("expected ErrSessionExpired, got %v", err)
		}
	})
}

func TestLoginThenRefreshScenario(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.seed(t, "T1", "R1")
	sess := f.session(t)
	if sess.AccessToken != "T1" || sess.RefreshToken != "R1" {
		t.Errorf("expected T1/R1, got %q/%q", sess.AccessToken, sess.RefreshToken)
	}
	if f.m.IsAuthenticated(ctx) {
		t.Error("opaque token has no exp and must not count as authenticated")
	}

	resp, err := f.m.Do(ctx, f.request(t, ""))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	if sess := f.session(t); sess.AccessToken != "T2" {
		t.Errorf("expected T2 after refresh, got %q", sess.AccessToken)
	}

	if err := f.m.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	f.assertCleared(t)
}

func TestToken(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.m.Token(ctx); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("expected ErrNoAccessToken, got %v", err)
	}

	exp := f.now.Add(time.Hour)
	access := mintToken(t, exp)
	f.seed(t, access, "R1")

	tok, err := f.m.Token(ctx)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != access || tok.RefreshToken != "R1" {
		t.Error("expected stored tokens")
	}
	if tok.Type() != "Bearer" {
		t.Errorf("expected Bearer, got %q", tok.Type())
	}
	if !tok.Expiry.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, tok.Expiry)
	}
}
