package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/lumen-blog/blogctl/metrics"
	"github.com/lumen-blog/blogctl/pipeline"
	"github.com/lumen-blog/blogctl/tokenstore"
)

// mockBackend is a minimal blog backend. Protected routes accept only the
// token in validAccess.
type mockBackend struct {
	mu          sync.Mutex
	validAccess string

	refreshHandler http.HandlerFunc

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	friendCalls  atomic.Int32
	friendAuths  []string
}

func newMockBackend(t *testing.T, b *mockBackend) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+LoginPath, func(w http.ResponseWriter, r *http.Request) {
		b.loginCalls.Add(1)
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Username != "admin" || body.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Invalid credentials"})
			return
		}
		b.mu.Lock()
		b.validAccess = "T1"
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "T1", "refresh_token": "R1"})
	})

	mux.HandleFunc("POST "+RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		if b.refreshHandler != nil {
			b.refreshHandler(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer R1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
			return
		}
		b.mu.Lock()
		b.validAccess = "T2"
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "T2"})
	})

	mux.HandleFunc("GET /friends", func(w http.ResponseWriter, r *http.Request) {
		b.friendCalls.Add(1)
		auth := r.Header.Get("Authorization")
		b.mu.Lock()
		b.friendAuths = append(b.friendAuths, auth)
		ok := b.validAccess != "" && auth == "Bearer "+b.validAccess
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"friends": []any{}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newDoer(t *testing.T) pipeline.Doer {
	t.Helper()
	c, err := retry.NewClient(retry.WithMaxRetries(0))
	require.NoError(t, err)
	return c
}

func newTestController(t *testing.T, srv *httptest.Server, creds tokenstore.Credentials, opts ...Option) (*Controller, *tokenstore.Store) {
	t.Helper()
	ctx := context.Background()
	store := tokenstore.Open(ctx, tokenstore.NewMemoryBackend(), nil)
	if creds != (tokenstore.Credentials{}) {
		store.Set(ctx, creds)
	}
	return New(srv.URL, newDoer(t), store, opts...), store
}

func getFriends(ctx context.Context, c *Controller) (*pipeline.Response, error) {
	return c.Pipeline().Send(ctx, pipeline.NewRequest(http.MethodGet, "/friends", nil))
}

func TestLogin_StoresTokens(t *testing.T) {
	srv := newMockBackend(t, &mockBackend{})
	c, store := newTestController(t, srv, tokenstore.Credentials{})
	require.Equal(t, Anonymous, c.State())

	err := c.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)

	assert.Equal(t, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"}, store.Get())
	assert.Equal(t, Authenticated, c.State())
	assert.Equal(t, "authenticated", c.State().String())
}

func TestLogin_RejectedLeavesStoreUntouched(t *testing.T) {
	srv := newMockBackend(t, &mockBackend{})
	prev := tokenstore.Credentials{AccessToken: "old", RefreshToken: "old-r"}
	c, store := newTestController(t, srv, prev)

	err := c.Login(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailure)

	var re *oauth2.RetrieveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Response.StatusCode)
	assert.Equal(t, "Invalid credentials", re.ErrorDescription)

	assert.Equal(t, prev, store.Get())
}

func TestLogin_NetworkFailure(t *testing.T) {
	srv := newMockBackend(t, &mockBackend{})
	c, store := newTestController(t, srv, tokenstore.Credentials{})
	srv.Close()

	err := c.Login(context.Background(), "admin", "secret")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailure)

	var netErr *pipeline.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, tokenstore.Credentials{}, store.Get())
	assert.Equal(t, Anonymous, c.State())
}

func TestLogin_IncompleteTokenResponse(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing access token", map[string]string{"refresh_token": "R1"}},
		{"missing refresh token", map[string]string{"access_token": "T1"}},
		{"wrong token type", map[string]string{"access_token": "T1", "refresh_token": "R1", "token_type": "mac"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			}))
			defer srv.Close()

			c, store := newTestController(t, srv, tokenstore.Credentials{})
			err := c.Login(context.Background(), "admin", "secret")
			assert.ErrorIs(t, err, ErrLoginFailure)
			assert.Equal(t, tokenstore.Credentials{}, store.Get())
		})
	}
}

func TestPipeline_RefreshAndResend(t *testing.T) {
	b := &mockBackend{validAccess: "T2"}
	srv := newMockBackend(t, b)
	c, store := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"})

	resp, err := getFriends(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, b.friendAuths)
	assert.Equal(t, "T2", store.Get().AccessToken)
	assert.Equal(t, "R1", store.Get().RefreshToken)
	assert.Equal(t, Authenticated, c.State())
}

func TestPipeline_RefreshRejectedLogsOut(t *testing.T) {
	b := &mockBackend{validAccess: "T2"}
	srv := newMockBackend(t, b)
	c, store := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "revoked"})

	var hooks atomic.Int32
	c.OnLogout(func() { hooks.Add(1) })

	_, err := getFriends(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailure)
	assert.ErrorIs(t, err, pipeline.ErrAuthExpired)

	assert.Equal(t, int32(1), b.friendCalls.Load())
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(1), hooks.Load())
	assert.Equal(t, tokenstore.Credentials{}, store.Get())
	assert.Equal(t, Anonymous, c.State())
}

func TestPipeline_AlwaysUnauthorizedLogsOutOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
	}))
	defer srv.Close()

	c, store := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"})
	var hooks atomic.Int32
	c.OnLogout(func() { hooks.Add(1) })

	_, err := getFriends(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailure)

	// original request and the refresh call, nothing else
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), hooks.Load())
	assert.Equal(t, tokenstore.Credentials{}, store.Get())
}

func TestPipeline_NoRefreshTokenLogsOut(t *testing.T) {
	b := &mockBackend{validAccess: "T2"}
	srv := newMockBackend(t, b)
	c, store := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1"})

	_, err := getFriends(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, b.refreshCalls.Load())
	assert.Equal(t, tokenstore.Credentials{}, store.Get())
}

func TestRefresh_KeepsRefreshTokenUnlessRotated(t *testing.T) {
	tests := []struct {
		name        string
		body        map[string]string
		wantRefresh string
	}{
		{"fixed", map[string]string{"access_token": "T2"}, "R1"},
		{"rotated", map[string]string{"access_token": "T2", "refresh_token": "R2"}, "R2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockBackend{refreshHandler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer R1", r.Header.Get("Authorization"))
				writeJSON(w, http.StatusOK, tt.body)
			}}
			srv := newMockBackend(t, b)
			c, store := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"})

			token, err := c.Refresh(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "T2", token)
			assert.Equal(t, tokenstore.Credentials{AccessToken: "T2", RefreshToken: tt.wantRefresh}, store.Get())
		})
	}
}

func TestRefresh_FailureLeavesLogoutToCaller(t *testing.T) {
	b := &mockBackend{refreshHandler: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
	}}
	srv := newMockBackend(t, b)
	creds := tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"}
	c, store := newTestController(t, srv, creds)

	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailure)

	var re *oauth2.RetrieveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "server_error", re.ErrorCode)
	assert.Equal(t, creds, store.Get())
}

func TestRefresh_CoalescesConcurrentCallers(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	b := &mockBackend{refreshHandler: func(w http.ResponseWriter, _ *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "T2"})
	}}
	srv := newMockBackend(t, b)
	c, _ := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"})

	const callers = 10
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		go func() {
			defer done.Done()
			started.Done()
			tokens[i], errs[i] = c.Refresh(context.Background())
		}()
	}

	started.Wait()
	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "T2", tokens[i])
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestRefresh_CallerCancelled(t *testing.T) {
	release := make(chan struct{})
	b := &mockBackend{refreshHandler: func(w http.ResponseWriter, _ *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "T2"})
	}}
	srv := newMockBackend(t, b)
	defer close(release)
	c, store := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "R1", store.Get().RefreshToken)
}

func TestLogout_Idempotent(t *testing.T) {
	srv := newMockBackend(t, &mockBackend{})
	c, store := newTestController(t, srv, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"})

	var hooks atomic.Int32
	c.OnLogout(func() { hooks.Add(1) })

	ctx := context.Background()
	c.Logout(ctx)
	once := store.Get()
	c.Logout(ctx)

	assert.Equal(t, tokenstore.Credentials{}, once)
	assert.Equal(t, once, store.Get())
	assert.Equal(t, Anonymous, c.State())
	assert.Equal(t, int32(2), hooks.Load())
}

func TestState_RestoredFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")

	first := tokenstore.Open(ctx, tokenstore.NewFileBackend(path, "default"), nil)
	first.Set(ctx, tokenstore.Credentials{AccessToken: "T1", RefreshToken: "R1"})

	srv := newMockBackend(t, &mockBackend{validAccess: "T1"})
	restored := tokenstore.Open(ctx, tokenstore.NewFileBackend(path, "default"), nil)
	c := New(srv.URL, newDoer(t), restored)

	assert.Equal(t, Authenticated, c.State())
	resp, err := getFriends(ctx, c)
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestClaims(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)

	srv := newMockBackend(t, &mockBackend{})
	c, _ := newTestController(t, srv, tokenstore.Credentials{AccessToken: signed, RefreshToken: "R1"})

	claims, err := c.Claims()
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.True(t, claims.ExpiresAt.Time.Equal(exp))
}

func TestClaims_Errors(t *testing.T) {
	srv := newMockBackend(t, &mockBackend{})

	c, _ := newTestController(t, srv, tokenstore.Credentials{})
	_, err := c.Claims()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	c, _ = newTestController(t, srv, tokenstore.Credentials{AccessToken: "opaque", RefreshToken: "R1"})
	_, err = c.Claims()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotAuthenticated))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := newMockBackend(t, &mockBackend{})
	c, _ := newTestController(t, srv, tokenstore.Credentials{}, WithMetrics(m))
	ctx := context.Background()

	require.Error(t, c.Login(ctx, "admin", "wrong"))
	require.NoError(t, c.Login(ctx, "admin", "secret"))
	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	c.Logout(ctx)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Logins.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Logins.WithLabelValues("failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Refreshes.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Logouts), 0)
}
