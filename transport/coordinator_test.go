package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/attendly/go-auth-client/session"
	"github.com/attendly/go-auth-client/session/storefakes"
	"github.com/attendly/go-auth-client/transport"
)

const (
	staleToken = "stale-access-token"
	freshToken = "fresh-access-token"
	refreshTok = "refresh-credential-1"
)

// plainClient adapts http.Client to the coordinator's HTTPClient contract.
type plainClient struct {
	c *http.Client
}

func (p plainClient) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return p.c.Do(req.WithContext(ctx))
}

// apiFixture is an httptest server exposing a bearer-protected resource and
// the refresh endpoint, with atomic call counters.
type apiFixture struct {
	server       *httptest.Server
	resourceHits atomic.Int32
	refreshHits  atomic.Int32

	// refreshDelay lets tests hold the refresh open while other requests
	// pile up behind the coordinator's queue.
	refreshDelay  time.Duration
	refreshStatus int
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		refreshStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshHits.Add(1)
		if f.refreshDelay > 0 {
			time.Sleep(f.refreshDelay)
		}
		if f.refreshStatus != http.StatusOK {
			w.WriteHeader(f.refreshStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  freshToken,
			"refreshToken": "refresh-credential-2",
		})
	})
	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		f.resourceHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+freshToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if len(body) > 0 {
			_, _ = w.Write(body)
			return
		}
		_, _ = w.Write([]byte(`{"events":[]}`))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newCoordinator(t *testing.T, f *apiFixture, store session.Store, options ...transport.CoordinatorOption) *transport.Coordinator {
	t.Helper()

	client := plainClient{c: f.server.Client()}
	refresher, err := transport.NewHTTPRefresher(client, f.server.URL)
	require.NoError(t, err)
	coordinator, err := transport.NewCoordinator(client, store, refresher, options...)
	require.NoError(t, err)
	return coordinator
}

func seededStore(accessToken, refreshToken string) *storefakes.FakeStore {
	store := storefakes.NewFakeStore()
	_ = store.Set(session.Session{
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		User:          &session.User{ID: "u1", Username: "ada"},
		Authenticated: true,
	})
	return store
}

func newRequest(t *testing.T, base, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	require.NoError(t, err)
	return req
}

func TestDo_ConcurrentStaleTokensShareOneRefresh(t *testing.T) {
	f := newAPIFixture(t)
	f.refreshDelay = 150 * time.Millisecond
	store := seededStore(staleToken, refreshTok)
	coordinator := newCoordinator(t, f, store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const concurrent = 3
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrent; i++ {
		g.Go(func() error {
			resp, err := coordinator.Do(gctx, newRequest(t, f.server.URL, "/api/v1/events"))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), f.refreshHits.Load(), "exactly one refresh call must be issued")
	require.Equal(t, freshToken, store.Get().AccessToken)
	require.Equal(t, "refresh-credential-2", store.Get().RefreshToken)
	require.NotNil(t, store.Get().User, "refresh must keep the user record")
}

func TestDo_RefreshFailureRejectsAllAndClearsSessionOnce(t *testing.T) {
	f := newAPIFixture(t)
	f.refreshDelay = 100 * time.Millisecond
	f.refreshStatus = http.StatusBadRequest
	store := seededStore(staleToken, refreshTok)
	coordinator := newCoordinator(t, f, store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const concurrent = 3
	errs := make(chan error, concurrent)
	for i := 0; i < concurrent; i++ {
		go func() {
			_, err := coordinator.Do(ctx, newRequest(t, f.server.URL, "/api/v1/events"))
			errs <- err
		}()
	}
	for i := 0; i < concurrent; i++ {
		err := <-errs
		require.ErrorIs(t, err, transport.RefreshRejectedErr)
	}

	require.Equal(t, int32(1), f.refreshHits.Load())
	require.Equal(t, 1, store.ClearCallCount(), "session must be cleared exactly once")
	require.False(t, store.Get().Authenticated)
}

func TestDo_NoRefreshCapabilityLogsOutWithoutNetworkRefresh(t *testing.T) {
	f := newAPIFixture(t)
	store := seededStore(staleToken, "")
	coordinator := newCoordinator(t, f, store)

	_, err := coordinator.Do(context.Background(), newRequest(t, f.server.URL, "/api/v1/events"))
	require.ErrorIs(t, err, transport.SessionExpiredErr)
	require.Equal(t, int32(0), f.refreshHits.Load(), "no refresh call may be attempted")
	require.Equal(t, 1, store.ClearCallCount())
}

func TestDo_NonAuthorizationFailuresPassThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newAPIFixture(t)
	store := seededStore(staleToken, refreshTok)
	coordinator := newCoordinator(t, f, store)

	resp, err := coordinator.Do(context.Background(), newRequest(t, server.URL, "/api/v1/events"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, int32(0), f.refreshHits.Load())
	require.True(t, store.Get().Authenticated, "session must be untouched")
}

func TestDo_SecondUnauthorizedAfterRefreshIsHardFailure(t *testing.T) {
	f := newAPIFixture(t)
	store := seededStore(staleToken, refreshTok)
	coordinator := newCoordinator(t, f, store)

	rejectAll := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejectAll.Close()

	_, err := coordinator.Do(context.Background(), newRequest(t, rejectAll.URL, "/api/v1/events"))
	require.ErrorIs(t, err, transport.UnauthorizedAfterRefreshErr)
	require.Equal(t, int32(1), f.refreshHits.Load(), "a rejected fresh token must not trigger another refresh")
}

func TestDo_RetryPreservesRequestBody(t *testing.T) {
	f := newAPIFixture(t)
	store := seededStore(staleToken, refreshTok)
	coordinator := newCoordinator(t, f, store)

	payload := []byte(`{"eventId":"ev-42","quantity":2}`)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/events", bytes.NewReader(payload))
	require.NoError(t, err)

	resp, err := coordinator.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	echoed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, echoed, "retry must replay the original body")
}

func TestDo_ProactiveRefreshBeforeJWTExpiry(t *testing.T) {
	expiringJWT, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(5 * time.Second).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	f := newAPIFixture(t)
	store := seededStore(expiringJWT, refreshTok)
	coordinator := newCoordinator(t, f, store, transport.WithExpiryLeeway(time.Minute))

	resp, err := coordinator.Do(context.Background(), newRequest(t, f.server.URL, "/api/v1/events"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), f.refreshHits.Load())
	require.Equal(t, int32(1), f.resourceHits.Load(), "the stale token must never reach the resource")
}

func TestNewCoordinator_RequiresDependencies(t *testing.T) {
	f := newAPIFixture(t)
	client := plainClient{c: f.server.Client()}
	refresher, err := transport.NewHTTPRefresher(client, f.server.URL)
	require.NoError(t, err)

	_, err = transport.NewCoordinator(nil, storefakes.NewFakeStore(), refresher)
	require.Error(t, err)
	_, err = transport.NewCoordinator(client, nil, refresher)
	require.Error(t, err)
	_, err = transport.NewCoordinator(client, storefakes.NewFakeStore(), nil)
	require.Error(t, err)
}
