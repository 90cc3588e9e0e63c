package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attendly/go-auth-client/session"
	"github.com/attendly/go-auth-client/session/storefakes"
	"github.com/attendly/go-auth-client/transport"
)

func newAuthAPI(t *testing.T, store session.Store, handler http.HandlerFunc) *transport.AuthAPI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	api, err := transport.NewAuthAPI(plainClient{c: server.Client()}, store, server.URL)
	require.NoError(t, err)
	return api
}

func TestLogin_ReplacesSessionAsAWhole(t *testing.T) {
	store := storefakes.NewFakeStore()
	api := newAuthAPI(t, store, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/auth/login", r.URL.Path)

		var creds transport.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		require.Equal(t, "ada@example.com", creds.Email)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "access-1",
			"refreshToken": "refresh-1",
			"user":         map[string]string{"id": "u1", "username": "ada", "role": "organizer"},
		})
	})

	user, err := api.Login(context.Background(), transport.Credentials{
		Email:    "ada@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)

	sess := store.Get()
	require.True(t, sess.Authenticated)
	require.Equal(t, "access-1", sess.AccessToken)
	require.Equal(t, "refresh-1", sess.RefreshToken)
	require.Equal(t, session.RoleOrganizer, sess.User.Role)
}

func TestLogin_RejectedCredentials(t *testing.T) {
	store := storefakes.NewFakeStore()
	api := newAuthAPI(t, store, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := api.Login(context.Background(), transport.Credentials{Email: "a", Password: "b"})
	require.ErrorIs(t, err, transport.InvalidCredentialsErr)
	require.False(t, store.Get().Authenticated)
	require.Equal(t, 0, store.SetCallCount())
}

func TestLogout_ClearsSessionEvenWhenServerFails(t *testing.T) {
	store := seededStore("access-1", "refresh-1")
	api := newAuthAPI(t, store, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusInternalServerError)
	})

	require.NoError(t, api.Logout(context.Background()))
	require.False(t, store.Get().Authenticated)
	require.Equal(t, 1, store.ClearCallCount())
}

func TestLogout_NoopWhenLoggedOut(t *testing.T) {
	called := false
	store := storefakes.NewFakeStore()
	api := newAuthAPI(t, store, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	require.NoError(t, api.Logout(context.Background()))
	require.False(t, called, "no request should be sent without a session")
}
