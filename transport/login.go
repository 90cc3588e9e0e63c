package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/attendly/go-auth-client/session"
)

const (
	loginPath  = "/api/v1/auth/login"
	logoutPath = "/api/v1/auth/logout"

	loginRequestTimeout = 10 * time.Second
)

// Credentials are a password-login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthAPI bundles the interactive login and logout REST calls. Password
// login is the alternate method the bot-login fallback switches to.
type AuthAPI struct {
	client  HTTPClient
	store   session.Store
	baseURL string
	log     zerolog.Logger
}

// AuthAPIOption defines a function type to modify an AuthAPI.
type AuthAPIOption func(*AuthAPI)

// WithAuthAPILogger sets the AuthAPI logger.
func WithAuthAPILogger(l zerolog.Logger) AuthAPIOption {
	return func(a *AuthAPI) {
		a.log = l
	}
}

func NewAuthAPI(client HTTPClient, store session.Store, baseURL string, options ...AuthAPIOption) (*AuthAPI, error) {
	if client == nil {
		return nil, errors.New("[NewAuthAPI] client is required")
	}
	if store == nil {
		return nil, errors.New("[NewAuthAPI] store is required")
	}
	if baseURL == "" {
		return nil, errors.New("[NewAuthAPI] baseURL is required")
	}
	a := &AuthAPI{
		client:  client,
		store:   store,
		baseURL: baseURL,
		log:     log.Logger,
	}
	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

// Login performs a password login and, on success, replaces the session as
// a whole. A 401 surfaces as InvalidCredentialsErr.
func (a *AuthAPI) Login(ctx context.Context, creds Credentials) (*session.User, error) {
	reqCtx, cancel := context.WithTimeout(ctx, loginRequestTimeout)
	defer cancel()

	payload, err := json.Marshal(creds)
	if err != nil {
		return nil, errors.Wrap(err, "[AuthAPI.Login] marshal credentials")
	}

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		a.baseURL+loginPath,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[AuthAPI.Login] create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, errors.Wrap(err, "[AuthAPI.Login] request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[AuthAPI.Login] read response")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, InvalidCredentialsErr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[AuthAPI.Login] status %d: %s", resp.StatusCode, string(body))
	}

	var loginResp struct {
		AccessToken  string        `json:"accessToken"`
		RefreshToken string        `json:"refreshToken"`
		User         *session.User `json:"user"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return nil, errors.Wrap(err, "[AuthAPI.Login] parse response")
	}
	if loginResp.AccessToken == "" {
		return nil, errors.New("[AuthAPI.Login] response missing access token")
	}

	if err := a.store.Set(session.Session{
		AccessToken:   loginResp.AccessToken,
		RefreshToken:  loginResp.RefreshToken,
		User:          loginResp.User,
		Authenticated: true,
	}); err != nil {
		return nil, errors.Wrap(err, "[AuthAPI.Login] store.Set")
	}

	a.log.Info().Str("user_id", userID(loginResp.User)).Msg("password login succeeded")
	return loginResp.User, nil
}

// Logout tells the server to revoke the session and clears the local
// record. The local clear happens even when the server call fails - a
// logout must never leave credentials behind.
func (a *AuthAPI) Logout(ctx context.Context) error {
	sess := a.store.Get()
	defer func() {
		_ = a.store.Clear()
	}()

	if sess.AccessToken == "" {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, loginRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.baseURL+logoutPath, nil)
	if err != nil {
		return errors.Wrap(err, "[AuthAPI.Logout] create request")
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)

	resp, err := a.client.DoWithContext(reqCtx, req)
	if err != nil {
		return errors.Wrap(err, "[AuthAPI.Logout] request failed")
	}
	drainAndClose(resp)
	return nil
}

func userID(u *session.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
