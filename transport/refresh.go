package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// HTTPClient is the request-execution contract used by every REST call in
// this package. *retry.Client from go-httpretry satisfies it.
type HTTPClient interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Refresher exchanges the session's refresh credential for fresh tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

const (
	refreshPath           = "/api/v1/auth/refresh"
	refreshRequestTimeout = 10 * time.Second
)

var _ Refresher = (*HTTPRefresher)(nil)

// HTTPRefresher calls the dashboard's refresh endpoint.
type HTTPRefresher struct {
	client  HTTPClient
	baseURL string
}

func NewHTTPRefresher(client HTTPClient, baseURL string) (*HTTPRefresher, error) {
	if client == nil {
		return nil, errors.New("[NewHTTPRefresher] client is required")
	}
	if baseURL == "" {
		return nil, errors.New("[NewHTTPRefresher] baseURL is required")
	}
	return &HTTPRefresher{client: client, baseURL: baseURL}, nil
}

// Refresh exchanges refreshToken for a new token pair. A 4xx response means
// the credential itself was rejected and is surfaced as RefreshRejectedErr;
// everything else is a transient transport failure.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, refreshRequestTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPRefresher.Refresh] marshal request")
	}

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		r.baseURL+refreshPath,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPRefresher.Refresh] create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPRefresher.Refresh] request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPRefresher.Refresh] read response")
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, errors.Wrapf(RefreshRejectedErr, "status %d: %s", resp.StatusCode, string(body))
		}
		return nil, errors.Errorf("[HTTPRefresher.Refresh] status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errors.Wrap(err, "[HTTPRefresher.Refresh] parse response")
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("[HTTPRefresher.Refresh] response missing access token")
	}

	// Rotation mode returns a new refresh token; fixed mode omits it and the
	// old credential stays valid.
	newRefreshToken := tokenResp.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	token := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: newRefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return token, nil
}
