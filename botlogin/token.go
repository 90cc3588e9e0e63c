package botlogin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/attendly/go-auth-client/transport"
)

const (
	tokenIssuePath           = "/api/v1/auth/bot/token"
	tokenIssueRequestTimeout = 10 * time.Second
)

// LoginToken is a server-issued one-time value binding a login attempt to
// a single realtime channel session. It is spent once the channel reports
// confirmed or error, or once ExpiresAt passes.
type LoginToken struct {
	// Token keys the realtime channel.
	Token string `json:"token"`

	// Deeplink opens the messaging bot with the token preloaded; the UI
	// renders it as a link or QR code.
	Deeplink string `json:"deeplink"`

	// ExpiresAt is when the server stops honoring the token.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer obtains a fresh LoginToken at the start of each flow attempt.
type Issuer interface {
	Issue(ctx context.Context) (*LoginToken, error)
}

var _ Issuer = (*HTTPIssuer)(nil)

// HTTPIssuer calls the dashboard's bot-login token endpoint.
type HTTPIssuer struct {
	client  transport.HTTPClient
	baseURL string
}

func NewHTTPIssuer(client transport.HTTPClient, baseURL string) (*HTTPIssuer, error) {
	if client == nil {
		return nil, errors.New("[NewHTTPIssuer] client is required")
	}
	if baseURL == "" {
		return nil, errors.New("[NewHTTPIssuer] baseURL is required")
	}
	return &HTTPIssuer{client: client, baseURL: baseURL}, nil
}

func (i *HTTPIssuer) Issue(ctx context.Context) (*LoginToken, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tokenIssueRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, i.baseURL+tokenIssuePath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPIssuer.Issue] create request")
	}

	resp, err := i.client.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPIssuer.Issue] request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[HTTPIssuer.Issue] read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[HTTPIssuer.Issue] status %d: %s", resp.StatusCode, string(body))
	}

	var token LoginToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, errors.Wrap(err, "[HTTPIssuer.Issue] parse response")
	}
	if token.Token == "" {
		return nil, errors.New("[HTTPIssuer.Issue] response missing token")
	}
	return &token, nil
}
