package transport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/attendly/go-auth-client/session"
)

const defaultExpiryLeeway = 30 * time.Second

// Coordinator wraps every outgoing authenticated request. On an
// unauthorized response it performs at most one concurrent refresh; every
// other caller that hits a 401 while that refresh is in flight is queued
// and resolved, in arrival order, with the shared outcome. Refresh failure
// clears the session exactly once and rejects every queued caller.
//
// The refresh call itself never travels through Do, so it can never
// re-enter the 401 handling.
type Coordinator struct {
	client    HTTPClient
	store     session.Store
	refresher Refresher
	log       zerolog.Logger
	nowTime   func() time.Time // nowTime function (injectable for testing)
	leeway    time.Duration

	lock       sync.Mutex
	refreshing bool
	waiters    []chan refreshResult // resolved FIFO by the refresh leader
}

type refreshResult struct {
	accessToken string
	err         error
}

// CoordinatorOption defines a function type to modify a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowTime = nowFunc
	}
}

// WithExpiryLeeway sets how close to its exp claim a JWT access token may
// get before dispatch refreshes it proactively.
func WithExpiryLeeway(leeway time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.leeway = leeway
	}
}

// NewCoordinator initializes a Coordinator with required dependencies.
func NewCoordinator(
	client HTTPClient,
	store session.Store,
	refresher Refresher,
	options ...CoordinatorOption,
) (*Coordinator, error) {
	if client == nil {
		return nil, errors.New("[NewCoordinator] client is required")
	}
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewCoordinator] refresher is required")
	}

	c := &Coordinator{
		client:    client,
		store:     store,
		refresher: refresher,
		log:       log.Logger,
		nowTime:   time.Now,
		leeway:    defaultExpiryLeeway,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Do attaches the current access token as a bearer credential and sends
// req. Responses other than 401 are returned unchanged. On a 401 the
// request is retried once with the token produced by a (possibly shared)
// refresh; a second 401 on the fresh token is a hard failure.
func (c *Coordinator) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	reqLog := c.log.With().
		Str("request_id", uuid.NewString()).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Logger()

	sess := c.store.Get()
	token := sess.AccessToken

	// Proactive refresh when the token is a JWT about to lapse. Opaque
	// tokens skip this and rely on the 401 path.
	if exp, ok := sess.AccessTokenExpiry(); ok && sess.HasRefreshCapability() {
		if c.nowTime().Add(c.leeway).After(exp) {
			refreshed, err := c.refresh(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "[Coordinator.Do] proactive refresh")
			}
			token = refreshed
			reqLog.Debug().Msg("access token refreshed ahead of expiry")
		}
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		// Not an authorization failure - no refresh logic applies.
		return resp, nil
	}

	sess = c.store.Get()
	if !sess.HasRefreshCapability() {
		drainAndClose(resp)
		_ = c.store.Clear()
		reqLog.Warn().Msg("unauthorized with no refresh capability, session cleared")
		return nil, SessionExpiredErr
	}

	if req.Body != nil && req.GetBody == nil {
		// The body cannot be replayed, so the retry is impossible; hand the
		// 401 back and let the caller re-issue the request.
		reqLog.Warn().Msg("unauthorized response on non-replayable request, not retried")
		return resp, nil
	}
	drainAndClose(resp)

	newToken, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}

	retryResp, err := c.send(ctx, req, newToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.Do] retry after refresh")
	}
	if retryResp.StatusCode == http.StatusUnauthorized {
		drainAndClose(retryResp)
		reqLog.Error().Msg("freshly refreshed token rejected")
		return nil, UnauthorizedAfterRefreshErr
	}
	return retryResp, nil
}

// refresh returns a usable access token, issuing at most one network
// refresh no matter how many callers arrive concurrently. The refreshing
// flag is set before any suspension point so a caller arriving mid-flight
// always observes it and queues instead of issuing a second call.
func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	c.lock.Lock()
	if c.refreshing {
		waiter := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, waiter)
		c.lock.Unlock()
		select {
		case r := <-waiter:
			return r.accessToken, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.refreshing = true
	c.lock.Unlock()

	token, err := c.performRefresh(ctx)

	c.lock.Lock()
	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil
	c.lock.Unlock()

	result := refreshResult{accessToken: token, err: err}
	for _, w := range waiters {
		w <- result
	}
	return token, err
}

func (c *Coordinator) performRefresh(ctx context.Context) (string, error) {
	sess := c.store.Get()
	if !sess.HasRefreshCapability() {
		_ = c.store.Clear()
		return "", SessionExpiredErr
	}

	token, err := c.refresher.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		// Terminal - whether the credential was rejected or the server was
		// unreachable, the session is over. Clear it once, here.
		_ = c.store.Clear()
		c.log.Warn().Err(err).Msg("refresh failed, session cleared")
		return "", errors.Wrap(err, "[Coordinator.performRefresh] refresher.Refresh")
	}

	// Whole-record replacement; a concurrent bot-login completion may also
	// write the session, and last write wins without mixing fields.
	if err := c.store.Set(session.Session{
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		User:          sess.User,
		Authenticated: true,
	}); err != nil {
		return "", errors.Wrap(err, "[Coordinator.performRefresh] store.Set")
	}
	return token.AccessToken, nil
}

// send clones req so retries get a fresh, replayable body.
func (c *Coordinator) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "[Coordinator.send] GetBody")
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.DoWithContext(ctx, out)
	if err != nil {
		return nil, errors.Wrap(err, "[Coordinator.send] request failed")
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
