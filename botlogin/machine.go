package botlogin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/attendly/go-auth-client/realtime"
	"github.com/attendly/go-auth-client/session"
)

// State is the externally observable phase of the bot-login flow.
type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateSuccess State = "success"
	StateError   State = "error"
)

const defaultWaitTimeout = 5 * time.Minute

// Status is one observable snapshot of the flow.
type Status struct {
	State State
	Token *LoginToken // set while waiting, so the UI can render the deeplink
	Err   error       // set when State is StateError
}

// FallbackFunc is invoked when the flow fails in a way that should move
// the user to the alternate, non-realtime login method. The machine holds
// no opinion on what that method is.
type FallbackFunc func(err error)

// Machine drives the passwordless bot login: it issues a one-time token,
// opens a realtime channel keyed by it, and waits - bounded by a timer -
// for the out-of-band confirmation. Only the confirmed transition touches
// the session, and it writes it as a whole record.
//
// Every asynchronous callback (timer fire, channel frame, transport error)
// consults the machine's current state and a per-attempt generation
// counter under the lock, never a state captured at arm time, so late
// callbacks from a superseded attempt are no-ops.
type Machine struct {
	issuer   Issuer
	dial     realtime.Dialer
	store    session.Store
	fallback FallbackFunc
	wait     time.Duration
	log      zerolog.Logger

	lock    sync.Mutex
	state   State
	err     error
	token   *LoginToken
	channel realtime.Channel
	timer   *time.Timer
	gen     int
	closed  bool
	subs    []chan Status
}

// MachineOption defines a function type to modify a Machine.
type MachineOption func(*Machine)

// WithWaitTimeout overrides the 5 minute confirmation bound.
func WithWaitTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		m.wait = d
	}
}

// WithFallback sets the callback invoked on non-expiry failures.
func WithFallback(f FallbackFunc) MachineOption {
	return func(m *Machine) {
		m.fallback = f
	}
}

// WithLogger sets the machine's logger.
func WithLogger(l zerolog.Logger) MachineOption {
	return func(m *Machine) {
		m.log = l
	}
}

// NewMachine initializes a Machine with required dependencies.
func NewMachine(
	issuer Issuer,
	dialer realtime.Dialer,
	store session.Store,
	options ...MachineOption,
) (*Machine, error) {
	if issuer == nil {
		return nil, errors.New("[NewMachine] issuer is required")
	}
	if dialer == nil {
		return nil, errors.New("[NewMachine] dialer is required")
	}
	if store == nil {
		return nil, errors.New("[NewMachine] store is required")
	}

	m := &Machine{
		issuer: issuer,
		dial:   dialer,
		store:  store,
		wait:   defaultWaitTimeout,
		state:  StateIdle,
		log:    log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	m.log = m.log.With().Str("flow_id", uuid.NewString()).Logger()
	return m, nil
}

// Start runs the start transition: issue a fresh token, open the channel,
// arm the countdown, and enter waiting. Starting while already waiting is
// a no-op so a double-click can never open two channels. On failure the
// machine lands in error and the fallback is invoked.
func (m *Machine) Start(ctx context.Context) error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return MachineClosedErr
	}
	if m.state == StateWaiting {
		m.lock.Unlock()
		return nil
	}
	// Enter waiting before any suspension point: a second Start observes it
	// immediately, and no channel message can ever be handled from idle.
	m.gen++
	gen := m.gen
	m.token = nil
	m.setStateLocked(StateWaiting, nil)
	m.lock.Unlock()

	token, err := m.issuer.Issue(ctx)
	if err != nil {
		err = errors.Wrap(err, "[Machine.Start] issuer.Issue")
		m.failIfWaiting(gen, err)
		return err
	}

	channel, err := m.dial(ctx, token.Token)
	if err != nil {
		err = errors.Wrap(err, "[Machine.Start] open channel")
		m.failIfWaiting(gen, err)
		return err
	}

	m.lock.Lock()
	if m.gen != gen || m.state != StateWaiting {
		// Cancelled or superseded while dialing; the late channel must not
		// leak.
		m.lock.Unlock()
		_ = channel.Close()
		return nil
	}
	m.token = token
	m.channel = channel
	m.timer = time.AfterFunc(m.wait, func() { m.expire(gen) })
	m.notifyLocked() // waiting status now carries the deeplink
	m.lock.Unlock()

	m.log.Info().Time("token_expires_at", token.ExpiresAt).Msg("bot login waiting for confirmation")
	go m.readLoop(gen, channel)
	return nil
}

// Retry re-runs the start transition after an error. A retry always
// issues a fresh token; spent tokens are never reused.
func (m *Machine) Retry(ctx context.Context) error {
	return m.Start(ctx)
}

// Cancel abandons the flow and returns to idle. The channel is closed and
// the timer stopped; frames already in flight are discarded.
func (m *Machine) Cancel() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return
	}
	m.teardownLocked()
	m.gen++
	m.token = nil
	m.setStateLocked(StateIdle, nil)
}

// Close releases the machine's resources unconditionally, whatever state
// it is in. Meant for component teardown; it is not a user-visible
// transition and the machine cannot be started again afterwards.
func (m *Machine) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.teardownLocked()
	m.gen++
	for _, sub := range m.subs {
		close(sub)
	}
	m.subs = nil
	return nil
}

// Status returns a snapshot of the flow.
func (m *Machine) Status() Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.statusLocked()
}

// Updates returns a channel receiving a Status snapshot on every
// transition. Slow consumers miss intermediate snapshots rather than
// blocking the machine. The channel is closed by Close.
func (m *Machine) Updates() <-chan Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	sub := make(chan Status, 16)
	m.subs = append(m.subs, sub)
	return sub
}

func (m *Machine) readLoop(gen int, channel realtime.Channel) {
	for {
		select {
		case msg, ok := <-channel.Messages():
			if !ok {
				return
			}
			m.handleMessage(gen, msg)
		case err := <-channel.Done():
			if err == nil {
				err = ChannelClosedErr
			}
			m.failIfWaiting(gen, errors.Wrap(err, "[Machine.readLoop] transport failure"))
			return
		}
	}
}

func (m *Machine) handleMessage(gen int, msg realtime.Message) {
	switch msg.Type {
	case realtime.MessageConfirmed:
		m.confirm(gen, msg)
	case realtime.MessageError:
		m.failIfWaiting(gen, errors.Errorf("login rejected: %s", msg.Error))
	default:
		m.log.Warn().Str("type", string(msg.Type)).Msg("ignoring login channel frame of unknown type")
	}
}

// confirm is the success transition and the only place the machine writes
// the session.
func (m *Machine) confirm(gen int, msg realtime.Message) {
	m.lock.Lock()
	if m.gen != gen || m.state != StateWaiting {
		m.lock.Unlock()
		return
	}
	m.teardownLocked()
	m.gen++

	if err := m.store.Set(session.Session{
		AccessToken:   msg.AccessToken,
		RefreshToken:  msg.RefreshToken,
		User:          msg.User,
		Authenticated: true,
	}); err != nil {
		m.setStateLocked(StateError, errors.Wrap(err, "[Machine.confirm] store.Set"))
		m.lock.Unlock()
		return
	}
	m.setStateLocked(StateSuccess, nil)
	m.lock.Unlock()

	m.log.Info().Msg("bot login confirmed")
}

// expire fires when the countdown elapses. It checks the machine's
// current state, not the one that existed when the timer was armed, so a
// fire that races a clearance is a no-op. Expiry does not invoke the
// fallback; the user should restart the flow instead.
func (m *Machine) expire(gen int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.gen != gen || m.state != StateWaiting {
		return
	}
	m.teardownLocked()
	m.gen++
	m.setStateLocked(StateError, LoginExpiredErr)
	m.log.Info().Msg("bot login expired before confirmation")
}

// failIfWaiting runs the error transition for attempt gen, if that attempt
// is still the live one and still waiting.
func (m *Machine) failIfWaiting(gen int, err error) {
	m.lock.Lock()
	if m.gen != gen || m.state != StateWaiting {
		m.lock.Unlock()
		return
	}
	m.teardownLocked()
	m.gen++
	m.setStateLocked(StateError, err)
	fallback := m.fallback
	m.lock.Unlock()

	m.log.Warn().Err(err).Msg("bot login failed")
	if fallback != nil {
		fallback(err)
	}
}

func (m *Machine) teardownLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.channel != nil {
		_ = m.channel.Close()
		m.channel = nil
	}
}

func (m *Machine) setStateLocked(s State, err error) {
	m.state = s
	m.err = err
	m.notifyLocked()
}

func (m *Machine) statusLocked() Status {
	return Status{State: m.state, Token: m.token, Err: m.err}
}

func (m *Machine) notifyLocked() {
	if m.closed {
		return
	}
	status := m.statusLocked()
	for _, sub := range m.subs {
		select {
		case sub <- status:
		default:
		}
	}
}
