package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	readLimit         = 32 << 10
	closeWriteTimeout = time.Second
)

// WebsocketDialerOption defines a function type to modify the dialer.
type WebsocketDialerOption func(*websocketDialer)

// WithDialerLogger sets the logger handed to dialed channels.
func WithDialerLogger(l zerolog.Logger) WebsocketDialerOption {
	return func(d *websocketDialer) {
		d.log = l
	}
}

type websocketDialer struct {
	endpoint string
	dialer   *websocket.Dialer
	log      zerolog.Logger
}

// NewWebsocketDialer returns a Dialer connecting to the bot-login
// websocket endpoint (e.g. "wss://api.example.com/api/v1/auth/bot/ws").
// The login token is carried as a query parameter.
func NewWebsocketDialer(endpoint string, options ...WebsocketDialerOption) (Dialer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "[NewWebsocketDialer] invalid endpoint")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("[NewWebsocketDialer] endpoint scheme must be ws or wss, got: %s", u.Scheme)
	}

	d := &websocketDialer{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		log:      log.Logger,
	}
	for _, opt := range options {
		opt(d)
	}
	return d.dial, nil
}

func (d *websocketDialer) dial(ctx context.Context, token string) (Channel, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "[websocketDialer.dial] parse endpoint")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "[websocketDialer.dial] handshake failed with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "[websocketDialer.dial] connect failed")
	}
	conn.SetReadLimit(readLimit)

	ch := &wsChannel{
		conn:     conn,
		messages: make(chan Message, 4),
		done:     make(chan error, 1),
		closed:   make(chan struct{}),
		log:      d.log,
	}
	go ch.readLoop()
	return ch, nil
}

var _ Channel = (*wsChannel)(nil)

type wsChannel struct {
	conn      *websocket.Conn
	messages  chan Message
	done      chan error
	closed    chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func (c *wsChannel) Messages() <-chan Message {
	return c.messages
}

func (c *wsChannel) Done() <-chan error {
	return c.done
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		// Best-effort close handshake; hard-close the socket regardless.
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		_ = c.conn.Close()
	})
	return nil
}

func (c *wsChannel) readLoop() {
	defer close(c.messages)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// Closed by us - not a transport failure.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.done <- errors.New("login channel closed by server")
				} else {
					c.done <- errors.Wrap(err, "login channel read failed")
				}
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// A single corrupt frame must not abandon an otherwise healthy
			// wait; drop it and keep reading.
			c.log.Warn().Err(err).Msg("dropping malformed login channel frame")
			continue
		}

		select {
		case c.messages <- msg:
		case <-c.closed:
			return
		}
	}
}
