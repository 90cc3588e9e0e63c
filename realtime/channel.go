package realtime

import (
	"context"

	"github.com/attendly/go-auth-client/session"
)

// MessageType tags a login channel frame.
type MessageType string

const (
	// MessageConfirmed carries the credentials issued after the user
	// confirmed the login in the messaging app.
	MessageConfirmed MessageType = "confirmed"

	// MessageError reports that the server aborted the login attempt.
	MessageError MessageType = "error"
)

// Message is one server-pushed frame on the login channel. Exactly one of
// the two variants is populated, selected by Type.
type Message struct {
	Type MessageType `json:"type"`

	// Set when Type is "confirmed"
	AccessToken  string        `json:"accessToken,omitempty"`
	RefreshToken string        `json:"refreshToken,omitempty"`
	User         *session.User `json:"user,omitempty"`

	// Set when Type is "error"
	Error string `json:"error,omitempty"`
}

// Channel is a live, server-push login channel bound to one one-time login
// token. It is the only abstraction above the raw connection: consumers
// see decoded frames and a terminal transport error, nothing else.
type Channel interface {
	// Messages streams decoded frames. The channel is closed when the
	// connection ends, whether cleanly or not.
	Messages() <-chan Message

	// Done yields at most one terminal transport error. A channel closed by
	// its own Close never reports one.
	Done() <-chan error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens a Channel keyed by a one-time login token.
type Dialer func(ctx context.Context, token string) (Channel, error)
