package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleType represents a user's role within the dashboard
type RoleType string

const (
	RoleAdmin     RoleType = "admin"     // Can moderate events and organization requests
	RoleOrganizer RoleType = "organizer" // Can create and manage events
	RoleAttendee  RoleType = "attendee"  // Regular user, can register for events
)

// User is the authenticated-user record carried in a session.
type User struct {
	ID         string   `json:"id,omitempty"`          // Unique identifier for the user
	Email      string   `json:"email,omitempty"`       // User's email address
	Username   string   `json:"username,omitempty"`    // Unique username
	FirstName  string   `json:"first_name,omitempty"`  // First name of the user
	LastName   string   `json:"last_name,omitempty"`   // Last name of the user
	Role       RoleType `json:"role,omitempty"`        // Dashboard role
	TelegramID int64    `json:"telegram_id,omitempty"` // Set once the user has linked the bot
}

// Session is the single authoritative authentication record for a client
// process. It is always read and written as a whole value, never field by
// field, so concurrent writers cannot leave it half-updated.
type Session struct {
	// AccessToken is the short-lived bearer credential attached to API
	// requests. Empty when logged out.
	AccessToken string `json:"access_token,omitempty"`

	// RefreshToken is the opaque long-lived credential used to obtain a new
	// access token without interactive re-authentication. Empty means the
	// session has no refresh capability and a rejected access token forces
	// a logout.
	RefreshToken string `json:"refresh_token,omitempty"`

	// User is the authenticated-user record, nil when logged out.
	User *User `json:"user,omitempty"`

	// Authenticated mirrors "is there a live login" for cheap checks.
	Authenticated bool `json:"authenticated,omitempty"`
}

// HasRefreshCapability reports whether the session holds a credential that
// can be exchanged for a fresh access token.
func (s Session) HasRefreshCapability() bool {
	return s.RefreshToken != ""
}

// AccessTokenExpiry returns the expiry claim of the access token when the
// token is a parseable JWT. Opaque tokens return ok=false; callers must
// treat those as "expiry unknown" and rely on 401 responses instead.
// The token is decoded without signature verification - the client has no
// key material and only needs the timestamp hint.
func (s Session) AccessTokenExpiry() (time.Time, bool) {
	if s.AccessToken == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
