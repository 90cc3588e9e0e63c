package transport

import "errors"

var (
	// SessionExpiredErr is returned when a request is rejected as
	// unauthorized and the session holds no refresh capability. The session
	// is cleared before this is returned.
	SessionExpiredErr = errors.New("session expired")

	// RefreshRejectedErr is returned when the refresh endpoint rejects the
	// refresh credential itself. This is fatal to the session.
	RefreshRejectedErr = errors.New("refresh token rejected")

	// UnauthorizedAfterRefreshErr is returned when a request is rejected as
	// unauthorized immediately after a successful refresh. The request is
	// not retried again.
	UnauthorizedAfterRefreshErr = errors.New("request unauthorized after refresh")

	InvalidCredentialsErr = errors.New("invalid credentials")
)
