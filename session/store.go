package session

// Store defines the read/write contract for the process-wide session
// record. Implementations must treat Set as a whole-record replacement so
// interleaved writers can never corrupt the session shape.
type Store interface {
	// Get returns a snapshot of the current session
	Get() Session

	// Set replaces the session as a whole
	Set(s Session) error

	// Clear resets the session to logged-out
	Clear() error
}
