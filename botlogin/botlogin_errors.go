package botlogin

import "errors"

var (
	// LoginExpiredErr marks the distinct terminal state reached when the
	// bounded wait elapses without a confirmation. It is not a transport
	// error; the user should restart the flow.
	LoginExpiredErr = errors.New("bot login expired, no confirmation received in time")

	ChannelClosedErr = errors.New("login channel closed")
	MachineClosedErr = errors.New("login machine closed")
)
