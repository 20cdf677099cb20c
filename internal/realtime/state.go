package realtime

import "errors"

// State is the push connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Online reports whether live updates are flowing.
func (s State) Online() bool {
	return s == StateConnected
}

// StateChange is emitted on every transition. Err is set when the
// transition was caused by a failure.
type StateChange struct {
	From State
	To   State
	Err  error
}

var (
	ErrAuthRejected        = errors.New("push channel rejected credential")
	ErrReconnectExhausted  = errors.New("push channel reconnect attempts exhausted")
	ErrSessionClosed       = errors.New("session closed")
	ErrUnknownNotification = errors.New("notification not in ledger")
)
