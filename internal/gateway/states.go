// ABOUTME: Gateway session state machine as pure, testable transition rules
// ABOUTME: Independent of any I/O or scheduling primitive

package gateway

import "fmt"

// State is a gateway session's lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthorized
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorized:
		return "authorized"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// validNext lists the legal transitions. Any state may move to Closing
// (a session can fail at any point in setup); Closed is terminal.
var validNext = map[State][]State{
	StateConnecting:     {StateAuthenticating, StateClosing},
	StateAuthenticating: {StateAuthorized, StateClosing},
	StateAuthorized:     {StateStreaming, StateClosing},
	StateStreaming:      {StateClosing},
	StateClosing:        {StateClosed},
	StateClosed:         {},
}

// canTransition reports whether from -> to is a legal state change.
func canTransition(from, to State) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}
