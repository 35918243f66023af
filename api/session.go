package api

import "fmt"

// State is the lifecycle state of a [Client].
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggedOut
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggedOut:
		return "logged out"
	case StateLoggedIn:
		return "logged in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Credentials of a hub user.
type Credentials struct {
	Username string
	Password string
}

// Session holds what the hub assigned to this client. It is owned by a single
// [Client] and guarded by its mutex.
type Session struct {
	// AgentID is assigned by the hub in response to the announce request.
	AgentID int
	// Token is assigned by the hub on login and attached to every request
	// that requires a session.
	Token string

	sequence int
}

// next returns the next sequence id. Ids are never reused within a session.
func (s *Session) next() int {
	s.sequence++
	return s.sequence
}
