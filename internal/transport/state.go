package transport

import "fmt"

// State is the connection state of a Transport.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateRetryWait
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetryWait:
		return "retry-wait"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// transitions lists the legal successors of each state. Stopped is
// terminal.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateStopped},
	StateConnecting: {StateOpen, StateRetryWait, StateStopped},
	StateOpen:       {StateRetryWait, StateStopped},
	StateRetryWait:  {StateConnecting, StateStopped},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
