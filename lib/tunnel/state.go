package tunnel

import (
	"fmt"

	"github.com/go-i2p/go-i2p-core/lib/failure"
)

// State is where a tunnel is in its life.
type State uint8

const (
	Building State = iota
	Active
	Expiring
	Closed
	BuildFailed
	numStates
)

var stateNames = [numStates]string{
	Building:    "building",
	Active:      "active",
	Expiring:    "expiring",
	Closed:      "closed",
	BuildFailed: "build-failed",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Usable reports whether messages may be sent through a tunnel in s.
func (s State) Usable() bool { return s == Active || s == Expiring }

// Terminal reports whether s has no way out.
func (s State) Terminal() bool { return s == Closed || s == BuildFailed }

// Event drives a state change.
type Event uint8

const (
	// EventAccepted means every hop accepted the build.
	EventAccepted Event = iota
	// EventRejected means at least one hop refused.
	EventRejected
	// EventTimeout means the build reply never arrived.
	EventTimeout
	// EventAbandoned means the build was given up before a reply.
	EventAbandoned
	// EventNearExpiry means the replacement window opened.
	EventNearExpiry
	// EventExpired means the lifetime ran out.
	EventExpired
	// EventClose is an explicit close.
	EventClose
	numEvents
)

var eventNames = [numEvents]string{
	EventAccepted:   "accepted",
	EventRejected:   "rejected",
	EventTimeout:    "timeout",
	EventAbandoned:  "abandoned",
	EventNearExpiry: "near-expiry",
	EventExpired:    "expired",
	EventClose:      "close",
}

func (e Event) String() string {
	if e < numEvents {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// invalid marks a cell of the table with no transition.
const invalid = numStates

// transitions is indexed by [from][event]. Every cell is filled.
var transitions = [numStates][numEvents]State{
	Building: {
		EventAccepted:   Active,
		EventRejected:   BuildFailed,
		EventTimeout:    BuildFailed,
		EventAbandoned:  BuildFailed,
		EventNearExpiry: invalid,
		EventExpired:    BuildFailed,
		EventClose:      BuildFailed,
	},
	Active: {
		EventAccepted:   invalid,
		EventRejected:   invalid,
		EventTimeout:    invalid,
		EventAbandoned:  invalid,
		EventNearExpiry: Expiring,
		EventExpired:    Closed,
		EventClose:      Closed,
	},
	Expiring: {
		EventAccepted:   invalid,
		EventRejected:   invalid,
		EventTimeout:    invalid,
		EventAbandoned:  invalid,
		EventNearExpiry: invalid,
		EventExpired:    Closed,
		EventClose:      Closed,
	},
	Closed: {
		invalid, invalid, invalid, invalid, invalid, invalid, invalid,
	},
	BuildFailed: {
		invalid, invalid, invalid, invalid, invalid, invalid, invalid,
	},
}

// Next returns the state after e, or ErrTransition.
func Next(s State, e Event) (State, error) {
	if s >= numStates || e >= numEvents {
		return s, errTransition(s, e)
	}
	next := transitions[s][e]
	if next == invalid {
		return s, errTransition(s, e)
	}
	return next, nil
}

func errTransition(s State, e Event) error {
	return failure.Wrapf(ErrTransition, "%s in state %s", e, s)
}
