package noise

import "fmt"

// Role is the side of the handshake.
type Role uint8

const (
	Initiator Role = iota + 1
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// State is the handshake progress.
type State uint8

const (
	Uninitiated State = iota
	SentEphemeral
	ReceivedEphemeral
	SentConfirmation
	ReceivedConfirmation
	Confirmed
	Failed
)

var stateNames = [...]string{
	Uninitiated:          "Uninitiated",
	SentEphemeral:        "SentEphemeral",
	ReceivedEphemeral:    "ReceivedEphemeral",
	SentConfirmation:     "SentConfirmation",
	ReceivedConfirmation: "ReceivedConfirmation",
	Confirmed:            "Confirmed",
	Failed:               "Failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed
}

// Event drives the state machine.
type Event uint8

const (
	SendMessage1 Event = iota + 1
	RecvMessage1
	SendMessage2
	RecvMessage2
	SendMessage3
	RecvMessage3
	SendMessage4
	RecvMessage4
	Complete
	Abort
)

var eventNames = map[Event]string{
	SendMessage1: "SendMessage1",
	RecvMessage1: "RecvMessage1",
	SendMessage2: "SendMessage2",
	RecvMessage2: "RecvMessage2",
	SendMessage3: "SendMessage3",
	RecvMessage3: "RecvMessage3",
	SendMessage4: "SendMessage4",
	RecvMessage4: "RecvMessage4",
	Complete:     "Complete",
	Abort:        "Abort",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

type edge struct {
	role        Role
	fourMessage bool
	from        State
	event       Event
}

// transitions lists every legal edge. Anything absent leads to Failed.
var transitions = map[edge]State{}

func init() {
	for _, four := range []bool{false, true} {
		transitions[edge{Initiator, four, Uninitiated, SendMessage1}] = SentEphemeral
		transitions[edge{Initiator, four, SentEphemeral, RecvMessage2}] = ReceivedEphemeral
		transitions[edge{Initiator, four, ReceivedEphemeral, SendMessage3}] = SentConfirmation

		transitions[edge{Responder, four, Uninitiated, RecvMessage1}] = ReceivedEphemeral
		transitions[edge{Responder, four, ReceivedEphemeral, SendMessage2}] = SentEphemeral
		transitions[edge{Responder, four, SentEphemeral, RecvMessage3}] = ReceivedConfirmation
	}
	transitions[edge{Initiator, false, SentConfirmation, Complete}] = Confirmed
	transitions[edge{Responder, false, ReceivedConfirmation, Complete}] = Confirmed

	transitions[edge{Initiator, true, SentConfirmation, RecvMessage4}] = ReceivedConfirmation
	transitions[edge{Initiator, true, ReceivedConfirmation, Complete}] = Confirmed
	transitions[edge{Responder, true, ReceivedConfirmation, SendMessage4}] = SentConfirmation
	transitions[edge{Responder, true, SentConfirmation, Complete}] = Confirmed
}

// transition is total: every (role, profile, state, event) has a result,
// and every combination not listed above is Failed.
func transition(role Role, fourMessage bool, from State, event Event) State {
	if next, ok := transitions[edge{role, fourMessage, from, event}]; ok {
		return next
	}
	return Failed
}
