package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	allRoles  = []Role{Initiator, Responder}
	allStates = []State{Uninitiated, SentEphemeral, ReceivedEphemeral, SentConfirmation, ReceivedConfirmation, Confirmed, Failed}
	allEvents = []Event{SendMessage1, RecvMessage1, SendMessage2, RecvMessage2, SendMessage3, RecvMessage3, SendMessage4, RecvMessage4, Complete, Abort}
)

func TestTransitionIsTotal(t *testing.T) {
	for _, role := range allRoles {
		for _, four := range []bool{false, true} {
			for _, s := range allStates {
				for _, e := range allEvents {
					next := transition(role, four, s, e)
					assert.Contains(t, allStates, next)
					if s.Terminal() {
						assert.Equal(t, Failed, next, "%s %s from terminal %s", role, e, s)
					}
					if e == Abort {
						assert.Equal(t, Failed, next)
					}
				}
			}
		}
	}
}

func TestThreeMessagePaths(t *testing.T) {
	s := Uninitiated
	for _, e := range []Event{SendMessage1, RecvMessage2, SendMessage3, Complete} {
		s = transition(Initiator, false, s, e)
	}
	assert.Equal(t, Confirmed, s)

	s = Uninitiated
	for _, e := range []Event{RecvMessage1, SendMessage2, RecvMessage3, Complete} {
		s = transition(Responder, false, s, e)
	}
	assert.Equal(t, Confirmed, s)
}

func TestFourMessagePaths(t *testing.T) {
	s := Uninitiated
	for _, e := range []Event{SendMessage1, RecvMessage2, SendMessage3, RecvMessage4, Complete} {
		s = transition(Initiator, true, s, e)
	}
	assert.Equal(t, Confirmed, s)

	s = Uninitiated
	for _, e := range []Event{RecvMessage1, SendMessage2, RecvMessage3, SendMessage4, Complete} {
		s = transition(Responder, true, s, e)
	}
	assert.Equal(t, Confirmed, s)

	assert.Equal(t, Failed, transition(Initiator, true, SentConfirmation, Complete))
	assert.Equal(t, Failed, transition(Responder, false, ReceivedConfirmation, SendMessage4))
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "SentEphemeral", SentEphemeral.String())
	assert.Equal(t, "state(99)", State(99).String())
	assert.Equal(t, "responder", Responder.String())
	assert.Equal(t, "RecvMessage3", RecvMessage3.String())
}
