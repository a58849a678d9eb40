// Package noise implements the Noise XK handshake shared by the stream and
// datagram transports.
//
// A Handshake is a closed state machine. Each call consumes or produces one
// handshake message and moves the machine along a fixed path. Any call that
// does not fit the current state, and any malformed, unauthentic, stale or
// replayed message, moves it to Failed. Failed is terminal and every
// ephemeral secret is wiped on entry.
//
// Initiator:
//
//	Uninitiated -> SentEphemeral -> ReceivedEphemeral -> SentConfirmation
//	  [-> ReceivedConfirmation] -> Confirmed
//
// Responder:
//
//	Uninitiated -> ReceivedEphemeral -> SentEphemeral -> ReceivedConfirmation
//	  [-> SentConfirmation] -> Confirmed
//
// The bracketed step exists only for four-message profiles, where the
// responder confirms the final handshake hash in its first data packet.
//
// Ephemeral public keys travel as Elligator2 representatives so that the
// first bytes of a connection are indistinguishable from random.
package noise
