// Package block is the payload format shared by both transports.
//
// After a handshake completes every authenticated payload is a sequence of
// blocks, each with a 3 byte header:
//
//	[type:1][size:2][data:size]
//
// The stream transport carries DateTime, Options, Message, Termination and
// Padding. The datagram transport adds Fragment, Ack, Confirm, PeerTest,
// PathChallenge and Probe blocks.
package block
