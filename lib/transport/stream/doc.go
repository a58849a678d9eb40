// Package stream is the reliable byte-stream transport.
//
// A session starts with the three message Noise handshake over the raw
// channel. Every frame after it is
//
//	[2 byte SipHash obfuscated length][ChaCha20-Poly1305(blocks)]
//
// with a counter nonce per direction that never repeats. A frame that
// fails authentication closes the session without a termination block.
// Each direction ratchets its key after a configured number of frames.
//
// An inbound handshake that fails is not closed immediately: the session
// waits a random delay and reads a random number of junk bytes first, so a
// prober cannot tell a listener apart from any other service by timing.
package stream
