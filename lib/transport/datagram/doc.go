// Package datagram is the unreliable packet transport.
//
// One Endpoint owns a packet channel (usually a UDP socket) and runs a
// single receive goroutine. It demultiplexes packets by destination
// connection ID into per-session inboxes. Every Session runs in its own
// goroutine, which is the only code that touches the session's keys and
// counters.
//
// Packets carry a long header during the four message handshake and a
// short header afterwards:
//
//	long:  dest ID(8) number(4) type(1) version(1) network(1) flags(1) source ID(8)
//	short: dest ID(8) number(4) type(1) flags(3)
//
// The first eight bytes are masked with a ChaCha20 keystream under the
// responder's intro key, the rest of the header under a second key: the
// intro key during the handshake and a derived header key afterwards. The
// keystream nonce is the last twelve bytes of the packet.
//
// Data packets are sealed with the direction key, using the packet number
// as nonce and the clear header as associated data. Application messages
// are sealed once more with a message key, then fragmented to fit the path
// MTU. Lost fragments are never retransmitted.
package datagram
