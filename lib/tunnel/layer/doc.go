// Package layer applies tunnel layer encryption to 1028 byte tunnel
// messages and wraps the end-to-end payload they carry.
//
// Every hop adds or removes one unauthenticated AES-256 layer. A relay
// therefore never fails on tampered content; integrity is checked only by
// the end-to-end wrapper, at the creator and at the tunnel's far logical
// endpoint (outbound endpoint or inbound gateway).
//
// Outbound, the creator runs PrepareOutbound and each hop TransformAtHop in
// hop order, so the endpoint sees the plaintext. Inbound, the gateway sends
// the plaintext, each hop runs TransformAtHop, and the creator removes all
// layers with DecryptInbound.
package layer
