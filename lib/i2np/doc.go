// Package i2np implements the message envelope carried inside transport
// session payloads.
//
// Short header (9 bytes):
//
//	+----+----+----+----+----+----+----+----+----+
//	|type|      msg_id       | short_expiration  |
//	+----+----+----+----+----+----+----+----+----+
//
// The payload follows and runs to the end of the transport message. Only
// the message types the transport and tunnel core exchange are defined:
//
//   - TunnelData (18): one 1028 byte tunnel message between hops
//   - TunnelGateway (19): a payload handed to an inbound gateway
//   - Data (20): an opaque payload for the receiving router
//   - TunnelBuild (21): a 4224 byte build envelope on its way out
//   - TunnelBuildReply (22): the same envelope on its way back
package i2np
