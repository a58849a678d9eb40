// Package transport holds the router's session table.
//
// Sessions come from the two transports in the subpackages:
//   - stream: a framed, ordered session over a reliable byte stream (TCP)
//   - datagram: an unordered, best effort session over UDP with header
//     protection, path validation and MTU discovery
//
// Both sit on the Noise XK engine in package noise.
//
// The Registry keeps at most one live session per peer. Registering a new
// session for a peer supersedes the old one, which is closed. Sessions
// leave the table on their own when they end, and observers registered
// with OnClosed learn about it.
//
//	reg := transport.NewRegistry(cfg.Router.MaxConcurrentSessions)
//	defer reg.Close()
//	if err := reg.Register(transport.Stream, sess); err != nil {
//		return err // CapacityRejected
//	}
package transport
