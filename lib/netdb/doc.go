// Package netdb is the peer database seen by the transport and tunnel core.
//
// The core only needs two questions answered: "who is this hash" and "give
// me some peers matching a filter". PeerDB is that narrow interface.
// MemoryPeerDB is an in-memory implementation guarded by a sync.RWMutex,
// which is enough for tests and loopback routers.
//
// PeerTracker keeps per-peer connection statistics so hop selection can
// avoid routers that keep failing handshakes.
package netdb
