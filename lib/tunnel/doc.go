// Package tunnel builds, ages and relays through multi-hop tunnels.
//
// # Tunnels we create
//
// Manager runs a build: it picks random receive IDs and keys for every
// hop, seals one record per hop into a build envelope (package build) and
// waits for the reply. Only a tunnel every hop accepted becomes Active.
// Any rejection, a timeout, or the first hop's session closing ends the
// attempt in BuildFailed and nothing is registered.
//
//	Building ──accepted──▶ Active ──near-expiry──▶ Expiring ──expired──▶ Closed
//	    └──rejected/timeout/abandoned──▶ BuildFailed
//
// The transition table is total; an event a state does not take is a
// ProtocolViolation. Closed and BuildFailed wipe the layer keys.
//
// Pool keeps MinTunnels Active tunnels per direction and role, building a
// replacement as soon as one starts Expiring. A hop that rejects is left
// out of the next attempt, up to BuildRetries attempts.
//
// Selector draws hops from the peer database through stackable PeerFilters
// and never puts two hops in the same /16 (IPv4) or /32 (IPv6).
//
// # Tunnels we relay for
//
// Participant answers build requests addressed to this router after
// checking its participating limit, a per-source rate limit and the
// requested lifetime. The envelope always moves on, carrying a uniform
// accept or reject. Accepted tunnels keep their hop state until their
// lifetime ends.
//
// # Message flow
//
// Outbound, the creator pre-decrypts with every hop key in reverse and
// each hop applies its one layer; the endpoint then holds the end to end
// wrapped payload and its delivery instructions. Inbound, the gateway
// wraps and layers, every hop adds a layer and the creator strips them all
// last hop first. Tunnel messages are always 1028 bytes.
package tunnel
