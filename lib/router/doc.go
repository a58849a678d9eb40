// Package router ties one router's subsystems together.
//
// A Router owns:
//   - the local identity and a peer database to resolve and select peers
//   - a stream listener and a datagram endpoint, both Noise-authenticated
//   - the session table, one live session per peer
//   - the tunnel manager for tunnels it creates, and the participant for
//     hops it serves for others
//
// Messages read from any session are parsed as I2NP and dispatched to the
// tunnel subsystem. The tunnel subsystem sends through the router, which
// opens a session on demand.
//
// # Usage
//
//	r, err := router.New(cfg, id, db, nil)
//	if err != nil {
//	    return err
//	}
//	if err := r.Start(); err != nil {
//	    return err
//	}
//	defer r.Stop()
//
//	out, err := r.BuildTunnel(ctx, hops, tunnel.Outbound, tunnel.Client)
//	...
//	err = r.SendThroughTunnel(ctx, out.ID, layer.ToRouter(dest), payload)
package router
