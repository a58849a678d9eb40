package router

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/go-i2p-core/lib/transport"
	"github.com/go-i2p/go-i2p-core/lib/transport/datagram"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/go-i2p/go-i2p-core/lib/transport/stream"
	"github.com/go-i2p/go-i2p-core/lib/tunnel"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"
)

// TunnelMessageHandler receives payloads that arrive through our inbound
// tunnels, and through tunnels ending here with local delivery. id is zero
// for messages delivered to this router directly.
type TunnelMessageHandler func(id tunnel.ID, payload []byte)

// Router owns one identity, both transports, the session table and the
// tunnel subsystem.
type Router struct {
	cfg     config.ConfigDefaults
	local   *identity.Identity
	db      netdb.PeerDB
	tracker *netdb.PeerTracker
	clock   clock.Clock

	streamCfg   stream.Config
	datagramCfg datagram.Config
	replay      *noise.ReplayCache

	sessions    *transport.Registry
	tunnels     *tunnel.Manager
	participant *tunnel.Participant
	selector    *tunnel.Selector
	bandwidth   *BandwidthTracker

	dials singleflight.Group

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	handlerMu sync.RWMutex
	handler   TunnelMessageHandler

	// runMux guards running and the listeners
	runMux   sync.Mutex
	running  bool
	stopped  bool
	listener net.Listener
	udp      *datagram.UDPChannel
	endpoint *datagram.Endpoint

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeChnl chan struct{}
}

// New creates a router for local. db is where peers are resolved and
// selected from. A nil clk uses the system clock.
func New(cfg config.ConfigDefaults, local *identity.Identity, db netdb.PeerDB, clk clock.Clock) (*Router, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if local == nil {
		return nil, oops.In("router").Errorf("no identity")
	}
	if clk == nil {
		clk = clock.System{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:       cfg,
		local:     local,
		db:        db,
		tracker:   netdb.NewPeerTracker(),
		clock:     clk,
		replay:    noise.NewReplayCache(cfg.Handshake.ClockSkewTolerance),
		sessions:  transport.NewRegistry(cfg.Router.MaxConcurrentSessions),
		bandwidth: NewBandwidthTracker(),
		ctx:       ctx,
		cancel:    cancel,
		closeChnl: make(chan struct{}),
	}

	r.streamCfg = stream.ConfigFrom(cfg)
	r.streamCfg.Clock = clk
	r.streamCfg.Replay = r.replay
	r.datagramCfg = datagram.ConfigFrom(cfg)
	r.datagramCfg.Clock = clk
	r.datagramCfg.Replay = r.replay

	r.tunnels = tunnel.NewManager(cfg.Tunnel, local, r, clk)
	r.participant = tunnel.NewParticipant(cfg.Tunnel, local, r, clk)
	r.tunnels.OnMessage(r.deliverLocal)
	r.participant.OnLocal(r.deliverLocal)
	r.selector = tunnel.NewSelector(db, local.Hash(),
		tunnel.Consistent(),
		tunnel.FromNetDB("not-stale", r.tracker.NotStale()),
	)
	r.sessions.OnClosed(r.sessionClosed)

	log.WithFields(logger.Fields{
		"at":   "New",
		"hash": identity.Short(local.Hash()),
	}).Debug("router created")
	return r, nil
}

// Hash returns the identity hash of this router.
func (r *Router) Hash() common.Hash { return r.local.Hash() }

// Start binds the stream listener and the datagram endpoint and starts the
// accept loops and tunnel maintenance.
func (r *Router) Start() error {
	r.runMux.Lock()
	defer r.runMux.Unlock()
	if r.running || r.stopped {
		log.WithFields(logger.Fields{
			"at":     "(Router) Start",
			"reason": "router is already running or stopped",
		}).Error("Error Starting router")
		return ErrNotRunning
	}

	ln, err := net.Listen("tcp", r.cfg.Stream.ListenAddress)
	if err != nil {
		return oops.In("router").Code("listen").With("address", r.cfg.Stream.ListenAddress).Wrapf(err, "stream listener")
	}
	ch, err := datagram.ListenUDP(r.cfg.Datagram.ListenAddress)
	if err != nil {
		ln.Close()
		return oops.In("router").Code("listen").With("address", r.cfg.Datagram.ListenAddress).Wrapf(err, "datagram socket")
	}
	r.listener = ln
	r.udp = ch
	r.endpoint = datagram.NewEndpoint(r.datagramCfg, r.local, ch)
	r.running = true

	r.wg.Add(2)
	go r.acceptStreams(ln)
	go r.acceptDatagrams(r.endpoint)
	r.tunnels.Start()
	r.participant.Start()
	r.bandwidth.Start(r.traffic)

	log.WithFields(logger.Fields{
		"at":       "(Router) Start",
		"hash":     identity.Short(r.Hash()),
		"stream":   ln.Addr().String(),
		"datagram": ch.LocalAddr().String(),
	}).Info("router started")
	return nil
}

// Stop closes every tunnel and session and releases the listeners. It is
// safe to call more than once.
func (r *Router) Stop() {
	r.runMux.Lock()
	if r.stopped {
		r.runMux.Unlock()
		return
	}
	wasRunning := r.running
	r.running = false
	r.stopped = true
	r.runMux.Unlock()

	log.WithFields(logger.Fields{
		"at":   "(Router) Stop",
		"hash": identity.Short(r.Hash()),
	}).Debug("stopping router")

	r.cancel()
	r.tunnels.Stop()
	r.participant.Stop()
	if wasRunning {
		r.listener.Close()
		r.bandwidth.Stop()
	}
	r.sessions.Close()
	if wasRunning {
		r.endpoint.Close()
	}
	r.wg.Wait()
	r.replay.Close()
	close(r.closeChnl)
}

// Close implements io.Closer.
func (r *Router) Close() error {
	r.Stop()
	return nil
}

// Wait blocks until Stop has finished.
func (r *Router) Wait() {
	<-r.closeChnl
}

func (r *Router) isRunning() bool {
	r.runMux.Lock()
	defer r.runMux.Unlock()
	return r.running
}

// StreamAddr returns the bound stream address.
func (r *Router) StreamAddr() netip.AddrPort {
	r.runMux.Lock()
	defer r.runMux.Unlock()
	if r.listener == nil {
		return netip.AddrPort{}
	}
	return r.listener.Addr().(*net.TCPAddr).AddrPort()
}

// DatagramAddr returns the bound datagram address.
func (r *Router) DatagramAddr() netip.AddrPort {
	r.runMux.Lock()
	defer r.runMux.Unlock()
	if r.udp == nil {
		return netip.AddrPort{}
	}
	return r.udp.LocalAddr()
}

// Record describes this router for a peer database, with the bound
// addresses and the given capability flags.
func (r *Router) Record(caps string) netdb.PeerRecord {
	return netdb.NewPeerRecord(r.local.Public(), r.StreamAddr(), r.DatagramAddr(), caps, r.clock.Now())
}

// SetParticipating turns acceptance of tunnel build requests on or off.
func (r *Router) SetParticipating(on bool) { r.participant.SetAccepting(on) }

// Tracker exposes the handshake outcome tracker used by hop selection.
func (r *Router) Tracker() *netdb.PeerTracker { return r.tracker }

// Stats is a snapshot of the router's activity.
type Stats struct {
	Sessions          int
	Tunnels           int
	ParticipatingHops int
	HopMessages       uint64
	RejectedBuilds    uint64
	BytesSent         uint64
	BytesReceived     uint64
	InboundRate       uint64
	OutboundRate      uint64
}

// Stats returns counters for the router.
func (r *Router) Stats() Stats {
	in, out := r.bandwidth.Rates()
	return Stats{
		Sessions:          r.sessions.Len(),
		Tunnels:           len(r.tunnels.Tunnels()),
		ParticipatingHops: r.participant.Len(),
		HopMessages:       r.participant.Processed(),
		RejectedBuilds:    r.participant.Rejected(),
		BytesSent:         r.bytesSent.Load(),
		BytesReceived:     r.bytesReceived.Load(),
		InboundRate:       in,
		OutboundRate:      out,
	}
}

func (r *Router) traffic() (sent, received uint64) {
	return r.bytesSent.Load(), r.bytesReceived.Load()
}

func (r *Router) sessionClosed(peer common.Hash, kind transport.Kind, err error) {
	if _, _, live := r.sessions.Get(peer); live {
		return
	}
	r.tunnels.PeerClosed(peer)
}
