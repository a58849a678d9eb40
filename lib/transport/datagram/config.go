package datagram

import (
	"time"

	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
)

// Config is the datagram endpoint and session policy.
type Config struct {
	NetworkID         byte
	HandshakeTimeout  time.Duration
	ClockSkew         time.Duration
	MaxPadding        int
	RetransmitInitial time.Duration
	MaxAttempts       int
	MinMTU            int
	MaxMTU            int
	ProbeSizes        []int
	ProbeTimeout      time.Duration
	ReassemblyWindow  time.Duration
	AckDelay          time.Duration
	IdleTimeout       time.Duration
	MaxFragments      int
	InboxSize         int
	MaxSessions       int
	Clock             clock.Clock
	// Replay is shared by all responders of a router.
	Replay *noise.ReplayCache
}

// ConfigFrom extracts the datagram policy from the router configuration.
func ConfigFrom(c config.ConfigDefaults) Config {
	return Config{
		NetworkID:         c.Router.NetworkID,
		HandshakeTimeout:  c.Handshake.Timeout,
		ClockSkew:         c.Handshake.ClockSkewTolerance,
		MaxPadding:        c.Handshake.MaxPadding,
		RetransmitInitial: c.Handshake.RetransmitInitial,
		MaxAttempts:       c.Handshake.MaxAttempts,
		MinMTU:            c.Datagram.MinMTU,
		MaxMTU:            c.Datagram.MaxMTU,
		ProbeSizes:        append([]int(nil), c.Datagram.ProbeSizes...),
		ProbeTimeout:      c.Datagram.ProbeTimeout,
		ReassemblyWindow:  c.Datagram.ReassemblyWindow,
		AckDelay:          c.Datagram.AckDelay,
		IdleTimeout:       c.Datagram.IdleTimeout,
		MaxFragments:      c.Datagram.MaxFragments,
		InboxSize:         c.Datagram.InboxSize,
		MaxSessions:       c.Router.MaxConcurrentSessions,
	}
}

// DefaultConfig returns ConfigFrom(config.Defaults()).
func DefaultConfig() Config {
	return ConfigFrom(config.Defaults())
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.RetransmitInitial <= 0 {
		c.RetransmitInitial = 1250 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MinMTU < minPacketMTU {
		c.MinMTU = 1280
	}
	if c.MaxMTU < c.MinMTU {
		c.MaxMTU = c.MinMTU
	}
	if c.ReassemblyWindow <= 0 {
		c.ReassemblyWindow = 10 * time.Second
	}
	if c.AckDelay <= 0 {
		c.AckDelay = 100 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.MaxFragments <= 0 || c.MaxFragments > 255 {
		c.MaxFragments = 64
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 200
	}
	return c
}

func (c Config) noise() noise.Config {
	return noise.Config{
		Profile:    noise.DatagramProfile,
		NetworkID:  c.NetworkID,
		ClockSkew:  c.ClockSkew,
		MaxPadding: c.MaxPadding,
		Clock:      c.Clock,
		Replay:     c.Replay,
	}
}
