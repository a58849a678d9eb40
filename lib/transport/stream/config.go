package stream

import (
	"time"

	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/transport/block"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
)

// MaxFrameSize is the largest ciphertext the 2 byte length can describe.
const MaxFrameSize = 0xFFFF

// Config is the stream session policy.
type Config struct {
	NetworkID        byte
	HandshakeTimeout time.Duration
	ClockSkew        time.Duration
	MaxPadding       int
	IdleTimeout      time.Duration
	MaxMessageSize   int
	RekeyInterval    uint64
	Padding          block.Options
	DrainMaxBytes    int
	DrainMaxDelay    time.Duration
	Clock            clock.Clock
	// Replay is shared by all responders of a router.
	Replay *noise.ReplayCache
}

// ConfigFrom extracts the stream policy from the router configuration.
func ConfigFrom(c config.ConfigDefaults) Config {
	return Config{
		NetworkID:        c.Router.NetworkID,
		HandshakeTimeout: c.Handshake.Timeout,
		ClockSkew:        c.Handshake.ClockSkewTolerance,
		MaxPadding:       c.Handshake.MaxPadding,
		IdleTimeout:      c.Stream.IdleTimeout,
		MaxMessageSize:   c.Stream.MaxMessageSize,
		RekeyInterval:    c.Stream.RekeyInterval,
		Padding:          block.Options{PaddingMin: c.Stream.PaddingMin, PaddingMax: c.Stream.PaddingMax},
		DrainMaxBytes:    c.Stream.DrainMaxBytes,
		DrainMaxDelay:    c.Stream.DrainMaxDelay,
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
	if c.MaxMessageSize <= 0 || c.MaxMessageSize > maxMessagePayload {
		c.MaxMessageSize = maxMessagePayload
	}
	return c
}

func (c Config) noise() noise.Config {
	return noise.Config{
		Profile:    noise.StreamProfile,
		NetworkID:  c.NetworkID,
		ClockSkew:  c.ClockSkew,
		MaxPadding: c.MaxPadding,
		Clock:      c.Clock,
		Replay:     c.Replay,
	}
}
