package config

import (
	"path/filepath"
	"time"

	"github.com/go-i2p/logger"
)

// ConfigDefaults contains all default configuration values.
// This centralizes default values to make them easy to discover, document, and modify.
type ConfigDefaults struct {
	// Router identity and session limits
	Router RouterDefaults

	// Noise handshake policy shared by both transports
	Handshake HandshakeDefaults

	// Stream transport defaults
	Stream StreamDefaults

	// Datagram transport defaults
	Datagram DatagramDefaults

	// Tunnel build, pool and participation defaults
	Tunnel TunnelDefaults

	// Network time defaults
	Clock ClockDefaults
}

// RouterDefaults contains default values for router configuration
type RouterDefaults struct {
	// BaseDir is where identity and config files are stored
	// Default: $HOME/.go-i2p-core
	BaseDir string

	// IdentityFile is the YAML file holding the static identity
	// Default: $HOME/.go-i2p-core/identity.yaml
	IdentityFile string

	// PeersFile is the YAML peer list used to seed the peer database
	// Default: $HOME/.go-i2p-core/peers.yaml
	PeersFile string

	// NetworkID separates test networks from the main network.
	// Handshakes with a different ID are rejected.
	// Default: 2
	NetworkID byte

	// MaxConcurrentSessions is maximum number of live transport sessions
	// Default: 200
	MaxConcurrentSessions int
}

// HandshakeDefaults contains default values for the Noise handshake
type HandshakeDefaults struct {
	// Timeout bounds a whole handshake attempt
	// Default: 30 seconds
	Timeout time.Duration

	// ClockSkewTolerance is the accepted difference between a peer's
	// handshake timestamp and local time.
	// Default: 60 seconds
	ClockSkewTolerance time.Duration

	// RetransmitInitial is the first datagram handshake retransmit delay.
	// Each retry doubles it.
	// Default: 1.25 seconds
	RetransmitInitial time.Duration

	// MaxAttempts is the number of datagram handshake transmissions before
	// the attempt fails with a timeout
	// Default: 5
	MaxAttempts int

	// MaxPadding is the largest random padding appended to messages 1 and 2
	// Default: 31 bytes
	MaxPadding int
}

// StreamDefaults contains default values for the stream transport
type StreamDefaults struct {
	// ListenAddress is the TCP listen address
	// Default: "127.0.0.1:0"
	ListenAddress string

	// IdleTimeout closes sessions that receive nothing for this long
	// Default: 5 minutes
	IdleTimeout time.Duration

	// MaxMessageSize is the largest payload accepted by Send
	// Default: 32768 bytes (32 KiB)
	MaxMessageSize int

	// RekeyInterval is the number of frames after which a direction's key
	// is ratcheted
	// Default: 65535
	RekeyInterval uint64

	// PaddingMin and PaddingMax bound the padding ratio added to frames
	// Default: 0.0 to 0.25
	PaddingMin float64
	PaddingMax float64

	// DrainMaxBytes and DrainMaxDelay bound how long a failed inbound
	// handshake keeps reading before the connection is closed
	// Default: 1024 bytes, 3 seconds
	DrainMaxBytes int
	DrainMaxDelay time.Duration
}

// DatagramDefaults contains default values for the datagram transport
type DatagramDefaults struct {
	// ListenAddress is the UDP listen address
	// Default: "127.0.0.1:0"
	ListenAddress string

	// MinMTU is the starting path MTU
	// Default: 1280 bytes
	MinMTU int

	// MaxMTU is the ceiling for path MTU discovery
	// Default: 1500 bytes
	MaxMTU int

	// ProbeSizes are the packet sizes tried in order by MTU discovery
	// Default: 1280, 1420, 1500
	ProbeSizes []int

	// ProbeTimeout is how long to wait for a probe acknowledgement
	// Default: 2 seconds
	ProbeTimeout time.Duration

	// ReassemblyWindow is how long partial messages are kept
	// Default: 10 seconds
	ReassemblyWindow time.Duration

	// AckDelay is how long received packets wait before an ack-only packet
	// Default: 100 milliseconds
	AckDelay time.Duration

	// IdleTimeout closes sessions that receive nothing for this long
	// Default: 5 minutes
	IdleTimeout time.Duration

	// MaxFragments bounds the fragments of one message
	// Default: 64
	MaxFragments int

	// InboxSize is the per-session queue between the endpoint and the
	// session goroutine
	// Default: 256 packets
	InboxSize int
}

// TunnelDefaults contains default values for tunnel management
type TunnelDefaults struct {
	// MinPoolSize is the number of tunnels kept per direction by a pool
	// Default: 2 tunnels
	MinPoolSize int

	// TunnelLength is hops per tunnel
	// Default: 3 hops
	TunnelLength int

	// Lifetime is how long tunnels stay active. It is never renewed.
	// Default: 10 minutes
	Lifetime time.Duration

	// ReplaceBeforeExpiration is when a tunnel enters Expiring and a
	// replacement is built
	// Default: 2 minutes before expiration
	ReplaceBeforeExpiration time.Duration

	// BuildTimeout is maximum time to wait for tunnel build replies
	// Default: 90 seconds
	BuildTimeout time.Duration

	// BuildRetries is maximum attempts a pool makes for one tunnel
	// Default: 3 attempts
	BuildRetries int

	// MaintenanceInterval is how often pools check their tunnels
	// Default: 30 seconds
	MaintenanceInterval time.Duration

	// === Participating Tunnel Limits ===

	// MaxParticipatingTunnels is the hard limit on tunnels where we act as a hop
	// Default: 15000
	MaxParticipatingTunnels int

	// MaxBuildRequestsPerMinute is the sustained build request rate per source
	// Default: 10
	MaxBuildRequestsPerMinute int

	// BuildRequestBurstSize is the burst allowance for build requests
	// Default: 3
	BuildRequestBurstSize int

	// SourceBanDuration is how long a source that keeps exceeding the rate
	// is refused outright
	// Default: 5 minutes
	SourceBanDuration time.Duration

	// MaxRequestedLifetime rejects build requests asking for longer tunnels
	// Default: 11 minutes
	MaxRequestedLifetime time.Duration
}

// ClockDefaults contains default values for network time
type ClockDefaults struct {
	// NTPEnabled turns on SNTP offset correction
	// Default: false
	NTPEnabled bool

	// Servers are the SNTP servers queried
	// Default: pool.ntp.org servers
	Servers []string

	// Concurring is how many servers must agree
	// Default: 3
	Concurring int

	// QueryTimeout bounds a single query
	// Default: 5 seconds
	QueryTimeout time.Duration

	// Interval is the time between syncs
	// Default: 11 minutes
	Interval time.Duration
}

// Defaults returns a ConfigDefaults instance with all default values set.
// This is the single source of truth for all configuration defaults.
func Defaults() ConfigDefaults {
	baseDir := BuildI2PDirPath()

	return ConfigDefaults{
		Router:    buildRouterDefaults(baseDir),
		Handshake: buildHandshakeDefaults(),
		Stream:    buildStreamDefaults(),
		Datagram:  buildDatagramDefaults(),
		Tunnel:    buildTunnelDefaults(),
		Clock:     buildClockDefaults(),
	}
}

func buildRouterDefaults(baseDir string) RouterDefaults {
	return RouterDefaults{
		BaseDir:               baseDir,
		IdentityFile:          filepath.Join(baseDir, "identity.yaml"),
		PeersFile:             filepath.Join(baseDir, "peers.yaml"),
		NetworkID:             2,
		MaxConcurrentSessions: 200,
	}
}

func buildHandshakeDefaults() HandshakeDefaults {
	return HandshakeDefaults{
		Timeout:            30 * time.Second,
		ClockSkewTolerance: 60 * time.Second,
		RetransmitInitial:  1250 * time.Millisecond,
		MaxAttempts:        5,
		MaxPadding:         31,
	}
}

func buildStreamDefaults() StreamDefaults {
	return StreamDefaults{
		ListenAddress:  "127.0.0.1:0",
		IdleTimeout:    5 * time.Minute,
		MaxMessageSize: 32768, // 32 KiB
		RekeyInterval:  65535,
		PaddingMin:     0,
		PaddingMax:     0.25,
		DrainMaxBytes:  1024,
		DrainMaxDelay:  3 * time.Second,
	}
}

func buildDatagramDefaults() DatagramDefaults {
	return DatagramDefaults{
		ListenAddress:    "127.0.0.1:0",
		MinMTU:           1280,
		MaxMTU:           1500,
		ProbeSizes:       []int{1280, 1420, 1500},
		ProbeTimeout:     2 * time.Second,
		ReassemblyWindow: 10 * time.Second,
		AckDelay:         100 * time.Millisecond,
		IdleTimeout:      5 * time.Minute,
		MaxFragments:     64,
		InboxSize:        256,
	}
}

func buildTunnelDefaults() TunnelDefaults {
	return TunnelDefaults{
		MinPoolSize:             2,
		TunnelLength:            3,
		Lifetime:                10 * time.Minute,
		ReplaceBeforeExpiration: 2 * time.Minute,
		BuildTimeout:            90 * time.Second,
		BuildRetries:            3,
		MaintenanceInterval:     30 * time.Second,
		// Participating tunnel limits (resource exhaustion protection)
		MaxParticipatingTunnels:   15000,
		MaxBuildRequestsPerMinute: 10,
		BuildRequestBurstSize:     3,
		SourceBanDuration:         5 * time.Minute,
		MaxRequestedLifetime:      11 * time.Minute,
	}
}

func buildClockDefaults() ClockDefaults {
	return ClockDefaults{
		NTPEnabled:   false,
		Servers:      []string{"0.pool.ntp.org", "1.pool.ntp.org", "2.pool.ntp.org"},
		Concurring:   3,
		QueryTimeout: 5 * time.Second,
		Interval:     11 * time.Minute,
	}
}

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")
	validators := []func() error{
		func() error { return validateRouter(cfg.Router) },
		func() error { return validateHandshake(cfg.Handshake) },
		func() error { return validateStream(cfg.Stream) },
		func() error { return validateDatagram(cfg.Datagram) },
		func() error { return validateTunnel(cfg.Tunnel) },
		func() error { return validateClock(cfg.Clock) },
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "all_validators_passed",
	}).Debug("all configuration validations passed successfully")
	return nil
}

func validateRouter(router RouterDefaults) error {
	if router.MaxConcurrentSessions < 1 {
		log.WithField("max_concurrent_sessions", router.MaxConcurrentSessions).Error("Invalid router configuration")
		return newValidationError("Router.MaxConcurrentSessions must be at least 1")
	}
	return nil
}

func validateHandshake(hs HandshakeDefaults) error {
	if hs.Timeout < time.Second {
		log.WithFields(logger.Fields{
			"at":      "validateHandshake",
			"reason":  "timeout_too_low",
			"timeout": hs.Timeout,
		}).Error("invalid handshake configuration")
		return newValidationError("Handshake.Timeout must be at least 1 second")
	}
	if hs.ClockSkewTolerance < time.Second {
		return newValidationError("Handshake.ClockSkewTolerance must be at least 1 second")
	}
	if hs.MaxAttempts < 1 {
		log.WithFields(logger.Fields{
			"at":           "validateHandshake",
			"reason":       "max_attempts_too_low",
			"max_attempts": hs.MaxAttempts,
		}).Error("invalid handshake configuration")
		return newValidationError("Handshake.MaxAttempts must be at least 1")
	}
	if hs.RetransmitInitial <= 0 {
		return newValidationError("Handshake.RetransmitInitial must be positive")
	}
	if hs.MaxPadding < 0 || hs.MaxPadding > 1024 {
		return newValidationError("Handshake.MaxPadding must be between 0 and 1024")
	}
	return nil
}

func validateStream(stream StreamDefaults) error {
	if stream.MaxMessageSize < 1024 || stream.MaxMessageSize > 65000 {
		log.WithField("max_message_size", stream.MaxMessageSize).Error("Invalid stream configuration")
		return newValidationError("Stream.MaxMessageSize must be between 1024 and 65000 bytes")
	}
	if stream.RekeyInterval < 1 {
		return newValidationError("Stream.RekeyInterval must be at least 1")
	}
	if stream.PaddingMin < 0 || stream.PaddingMax < stream.PaddingMin || stream.PaddingMax > 15.9375 {
		log.WithFields(logger.Fields{
			"at":          "validateStream",
			"reason":      "padding_ratio_out_of_range",
			"padding_min": stream.PaddingMin,
			"padding_max": stream.PaddingMax,
		}).Error("invalid stream configuration")
		return newValidationError("Stream padding ratios must satisfy 0 <= min <= max <= 15.9375")
	}
	return nil
}

func validateDatagram(dg DatagramDefaults) error {
	if dg.MinMTU < 1280 {
		log.WithField("min_mtu", dg.MinMTU).Error("Invalid datagram configuration")
		return newValidationError("Datagram.MinMTU must be at least 1280")
	}
	if dg.MaxMTU < dg.MinMTU || dg.MaxMTU > 65507 {
		log.WithFields(logger.Fields{
			"at":      "validateDatagram",
			"reason":  "max_mtu_out_of_range",
			"min_mtu": dg.MinMTU,
			"max_mtu": dg.MaxMTU,
		}).Error("invalid datagram configuration")
		return newValidationError("Datagram.MaxMTU must be between MinMTU and 65507")
	}
	for _, size := range dg.ProbeSizes {
		if size < dg.MinMTU || size > dg.MaxMTU {
			return newValidationError("Datagram.ProbeSizes must lie between MinMTU and MaxMTU")
		}
	}
	if dg.ReassemblyWindow < 100*time.Millisecond {
		return newValidationError("Datagram.ReassemblyWindow must be at least 100ms")
	}
	if dg.MaxFragments < 1 || dg.MaxFragments > 255 {
		return newValidationError("Datagram.MaxFragments must be between 1 and 255")
	}
	if dg.InboxSize < 1 {
		return newValidationError("Datagram.InboxSize must be at least 1")
	}
	return nil
}

func validateTunnel(tunnel TunnelDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "validateTunnel",
		"reason": "validating_tunnel_settings",
		"phase":  "startup",
	}).Debug("validating tunnel configuration")

	if tunnel.MinPoolSize < 1 {
		log.WithFields(logger.Fields{
			"at":               "validateTunnel",
			"reason":           "min_pool_size_too_low",
			"min_pool_size":    tunnel.MinPoolSize,
			"minimum_required": 1,
		}).Error("invalid tunnel configuration")
		return newValidationError("Tunnel.MinPoolSize must be at least 1")
	}
	if tunnel.TunnelLength < 0 || tunnel.TunnelLength > 7 {
		log.WithFields(logger.Fields{
			"at":            "validateTunnel",
			"reason":        "tunnel_length_out_of_range",
			"tunnel_length": tunnel.TunnelLength,
			"valid_range":   "0-7",
		}).Error("invalid tunnel configuration")
		return newValidationError("Tunnel.TunnelLength must be between 0 and 7")
	}
	if tunnel.BuildRetries < 1 {
		return newValidationError("Tunnel.BuildRetries must be at least 1")
	}
	if tunnel.ReplaceBeforeExpiration >= tunnel.Lifetime {
		log.WithFields(logger.Fields{
			"at":                        "validateTunnel",
			"reason":                    "replacement_window_exceeds_lifetime",
			"lifetime":                  tunnel.Lifetime,
			"replace_before_expiration": tunnel.ReplaceBeforeExpiration,
		}).Error("invalid tunnel configuration")
		return newValidationError("Tunnel.ReplaceBeforeExpiration must be shorter than Tunnel.Lifetime")
	}
	if tunnel.MaxRequestedLifetime < tunnel.Lifetime {
		return newValidationError("Tunnel.MaxRequestedLifetime must be >= Tunnel.Lifetime")
	}
	if tunnel.MaxParticipatingTunnels < 1 {
		return newValidationError("Tunnel.MaxParticipatingTunnels must be at least 1")
	}
	if tunnel.MaxBuildRequestsPerMinute < 1 || tunnel.BuildRequestBurstSize < 1 {
		log.WithFields(logger.Fields{
			"at":                            "validateTunnel",
			"reason":                        "rate_limit_too_low",
			"max_build_requests_per_minute": tunnel.MaxBuildRequestsPerMinute,
			"build_request_burst_size":      tunnel.BuildRequestBurstSize,
		}).Error("invalid tunnel configuration")
		return newValidationError("Tunnel build rate limits must be at least 1")
	}
	return nil
}

func validateClock(clock ClockDefaults) error {
	if !clock.NTPEnabled {
		return nil
	}
	if len(clock.Servers) == 0 {
		return newValidationError("Clock.Servers must not be empty when NTP is enabled")
	}
	if clock.Concurring < 1 {
		return newValidationError("Clock.Concurring must be at least 1")
	}
	return nil
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
