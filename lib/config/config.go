package config

import (
	"os"
	"path/filepath"

	"github.com/go-i2p/go-i2p-core/lib/util"
	"github.com/go-i2p/logger"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GOI2P_BASE_DIR = ".go-i2p-core"

// InitConfig wires viper to the config file, applies defaults and creates
// the file on first run.
func InitConfig() {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildI2PDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("router.base_dir", d.Router.BaseDir)
	viper.SetDefault("router.identity_file", d.Router.IdentityFile)
	viper.SetDefault("router.peers_file", d.Router.PeersFile)
	viper.SetDefault("router.network_id", d.Router.NetworkID)
	viper.SetDefault("router.max_concurrent_sessions", d.Router.MaxConcurrentSessions)

	viper.SetDefault("handshake.timeout", d.Handshake.Timeout)
	viper.SetDefault("handshake.clock_skew_tolerance", d.Handshake.ClockSkewTolerance)
	viper.SetDefault("handshake.retransmit_initial", d.Handshake.RetransmitInitial)
	viper.SetDefault("handshake.max_attempts", d.Handshake.MaxAttempts)
	viper.SetDefault("handshake.max_padding", d.Handshake.MaxPadding)

	viper.SetDefault("stream.listen_address", d.Stream.ListenAddress)
	viper.SetDefault("stream.idle_timeout", d.Stream.IdleTimeout)
	viper.SetDefault("stream.max_message_size", d.Stream.MaxMessageSize)
	viper.SetDefault("stream.rekey_interval", d.Stream.RekeyInterval)
	viper.SetDefault("stream.padding_min", d.Stream.PaddingMin)
	viper.SetDefault("stream.padding_max", d.Stream.PaddingMax)
	viper.SetDefault("stream.drain_max_bytes", d.Stream.DrainMaxBytes)
	viper.SetDefault("stream.drain_max_delay", d.Stream.DrainMaxDelay)

	viper.SetDefault("datagram.listen_address", d.Datagram.ListenAddress)
	viper.SetDefault("datagram.min_mtu", d.Datagram.MinMTU)
	viper.SetDefault("datagram.max_mtu", d.Datagram.MaxMTU)
	viper.SetDefault("datagram.probe_sizes", d.Datagram.ProbeSizes)
	viper.SetDefault("datagram.probe_timeout", d.Datagram.ProbeTimeout)
	viper.SetDefault("datagram.reassembly_window", d.Datagram.ReassemblyWindow)
	viper.SetDefault("datagram.ack_delay", d.Datagram.AckDelay)
	viper.SetDefault("datagram.idle_timeout", d.Datagram.IdleTimeout)
	viper.SetDefault("datagram.max_fragments", d.Datagram.MaxFragments)
	viper.SetDefault("datagram.inbox_size", d.Datagram.InboxSize)

	viper.SetDefault("tunnel.min_pool_size", d.Tunnel.MinPoolSize)
	viper.SetDefault("tunnel.length", d.Tunnel.TunnelLength)
	viper.SetDefault("tunnel.lifetime", d.Tunnel.Lifetime)
	viper.SetDefault("tunnel.replace_before_expiration", d.Tunnel.ReplaceBeforeExpiration)
	viper.SetDefault("tunnel.build_timeout", d.Tunnel.BuildTimeout)
	viper.SetDefault("tunnel.build_retries", d.Tunnel.BuildRetries)
	viper.SetDefault("tunnel.maintenance_interval", d.Tunnel.MaintenanceInterval)
	viper.SetDefault("tunnel.max_participating_tunnels", d.Tunnel.MaxParticipatingTunnels)
	viper.SetDefault("tunnel.max_build_requests_per_minute", d.Tunnel.MaxBuildRequestsPerMinute)
	viper.SetDefault("tunnel.build_request_burst_size", d.Tunnel.BuildRequestBurstSize)
	viper.SetDefault("tunnel.source_ban_duration", d.Tunnel.SourceBanDuration)
	viper.SetDefault("tunnel.max_requested_lifetime", d.Tunnel.MaxRequestedLifetime)

	viper.SetDefault("clock.ntp_enabled", d.Clock.NTPEnabled)
	viper.SetDefault("clock.servers", d.Clock.Servers)
	viper.SetDefault("clock.concurring", d.Clock.Concurring)
	viper.SetDefault("clock.query_timeout", d.Clock.QueryTimeout)
	viper.SetDefault("clock.interval", d.Clock.Interval)
}

// NewFromViper returns the defaults overlaid with every value viper knows.
// This is the way to get configuration instead of reading globals.
func NewFromViper() ConfigDefaults {
	cfg := Defaults()

	cfg.Router.BaseDir = viper.GetString("router.base_dir")
	cfg.Router.IdentityFile = viper.GetString("router.identity_file")
	cfg.Router.PeersFile = viper.GetString("router.peers_file")
	cfg.Router.NetworkID = byte(viper.GetUint("router.network_id"))
	cfg.Router.MaxConcurrentSessions = viper.GetInt("router.max_concurrent_sessions")

	cfg.Handshake.Timeout = viper.GetDuration("handshake.timeout")
	cfg.Handshake.ClockSkewTolerance = viper.GetDuration("handshake.clock_skew_tolerance")
	cfg.Handshake.RetransmitInitial = viper.GetDuration("handshake.retransmit_initial")
	cfg.Handshake.MaxAttempts = viper.GetInt("handshake.max_attempts")
	cfg.Handshake.MaxPadding = viper.GetInt("handshake.max_padding")

	cfg.Stream.ListenAddress = viper.GetString("stream.listen_address")
	cfg.Stream.IdleTimeout = viper.GetDuration("stream.idle_timeout")
	cfg.Stream.MaxMessageSize = viper.GetInt("stream.max_message_size")
	cfg.Stream.RekeyInterval = viper.GetUint64("stream.rekey_interval")
	cfg.Stream.PaddingMin = viper.GetFloat64("stream.padding_min")
	cfg.Stream.PaddingMax = viper.GetFloat64("stream.padding_max")
	cfg.Stream.DrainMaxBytes = viper.GetInt("stream.drain_max_bytes")
	cfg.Stream.DrainMaxDelay = viper.GetDuration("stream.drain_max_delay")

	cfg.Datagram.ListenAddress = viper.GetString("datagram.listen_address")
	cfg.Datagram.MinMTU = viper.GetInt("datagram.min_mtu")
	cfg.Datagram.MaxMTU = viper.GetInt("datagram.max_mtu")
	cfg.Datagram.ProbeSizes = viper.GetIntSlice("datagram.probe_sizes")
	cfg.Datagram.ProbeTimeout = viper.GetDuration("datagram.probe_timeout")
	cfg.Datagram.ReassemblyWindow = viper.GetDuration("datagram.reassembly_window")
	cfg.Datagram.AckDelay = viper.GetDuration("datagram.ack_delay")
	cfg.Datagram.IdleTimeout = viper.GetDuration("datagram.idle_timeout")
	cfg.Datagram.MaxFragments = viper.GetInt("datagram.max_fragments")
	cfg.Datagram.InboxSize = viper.GetInt("datagram.inbox_size")

	cfg.Tunnel.MinPoolSize = viper.GetInt("tunnel.min_pool_size")
	cfg.Tunnel.TunnelLength = viper.GetInt("tunnel.length")
	cfg.Tunnel.Lifetime = viper.GetDuration("tunnel.lifetime")
	cfg.Tunnel.ReplaceBeforeExpiration = viper.GetDuration("tunnel.replace_before_expiration")
	cfg.Tunnel.BuildTimeout = viper.GetDuration("tunnel.build_timeout")
	cfg.Tunnel.BuildRetries = viper.GetInt("tunnel.build_retries")
	cfg.Tunnel.MaintenanceInterval = viper.GetDuration("tunnel.maintenance_interval")
	cfg.Tunnel.MaxParticipatingTunnels = viper.GetInt("tunnel.max_participating_tunnels")
	cfg.Tunnel.MaxBuildRequestsPerMinute = viper.GetInt("tunnel.max_build_requests_per_minute")
	cfg.Tunnel.BuildRequestBurstSize = viper.GetInt("tunnel.build_request_burst_size")
	cfg.Tunnel.SourceBanDuration = viper.GetDuration("tunnel.source_ban_duration")
	cfg.Tunnel.MaxRequestedLifetime = viper.GetDuration("tunnel.max_requested_lifetime")

	cfg.Clock.NTPEnabled = viper.GetBool("clock.ntp_enabled")
	cfg.Clock.Servers = viper.GetStringSlice("clock.servers")
	cfg.Clock.Concurring = viper.GetInt("clock.concurring")
	cfg.Clock.QueryTimeout = viper.GetDuration("clock.query_timeout")
	cfg.Clock.Interval = viper.GetDuration("clock.interval")

	return cfg
}

func createDefaultConfig(defaultConfigDir string) {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := os.MkdirAll(defaultConfigDir, 0o700); err != nil {
		log.Fatalf("Could not create config directory: %s", err)
	}

	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		log.Fatalf("Could not write default config file: %s", err)
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
}

func handleConfigFile() {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				log.Fatalf("Config file %s is not found: %s", CfgFile, err)
			} else {
				createDefaultConfig(BuildI2PDirPath())
			}
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	} else {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// BuildI2PDirPath returns $HOME/.go-i2p-core.
func BuildI2PDirPath() string {
	return filepath.Join(util.UserHome(), GOI2P_BASE_DIR)
}
