// Package config holds the policy constants of the transport and tunnel
// core and loads overrides through viper.
//
// # Configuration Directories
//
// All state lives under $HOME/.go-i2p-core:
//   - config.yaml: viper configuration, created with defaults on first run
//   - identity.yaml: the router's static identity (see lib/identity)
//
// Every timing and sizing policy the protocol code uses (handshake
// retransmission, reassembly windows, tunnel lifetimes, participation
// limits) is a field of ConfigDefaults so it can be tuned without code
// changes. Defaults() is the single source of truth; Validate() rejects
// combinations that would break the protocol.
package config
