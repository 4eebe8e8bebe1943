// Package config loads the fabric's key-value configuration file: provider,
// domain, tx_depth, rx_depth. Unknown keys are ignored.
package config

import (
	"github.com/BurntSushi/toml"
)

// Config holds the four recognized fabric configuration options.
type Config struct {
	// Provider names the fabric provider to use: "sockets" (default),
	// "verbs", "psm", or "usnic". Only "sockets" ships with this module;
	// the others resolve to ferrors.ErrUnsupportedFeature.
	Provider string `toml:"provider"`

	// Domain names the fabric domain, typically a network interface name.
	Domain string `toml:"domain"`

	// TxDepth is the transmit-queue depth.
	TxDepth int `toml:"tx_depth"`

	// RxDepth is the receive-queue depth.
	RxDepth int `toml:"rx_depth"`
}

// Default returns the documented defaults: provider=sockets, domain=eth0,
// tx_depth=4096, rx_depth=4096.
func Default() *Config {
	return &Config{
		Provider: "sockets",
		Domain:   "eth0",
		TxDepth:  4096,
		RxDepth:  4096,
	}
}

// Load reads a TOML key-value file at path, applying Default() for any key
// left unset. An empty path returns Default() unchanged, so callers that
// have no configuration file can pass "" and still get a valid Config.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	// Decode into a sparse struct so a partially-specified file doesn't
	// zero out the fields it omits.
	var override struct {
		Provider *string `toml:"provider"`
		Domain   *string `toml:"domain"`
		TxDepth  *int    `toml:"tx_depth"`
		RxDepth  *int    `toml:"rx_depth"`
	}
	if _, err := toml.DecodeFile(path, &override); err != nil {
		return nil, err
	}

	if override.Provider != nil {
		cfg.Provider = *override.Provider
	}
	if override.Domain != nil {
		cfg.Domain = *override.Domain
	}
	if override.TxDepth != nil {
		cfg.TxDepth = *override.TxDepth
	}
	if override.RxDepth != nil {
		cfg.RxDepth = *override.RxDepth
	}

	return cfg, nil
}
