// Package config provides a reusable viper-backed loader for the mesh
// module's configuration files and environment variables.
//
// Version: v0.1.0
package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/BTCDecoded/blvm-mesh/core"
	"github.com/BTCDecoded/blvm-mesh/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// MeshConfig mirrors the mesh.* keys a deployment may set in config.yaml or
// via MESH_* environment variables (spec §6's configuration surface).
type MeshConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Mode    string `mapstructure:"mode" json:"mode"`

	RouteTTLSeconds         int `mapstructure:"route_ttl_seconds" json:"route_ttl_seconds"`
	ReplayTTLSeconds        int `mapstructure:"replay_ttl_seconds" json:"replay_ttl_seconds"`
	DiscoveryTimeoutSeconds int `mapstructure:"discovery_timeout_seconds" json:"discovery_timeout_seconds"`
	DiscoveryMaxHops        int `mapstructure:"discovery_max_hops" json:"discovery_max_hops"`
	MaxPacketBytes          int `mapstructure:"max_packet_bytes" json:"max_packet_bytes"`
	SweepIntervalSeconds    int `mapstructure:"sweep_interval_seconds" json:"sweep_interval_seconds"`

	Network   string `mapstructure:"network" json:"network"`
	AdminAddr string `mapstructure:"admin_addr" json:"admin_addr"`
}

// Config is the top-level unmarshal target; the mesh module nests under
// its own "mesh" key so a host process embedding this module alongside
// other configuration sections never collides with it.
type Config struct {
	Mesh MeshConfig `mapstructure:"mesh" json:"mesh"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads config.yaml from the working directory or /etc/blvm-mesh,
// merges a config.<env> overlay when env is non-empty, merges
// MESH_*-prefixed environment variables on top, and unmarshals into
// AppConfig. A missing config.yaml is not an error.
func Load(env string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/blvm-mesh")

	viper.SetDefault("mesh.enabled", true)
	viper.SetDefault("mesh.mode", "payment_gated")
	viper.SetDefault("mesh.route_ttl_seconds", 3600)
	viper.SetDefault("mesh.replay_ttl_seconds", 86400)
	viper.SetDefault("mesh.discovery_timeout_seconds", 30)
	viper.SetDefault("mesh.discovery_max_hops", 10)
	viper.SetDefault("mesh.max_packet_bytes", 1_000_000)
	viper.SetDefault("mesh.sweep_interval_seconds", 3600)
	viper.SetDefault("mesh.network", "mainnet")
	viper.SetDefault("mesh.admin_addr", "")

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName("config." + env)
		_ = viper.MergeInConfig()
	}

	viper.SetEnvPrefix("mesh")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MESH_ENV environment variable
// to pick an optional overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MESH_ENV", ""))
}

// ToCoreConfig translates the loaded MeshConfig into core.Config, applying
// core.DefaultConfig for any tunable the loader left zero-valued (Enabled and
// AdminAddr are copied as loaded) and parsing the mode through
// core.ApplyMode, which logs a warning for an unknown mode string.
func (c MeshConfig) ToCoreConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Mode = core.ApplyMode(logrus.StandardLogger(), c.Mode)
	if c.RouteTTLSeconds > 0 {
		cfg.RouteTTL = time.Duration(c.RouteTTLSeconds) * time.Second
	}
	if c.ReplayTTLSeconds > 0 {
		cfg.ReplayTTL = time.Duration(c.ReplayTTLSeconds) * time.Second
	}
	if c.DiscoveryTimeoutSeconds > 0 {
		cfg.DiscoveryTimeout = time.Duration(c.DiscoveryTimeoutSeconds) * time.Second
	}
	if c.DiscoveryMaxHops > 0 {
		cfg.DiscoveryMaxHops = c.DiscoveryMaxHops
	}
	if c.MaxPacketBytes > 0 {
		cfg.MaxPacketBytes = c.MaxPacketBytes
	}
	if c.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(c.SweepIntervalSeconds) * time.Second
	}
	if c.Network != "" {
		cfg.Network = c.Network
	}
	cfg.AdminAddr = c.AdminAddr
	return cfg
}
