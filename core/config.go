package core

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MeshMode selects the PolicyEngine's protocol→policy table (spec §4.1).
type MeshMode int

const (
	ModeBitcoinOnly MeshMode = iota
	ModePaymentGated
	ModeOpen
)

func (m MeshMode) String() string {
	switch m {
	case ModeBitcoinOnly:
		return "bitcoin_only"
	case ModeOpen:
		return "open"
	default:
		return "payment_gated"
	}
}

// ParseMeshMode deserializes a MeshMode case-insensitively from the strings
// listed in spec §4.1. Unknown strings map to ModePaymentGated with ok=false
// so the caller can log a warning, matching the spec's "unknown strings map
// to PaymentGated with a warning".
func ParseMeshMode(s string) (mode MeshMode, ok bool) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "bitcoin_only":
		return ModeBitcoinOnly, true
	case "payment_gated", "paymentgated":
		return ModePaymentGated, true
	case "open":
		return ModeOpen, true
	default:
		return ModePaymentGated, false
	}
}

// Config bundles every compile-time default and configured tunable in
// spec §6. Fields map 1:1 onto the mesh.* viper keys loaded by
// pkg/config.Load.
type Config struct {
	Enabled bool
	Mode    MeshMode

	RouteTTL         time.Duration
	ReplayTTL        time.Duration
	DiscoveryTimeout time.Duration
	DiscoveryMaxHops int
	MaxPacketBytes   int
	SweepInterval    time.Duration

	// Network selects the chain params used to decode BOLT11 invoices
	// ("mainnet", "testnet", "regtest").
	Network string

	// AdminAddr, if non-empty, binds the /healthz and /metrics HTTP surface.
	AdminAddr string
}

// DefaultConfig returns the compile-time defaults from spec §6.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Mode:             ModePaymentGated,
		RouteTTL:         3600 * time.Second,
		ReplayTTL:        86400 * time.Second,
		DiscoveryTimeout: 30 * time.Second,
		DiscoveryMaxHops: 10,
		MaxPacketBytes:   1_000_000,
		SweepInterval:    3600 * time.Second,
		Network:          "mainnet",
	}
}

// ApplyMode parses raw into a MeshMode via ParseMeshMode and returns it,
// logging a warning when the string didn't match a known mode.
func ApplyMode(log *logrus.Logger, raw string) MeshMode {
	mode, ok := ParseMeshMode(raw)
	if !ok {
		log.WithField("mesh.mode", raw).Warn("unrecognized mesh mode, defaulting to payment_gated")
	}
	return mode
}
