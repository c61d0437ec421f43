// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package netsim

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every externally tunable knob for the simulated link,
// loaded as a TOML document via github.com/BurntSushi/toml.
type Config struct {
	// BandwidthBPS is the wire serialization delay numerator.
	BandwidthBPS int64 `toml:"bandwidth_bps"`
	// LatencyMs is the round-trip simulated latency; propagation delay
	// applied by the wire buffer is LatencyMs/2 per direction.
	LatencyMs int64 `toml:"latency_ms"`
	// NetworkBufferCapacityBytes sizes the wire buffer's data arena.
	NetworkBufferCapacityBytes int `toml:"network_buffer_capacity_bytes"`
	// NICBufferCapacity is the number of packet slots in each NIC ring.
	NICBufferCapacity int `toml:"nic_buffer_capacity"`
	// NetRetryMs caps the wire->NIC sleep and ring-buffer consumer wait.
	NetRetryMs int64 `toml:"net_retry_ms"`

	// DropRatePct, DuplicateRatePct, CorruptRatePct are 0..100
	// perturbation percentages applied on the wire->NIC edge.
	DropRatePct      int `toml:"drop_rate_pct"`
	DuplicateRatePct int `toml:"duplicate_rate_pct"`
	CorruptRatePct   int `toml:"corrupt_rate_pct"`
	ReorderEnabled   bool `toml:"reorder_enabled"`

	// PRNGSeed makes perturbation deterministic for tests; 0 seeds from
	// the current time.
	PRNGSeed int64 `toml:"prng_seed"`

	// EnableSerializationDelay toggles the per-packet NIC->wire stall of
	// packet_bits/BandwidthBPS seconds.
	EnableSerializationDelay bool `toml:"enable_serialization_delay"`
}

// DefaultConfig returns the baseline tuning used when no config file is
// supplied.
func DefaultConfig() Config {
	return Config{
		BandwidthBPS:               100_000_000,
		LatencyMs:                  20,
		NetworkBufferCapacityBytes: 16 * 1024 * 1024,
		NICBufferCapacity:          256,
		NetRetryMs:                 5,
		DropRatePct:                0,
		DuplicateRatePct:           0,
		CorruptRatePct:             0,
		ReorderEnabled:             false,
		PRNGSeed:                   0,
		EnableSerializationDelay:   true,
	}
}

// LatencyDuration returns the one-way propagation delay, LatencyMs/2.
func (c Config) LatencyDuration() time.Duration {
	return time.Duration(c.LatencyMs) * time.Millisecond / 2
}

// NetRetryDuration returns the capped wait used by wire->NIC sleep and
// ring-buffer consumers.
func (c Config) NetRetryDuration() time.Duration {
	return time.Duration(c.NetRetryMs) * time.Millisecond
}

// LoadConfig reads a TOML config file, starting from DefaultConfig and
// overriding whichever fields are present in the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
