// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"time"

	"github.com/strandnet/simnet/pkg/trace"
)

// Config holds the sender/receiver engine tunables.
type Config struct {
	// Minions is the number of sender worker threads that packetize and
	// push unacked packets.
	Minions int

	// RetryInterval is the cadence at which SendTransmission re-checks
	// completion and minions re-attempt unacked packets. Defaults to
	// twice the network latency.
	RetryInterval time.Duration

	// SendBudget is the overall wall-clock budget for one
	// SendTransmission call before it gives up and returns ErrTimeout.
	SendBudget time.Duration

	// ReceiveCacheSize bounds the circular buffer between the inbound
	// NIC and the reassembler.
	ReceiveCacheSize int

	// AckEmitEveryN / AckEmitInterval control how often the receiver
	// emits a COMM_PACKET for an active transmission: every N packets
	// or every AckEmitInterval, whichever comes first.
	AckEmitEveryN    int
	AckEmitInterval  time.Duration

	// MainLoopTimeout is the short per-iteration timeout the receiver's
	// main thread uses when draining the inbound NIC.
	MainLoopTimeout time.Duration

	// Ledger is an optional diagnostic sink: completed and abandoned
	// receiver records are appended to it. A nil Ledger (the default)
	// disables tracing entirely.
	Ledger *trace.Ledger
}

// DefaultConfig returns sensible defaults derived from a network
// latency.
func DefaultConfig(latency time.Duration) Config {
	return Config{
		Minions:          2,
		RetryInterval:    2 * latency,
		SendBudget:       5 * time.Second,
		ReceiveCacheSize: 128,
		AckEmitEveryN:    4,
		AckEmitInterval:  50 * time.Millisecond,
		MainLoopTimeout:  5 * time.Millisecond,
	}
}
