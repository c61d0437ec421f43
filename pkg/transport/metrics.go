// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus counters exported by a transport Engine.
// A nil *Metrics is valid everywhere it's accepted: callers that don't
// want metrics simply pass nil and every call site below already guards
// on it.
type Metrics struct {
	packetsSent             prometheus.Counter
	packetsRetransmitted    prometheus.Counter
	packetsReceived         prometheus.Counter
	duplicatePacketsDropped prometheus.Counter
	transmissionsCompleted  prometheus.Counter
	transmissionsFailed     prometheus.Counter
	inFlightSends           prometheus.Gauge
	inFlightReceives        prometheus.Gauge
}

// NewMetrics constructs a Metrics instance and registers it with reg. If
// reg is nil, the counters are still usable but unregistered, which is
// convenient for tests that don't want a global registry polluted.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "packets_sent_total",
			Help:      "Data packets handed to the network simulator by the sender engine.",
		}),
		packetsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "packets_retransmitted_total",
			Help:      "Data packets resent because their index was still unacknowledged.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "packets_received_total",
			Help:      "Data packets accepted by the receiver engine's reassembler.",
		}),
		duplicatePacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "duplicate_packets_dropped_total",
			Help:      "Data packets discarded because their index was already received.",
		}),
		transmissionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "transmissions_completed_total",
			Help:      "SendTransmission calls that observed every packet acknowledged.",
		}),
		transmissionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "transmissions_failed_total",
			Help:      "SendTransmission calls that returned a timeout or shutdown error.",
		}),
		inFlightSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "in_flight_sends",
			Help:      "Number of SendTransmission calls currently blocked waiting for ACKs.",
		}),
		inFlightReceives: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simnet",
			Subsystem: "transport",
			Name:      "in_flight_receives",
			Help:      "Number of receiver transmission records awaiting a consumer.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.packetsSent,
			m.packetsRetransmitted,
			m.packetsReceived,
			m.duplicatePacketsDropped,
			m.transmissionsCompleted,
			m.transmissionsFailed,
			m.inFlightSends,
			m.inFlightReceives,
		)
	}
	return m
}
