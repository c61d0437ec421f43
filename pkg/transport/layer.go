// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strandnet/simnet/pkg/netsim"
)

// Engine is the public transport-layer handle: CreateTransportLayer /
// FreeTransportLayer plus SendTransmission / ReceiveTransmission, built
// over a netsim.NetworkState.
type Engine struct {
	Sender   *Sender
	Receiver *Receiver

	net *netsim.NetworkState
}

// CreateTransportLayer wires a Sender and Receiver engine over an
// already-running network simulator. Passing a nil prometheus.Registerer
// still produces working (if unexported) metrics.
func CreateTransportLayer(net *netsim.NetworkState, cfg Config, logger *log.Logger, reg prometheus.Registerer) *Engine {
	metrics := NewMetrics(reg)
	return &Engine{
		Sender:   NewSender(net, cfg, logger, metrics),
		Receiver: NewReceiver(net, cfg, logger, metrics),
		net:      net,
	}
}

// FreeTransportLayer halts both engines and waits for their background
// goroutines to exit.
func (e *Engine) FreeTransportLayer() {
	e.Sender.Stop()
	e.Receiver.Stop()
}

// SendTransmission blocks until data has been fully acknowledged,
// SendBudget elapses, or the underlying network is shut down.
func (e *Engine) SendTransmission(id uint32, data []byte) error {
	return e.Sender.SendTransmission(id, data)
}

// ReceiveTransmission blocks (bounded by timeout, or indefinitely if
// timeout <= 0) until a matching transmission completes. id == 0 waits
// for the next transmission to complete regardless of its id.
func (e *Engine) ReceiveTransmission(id uint32, timeout time.Duration) ([]byte, error) {
	return e.Receiver.ReceiveTransmission(id, timeout)
}
