// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package netsim simulates an unreliable packetized link between two
// endpoints: it moves packets NIC->wire (with serialization stall) and
// wire->NIC (with latency deadline and configurable drop/duplicate/
// corrupt perturbation), running exactly two threads per directional
// pipe.
package netsim

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/strandnet/simnet/internal/event"
	"github.com/strandnet/simnet/pkg/wire"
)

// Role addresses one of the two logical endpoints of the simulated
// network.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// NetworkState owns the two independent directional pipes: sender->
// receiver and receiver->sender. Each pipe owns its own outbound NIC,
// wire buffer, and inbound NIC.
type NetworkState struct {
	cfg      Config
	log      *log.Logger
	shutdown *event.Event

	senderToReceiver *Pipe
	receiverToSender *Pipe
}

// CreateNetworkLayer constructs and starts a NetworkState.
func CreateNetworkLayer(cfg Config, logger *log.Logger) *NetworkState {
	if logger == nil {
		logger = log.Default()
	}
	shutdown := event.New()
	ns := &NetworkState{
		cfg:      cfg,
		log:      logger,
		shutdown: shutdown,
	}
	ns.senderToReceiver = NewPipe("sender->receiver", cfg, shutdown, logger)
	ns.receiverToSender = NewPipe("receiver->sender", cfg, shutdown, logger)
	return ns
}

// FreeNetworkLayer stops every pipe thread and waits for them to exit.
func (ns *NetworkState) FreeNetworkLayer() {
	ns.shutdown.Fire()
	ns.senderToReceiver.Halt()
	ns.receiverToSender.Halt()
	ns.senderToReceiver.Wait()
	ns.receiverToSender.Wait()
}

// Shutdown exposes the shared shutdown event so transport engines can
// observe it at their own suspension points.
func (ns *NetworkState) Shutdown() *event.Event { return ns.shutdown }

// SendPacket enqueues pkt onto the outbound NIC belonging to role.
func (ns *NetworkState) SendPacket(pkt *wire.Packet, role Role) error {
	return ns.outboundPipe(role).Send(pkt)
}

// ReceivePacket dequeues the next packet destined for role's inbound
// NIC.
func (ns *NetworkState) ReceivePacket(role Role, timeout time.Duration) (*wire.Packet, error) {
	return ns.inboundPipe(role).Receive(timeout)
}

// outboundPipe returns the pipe a role pushes packets into: the sender
// pushes onto sender->receiver, the receiver pushes (comm packets) onto
// receiver->sender.
func (ns *NetworkState) outboundPipe(role Role) *Pipe {
	if role == RoleSender {
		return ns.senderToReceiver
	}
	return ns.receiverToSender
}

// inboundPipe returns the pipe a role drains packets from: the sender
// drains receiver->sender (comm packets), the receiver drains
// sender->receiver (data packets).
func (ns *NetworkState) inboundPipe(role Role) *Pipe {
	if role == RoleSender {
		return ns.receiverToSender
	}
	return ns.senderToReceiver
}
