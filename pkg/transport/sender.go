// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/eapache/channels.v1"

	"github.com/strandnet/simnet/internal/engworker"
	"github.com/strandnet/simnet/internal/event"
	"github.com/strandnet/simnet/pkg/netsim"
	"github.com/strandnet/simnet/pkg/wire"
)

// Sender is the sender-side engine: packetizes transmissions, pushes
// them onto the network, listens for ACKs, and retransmits unacked
// packets.
//
// The packetize-and-push work runs on K background minion goroutines
// rather than inline in SendTransmission's calling goroutine, so a
// caller's goroutine only waits on the record's completion event while
// the minions do the actual network I/O. The work queue is a
// gopkg.in/eapache/channels.v1 InfiniteChannel, so a burst of newly
// created transmissions never blocks on a fixed-size Go channel.
type Sender struct {
	engworker.Worker

	cfg      Config
	net      *netsim.NetworkState
	log      *log.Logger
	shutdown *event.Event
	metrics  *Metrics

	store     senderStore
	workQueue *channels.InfiniteChannel
}

// NewSender constructs and starts a Sender engine: one listener thread
// plus cfg.Minions worker threads.
func NewSender(net *netsim.NetworkState, cfg Config, logger *log.Logger, metrics *Metrics) *Sender {
	s := &Sender{
		cfg:       cfg,
		net:       net,
		log:       logger.With("component", "sender"),
		shutdown:  net.Shutdown(),
		metrics:   metrics,
		workQueue: channels.NewInfiniteChannel(),
	}
	s.Go(s.runListener)
	for i := 0; i < cfg.Minions; i++ {
		s.Go(s.runMinion)
	}
	return s
}

// Stop halts the listener and minions and waits for them to exit.
func (s *Sender) Stop() {
	s.Halt()
	s.workQueue.Close()
	s.Wait()
}

// SendTransmission packetizes data under id, pushes it through the
// network, and blocks until every packet is acknowledged, the overall
// budget elapses, or shutdown fires.
func (s *Sender) SendTransmission(id uint32, data []byte) error {
	if id >= wire.MaxTransmissionID {
		return ErrInvalidID
	}
	if len(data) == 0 {
		return ErrInvalidLength
	}

	rec := newSenderRecord(id, data)
	if _, loaded := s.store.claim(id, rec); loaded {
		return ErrBusy
	}
	defer s.store.destroy(id)

	if s.metrics != nil {
		s.metrics.inFlightSends.Inc()
		defer s.metrics.inFlightSends.Dec()
	}

	s.workQueue.In() <- id

	deadline := time.Now().Add(s.cfg.SendBudget)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if s.metrics != nil {
				s.metrics.transmissionsFailed.Inc()
			}
			return ErrTimeout
		}

		wait := s.cfg.RetryInterval
		if wait > remaining {
			wait = remaining
		}

		fired, shutdownFired := event.Wait(rec.completion, s.shutdown, wait)
		if fired {
			if s.metrics != nil {
				s.metrics.transmissionsCompleted.Inc()
			}
			return nil
		}
		if shutdownFired {
			if s.metrics != nil {
				s.metrics.transmissionsFailed.Inc()
			}
			return ErrShutdown
		}
		// Woke on the RetryInterval tick with no completion yet; kick
		// the minions again in case the earlier enqueue was dropped by
		// a full work queue consumer race, then keep waiting.
		s.workQueue.In() <- id
	}
}

// runMinion packetizes and pushes unacked packets for whichever
// transmission id arrives on the work queue, then reschedules itself
// after RetryInterval if the transmission is still incomplete.
func (s *Sender) runMinion() {
	out := s.workQueue.Out()
	for {
		select {
		case <-s.HaltCh():
			return
		case v, ok := <-out:
			if !ok {
				return
			}
			id := v.(uint32)
			s.pushUnacked(id)
		}
	}
}

func (s *Sender) pushUnacked(id uint32) {
	rec, ok := s.store.get(id)
	if !ok {
		return // completed and destroyed already
	}

	for _, k := range rec.ackBitmap.UnsetIndices() {
		select {
		case <-s.HaltCh():
			return
		default:
		}

		pkt, err := wire.NewDataPacket(id, k, rec.nPackets, rec.chunk(k))
		if err != nil {
			s.log.Error("failed to build data packet", "err", err)
			continue
		}
		if err := s.net.SendPacket(pkt, netsim.RoleSender); err != nil {
			return // shutdown
		}
		if s.metrics != nil {
			if rec.attempted.TestAndSet(k) {
				s.metrics.packetsRetransmitted.Inc()
			} else {
				s.metrics.packetsSent.Inc()
			}
		}
	}

	// Schedule another pass in case some of what we just sent is lost;
	// the listener also re-enqueues immediately on any ACK so this is a
	// backstop, not the only retransmit trigger.
	if !rec.ackBitmap.AllSet() {
		time.AfterFunc(s.cfg.RetryInterval, func() {
			if _, ok := s.store.get(id); ok {
				select {
				case s.workQueue.In() <- id:
				default:
				}
			}
		})
	}
}

// runListener consumes COMM_PACKETs with an effectively infinite
// timeout, exiting on shutdown.
func (s *Sender) runListener() {
	for {
		select {
		case <-s.HaltCh():
			return
		default:
		}

		pkt, err := s.net.ReceivePacket(netsim.RoleSender, 0)
		if err != nil {
			continue // shutdown observed on next loop iteration
		}
		if pkt.PacketType != wire.Comm {
			continue
		}

		rec, ok := s.store.get(pkt.TransmissionID)
		if !ok {
			continue // ACK for a transmission we no longer track
		}

		flipped := rec.ackBitmap.OrWindow(pkt.FirstIndex(), pkt.NBits(), pkt.Payload)
		if len(flipped) == 0 {
			continue // duplicate COMM_PACKET, idempotent
		}

		if rec.ackBitmap.AllSet() {
			rec.completion.Fire()
			continue
		}

		// Still incomplete: wake a minion immediately rather than
		// waiting for the backstop timer, so a fresh ACK window is
		// retransmitted promptly.
		select {
		case s.workQueue.In() <- pkt.TransmissionID:
		default:
		}
	}
}
