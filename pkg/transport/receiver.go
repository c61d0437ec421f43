// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/eapache/channels.v1"

	"github.com/strandnet/simnet/internal/engworker"
	"github.com/strandnet/simnet/internal/event"
	"github.com/strandnet/simnet/pkg/netsim"
	"github.com/strandnet/simnet/pkg/trace"
	"github.com/strandnet/simnet/pkg/wire"
)

// Receiver is the receiver-side engine: reassembles transmissions from
// DATA_PACKETs, emits COMM_PACKET acknowledgements, and serves
// completed transmissions to ReceiveTransmission callers.
type Receiver struct {
	engworker.Worker

	cfg      Config
	net      *netsim.NetworkState
	log      *log.Logger
	shutdown *event.Event
	metrics  *Metrics

	store *receiverStore

	// completedIDs carries each transmission id exactly once, the moment
	// its record finishes, so the wildcard ReceiveTransmission(0, ...)
	// consumer doesn't have to poll the whole store. Consumers pulling
	// off this queue are naturally serialized: a given id is pushed
	// once, so at most one receive call ever sees it, delivering each
	// completion exactly once without a separate broadcast primitive.
	completedIDs *channels.InfiniteChannel

	// inboundCache decouples the inbound-NIC drainer from the
	// reassembler: the drainer pushes onto this bounded channel and the
	// reassembler pulls off it, so the reassembler can fall behind the
	// NIC drain without ever blocking the network simulator itself.
	// When the cache fills, the drainer's send blocks, which is the
	// spec's "drainer pauses" back-pressure.
	inboundCache chan *wire.Packet

	// ledger is an optional, off-critical-path diagnostic sink. A nil
	// ledger (the default) disables tracing entirely.
	ledger *trace.Ledger
}

// SetLedger attaches a diagnostic ledger. Must be called before traffic
// starts flowing if every completion is to be captured; safe to call at
// any time otherwise since it only affects completions recorded after
// the call.
func (r *Receiver) SetLedger(l *trace.Ledger) {
	r.ledger = l
}

// NewReceiver constructs and starts a Receiver engine: one inbound-NIC
// drainer thread, one reassembler thread and one ACK-ticker thread.
// cfg.Ledger, if non-nil, is wired in
// before any goroutine starts so every completion is captured.
func NewReceiver(net *netsim.NetworkState, cfg Config, logger *log.Logger, metrics *Metrics) *Receiver {
	r := &Receiver{
		cfg:          cfg,
		net:          net,
		log:          logger.With("component", "receiver"),
		shutdown:     net.Shutdown(),
		metrics:      metrics,
		store:        newReceiverStore(),
		completedIDs: channels.NewInfiniteChannel(),
		inboundCache: make(chan *wire.Packet, cfg.ReceiveCacheSize),
		ledger:       cfg.Ledger,
	}
	r.Go(r.runDrainer)
	r.Go(r.runReassembler)
	r.Go(r.runAckTicker)
	return r
}

// Stop halts the drainer, reassembler and ACK ticker, waits for them to exit,
// and records every still-incomplete transmission record as abandoned.
func (r *Receiver) Stop() {
	r.Halt()
	r.completedIDs.Close()
	r.Wait()
	r.recordAbandoned()
}

// recordAbandoned ledgers every transmission record that never reached
// completion before the receiver was stopped: the application's
// timeout budget ran out, or the process is shutting down mid-transfer.
func (r *Receiver) recordAbandoned() {
	if r.ledger == nil {
		return
	}
	for _, rec := range r.store.active() {
		if rec.completion.Fired() {
			continue // completed but not yet claimed by a consumer
		}
		entry := trace.Entry{
			TransmissionID: rec.id,
			Outcome:        trace.OutcomeAbandoned,
			PacketCount:    rec.nPackets,
			RecordedAt:     time.Now(),
		}
		if err := r.ledger.Record(entry); err != nil {
			r.log.Warn("failed to record abandoned trace entry", "id", entry.TransmissionID, "err", err)
		}
	}
}

// ReceiveTransmission returns the reassembled bytes for transmission
// id once it completes. id == 0 is the wildcard form: return whichever
// transmission completes next, regardless of its id.
func (r *Receiver) ReceiveTransmission(id uint32, timeout time.Duration) ([]byte, error) {
	if id == 0 {
		return r.receiveAny(timeout)
	}
	return r.receiveByID(id, timeout)
}

func (r *Receiver) receiveByID(id uint32, timeout time.Duration) ([]byte, error) {
	hasDeadline := timeout > 0
	deadline := time.Now().Add(timeout)

	for {
		if hasDeadline && time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		rec, ok := r.store.get(id)
		if !ok {
			select {
			case <-r.shutdown.C():
				return nil, ErrShutdown
			case <-time.After(r.waitSlice(hasDeadline, deadline)):
				continue
			}
		}

		fired, shutdownFired := event.Wait(rec.completion, r.shutdown, r.waitSlice(hasDeadline, deadline))
		if shutdownFired {
			return nil, ErrShutdown
		}
		if !fired {
			continue // either the slice elapsed or the outer deadline will catch it above
		}
		if data, ok := r.claimAndExtract(rec); ok {
			return data, nil
		}
		return nil, ErrNotFound // a racing wildcard consumer already claimed it
	}
}

func (r *Receiver) receiveAny(timeout time.Duration) ([]byte, error) {
	out := r.completedIDs.Out()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-r.shutdown.C():
		return nil, ErrShutdown
	case v, ok := <-out:
		if !ok {
			return nil, ErrShutdown
		}
		id := v.(uint32)
		rec, ok := r.store.get(id)
		if !ok {
			return nil, ErrNotFound
		}
		data, ok := r.claimAndExtract(rec)
		if !ok {
			return nil, ErrNotFound
		}
		return data, nil
	case <-timeoutCh:
		return nil, ErrTimeout
	}
}

// waitSlice bounds a single poll iteration to the receiver's main-loop
// timeout, further capped by whatever remains of an overall deadline.
func (r *Receiver) waitSlice(hasDeadline bool, deadline time.Time) time.Duration {
	wait := r.cfg.MainLoopTimeout
	if hasDeadline {
		if remaining := time.Until(deadline); remaining < wait {
			if remaining <= 0 {
				return 0
			}
			wait = remaining
		}
	}
	return wait
}

func (r *Receiver) claimAndExtract(rec *receiverRecord) ([]byte, bool) {
	if !rec.claim() {
		return nil, false
	}
	n := rec.totalLength()
	data := make([]byte, n)
	copy(data, rec.dataBuffer[:n])
	r.store.destroy(rec.id)
	if r.metrics != nil {
		r.metrics.inFlightReceives.Dec()
	}
	if r.ledger != nil {
		entry := trace.Entry{
			TransmissionID: rec.id,
			Outcome:        trace.OutcomeCompleted,
			ByteLength:     n,
			PacketCount:    rec.nPackets,
			RecordedAt:     time.Now(),
		}
		go func() {
			if err := r.ledger.Record(entry); err != nil {
				r.log.Warn("failed to record trace entry", "id", entry.TransmissionID, "err", err)
			}
		}()
	}
	return data, true
}

// runDrainer pulls packets off the inbound NIC as fast as the network
// simulator delivers them and hands them to the bounded inboundCache, so
// the reassembler can run asynchronously from the NIC drain. A full
// cache blocks this goroutine (back-pressure) without ever blocking the
// simulator's wire->NIC thread, which only ever sees the NIC ring.
func (r *Receiver) runDrainer() {
	for {
		select {
		case <-r.HaltCh():
			return
		default:
		}

		pkt, err := r.net.ReceivePacket(netsim.RoleReceiver, r.cfg.MainLoopTimeout)
		if err != nil {
			continue // timeout or shutdown; HaltCh is rechecked above
		}
		if pkt.PacketType != wire.Data {
			continue
		}

		select {
		case r.inboundCache <- pkt:
		case <-r.HaltCh():
			return
		}
	}
}

// runReassembler drains the bounded inbound cache and feeds packets
// into the receiver's per-transmission records.
func (r *Receiver) runReassembler() {
	for {
		var pkt *wire.Packet
		select {
		case <-r.HaltCh():
			return
		case pkt = <-r.inboundCache:
		}

		isNewRecord := false
		rec, existed := r.store.get(pkt.TransmissionID)
		if !existed {
			rec = r.store.getOrCreate(pkt.TransmissionID, pkt.Count())
			isNewRecord = true
		}
		if isNewRecord && r.metrics != nil {
			r.metrics.inFlightReceives.Inc()
		}

		isNew, justCompleted := rec.storeChunk(pkt.Index(), pkt.Payload)
		if r.metrics != nil {
			if isNew {
				r.metrics.packetsReceived.Inc()
			} else {
				r.metrics.duplicatePacketsDropped.Inc()
			}
		}

		if isNew && !justCompleted {
			if atomic.AddInt32(&rec.packetsSinceAck, 1) >= int32(r.cfg.AckEmitEveryN) {
				atomic.StoreInt32(&rec.packetsSinceAck, 0)
				r.emitAck(rec)
			}
		}
		if justCompleted {
			r.emitAck(rec) // final ACK so the sender's listener sees AllSet immediately
			r.completedIDs.In() <- pkt.TransmissionID
		}
	}
}

// runAckTicker periodically re-sends a full-window COMM_PACKET for
// every incomplete transmission, as a backstop against a lost ACK that
// the per-N-packets trigger in runReassembler already covers for the
// common case.
func (r *Receiver) runAckTicker() {
	ticker := time.NewTicker(r.cfg.AckEmitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.HaltCh():
			return
		case <-ticker.C:
			for _, rec := range r.store.active() {
				if !rec.completion.Fired() {
					r.emitAck(rec)
				}
			}
		}
	}
}

// ackWindowBits is the largest bitmap span one COMM_PACKET can carry:
// MaxPayloadSize bytes' worth of bits.
const ackWindowBits = wire.MaxPayloadSize * 8

// emitAck sends the received bitmap as one or more COMM_PACKETs,
// chunked into ackWindowBits-wide windows so transmissions longer than
// one payload's worth of packets still get a complete ACK.
func (r *Receiver) emitAck(rec *receiverRecord) {
	for first := uint32(0); first < rec.nPackets; first += ackWindowBits {
		n := rec.nPackets - first
		if n > ackWindowBits {
			n = ackWindowBits
		}
		window := rec.receivedBitmap.Window(first, n)
		pkt, err := wire.NewCommPacket(rec.id, first, n, window)
		if err != nil {
			r.log.Error("failed to build comm packet", "err", err)
			continue
		}
		_ = r.net.SendPacket(pkt, netsim.RoleReceiver)
	}
}
