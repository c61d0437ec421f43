// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package netsim

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/strandnet/simnet/internal/engworker"
	"github.com/strandnet/simnet/internal/event"
	"github.com/strandnet/simnet/pkg/ringbuf"
	"github.com/strandnet/simnet/pkg/wire"
)

// Pipe is one directional packet path: an outbound NIC that senders
// push into, a wire buffer enforcing propagation delay, and an inbound
// NIC that receivers drain.
type Pipe struct {
	engworker.Worker

	name   string
	cfg    Config
	log    *log.Logger
	pert   *perturber
	shutdown *event.Event

	OutboundNIC *ringbuf.Ring
	Wire        *ringbuf.Ring
	InboundNIC  *ringbuf.Ring
}

// NewPipe constructs a directional pipe and starts its two worker
// threads (NIC->wire, wire->NIC).
func NewPipe(name string, cfg Config, shutdown *event.Event, logger *log.Logger) *Pipe {
	p := &Pipe{
		name:        name,
		cfg:         cfg,
		log:         logger.With("pipe", name),
		pert:        newPerturber(cfg),
		shutdown:    shutdown,
		OutboundNIC: ringbuf.New(cfg.NICBufferCapacity, cfg.NICBufferCapacity*wire.MaxPacketSize),
		Wire:        ringbuf.New(cfg.NICBufferCapacity*4, cfg.NetworkBufferCapacityBytes),
		InboundNIC:  ringbuf.New(cfg.NICBufferCapacity, cfg.NICBufferCapacity*wire.MaxPacketSize),
	}
	p.Go(p.runNICToWire)
	p.Go(p.runWireToNIC)
	return p
}

// Send enqueues a packet onto this pipe's outbound NIC, spin-retrying
// with a yield while it is FULL, bounded by the shutdown signal.
func (p *Pipe) Send(pkt *wire.Packet) error {
	raw, err := pkt.MarshalBinary()
	if err != nil {
		return err
	}

	spins := 0
	for {
		slot, err := p.OutboundNIC.Reserve(len(raw))
		if err == nil {
			copy(slot.Data(), raw)
			slot.Publish()
			return nil
		}

		select {
		case <-p.shutdown.C():
			return errShutdown
		default:
		}

		spins++
		if spins < 64 {
			goYield()
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// Receive blocks until a packet is available on this pipe's inbound
// NIC, the timeout elapses, or shutdown fires.
func (p *Pipe) Receive(timeout time.Duration) (*wire.Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		slot, err := p.InboundNIC.TryTake()
		if err == nil {
			pkt, decodeErr := wire.UnmarshalBinary(slot.Data())
			if decodeErr == nil {
				pkt = pkt.Clone()
			}
			slot.Release()
			if decodeErr != nil {
				continue // corrupted packet with a broken header; drop silently
			}
			return pkt, nil
		}

		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return nil, errTimeout
		}

		wait := remaining
		if timeout <= 0 || wait > p.cfg.NetRetryDuration() {
			wait = p.cfg.NetRetryDuration()
		}

		select {
		case <-p.InboundNIC.WaitChan():
		case <-p.shutdown.C():
			return nil, errShutdown
		case <-time.After(wait):
		}
	}
}

func (p *Pipe) runNICToWire() {
	for {
		select {
		case <-p.HaltCh():
			return
		default:
		}

		slot, err := p.OutboundNIC.TryTake()
		if err != nil {
			select {
			case <-p.HaltCh():
				return
			case <-p.OutboundNIC.WaitChan():
			case <-time.After(p.cfg.NetRetryDuration()):
			}
			continue
		}

		raw := append([]byte(nil), slot.Data()...)
		slot.Release()

		p.moveToWire(raw)
	}
}

func (p *Pipe) moveToWire(raw []byte) {
	if p.cfg.EnableSerializationDelay && p.cfg.BandwidthBPS > 0 {
		bits := len(raw) * 8
		stall := time.Duration(float64(bits) / float64(p.cfg.BandwidthBPS) * float64(time.Second))
		time.Sleep(stall)
	}

	wslot, err := p.Wire.Reserve(len(raw))
	if err != nil {
		p.log.Debug("wire buffer full, dropping packet on NIC->wire edge")
		return
	}
	copy(wslot.Data(), raw)
	wslot.SetArrivalTime(time.Now().Add(p.cfg.LatencyDuration()))
	wslot.Publish()
}

func (p *Pipe) runWireToNIC() {
	for {
		select {
		case <-p.HaltCh():
			return
		default:
		}

		moved := p.drainDuePackets()
		if moved {
			continue
		}

		wait := p.cfg.NetRetryDuration()
		if next, ok := p.earliestPending(); ok {
			if until := time.Until(next); until > 0 && until < wait {
				wait = until
			}
		}

		select {
		case <-p.HaltCh():
			return
		case <-p.Wire.WaitChan():
		case <-time.After(wait):
		}
	}
}

// drainDuePackets scans the wire ring for packets whose arrival time
// has elapsed and forwards them to the inbound NIC, applying the
// configured perturbation. It reports whether at least one packet was
// processed, so the caller can avoid sleeping when there is more work.
func (p *Pipe) drainDuePackets() bool {
	processedAny := false
	for i := 0; i < p.cfg.NICBufferCapacity*4; i++ {
		slot, err := p.Wire.TryTake()
		if err != nil {
			return processedAny
		}
		if slot.ArrivalTimeMs() > time.Now().UnixMilli() {
			// Not due yet; release the read claim by re-publishing is
			// not available on this primitive, so we requeue by
			// copying into a fresh reservation immediately. This keeps
			// ordering best-effort; wire->NIC scan order is not a
			// delivery guarantee.
			p.requeue(slot)
			return processedAny
		}

		raw := append([]byte(nil), slot.Data()...)
		arrival := slot.ArrivalTimeMs()
		slot.Release()
		processedAny = true

		p.forward(raw, arrival)
	}
	return processedAny
}

func (p *Pipe) requeue(slot interface {
	Data() []byte
	ArrivalTimeMs() int64
	Release()
}) {
	raw := append([]byte(nil), slot.Data()...)
	arrival := slot.ArrivalTimeMs()
	slot.Release()

	wslot, err := p.Wire.Reserve(len(raw))
	if err != nil {
		return // arena momentarily contended; the packet is lost, same as any FULL drop
	}
	copy(wslot.Data(), raw)
	wslot.SetArrivalTime(time.UnixMilli(arrival))
	wslot.Publish()
}

func (p *Pipe) forward(raw []byte, arrivalMs int64) {
	pkt, err := wire.UnmarshalBinary(raw)
	if err != nil {
		return
	}

	if p.pert.ShouldDrop() {
		p.log.Debug("perturbation: dropping packet", "txid", pkt.TransmissionID)
		return
	}

	p.deliver(raw, pkt)

	if p.pert.ShouldDuplicate() {
		p.deliver(raw, pkt)
	}
}

func (p *Pipe) deliver(raw []byte, pkt *wire.Packet) {
	corrupted := append([]byte(nil), raw...)
	p.pert.MaybeCorrupt(corrupted[len(corrupted)-len(pkt.Payload):])

	slot, err := p.InboundNIC.Reserve(len(corrupted))
	if err != nil {
		p.log.Debug("inbound NIC full, dropping packet", "txid", pkt.TransmissionID)
		return
	}
	copy(slot.Data(), corrupted)
	slot.Publish()
}

func (p *Pipe) earliestPending() (time.Time, bool) {
	// Best-effort: the ring does not expose a peek-without-claim
	// operation, so the sleep-until-earliest optimization degrades
	// gracefully to the NetRetryMs cap when the ring is busy.
	return time.Time{}, false
}
