// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package ringbuf implements a lock-free, variable-capacity packet
// buffer: a fixed-size metadata ring whose slots are claimed and
// released by CAS, paired with a circular byte arena carved out by a
// producer-follows-producer allocator. It is the shared substrate for
// NIC and wire buffers in pkg/netsim.
//
// The cursor/atomic style generalizes a single-producer/single-consumer
// design (atomic monotonic cursors, cache-line padding to avoid false
// sharing) to a multi-producer/multi-consumer, CAS-per-slot protocol,
// since packets vary in size and producers/consumers are not a single
// fixed goroutine each.
package ringbuf

import (
	"sync/atomic"
	"time"
)

// status values for a metadata slot.
type status uint32

const (
	statusEmpty status = iota
	statusReserved
	statusWriting
	statusReady
	statusReading
)

// maxSpinAttempts bounds the spin while waiting for the previous
// producer to publish its slot size.
const maxSpinAttempts = 20

// slot is a single metadata ring entry. status is manipulated only by
// CAS; the other fields are only meaningful once status has advanced
// past statusReserved (starting offset / size) or past statusWriting
// (arrival time, set by callers that need it, e.g. the wire buffer).
type slot struct {
	status        uint32 // atomic, one of the status consts
	startingOffset int64
	packetSize     int64
	arrivalTimeMs  int64 // atomic
	_              [24]byte // pad to discourage false sharing between slots
}

// Slot is the handle returned by Reserve/TryTake: an index into the
// ring plus a view into the shared data arena for the claimed region.
type Slot struct {
	index int
	ring  *Ring
}

// Ring is a thread-safe, variable-size packet queue: N metadata slots
// circling a data arena of C bytes.
type Ring struct {
	meta []slot
	data []byte

	writeCursor int64 // atomic
	readCursor  int64 // atomic

	n int64
	c int64

	// signal is closed and replaced whenever a Publish or Release
	// happens, so TryTake-in-a-loop callers (pkg/netsim) can sleep
	// efficiently instead of busy-polling. See WaitChan.
	signal atomic.Value // chan struct{}
}

// ErrFull is returned by Reserve when the ring cannot accept a packet
// of the requested size right now (metadata ring full, or the data
// arena has no free contiguous region of the required size).
type ErrFull struct{}

func (ErrFull) Error() string { return "ringbuf: full" }

// ErrEmpty is returned by TryTake when there is no READY slot.
type ErrEmpty struct{}

func (ErrEmpty) Error() string { return "ringbuf: empty" }

// New creates a Ring with nSlots metadata slots over a dataBytes-sized
// arena.
func New(nSlots int, dataBytes int) *Ring {
	r := &Ring{
		meta: make([]slot, nSlots),
		data: make([]byte, dataBytes),
		n:    int64(nSlots),
		c:    int64(dataBytes),
	}
	r.signal.Store(make(chan struct{}))
	return r
}

func (r *Ring) wake() {
	ch := make(chan struct{})
	old := r.signal.Swap(ch).(chan struct{})
	close(old)
}

// WaitChan returns a channel that is closed the next time any slot is
// published or released, for use in a select alongside a timeout.
func (r *Ring) WaitChan() <-chan struct{} {
	return r.signal.Load().(chan struct{})
}

// Reserve claims a metadata slot and a packetSize-byte region of the
// data arena.
func (r *Ring) Reserve(packetSize int) (Slot, error) {
	if int64(packetSize) > r.c {
		return Slot{}, ErrFull{}
	}

	for {
		wc := atomic.LoadInt64(&r.writeCursor)
		rc := atomic.LoadInt64(&r.readCursor)
		if wc-rc >= r.n {
			return Slot{}, ErrFull{}
		}

		idx := int(wc % r.n)
		if !atomic.CompareAndSwapUint32(&r.meta[idx].status, uint32(statusEmpty), uint32(statusReserved)) {
			// Another producer claimed this slot (or it is not yet
			// free); re-read cursors and retry.
			continue
		}

		// Claim the byte region before committing writeCursor. If the
		// region claim is rejected, the slot reverts to EMPTY and
		// writeCursor never moved past it, so the in-order consumer in
		// TryTake can never be stranded on a hole it can't advance past.
		start, ok := r.claimRegion(idx, wc, packetSize)
		if !ok {
			atomic.StoreUint32(&r.meta[idx].status, uint32(statusEmpty))
			return Slot{}, ErrFull{}
		}

		if !atomic.CompareAndSwapInt64(&r.writeCursor, wc, wc+1) {
			// The status CAS above already guarantees this goroutine is
			// the sole claimant of slot idx for this wc, so this should
			// never fail in practice; treat it defensively as a lost
			// race and retry rather than assume it can't happen.
			atomic.StoreUint32(&r.meta[idx].status, uint32(statusEmpty))
			continue
		}

		r.meta[idx].startingOffset = start
		r.meta[idx].packetSize = int64(packetSize)
		atomic.StoreUint32(&r.meta[idx].status, uint32(statusWriting))
		return Slot{index: idx, ring: r}, nil
	}
}

// claimRegion computes this slot's byte range from the previous
// producer's published end, wrapping once if needed, and rejects the
// claim if it would collide with the current reader's slot.
func (r *Ring) claimRegion(idx int, wc int64, packetSize int) (int64, bool) {
	var prevStart, prevSize int64
	if wc > 0 {
		prevIdx := int((wc - 1) % r.n)
		prevStatus := status(atomic.LoadUint32(&r.meta[prevIdx].status))
		spins := 0
		for prevStatus == statusReserved && spins < maxSpinAttempts {
			time.Sleep(time.Microsecond)
			prevStatus = status(atomic.LoadUint32(&r.meta[prevIdx].status))
			spins++
		}
		if prevStatus == statusReserved {
			// Previous producer hasn't published its size yet; treat
			// as FULL.
			return 0, false
		}
		prevStart = r.meta[prevIdx].startingOffset
		prevSize = r.meta[prevIdx].packetSize
	}

	candidate := prevStart + prevSize
	if candidate+int64(packetSize) > r.c {
		candidate = 0
	}

	rc := atomic.LoadInt64(&r.readCursor)
	if rc < wc {
		readIdx := int(rc % r.n)
		readStatus := status(atomic.LoadUint32(&r.meta[readIdx].status))
		if readStatus == statusWriting || readStatus == statusReady || readStatus == statusReading {
			readStart := r.meta[readIdx].startingOffset
			readSize := r.meta[readIdx].packetSize
			if regionsOverlap(candidate, int64(packetSize), readStart, readSize, r.c) {
				return 0, false
			}
		}
	}

	return candidate, true
}

func regionsOverlap(aStart, aSize, bStart, bSize, arenaSize int64) bool {
	aEnd := aStart + aSize
	bEnd := bStart + bSize
	if aEnd <= arenaSize && bEnd <= arenaSize {
		return aStart < bEnd && bStart < aEnd
	}
	// One of the regions wraps; fall back to a conservative check that
	// treats both halves of a wrapped region as occupied.
	return true
}

// Data returns the byte region the caller should write the packet's
// bytes into after Reserve and before Publish.
func (s Slot) Data() []byte {
	m := &s.ring.meta[s.index]
	start := m.startingOffset
	size := m.packetSize
	if start+size <= s.ring.c {
		return s.ring.data[start : start+size]
	}
	// A reserved region never actually spans the wrap point today
	// (claimRegion always rewinds to 0 first), but guard it anyway.
	return s.ring.data[start:s.ring.c]
}

// SetArrivalTime stamps the slot's arrival time (used by wire buffers).
func (s Slot) SetArrivalTime(t time.Time) {
	atomic.StoreInt64(&s.ring.meta[s.index].arrivalTimeMs, t.UnixMilli())
}

// ArrivalTimeMs returns the previously stamped arrival time.
func (s Slot) ArrivalTimeMs() int64 {
	return atomic.LoadInt64(&s.ring.meta[s.index].arrivalTimeMs)
}

// Publish transitions a WRITING slot to READY, making it visible to
// consumers. The write to status uses a Store, which combined with the
// CAS-based TryTake acquire below gives consumers a happens-before
// relationship with every byte written into Data() beforehand.
func (s Slot) Publish() {
	atomic.StoreUint32(&s.ring.meta[s.index].status, uint32(statusReady))
	s.ring.wake()
}

// Abort releases a reserved/writing slot without publishing it (used
// when a caller decides not to enqueue the packet after all).
func (s Slot) Abort() {
	atomic.StoreUint32(&s.ring.meta[s.index].status, uint32(statusEmpty))
}

// TryTake claims the oldest READY slot for reading.
func (r *Ring) TryTake() (Slot, error) {
	for {
		rc := atomic.LoadInt64(&r.readCursor)
		wc := atomic.LoadInt64(&r.writeCursor)
		if rc == wc {
			return Slot{}, ErrEmpty{}
		}

		idx := int(rc % r.n)
		if !atomic.CompareAndSwapUint32(&r.meta[idx].status, uint32(statusReady), uint32(statusReading)) {
			return Slot{}, ErrEmpty{}
		}
		return Slot{index: idx, ring: r}, nil
	}
}

// Release frees a READING slot, advancing the read cursor and making
// its data-arena region available to future producers.
func (s Slot) Release() {
	r := s.ring
	for {
		rc := atomic.LoadInt64(&r.readCursor)
		if atomic.CompareAndSwapInt64(&r.readCursor, rc, rc+1) {
			break
		}
	}
	atomic.StoreUint32(&r.meta[s.index].status, uint32(statusEmpty))
	r.wake()
}

// Len reports the number of slots currently occupied (RESERVED through
// READING), an approximation under concurrent access.
func (r *Ring) Len() int {
	wc := atomic.LoadInt64(&r.writeCursor)
	rc := atomic.LoadInt64(&r.readCursor)
	return int(wc - rc)
}

// Cap reports the metadata ring's slot capacity.
func (r *Ring) Cap() int { return int(r.n) }
