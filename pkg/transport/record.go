// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport implements the sender and receiver engines:
// packetization, ACK tracking via atomic bitmaps, retransmission,
// reassembly, and the public SendTransmission / ReceiveTransmission
// contract.
package transport

import (
	"sync/atomic"

	"github.com/strandnet/simnet/internal/event"
	"github.com/strandnet/simnet/pkg/bitmap"
	"github.com/strandnet/simnet/pkg/wire"
)

// senderRecord tracks one in-flight outbound transmission, destroyed
// before SendTransmission returns.
type senderRecord struct {
	id         uint32
	data       []byte
	nPackets   uint32
	ackBitmap  *bitmap.Atomic
	completion *event.Event

	// attempted tracks which indices have been pushed onto the network
	// at least once, so a later push of the same index can be counted
	// as a retransmission rather than an initial send.
	attempted *bitmap.Atomic
}

func newSenderRecord(id uint32, data []byte) *senderRecord {
	n := (uint32(len(data)) + wire.MaxPayloadSize - 1) / wire.MaxPayloadSize
	return &senderRecord{
		id:         id,
		data:       data,
		nPackets:   n,
		ackBitmap:  bitmap.New(n),
		attempted:  bitmap.New(n),
		completion: event.New(),
	}
}

// chunk returns the payload slice for packet index k.
func (r *senderRecord) chunk(k uint32) []byte {
	start := int(k) * wire.MaxPayloadSize
	end := start + wire.MaxPayloadSize
	if end > len(r.data) {
		end = len(r.data)
	}
	return r.data[start:end]
}

// receiverRecord tracks one in-flight inbound transmission: lazily
// created on the first DATA_PACKET observed for a transmission ID,
// persists until a consumer claims it.
type receiverRecord struct {
	id               uint32
	totalBytes       int // never set; totalLength derives the byte length from lastChunkLen
	nPackets         uint32
	dataBuffer       []byte
	receivedBitmap   *bitmap.Atomic
	packetsRemaining int64 // atomic
	completion       *event.Event
	lastChunkLen     int32 // atomic; offset plus length of a short final chunk (the total byte length), 0 until observed
	packetsSinceAck  int32 // atomic; reset whenever the receiver emits a COMM_PACKET
	claimed          int32 // atomic; CAS guard so exactly one consumer extracts a completed record
}

func newReceiverRecord(id uint32, nPackets uint32) *receiverRecord {
	return &receiverRecord{
		id:               id,
		nPackets:         nPackets,
		dataBuffer:       make([]byte, int(nPackets)*wire.MaxPayloadSize),
		receivedBitmap:   bitmap.New(nPackets),
		packetsRemaining: int64(nPackets),
		completion:       event.New(),
	}
}

// storeChunk writes a data packet's payload into the buffer at index k.
// isNew reports whether index k had not been seen before; justCompleted
// reports whether this call was the one that brought the record to
// completion (so the caller can announce it exactly once).
func (r *receiverRecord) storeChunk(k uint32, payload []byte) (isNew bool, justCompleted bool) {
	if r.receivedBitmap.TestAndSet(k) {
		return false, false // duplicate, discard
	}
	start := int(k) * wire.MaxPayloadSize
	copy(r.dataBuffer[start:], payload)
	if len(payload) < wire.MaxPayloadSize {
		atomic.StoreInt32(&r.lastChunkLen, int32(start+len(payload)))
	}
	if atomic.AddInt64(&r.packetsRemaining, -1) == 0 {
		r.completion.Fire()
		return true, true
	}
	return true, false
}

// claim reports whether this call is the first to claim a completed
// record for extraction; subsequent calls return false.
func (r *receiverRecord) claim() bool {
	return atomic.CompareAndSwapInt32(&r.claimed, 0, 1)
}

// totalLength returns the reassembled transmission's byte length. If
// the last packet (the one that may be short) hasn't arrived yet, this
// is only meaningful once the record completes.
func (r *receiverRecord) totalLength() int {
	if n := atomic.LoadInt32(&r.lastChunkLen); n > 0 {
		return int(n)
	}
	return len(r.dataBuffer)
}
