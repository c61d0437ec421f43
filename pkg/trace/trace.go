// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package trace implements an off-critical-path diagnostic ledger: a
// durable record of every transmission the receiver engine has finished
// or abandoned, for post-hoc debugging of reorder/drop/duplicate
// behavior. Nothing in the engines blocks on it; a failing write here
// never fails a transmission.
package trace

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("transmissions")

// Outcome classifies how a transmission record left the receiver.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
)

// Entry is one ledger row, CBOR-encoded on disk.
type Entry struct {
	TransmissionID uint32    `cbor:"id"`
	Outcome        Outcome   `cbor:"outcome"`
	ByteLength     int       `cbor:"byte_length"`
	PacketCount    uint32    `cbor:"packet_count"`
	RecordedAt     time.Time `cbor:"recorded_at"`
}

// Ledger is a bbolt-backed append log of Entry values, keyed by an
// internal monotonically increasing sequence so repeated ids (a
// transmission id reused after a prior one completed) each get their
// own row instead of overwriting.
type Ledger struct {
	db *bolt.DB
}

// Open creates or opens the ledger file at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying file handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends an entry to the ledger. Safe to call from multiple
// goroutines.
func (l *Ledger) Record(e Entry) error {
	payload, err := cbor.Marshal(e)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
}

// All returns every recorded entry, oldest first.
func (l *Ledger) All() ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := cbor.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		key[i] = byte(seq)
		seq >>= 8
	}
	return key
}
