// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package ringbuf

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservePublishTakeReleaseRoundTrip(t *testing.T) {
	r := New(8, 4096)

	s, err := r.Reserve(100)
	require.NoError(t, err)
	copy(s.Data(), []byte("hello"))
	s.Publish()

	taken, err := r.TryTake()
	require.NoError(t, err)
	require.Equal(t, "hello", string(taken.Data()[:5]))
	taken.Release()

	_, err = r.TryTake()
	require.ErrorAs(t, err, &ErrEmpty{})
}

func TestFullWhenMetadataRingExhausted(t *testing.T) {
	r := New(2, 4096)
	_, err := r.Reserve(10)
	require.NoError(t, err)
	_, err = r.Reserve(10)
	require.NoError(t, err)
	_, err = r.Reserve(10)
	require.ErrorAs(t, err, &ErrFull{})
}

func TestFullWhenDataArenaExhausted(t *testing.T) {
	r := New(4, 100)
	_, err := r.Reserve(90)
	require.NoError(t, err)
	_, err = r.Reserve(90)
	require.ErrorAs(t, err, &ErrFull{})
}

// TestRandomProducerConsumerWorkload checks that reserve+publish /
// take+release preserves the written multiset as the read multiset
// when the ring never rejects.
func TestRandomProducerConsumerWorkload(t *testing.T) {
	r := New(16, 64*1024)

	const nProducers = 6
	const itemsPerProducer = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	written := make(map[string]int)
	read := make(map[string]int)
	rejected := make(map[string]int)

	for p := 0; p < nProducers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(p) + 1))
			for i := 0; i < itemsPerProducer; i++ {
				label := fmt.Sprintf("p%d-%d", p, i)
				size := 16 + rng.Intn(48)
				slot, err := r.Reserve(size)
				if err != nil {
					mu.Lock()
					rejected[label]++
					mu.Unlock()
					continue
				}
				data := slot.Data()
				copy(data, []byte(label))
				for j := len(label); j < len(data); j++ {
					data[j] = 0
				}
				slot.Publish()
				mu.Lock()
				written[label]++
				mu.Unlock()
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var consumerWg sync.WaitGroup
	stop := make(chan struct{})
	for c := 0; c < 3; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				slot, err := r.TryTake()
				if err != nil {
					select {
					case <-stop:
						return
					default:
						continue
					}
				}
				raw := slot.Data()
				end := 0
				for end < len(raw) && raw[end] != 0 {
					end++
				}
				label := string(raw[:end])
				slot.Release()
				mu.Lock()
				read[label]++
				mu.Unlock()
			}
		}()
	}

	<-done
	// Drain whatever remains now that producers are finished.
	for r.Len() > 0 {
		slot, err := r.TryTake()
		if err != nil {
			continue
		}
		raw := slot.Data()
		end := 0
		for end < len(raw) && raw[end] != 0 {
			end++
		}
		label := string(raw[:end])
		slot.Release()
		mu.Lock()
		read[label]++
		mu.Unlock()
	}
	close(stop)
	consumerWg.Wait()

	for label, count := range written {
		require.Equal(t, count, read[label], "label %s: written %d times, read %d times", label, count, read[label])
	}
	for label := range rejected {
		_, wasWritten := written[label]
		require.False(t, wasWritten, "label %s both rejected and written", label)
	}
}
