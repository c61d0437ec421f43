// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"bytes"
	"io"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/strandnet/simnet/pkg/netsim"
	"github.com/strandnet/simnet/pkg/trace"
	"github.com/strandnet/simnet/pkg/wire"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Prefix: "transport_test"})
}

func newTestEngine(t *testing.T, cfg netsim.Config) *Engine {
	t.Helper()
	net := netsim.CreateNetworkLayer(cfg, testLogger())
	t.Cleanup(net.FreeNetworkLayer)

	tcfg := DefaultConfig(cfg.LatencyDuration())
	tcfg.SendBudget = 10 * time.Second
	eng := CreateTransportLayer(net, tcfg, testLogger(), nil)
	t.Cleanup(eng.FreeTransportLayer)
	return eng
}

func randomPayload(n int) []byte {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return buf
}

// TestRoundTripIdentitySmallPayload checks that a payload under one
// packet's worth of bytes survives the round trip unchanged.
func TestRoundTripIdentitySmallPayload(t *testing.T) {
	cfg := netsim.DefaultConfig()
	eng := newTestEngine(t, cfg)

	payload := randomPayload(200)
	var sendErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sendErr = eng.SendTransmission(1, payload)
	}()

	got, err := eng.ReceiveTransmission(1, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	wg.Wait()
	require.NoError(t, sendErr)
}

// TestPacketizationBoundary checks that a payload one byte over the
// packet size (a full packet plus a one-byte packet) reassembles
// correctly.
func TestPacketizationBoundary(t *testing.T) {
	cfg := netsim.DefaultConfig()
	eng := newTestEngine(t, cfg)

	payload := randomPayload(1025)
	go func() {
		_ = eng.SendTransmission(2, payload)
	}()

	got, err := eng.ReceiveTransmission(2, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestHighLossLargeTransmission checks that a 64KB transmission
// completes correctly even with a quarter of all packets dropped.
func TestHighLossLargeTransmission(t *testing.T) {
	cfg := netsim.DefaultConfig()
	cfg.DropRatePct = 25
	cfg.PRNGSeed = 42
	eng := newTestEngine(t, cfg)

	payload := randomPayload(64 * 1024)
	go func() {
		_ = eng.SendTransmission(3, payload)
	}()

	got, err := eng.ReceiveTransmission(3, 10*time.Second)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

// TestConcurrentTransmissionsDoNotCrossWires checks that two
// transmissions in flight at once (ids 7 and 42) each arrive intact
// and distinguishable by id.
func TestConcurrentTransmissionsDoNotCrossWires(t *testing.T) {
	cfg := netsim.DefaultConfig()
	eng := newTestEngine(t, cfg)

	payloadA := randomPayload(3000)
	payloadB := randomPayload(5000)

	go func() { _ = eng.SendTransmission(7, payloadA) }()
	go func() { _ = eng.SendTransmission(42, payloadB) }()

	var wg sync.WaitGroup
	results := make(map[uint32][]byte)
	var mu sync.Mutex
	wg.Add(2)
	go func() {
		defer wg.Done()
		got, err := eng.ReceiveTransmission(7, 10*time.Second)
		require.NoError(t, err)
		mu.Lock()
		results[7] = got
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		got, err := eng.ReceiveTransmission(42, 10*time.Second)
		require.NoError(t, err)
		mu.Lock()
		results[42] = got
		mu.Unlock()
	}()
	wg.Wait()

	require.Equal(t, payloadA, results[7])
	require.Equal(t, payloadB, results[42])
}

// TestReceiveTimesOutWithNoSender checks that a receive call with no
// matching transmission ever sent returns ErrTimeout rather than
// blocking forever.
func TestReceiveTimesOutWithNoSender(t *testing.T) {
	cfg := netsim.DefaultConfig()
	eng := newTestEngine(t, cfg)

	_, err := eng.ReceiveTransmission(99, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

// TestSendReturnsShutdownWhenNetworkTornDown checks that tearing down
// the network layer while a send is in flight causes it to return
// ErrShutdown rather than hang.
func TestSendReturnsShutdownWhenNetworkTornDown(t *testing.T) {
	cfg := netsim.DefaultConfig()
	cfg.DropRatePct = 100 // guarantee the transmission never completes on its own

	net := netsim.CreateNetworkLayer(cfg, testLogger())
	tcfg := DefaultConfig(cfg.LatencyDuration())
	tcfg.SendBudget = 30 * time.Second
	eng := CreateTransportLayer(net, tcfg, testLogger(), nil)
	defer eng.FreeTransportLayer()

	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.SendTransmission(5, randomPayload(500))
	}()

	time.Sleep(50 * time.Millisecond)
	net.FreeNetworkLayer()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("SendTransmission did not observe shutdown")
	}
}

func TestWildcardReceiveReturnsWhicheverCompletesFirst(t *testing.T) {
	cfg := netsim.DefaultConfig()
	eng := newTestEngine(t, cfg)

	payload := randomPayload(128)
	go func() { _ = eng.SendTransmission(11, payload) }()

	got, err := eng.ReceiveTransmission(0, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestReceiverTinyCacheStillCompletes checks that a transmission with
// many more packets than the inbound cache's capacity still reassembles
// correctly: the drainer must back-pressure against a full cache
// without dropping or corrupting packets.
func TestReceiverTinyCacheStillCompletes(t *testing.T) {
	cfg := netsim.DefaultConfig()
	net := netsim.CreateNetworkLayer(cfg, testLogger())
	t.Cleanup(net.FreeNetworkLayer)

	tcfg := DefaultConfig(cfg.LatencyDuration())
	tcfg.SendBudget = 10 * time.Second
	tcfg.ReceiveCacheSize = 2
	eng := CreateTransportLayer(net, tcfg, testLogger(), nil)
	t.Cleanup(eng.FreeTransportLayer)

	payload := randomPayload(32 * 1024) // 32 packets, 16x the cache capacity
	go func() { _ = eng.SendTransmission(13, payload) }()

	got, err := eng.ReceiveTransmission(13, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestStopRecordsAbandonedTransmissions(t *testing.T) {
	cfg := netsim.DefaultConfig()
	net := netsim.CreateNetworkLayer(cfg, testLogger())
	defer net.FreeNetworkLayer()

	ledger, err := trace.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer ledger.Close()

	tcfg := DefaultConfig(cfg.LatencyDuration())
	tcfg.Ledger = ledger
	recv := NewReceiver(net, tcfg, testLogger(), nil)

	// Inject one chunk of a three-packet transmission; the other two
	// never arrive, so the record stays incomplete.
	pkt, err := wire.NewDataPacket(99, 0, 3, []byte("partial"))
	require.NoError(t, err)
	require.NoError(t, net.SendPacket(pkt, netsim.RoleSender))

	require.Eventually(t, func() bool {
		_, ok := recv.store.get(99)
		return ok
	}, time.Second, 5*time.Millisecond)

	recv.Stop()

	entries, err := ledger.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint32(99), entries[0].TransmissionID)
	require.Equal(t, trace.OutcomeAbandoned, entries[0].Outcome)
}

func TestSendBusyOnDuplicateInFlightID(t *testing.T) {
	cfg := netsim.DefaultConfig()
	cfg.DropRatePct = 100
	net := netsim.CreateNetworkLayer(cfg, testLogger())
	defer net.FreeNetworkLayer()
	tcfg := DefaultConfig(cfg.LatencyDuration())
	tcfg.SendBudget = 2 * time.Second
	sender := NewSender(net, tcfg, testLogger(), nil)
	defer sender.Stop()

	go func() { _ = sender.SendTransmission(77, randomPayload(100)) }()
	time.Sleep(20 * time.Millisecond)

	err := sender.SendTransmission(77, randomPayload(100))
	require.ErrorIs(t, err, ErrBusy)
}
