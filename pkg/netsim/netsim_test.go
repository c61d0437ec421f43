// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package netsim

import (
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/strandnet/simnet/pkg/wire"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LatencyMs = 2
	cfg.NetRetryMs = 2
	cfg.PRNGSeed = 1
	cfg.EnableSerializationDelay = false
	return cfg
}

func TestSendReceiveAcrossPipe(t *testing.T) {
	ns := CreateNetworkLayer(testConfig(), log.Default())
	defer ns.FreeNetworkLayer()

	pkt, err := wire.NewDataPacket(1, 0, 1, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, ns.SendPacket(pkt, RoleSender))

	got, err := ns.ReceivePacket(RoleReceiver, time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.TransmissionID)
	require.Equal(t, "payload", string(got.Payload))
}

func TestReceiveTimesOutWithNoTraffic(t *testing.T) {
	ns := CreateNetworkLayer(testConfig(), log.Default())
	defer ns.FreeNetworkLayer()

	_, err := ns.ReceivePacket(RoleReceiver, 20*time.Millisecond)
	require.ErrorIs(t, err, errTimeout)
}

func TestDropRateEventuallyDropsSome(t *testing.T) {
	cfg := testConfig()
	cfg.DropRatePct = 100
	ns := CreateNetworkLayer(cfg, log.Default())
	defer ns.FreeNetworkLayer()

	pkt, err := wire.NewDataPacket(1, 0, 1, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, ns.SendPacket(pkt, RoleSender))

	_, err = ns.ReceivePacket(RoleReceiver, 100*time.Millisecond)
	require.ErrorIs(t, err, errTimeout, "100%% drop rate must drop the packet")
}

func TestReverseDirectionCarriesCommPackets(t *testing.T) {
	ns := CreateNetworkLayer(testConfig(), log.Default())
	defer ns.FreeNetworkLayer()

	pkt, err := wire.NewCommPacket(9, 0, 8, []byte{0xff})
	require.NoError(t, err)
	require.NoError(t, ns.SendPacket(pkt, RoleReceiver))

	got, err := ns.ReceivePacket(RoleSender, time.Second)
	require.NoError(t, err)
	require.Equal(t, wire.Comm, got.PacketType)
	require.EqualValues(t, 9, got.TransmissionID)
}
