// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package trace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	ledger, err := Open(path)
	require.NoError(t, err)
	defer ledger.Close()

	entry := Entry{
		TransmissionID: 7,
		Outcome:        OutcomeCompleted,
		ByteLength:     4096,
		PacketCount:    4,
	}
	require.NoError(t, ledger.Record(entry))

	entries, err := ledger.All()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 7, entries[0].TransmissionID)
	require.Equal(t, OutcomeCompleted, entries[0].Outcome)
	require.Equal(t, 4096, entries[0].ByteLength)
}

func TestMultipleEntriesForSameTransmissionIDAreAllKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	ledger, err := Open(path)
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.Record(Entry{TransmissionID: 1, Outcome: OutcomeCompleted}))
	require.NoError(t, ledger.Record(Entry{TransmissionID: 1, Outcome: OutcomeAbandoned}))

	entries, err := ledger.All()
	require.NoError(t, err)
	require.Len(t, entries, 2, "reused transmission ids must each get their own row")
}
