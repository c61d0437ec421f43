// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Command simnetdemo wires a network simulator and one transport engine
// (hosting both the sender and the receiver role) together and
// exchanges a handful of transmissions across it,
// as a smoke test of the packetization/ACK/retransmission path end to
// end with realistic loss and latency.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strandnet/simnet/pkg/netsim"
	"github.com/strandnet/simnet/pkg/trace"
	"github.com/strandnet/simnet/pkg/transport"
)

func main() {
	var (
		dropPct     int
		duplPct     int
		corruptPct  int
		latencyMs   int64
		count       int
		payloadSize int
		tracePath   string
	)

	flag.IntVar(&dropPct, "drop", 5, "packet drop rate percentage")
	flag.IntVar(&duplPct, "duplicate", 2, "packet duplication rate percentage")
	flag.IntVar(&corruptPct, "corrupt", 0, "packet corruption rate percentage")
	flag.Int64Var(&latencyMs, "latency", 20, "simulated round-trip latency in milliseconds")
	flag.IntVar(&count, "count", 5, "number of transmissions to send")
	flag.IntVar(&payloadSize, "size", 4096, "bytes per transmission")
	flag.StringVar(&tracePath, "trace", "", "optional path to a bbolt trace ledger file")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "simnetdemo",
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})

	cfg := netsim.DefaultConfig()
	cfg.DropRatePct = dropPct
	cfg.DuplicateRatePct = duplPct
	cfg.CorruptRatePct = corruptPct
	cfg.LatencyMs = latencyMs

	net := netsim.CreateNetworkLayer(cfg, logger)
	defer net.FreeNetworkLayer()

	tcfg := transport.DefaultConfig(cfg.LatencyDuration())
	reg := prometheus.NewRegistry()

	if tracePath != "" {
		ledger, err := trace.Open(tracePath)
		if err != nil {
			logger.Fatal("failed to open trace ledger", "path", tracePath, "err", err)
		}
		defer ledger.Close()
		tcfg.Ledger = ledger
	}

	sendSide := transport.CreateTransportLayer(net, tcfg, logger, reg)
	defer sendSide.FreeTransportLayer()

	for i := 0; i < count; i++ {
		id := uint32(i + 1)
		payload := make([]byte, payloadSize)
		for j := range payload {
			payload[j] = byte(id) ^ byte(j)
		}

		start := time.Now()
		go func(id uint32, payload []byte) {
			if err := sendSide.SendTransmission(id, payload); err != nil {
				logger.Error("send failed", "id", id, "err", err)
			}
		}(id, payload)

		got, err := sendSide.ReceiveTransmission(id, 10*time.Second)
		if err != nil {
			logger.Error("receive failed", "id", id, "err", err)
			continue
		}
		logger.Info("transmission complete",
			"id", id,
			"bytes", len(got),
			"elapsed", time.Since(start),
		)
	}

	fmt.Println("done")
}
