// SPDX-FileCopyrightText: © 2026 Simnet Authors
// SPDX-License-Identifier: AGPL-3.0-only

package netsim

import (
	"errors"
	"runtime"
)

var (
	// errShutdown is returned internally when the process-wide shutdown
	// event fires while a caller is blocked on a pipe operation.
	errShutdown = errors.New("netsim: shutdown")
	// errTimeout is returned internally when Receive's deadline elapses
	// with no packet available.
	errTimeout = errors.New("netsim: timeout")
)

// goYield cooperatively yields the processor, used by Send's bounded
// spin-with-yield loop while the outbound NIC ring is full.
func goYield() {
	runtime.Gosched()
}
