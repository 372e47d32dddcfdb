// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ CORE-PINNED PRODUCER LOOP
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: voltscope
// Component: Dedicated Core Sampling Context
//
// Description:
//   Runs the producer side of the ring on its own OS thread, bound to one CPU core, so the
//   sampling cadence is not disturbed by the goroutines serving the network. The loop never
//   parks: it runs one step per iteration until the stop flag is raised.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package ring

import (
	"runtime"
	"sync/atomic"

	"voltscope/debug"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PINNED PRODUCER
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// PinnedProducer launches a goroutine bound to a CPU core that calls step
// until stop becomes non-zero, then closes done.
//
// PARAMETERS:
//   - core: Target CPU core index (negative leaves scheduling to the OS)
//   - stop: Shutdown flag (non-zero ends the loop)
//   - step: One iteration of the producer (sample, decimate, append)
//   - done: Closed when the goroutine exits
//
// THREADING MODEL:
//
//	The goroutine locks to an OS thread before setting CPU affinity, so the
//	affinity applies to the thread that keeps running step.
func PinnedProducer(core int, stop *atomic.Uint32, step func(), done chan<- struct{}) {
	go func() {
		runtime.LockOSThread()
		if err := setAffinity(core); err != nil {
			debug.DropError("PIN", err)
		}

		defer func() {
			runtime.UnlockOSThread()
			close(done)
		}()

		for stop.Load() == 0 {
			step()
		}
	}()
}

// Relax is a spin-wait hint for busy loops on either side of the ring.
//
//go:nosplit
//go:inline
func Relax() {
	cpuRelax()
}
