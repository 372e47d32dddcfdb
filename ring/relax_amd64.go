// ════════════════════════════════════════════════════════════════════════════════════════════════
// CPU Relaxation - AMD64 Architecture
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: voltscope
// Component: x86-64 Spin-Wait Hint
//
// Description:
//   PAUSE inside the sampler's pacing loop keeps the sibling hyperthread usable while the
//   producer busy-waits for the next sample tick.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build amd64 && cgo && !noasm

package ring

/*
static inline void cpu_pause() {
    __asm__ __volatile__("pause" ::: "memory");
}
*/
import "C"

// cpuRelax emits the x86-64 PAUSE instruction.
//
//go:nosplit
//go:inline
func cpuRelax() {
	C.cpu_pause()
}
