// ════════════════════════════════════════════════════════════════════════════════════════════════
// CPU Relaxation - ARM64 Architecture
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: voltscope
// Component: ARM64 Spin-Wait Hint
//
// Description:
//   YIELD inside the sampler's pacing loop. Most single-board acquisition hosts are arm64.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build arm64 && cgo && !noasm

package ring

/*
static inline void cpu_yield() {
    __asm__ __volatile__("yield" ::: "memory");
}
*/
import "C"

// cpuRelax emits the ARM64 YIELD instruction.
//
//go:nosplit
//go:inline
func cpuRelax() {
	C.cpu_yield()
}
