// relax_stub.go - no-op cpuRelax for builds without cgo or without a spin hint
//
// Covers RISC-V, MIPS, WASM, CGO_ENABLED=0 and the noasm tag.

//go:build !(amd64 || arm64) || !cgo || noasm

package ring

//go:nosplit
//go:inline
func cpuRelax() {}
