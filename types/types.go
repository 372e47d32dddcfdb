package types

import "unsafe"

// ============================================================================
// OSCILLOSCOPE SAMPLE - FIXED-LAYOUT WIRE RECORD
// ============================================================================

// Sample is one captured point of the waveform.
// The layout is part of the wire format: the browser reinterprets every
// binary frame as a Float64Array of (voltage, second) pairs, so the struct
// must stay two float64 fields with no padding and no pointers.
//
// Memory layout (16 bytes):
//   - Voltage: bytes 0-7, measured voltage
//   - Second:  bytes 8-15, capture time in seconds since the source started
type Sample struct {
	// Voltage is the measured value in volts.
	Voltage float64

	// Second is the capture timestamp in seconds.
	Second float64
}

// SampleSize is the byte size of one Sample on the wire.
const SampleSize = int(unsafe.Sizeof(Sample{}))

// ============================================================================
// ZERO-COPY VIEWS
// ============================================================================

// AsBytes reinterprets samples as raw bytes in native byte order.
// The returned slice aliases the samples; it is valid as long as they are.
//
//go:nosplit
//go:inline
func AsBytes(samples []Sample) []byte {
	if len(samples) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), len(samples)*SampleSize)
}

// FromBytes reinterprets raw bytes as samples without copying.
// Trailing bytes that do not form a whole sample are ignored. The data is
// copied into a fresh slice when b is not 8-byte aligned, since float64
// loads from unaligned addresses are not portable.
func FromBytes(b []byte) []Sample {
	n := len(b) / SampleSize
	if n == 0 {
		return nil
	}
	if uintptr(unsafe.Pointer(&b[0]))%unsafe.Alignof(float64(0)) != 0 {
		out := make([]Sample, n)
		copy(AsBytes(out), b[:n*SampleSize])
		return out
	}
	return unsafe.Slice((*Sample)(unsafe.Pointer(&b[0])), n)
}
