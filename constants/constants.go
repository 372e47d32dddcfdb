// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — compile-time defaults for the capture pipeline
//
// Purpose:
//   - Default sizes, cadences and thresholds used when the config file omits
//     a field, and limits the config validator enforces.
//
// Notes:
//   - Runtime overrides live in package config; nothing here is mutated.
//
// ⚠️ No runtime logic here. All values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import "time"

// ───────────────────────────── Sample Ring ──────────────────────────────

const (
	// BufferCapacity is the number of ring slots. One slot stays empty, so
	// 127 samples can wait for the network side before appends are dropped.
	// At 7 samples per frame that is 18 frames of slack.
	BufferCapacity = 128

	// MinBufferCapacity keeps room for the decimator's two-sample history
	// plus the reserved slot.
	MinBufferCapacity = 3

	// BatchReserve is how many of the newest samples a batch leaves behind.
	// The newest sample may still be coalesced by the decimator.
	BatchReserve = 8
)

// ───────────────────────────── Decimation ───────────────────────────────

const (
	// ToleranceFactor scales the allowed deviation from the straight line
	// between the neighbours of a candidate point. 0 keeps only exactly
	// collinear removals, 1 allows half the voltage span at the midpoint.
	ToleranceFactor = 0.5

	// MinVoltageDifference is the span below which a segment is treated as
	// flat and its interior points are always removable.
	MinVoltageDifference = 0.01

	// Heartbeat is the longest a flat run may go without a committed point,
	// in seconds.
	Heartbeat = 0.25
)

// ───────────────────────────── Sampling ─────────────────────────────────

const (
	// SampleInterval is the producer's pacing between samples.
	SampleInterval = 10 * time.Microsecond

	// SamplerCore is the CPU core the producer is pinned to.
	SamplerCore = 1

	// SawtoothPeriod is the period of the synthetic source in volts-per-second
	// units: voltage = t mod SawtoothPeriod.
	SawtoothPeriod = 2.0

	// SerialBaud is the default baud rate of the serial ADC bridge.
	SerialBaud = 115200
)

// ───────────────────────────── Streaming ────────────────────────────────

const (
	// FrameSamples is the number of samples per WebSocket frame. 7 samples
	// are 112 bytes, which keeps every frame on the one-byte length form.
	FrameSamples = 7

	// MaxFrameSamples is the largest frame_samples the validator accepts
	// (7 × 16 = 112 ≤ 125).
	MaxFrameSamples = 7

	// WriteTimeout bounds a single frame write to the browser.
	WriteTimeout = 30 * time.Second

	// IdlePoll is how long a session sleeps when the ring is cold.
	IdlePoll = 5 * time.Millisecond

	// HotWindow is how long a session keeps yielding instead of sleeping
	// after the last non-empty batch.
	HotWindow = 250 * time.Millisecond

	// MaxClientFrame caps frames read from the browser. Browsers only send
	// control frames on this socket, whose payload is at most 125 bytes.
	MaxClientFrame = 4096
)

// ───────────────────────────── Network ──────────────────────────────────

const (
	// HTTPAddr serves the oscilloscope page and the status endpoint.
	HTTPAddr = ":80"

	// WebSocketAddr serves the sample stream.
	WebSocketAddr = ":43822"

	// WebSocketPath is the upgrade endpoint on the stream listener.
	WebSocketPath = "/ws"

	// ConnectionTimeout bounds reading an HTTP request head.
	ConnectionTimeout = 30 * time.Second
)

// ───────────────────────────── Telemetry ────────────────────────────────

const (
	// TelemetryInterval is the period of the missed-sample report.
	TelemetryInterval = 7 * time.Second

	// MQTTTopic is the default telemetry topic.
	MQTTTopic = "voltscope/telemetry"

	// HeapSoftLimit flags the telemetry snapshot when the Go heap grows past
	// it; the ring never allocates, so growth points at a leak elsewhere.
	HeapSoftLimit = 64 << 20
)
