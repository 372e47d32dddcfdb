// ============================================================================
// PERIODIC TELEMETRY
// ============================================================================
//
// Every interval the monitor gathers a snapshot of pipeline counters,
// logs it and hands it to the configured sinks (SQLite history, MQTT).
// The newest snapshot is kept for the HTTP status endpoint.
//
// Reported values:
//   - Ring: missed appends (total and since the last report), fill level
//   - Decimator and sampler counters
//   - Delivery counters across sessions
//   - Go heap size, flagged when above the soft limit

package monitor

import (
	"runtime"
	"sync/atomic"
	"time"

	"voltscope/debug"
	"voltscope/decimate"
	"voltscope/sampler"
	"voltscope/stream"
)

// ============================================================================
// SNAPSHOT
// ============================================================================

// Snapshot is one telemetry record.
type Snapshot struct {
	Time time.Time `json:"time" msgpack:"time"`

	Missed      uint64 `json:"missed" msgpack:"missed"`
	MissedDelta uint64 `json:"missed_delta" msgpack:"missed_delta"`
	Entries     int    `json:"entries" msgpack:"entries"`
	Capacity    int    `json:"capacity" msgpack:"capacity"`

	Offered    uint64 `json:"offered" msgpack:"offered"`
	Kept       uint64 `json:"kept" msgpack:"kept"`
	Coalesced  uint64 `json:"coalesced" msgpack:"coalesced"`
	Heartbeats uint64 `json:"heartbeats" msgpack:"heartbeats"`

	Samples      uint64 `json:"samples" msgpack:"samples"`
	SourceErrors uint64 `json:"source_errors" msgpack:"source_errors"`

	Sessions uint64 `json:"sessions" msgpack:"sessions"`
	Active   int64  `json:"active" msgpack:"active"`
	Frames   uint64 `json:"frames" msgpack:"frames"`
	Bytes    uint64 `json:"bytes" msgpack:"bytes"`
	Streamed uint64 `json:"streamed" msgpack:"streamed"`

	HeapAlloc         uint64 `json:"heap_alloc" msgpack:"heap_alloc"`
	HeapOverSoftLimit bool   `json:"heap_over_soft_limit" msgpack:"heap_over_soft_limit"`
}

// ============================================================================
// SOURCES & SINKS
// ============================================================================

// RingProbe is the read-only view of the sample ring.
type RingProbe interface {
	Missed() uint64
	EntryCount() int
	Capacity() int
}

// Sources lists what the monitor observes. Nil members are skipped.
type Sources struct {
	Ring      RingProbe
	Decimator interface{ Stats() decimate.Stats }
	Sampler   interface{ Stats() sampler.Stats }
	Stream    *stream.Counters
}

// Sink records snapshots.
type Sink interface {
	Record(Snapshot) error
	Close() error
}

// ============================================================================
// MONITOR
// ============================================================================

// Monitor gathers and distributes snapshots.
type Monitor struct {
	src       Sources
	sinks     []Sink
	interval  time.Duration
	heapLimit uint64

	lastMissed uint64
	latest     atomic.Pointer[Snapshot]
}

// New creates a monitor reporting every interval.
func New(src Sources, interval time.Duration, heapLimit uint64, sinks ...Sink) *Monitor {
	return &Monitor{src: src, sinks: sinks, interval: interval, heapLimit: heapLimit}
}

// Collect gathers a snapshot without publishing it.
func (m *Monitor) Collect() Snapshot {
	s := Snapshot{Time: time.Now().UTC()}

	if r := m.src.Ring; r != nil {
		s.Missed = r.Missed()
		s.Entries = r.EntryCount()
		s.Capacity = r.Capacity()
	}
	if d := m.src.Decimator; d != nil {
		st := d.Stats()
		s.Offered, s.Kept, s.Coalesced, s.Heartbeats = st.Offered, st.Kept, st.Coalesced, st.Heartbeats
	}
	if p := m.src.Sampler; p != nil {
		st := p.Stats()
		s.Samples, s.SourceErrors = st.Samples, st.SourceErrors
	}
	if c := m.src.Stream; c != nil {
		st := c.Snapshot()
		s.Sessions, s.Active, s.Frames, s.Bytes, s.Streamed = st.Sessions, st.Active, st.Frames, st.Bytes, st.Samples
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.HeapAlloc = ms.HeapAlloc
	s.HeapOverSoftLimit = m.heapLimit > 0 && ms.HeapAlloc > m.heapLimit
	return s
}

// Report collects a snapshot, logs it and records it in every sink.
// Only the monitor goroutine may call it.
func (m *Monitor) Report() Snapshot {
	s := m.Collect()
	s.MissedDelta = s.Missed - m.lastMissed
	m.lastMissed = s.Missed
	m.latest.Store(&s)

	debug.DropAttrs("TELEMETRY",
		"missed", s.Missed,
		"missed_delta", s.MissedDelta,
		"entries", s.Entries,
		"kept", s.Kept,
		"streamed", s.Streamed,
		"sessions_active", s.Active,
		"heap_alloc", s.HeapAlloc,
	)
	if s.HeapOverSoftLimit {
		debug.DropMessage("TELEMETRY", "heap above soft limit")
	}

	for _, sink := range m.sinks {
		if err := sink.Record(s); err != nil {
			debug.DropError("TELEMETRY", err)
		}
	}
	return s
}

// Latest returns the newest reported snapshot, collecting a fresh one when
// nothing was reported yet.
func (m *Monitor) Latest() Snapshot {
	if s := m.latest.Load(); s != nil {
		return *s
	}
	return m.Collect()
}

// Run reports every interval until done is closed, then closes the sinks.
func (m *Monitor) Run(done <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.closeSinks()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Report()
		}
	}
}

func (m *Monitor) closeSinks() {
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			debug.DropError("TELEMETRY", err)
		}
	}
}
