// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ FREE-RUNNING SAMPLING LOOP
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: voltscope
// Component: Producer Side of the Capture Pipeline
//
// Description:
//   One iteration reads a raw sample from the source, passes it through the decimator into the
//   ring writer and then busy-waits until the next sampling instant. The loop runs on a pinned
//   OS thread and never blocks on the ring: a full buffer drops the sample and counts it.
//
// Pacing:
//   - Deadlines advance by a fixed interval so jitter does not accumulate
//   - After a stall longer than one interval the schedule restarts from now instead of
//     bursting to catch up
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sampler

import (
	"errors"
	"sync/atomic"
	"time"

	"voltscope/decimate"
	"voltscope/ring"
	"voltscope/source"
)

// Config controls pacing and placement.
type Config struct {
	Core     int           // CPU core to pin to, negative for none
	Interval time.Duration // Time between samples, zero for free-running
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	Samples      uint64 // Samples read from the source
	SourceErrors uint64 // Failed source reads
	Overwrites   uint64 // Kept samples dropped by a full ring
}

// Sampler drives Source → Decimator → ring writer.
type Sampler struct {
	src      source.Source
	dec      *decimate.Decimator
	cfg      Config
	deadline time.Time

	samples      atomic.Uint64
	sourceErrors atomic.Uint64
	overwrites   atomic.Uint64
}

// New wires a sampler. dec must feed the ring's writer handle.
func New(src source.Source, dec *decimate.Decimator, cfg Config) *Sampler {
	return &Sampler{src: src, dec: dec, cfg: cfg}
}

// Start runs the loop on a goroutine pinned to cfg.Core until stop is
// raised. The returned channel is closed once the loop has exited.
func (s *Sampler) Start(stop *atomic.Uint32) <-chan struct{} {
	done := make(chan struct{})
	s.deadline = time.Now()
	ring.PinnedProducer(s.cfg.Core, stop, s.Step, done)
	return done
}

// Step performs one sampling iteration. Only the sampling goroutine may
// call it.
func (s *Sampler) Step() {
	sample, err := s.src.Next()
	if err != nil {
		s.sourceErrors.Add(1)
	} else {
		s.samples.Add(1)
		if err := s.dec.Offer(sample); errors.Is(err, ring.ErrOverwrite) {
			s.overwrites.Add(1)
		}
	}
	s.pace()
}

// pace busy-waits for the next sampling instant.
func (s *Sampler) pace() {
	if s.cfg.Interval <= 0 {
		return
	}
	now := time.Now()
	s.deadline = s.deadline.Add(s.cfg.Interval)
	if now.Sub(s.deadline) > s.cfg.Interval {
		s.deadline = now.Add(s.cfg.Interval)
	}
	for time.Now().Before(s.deadline) {
		ring.Relax()
	}
}

// Stats returns the counters. Safe from any goroutine.
func (s *Sampler) Stats() Stats {
	return Stats{
		Samples:      s.samples.Load(),
		SourceErrors: s.sourceErrors.Load(),
		Overwrites:   s.overwrites.Load(),
	}
}
