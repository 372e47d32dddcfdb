// ============================================================================
// ONLINE LINE DECIMATION
// ============================================================================
//
// Streaming curve simplification in front of the ring writer. Every raw
// sample is either kept, coalesced into the newest kept sample, or used to
// commit that sample and start a new provisional one.
//
// Core capabilities:
//   - Interpolated-deviation test with a triangular proximity weight
//   - Flat segments below a voltage threshold are always simplified
//   - Heartbeat rule bounds the time between committed points
//
// State model:
//   - beforeLast: newest committed point
//   - last:       newest sample, stored provisionally as the ring's newest
//                 entry and replaced in place while it stays removable
//
// Concurrency:
//   - Offer is called from the sampling goroutine only
//   - Stats may be read from any goroutine

package decimate

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"voltscope/types"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Params configures the filter.
type Params struct {
	// ToleranceFactor scales the allowed deviation, in [0, 1].
	ToleranceFactor float64

	// MinVoltageDifference is the span under which a segment counts as flat.
	MinVoltageDifference float64

	// Heartbeat is the longest time in seconds between committed points.
	// Zero disables the rule.
	Heartbeat float64
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	var errs []error
	if math.IsNaN(p.ToleranceFactor) || p.ToleranceFactor < 0 || p.ToleranceFactor > 1 {
		errs = append(errs, fmt.Errorf("decimate: tolerance factor %v outside [0,1]", p.ToleranceFactor))
	}
	if math.IsNaN(p.MinVoltageDifference) || p.MinVoltageDifference < 0 {
		errs = append(errs, fmt.Errorf("decimate: negative minimum voltage difference %v", p.MinVoltageDifference))
	}
	if math.IsNaN(p.Heartbeat) || p.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("decimate: negative heartbeat %v", p.Heartbeat))
	}
	return errors.Join(errs...)
}

// Sink receives kept samples. *ring.Writer[types.Sample] satisfies it.
type Sink interface {
	Append(types.Sample) error
	ReplaceLastOrAppend(types.Sample) error
}

// ============================================================================
// REMOVABILITY TEST
// ============================================================================

// Removable reports whether middle can be dropped from the polyline
// left → middle → right without materially changing it.
//
// A segment whose endpoints differ by less than minVoltageDifference is
// always simplified, as is a segment with no duration. Otherwise middle is
// compared against the straight line from left to right; the allowed
// deviation is (toleranceFactor/2)·proximity·|Δv|, where proximity is 1 at
// the temporal midpoint and falls linearly to 0 at either endpoint.
//
//go:inline
func Removable(left, middle, right types.Sample, toleranceFactor, minVoltageDifference float64) bool {
	span := math.Abs(right.Voltage - left.Voltage)
	if span < minVoltageDifference {
		return true
	}

	dt := right.Second - left.Second
	if dt == 0 {
		return true
	}

	frac := (middle.Second - left.Second) / dt
	interpolated := left.Voltage + (right.Voltage-left.Voltage)*frac
	deviation := math.Abs(interpolated - middle.Voltage)

	proximity := 1 - math.Abs(1-2*frac)
	tolerance := (toleranceFactor / 2) * proximity * span

	return deviation < tolerance
}

// ============================================================================
// STATEFUL FILTER
// ============================================================================

// Stats is a snapshot of the filter counters.
type Stats struct {
	Offered    uint64 // Samples passed to Offer
	Kept       uint64 // Samples appended as a new entry
	Coalesced  uint64 // Samples that replaced the provisional entry
	Heartbeats uint64 // Appends forced by the heartbeat rule
	Rejected   uint64 // Samples the sink refused (buffer full)
}

// Decimator is the stateful filter. Not safe for concurrent Offer.
type Decimator struct {
	params Params
	sink   Sink

	beforeLast types.Sample
	last       types.Sample
	primed     int
	lastStored bool // last is the sink's newest entry

	offered    atomic.Uint64
	kept       atomic.Uint64
	coalesced  atomic.Uint64
	heartbeats atomic.Uint64
	rejected   atomic.Uint64
}

// New creates a filter feeding sink.
func New(p Params, sink Sink) *Decimator {
	return &Decimator{params: p, sink: sink}
}

// Offer feeds one raw sample through the filter.
//
// The first two samples are stored unconditionally to seed the history.
// After that:
//  1. If more than Heartbeat seconds passed since the last committed point,
//     the provisional sample is committed and s is appended.
//  2. Else if last is removable between beforeLast and s, s replaces it in
//     place (appended instead when last never made it into the sink or the
//     reader already took it).
//  3. Else last is committed and s is appended.
//
// s always becomes the new provisional sample. The sink error, typically
// ring.ErrOverwrite, is returned; the filter state advances regardless.
func (d *Decimator) Offer(s types.Sample) error {
	d.offered.Add(1)

	if d.primed < 2 {
		d.primed++
		d.beforeLast = d.last
		d.last = s
		return d.store(d.sink.Append(s), &d.kept)
	}

	p := &d.params
	if p.Heartbeat > 0 && s.Second-d.beforeLast.Second > p.Heartbeat {
		d.heartbeats.Add(1)
		return d.commit(s)
	}

	if Removable(d.beforeLast, d.last, s, p.ToleranceFactor, p.MinVoltageDifference) {
		d.last = s
		if !d.lastStored {
			return d.store(d.sink.Append(s), &d.kept)
		}
		return d.store(d.sink.ReplaceLastOrAppend(s), &d.coalesced)
	}

	return d.commit(s)
}

// commit promotes last to the committed point and appends s.
func (d *Decimator) commit(s types.Sample) error {
	d.beforeLast = d.last
	d.last = s
	return d.store(d.sink.Append(s), &d.kept)
}

// store records the outcome of a sink call.
func (d *Decimator) store(err error, counter *atomic.Uint64) error {
	d.lastStored = err == nil
	if err != nil {
		d.rejected.Add(1)
		return err
	}
	counter.Add(1)
	return nil
}

// Stats returns the counters. Safe from any goroutine.
func (d *Decimator) Stats() Stats {
	return Stats{
		Offered:    d.offered.Load(),
		Kept:       d.kept.Load(),
		Coalesced:  d.coalesced.Load(),
		Heartbeats: d.heartbeats.Load(),
		Rejected:   d.rejected.Load(),
	}
}

// Params returns the configured parameters.
func (d *Decimator) Params() Params { return d.params }
