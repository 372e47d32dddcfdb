// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: source.go — sample sources feeding the sampling loop
//
// Purpose:
//   - Abstracts where raw (voltage, second) samples come from
//   - Synthetic sawtooth for bench runs, serial ADC bridge for hardware
//
// Notes:
//   - Next is called from the pinned sampling goroutine only
//   - Timestamps are seconds since the source was opened, on the monotonic
//     clock unless the device supplies its own
// ─────────────────────────────────────────────────────────────────────────────

package source

import (
	"fmt"
	"io"
	"math"
	"time"

	"voltscope/types"
)

// Source produces raw samples.
type Source interface {
	Next() (types.Sample, error)
}

// Kinds accepted by Open.
const (
	KindSawtooth = "sawtooth"
	KindSerial   = "serial"
)

// Options selects and configures a source.
type Options struct {
	Kind   string
	Period float64 // sawtooth period in seconds
	Port   string  // serial device path
	Baud   int
}

// Open creates the source described by opts. The returned closer releases
// the device; it is a no-op for synthetic sources.
func Open(opts Options) (Source, io.Closer, error) {
	switch opts.Kind {
	case KindSawtooth, "":
		s := NewSawtooth(opts.Period)
		return s, nopCloser{}, nil
	case KindSerial:
		s, err := OpenSerial(opts.Port, opts.Baud)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("source: unknown kind %q", opts.Kind)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ───────────────────────────── Sawtooth ─────────────────────────────────────

// Sawtooth emits voltage = t mod period, a ramp that drops back to zero
// once per period. Its decimated form is two points per tooth.
type Sawtooth struct {
	period float64
	start  time.Time
	now    func() time.Time
}

// NewSawtooth starts a sawtooth at the current instant.
func NewSawtooth(period float64) *Sawtooth {
	return newSawtoothClock(period, time.Now)
}

func newSawtoothClock(period float64, now func() time.Time) *Sawtooth {
	if period <= 0 {
		period = 2
	}
	return &Sawtooth{period: period, start: now(), now: now}
}

// Next samples the waveform at the current time.
func (s *Sawtooth) Next() (types.Sample, error) {
	t := s.now().Sub(s.start).Seconds()
	return types.Sample{Voltage: math.Mod(t, s.period), Second: t}, nil
}
