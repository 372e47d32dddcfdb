// control.go - lifecycle and activity flags shared by the sampler and sessions
// ============================================================================
// SYSTEM CONTROL ORCHESTRATION
// ============================================================================
//
// A Flags value is owned by the supervisor and passed to every goroutine that
// needs to observe shutdown or network activity. Nothing here is global.
//
// Architecture overview:
//   • stop flag polled by the pinned producer once per sample
//   • done channel for goroutines that can select (sessions, telemetry)
//   • hot flag raised by sessions on every delivered batch and cleared after
//     a cooldown, so idle sessions back off from yielding to sleeping
//   • wait group the supervisor drains before exit
//
// Threading model:
//   • Any goroutine may call SignalActivity / PollCooldown / Shutdown
//   • All fields are atomics; Shutdown is idempotent

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// FLAGS
// ============================================================================

// Flags coordinates shutdown and activity state across execution contexts.
type Flags struct {
	hot     atomic.Uint32 // 1 = batches delivered recently
	stop    atomic.Uint32 // 1 = shutdown requested
	lastHot atomic.Int64  // Unix nanos of the last activity

	cooldown int64 // Idle nanos before hot clears

	done     chan struct{}
	doneOnce sync.Once

	// ShutdownWG tracks subsystems that must finish before the process exits.
	ShutdownWG sync.WaitGroup
}

// New creates flags with the given activity cooldown.
func New(cooldown time.Duration) *Flags {
	return &Flags{
		cooldown: int64(cooldown),
		done:     make(chan struct{}),
	}
}

// ============================================================================
// ACTIVITY SIGNALING
// ============================================================================

// SignalActivity marks the system hot and records the time.
func (f *Flags) SignalActivity() {
	f.lastHot.Store(time.Now().UnixNano())
	f.hot.Store(1)
}

// PollCooldown clears the hot flag once the cooldown has elapsed since the
// last activity.
func (f *Flags) PollCooldown() {
	if f.hot.Load() == 1 && time.Now().UnixNano()-f.lastHot.Load() > f.cooldown {
		f.hot.Store(0)
	}
}

// Hot reports whether activity was signalled within the cooldown.
func (f *Flags) Hot() bool {
	return f.hot.Load() == 1
}

// ============================================================================
// SYSTEM SHUTDOWN
// ============================================================================

// Shutdown raises the stop flag and closes Done. Safe to call repeatedly.
func (f *Flags) Shutdown() {
	f.stop.Store(1)
	f.doneOnce.Do(func() { close(f.done) })
}

// Stopping reports whether Shutdown was called.
func (f *Flags) Stopping() bool {
	return f.stop.Load() != 0
}

// Done is closed by Shutdown.
func (f *Flags) Done() <-chan struct{} {
	return f.done
}

// StopFlag exposes the raw stop flag for loops that cannot select, such as
// ring.PinnedProducer.
func (f *Flags) StopFlag() *atomic.Uint32 {
	return &f.stop
}
