// ============================================================================
// STREAMING SESSION - RING READER TO WEBSOCKET TRANSPORT
// ============================================================================
//
// One Session serves one upgraded browser connection. It owns the ring's
// reader handle for its lifetime and turns batches into binary frames.
//
// Loop per iteration:
//   - Open a batch leaving the newest Reserve samples to the decimator
//   - Empty: yield while the system is hot, sleep IdlePoll when cold
//   - Otherwise write every segment as FrameSamples-sized frames in one
//     vectored write, commit what was delivered, release
//
// Client side:
//   - A helper goroutine parses browser frames; close ends the session
//     cleanly, ping is answered from the streaming goroutine so only one
//     goroutine ever writes the transport
//
// Failure model:
//   - A failed write commits only the samples inside complete frames; the
//     rest stays in the ring for the next session

package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voltscope/control"
	"voltscope/ring"
	"voltscope/types"
	"voltscope/ws"
)

// ErrClientClosed is the cancellation cause when the browser sent a close
// frame.
var ErrClientClosed = errors.New("stream: client closed the connection")

// Config tunes a session.
type Config struct {
	Reserve        int           // Newest samples left out of each batch
	FrameSamples   int           // Samples per frame
	WriteTimeout   time.Duration // Deadline for one batch write
	IdlePoll       time.Duration // Sleep when the ring is empty and cold
	MaxClientFrame int           // Largest accepted browser frame
}

// ============================================================================
// COUNTERS
// ============================================================================

// Counters aggregates delivery statistics over all sessions.
type Counters struct {
	sessions atomic.Uint64
	active   atomic.Int64
	frames   atomic.Uint64
	bytes    atomic.Uint64
	samples  atomic.Uint64
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Sessions uint64 `json:"sessions"`
	Active   int64  `json:"active"`
	Frames   uint64 `json:"frames"`
	Bytes    uint64 `json:"bytes"`
	Samples  uint64 `json:"samples"`
}

// Snapshot reads all counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Sessions: c.sessions.Load(),
		Active:   c.active.Load(),
		Frames:   c.frames.Load(),
		Bytes:    c.bytes.Load(),
		Samples:  c.samples.Load(),
	}
}

// ============================================================================
// SESSION
// ============================================================================

// Session streams ring contents to one connection.
type Session struct {
	ID uuid.UUID

	conn     net.Conn
	reader   *ring.Reader[types.Sample]
	fw       *ws.FrameWriter
	cfg      Config
	flags    *control.Flags
	counters *Counters
	pongs    chan []byte
}

// NewSession prepares a session on an upgraded connection. The reader must
// not be used by anyone else until Run returns.
func NewSession(conn net.Conn, reader *ring.Reader[types.Sample], cfg Config, flags *control.Flags, counters *Counters) *Session {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 1
	}
	if cfg.MaxClientFrame <= 0 {
		cfg.MaxClientFrame = ws.MaxControlLength
	}
	if counters == nil {
		counters = &Counters{}
	}
	return &Session{
		ID:       uuid.New(),
		conn:     conn,
		reader:   reader,
		fw:       ws.NewFrameWriter(conn),
		cfg:      cfg,
		flags:    flags,
		counters: counters,
		pongs:    make(chan []byte, 1),
	}
}

// Run streams until the client closes, the transport fails, ctx ends or
// the system shuts down. A client close and a shutdown return nil after
// sending the matching close frame.
func (s *Session) Run(ctx context.Context) error {
	s.counters.sessions.Add(1)
	s.counters.active.Add(1)
	defer s.counters.active.Add(-1)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go s.readClient(cancel)

	for {
		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			if errors.Is(cause, ErrClientClosed) {
				_ = ws.WriteClose(s.conn, ws.CloseNormal)
				return nil
			}
			return cause
		case <-s.flags.Done():
			_ = ws.WriteClose(s.conn, ws.CloseGoingAway)
			return nil
		case payload := <-s.pongs:
			if err := s.pong(payload); err != nil {
				return err
			}
		default:
		}

		if err := s.pump(); err != nil {
			return err
		}
	}
}

// pump moves one batch from the ring to the transport.
func (s *Session) pump() error {
	bt := s.reader.ReadBatch(s.cfg.Reserve)
	defer bt.Release()

	if bt.Len() == 0 {
		bt.Release()
		s.idle()
		return nil
	}

	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			bt.Truncate(0)
			return err
		}
	}

	chunk := s.cfg.FrameSamples * types.SampleSize
	sent := 0
	for _, seg := range bt.Segments() {
		if len(seg) == 0 {
			continue
		}
		n, err := s.fw.WriteChunked(seg, chunk)
		sent += n
		s.account(n, chunk)
		if err != nil {
			bt.Truncate(sent / types.SampleSize)
			return fmt.Errorf("stream: write: %w", err)
		}
	}

	s.flags.SignalActivity()
	return nil
}

// account adds n delivered payload bytes, split into chunk-sized frames,
// to the counters.
func (s *Session) account(n, chunk int) {
	if n == 0 {
		return
	}
	s.counters.frames.Add(uint64((n + chunk - 1) / chunk))
	s.counters.bytes.Add(uint64(n))
	s.counters.samples.Add(uint64(n / types.SampleSize))
}

// idle waits for the producer. While batches were delivered recently the
// session only yields; once the system cools down it sleeps.
func (s *Session) idle() {
	s.flags.PollCooldown()
	if s.flags.Hot() {
		runtime.Gosched()
		return
	}
	time.Sleep(s.cfg.IdlePoll)
}

// pong answers a ping under the write deadline.
func (s *Session) pong(payload []byte) error {
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := ws.WritePong(s.conn, payload); err != nil {
		return fmt.Errorf("stream: pong: %w", err)
	}
	return nil
}

// readClient parses browser frames until the connection ends.
func (s *Session) readClient(cancel context.CancelCauseFunc) {
	buf := make([]byte, s.cfg.MaxClientFrame)
	for {
		f, err := ws.ReadFrame(s.conn, buf)
		if err != nil {
			cancel(fmt.Errorf("stream: client read: %w", err))
			return
		}
		switch f.Opcode {
		case ws.OpClose:
			cancel(ErrClientClosed)
			return
		case ws.OpPing:
			payload := append([]byte(nil), f.Payload...)
			select {
			case s.pongs <- payload:
			default:
			}
		}
	}
}
