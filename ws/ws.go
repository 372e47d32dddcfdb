// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: ws.go — RFC 6455 server→client frame encoder
//
// Purpose:
//   - Turns a byte payload into a single unmasked binary frame
//   - Batches many frames into one vectored write for the streaming session
//   - Emits the two control frames the server ever sends (close, pong)
//
// Notes:
//   - Header and payload go out through net.Buffers, so a *net.TCPConn
//     transmits them with one writev and the payload is never copied
//   - A zero-length payload writes nothing at all
//   - Stateless apart from FrameWriter's reusable scratch
//
// ⚠️ FrameWriter is single-goroutine; one per connection
// ─────────────────────────────────────────────────────────────────────────────

package ws

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// Opcodes used by this package.
const (
	OpContinuation = 0x0
	OpText         = 0x1
	OpBinary       = 0x2
	OpClose        = 0x8
	OpPing         = 0x9
	OpPong         = 0xA
)

// Close status codes the server sends.
const (
	CloseNormal      = 1000
	CloseGoingAway   = 1001
	CloseProtocol    = 1002
	CloseTooBig      = 1009
	CloseTryAgain    = 1013
	MaxControlLength = 125
)

// MaxHeaderSize is the longest server frame header: opcode byte, length
// marker and an 8-byte extended length.
const MaxHeaderSize = 10

const (
	finBinary = 0x80 | OpBinary // 0x82
	finClose  = 0x80 | OpClose  // 0x88
	finPong   = 0x80 | OpPong   // 0x8A

	maxShortLength  = 125
	maxMediumLength = 65535
)

var (
	// ErrPayloadTooLarge reports a length that does not fit the 63-bit
	// extended length field.
	ErrPayloadTooLarge = errors.New("ws: payload length exceeds 2^63-1")

	// ErrControlTooLarge reports a control frame payload over 125 bytes.
	ErrControlTooLarge = errors.New("ws: control frame payload exceeds 125 bytes")
)

// ───────────────────────────── Header Encoding ──────────────────────────────

// HeaderLen returns the header size for an n-byte payload.
//
//go:nosplit
//go:inline
func HeaderLen(n uint64) int {
	switch {
	case n <= maxShortLength:
		return 2
	case n <= maxMediumLength:
		return 4
	default:
		return MaxHeaderSize
	}
}

// PutHeader writes the header of a final binary frame carrying n payload
// bytes into dst and returns its length.
//
//	n ≤ 125        → 0x82, n
//	n ≤ 65535      → 0x82, 126, n as uint16 big-endian
//	n < 2^63       → 0x82, 127, n as uint64 big-endian
func PutHeader(dst []byte, n uint64) (int, error) {
	return putHeader(dst, finBinary, n)
}

func putHeader(dst []byte, b0 byte, n uint64) (int, error) {
	if n >= 1<<63 {
		return 0, ErrPayloadTooLarge
	}
	size := HeaderLen(n)
	if len(dst) < size {
		return 0, io.ErrShortBuffer
	}
	dst[0] = b0
	switch size {
	case 2:
		dst[1] = byte(n)
	case 4:
		dst[1] = 126
		binary.BigEndian.PutUint16(dst[2:], uint16(n))
	default:
		dst[1] = 127
		binary.BigEndian.PutUint64(dst[2:], n)
	}
	return size, nil
}

// ───────────────────────────── Single Frames ────────────────────────────────

// WriteFrame sends payload as one binary frame. An empty payload sends
// nothing. It succeeds only when w accepted every header and payload byte.
// A payload too large for the length field panics.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var hdr [MaxHeaderSize]byte
	n, err := PutHeader(hdr[:], uint64(len(payload)))
	if err != nil {
		panic(err)
	}
	bufs := net.Buffers{hdr[:n], payload}
	total := int64(n + len(payload))
	written, err := bufs.WriteTo(w)
	if err != nil {
		return err
	}
	if written != total {
		return io.ErrShortWrite
	}
	return nil
}

// WriteClose sends a close frame carrying a status code.
func WriteClose(w io.Writer, code uint16) error {
	frame := [4]byte{finClose, 2}
	binary.BigEndian.PutUint16(frame[2:], code)
	return writeAll(w, frame[:])
}

// WritePong answers a ping, echoing its payload.
func WritePong(w io.Writer, payload []byte) error {
	if len(payload) > MaxControlLength {
		return ErrControlTooLarge
	}
	frame := make([]byte, 2+len(payload))
	frame[0] = finPong
	frame[1] = byte(len(payload))
	copy(frame[2:], payload)
	return writeAll(w, frame)
}

func writeAll(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// ───────────────────────────── Batched Frames ───────────────────────────────

// FrameWriter splits payloads into fixed-size frames and writes all of
// them with a single vectored write. Header scratch is reused across calls.
type FrameWriter struct {
	w    io.Writer
	hdrs []byte
	vec  [][]byte
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteChunked sends payload as consecutive binary frames of at most chunk
// bytes each. It returns how many payload bytes went out inside complete
// frames, which on error lets the caller keep the undelivered tail.
func (fw *FrameWriter) WriteChunked(payload []byte, chunk int) (int, error) {
	if chunk <= 0 {
		panic("ws: non-positive frame chunk")
	}
	if len(payload) == 0 {
		return 0, nil
	}

	frames := (len(payload) + chunk - 1) / chunk
	if need := frames * MaxHeaderSize; cap(fw.hdrs) < need {
		fw.hdrs = make([]byte, need)
	}
	hdrs := fw.hdrs[:cap(fw.hdrs)]
	fw.vec = fw.vec[:0]

	var total int64
	off := 0
	for p := 0; p < len(payload); p += chunk {
		end := p + chunk
		if end > len(payload) {
			end = len(payload)
		}
		n, err := PutHeader(hdrs[off:], uint64(end-p))
		if err != nil {
			panic(err)
		}
		fw.vec = append(fw.vec, hdrs[off:off+n], payload[p:end])
		total += int64(n + end - p)
		off += n
	}

	bufs := net.Buffers(fw.vec)
	written, err := bufs.WriteTo(fw.w)
	if err == nil && written != total {
		err = io.ErrShortWrite
	}
	if err == nil {
		return len(payload), nil
	}
	return delivered(payload, chunk, written), err
}

// delivered counts the payload bytes of the frames fully contained in the
// first written bytes of the stream.
func delivered(payload []byte, chunk int, written int64) int {
	sent := 0
	for p := 0; p < len(payload); p += chunk {
		size := chunk
		if p+size > len(payload) {
			size = len(payload) - p
		}
		frame := int64(HeaderLen(uint64(size)) + size)
		if written < frame {
			break
		}
		written -= frame
		sent += size
	}
	return sent
}
