// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: ws_io.go — client→server frame reader
//
// Purpose:
//   - Parses the masked frames a browser sends on the stream socket
//   - The stream is one-way, so in practice these are close and ping frames
//
// Notes:
//   - Payload is read into the caller's buffer and unmasked in place
//   - Fragmented, unmasked or oversize frames are protocol errors
//
// ⚠️ Frame.Payload aliases the caller's buffer; process before the next read
// ─────────────────────────────────────────────────────────────────────────────

package ws

import (
	"encoding/binary"
	"errors"
	"io"
	"unsafe"
)

var (
	// ErrFrameTooLarge reports a frame whose payload does not fit the buffer.
	ErrFrameTooLarge = errors.New("ws: frame exceeds read buffer")

	// ErrFragmented reports a non-final or continuation frame.
	ErrFragmented = errors.New("ws: fragmented frames are not supported")

	// ErrUnmasked reports a client frame sent without a masking key.
	ErrUnmasked = errors.New("ws: client frame is not masked")
)

// Frame is one parsed client frame.
type Frame struct {
	Opcode  byte
	Payload []byte
}

// IsControl reports whether the frame is a close, ping or pong.
func (f Frame) IsControl() bool { return f.Opcode&0x8 != 0 }

// CloseCode returns the status code of a close frame, or 1005 (no status)
// when the frame carries none.
func (f Frame) CloseCode() uint16 {
	if f.Opcode != OpClose || len(f.Payload) < 2 {
		return 1005
	}
	return binary.BigEndian.Uint16(f.Payload)
}

// ReadFrame reads one complete client frame from r into buf.
func ReadFrame(r io.Reader, buf []byte) (Frame, error) {
	var hdr [14]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return Frame{}, err
	}

	fin := hdr[0] & 0x80
	opcode := hdr[0] & 0x0F
	masked := hdr[1] & 0x80
	plen := uint64(hdr[1] & 0x7F)

	switch plen {
	case 126:
		if _, err := io.ReadFull(r, hdr[2:4]); err != nil {
			return Frame{}, unexpected(err)
		}
		plen = uint64(binary.BigEndian.Uint16(hdr[2:4]))
	case 127:
		if _, err := io.ReadFull(r, hdr[2:10]); err != nil {
			return Frame{}, unexpected(err)
		}
		plen = binary.BigEndian.Uint64(hdr[2:10])
	}

	if fin == 0 || opcode == OpContinuation {
		return Frame{}, ErrFragmented
	}
	if masked == 0 {
		return Frame{}, ErrUnmasked
	}
	if opcode&0x8 != 0 && plen > MaxControlLength {
		return Frame{}, ErrControlTooLarge
	}
	if plen > uint64(len(buf)) {
		return Frame{}, ErrFrameTooLarge
	}

	var key [4]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return Frame{}, unexpected(err)
	}

	payload := buf[:plen]
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, unexpected(err)
	}
	unmaskPayloadFast(payload, *(*uint32)(unsafe.Pointer(&key[0])))

	return Frame{Opcode: opcode, Payload: payload}, nil
}

// unexpected maps a clean EOF in the middle of a frame to ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// unmaskPayloadFast XORs payload with the masking key, eight bytes at a time.
// maskKey holds the four key bytes in native byte order.
//
//go:nosplit
func unmaskPayloadFast(payload []byte, maskKey uint32) {
	if len(payload) == 0 {
		return
	}

	maskPattern := uint64(maskKey) | uint64(maskKey)<<32
	mask := *(*[4]byte)(unsafe.Pointer(&maskKey))

	i := 0
	for i+31 < len(payload) {
		*(*uint64)(unsafe.Pointer(&payload[i])) ^= maskPattern
		*(*uint64)(unsafe.Pointer(&payload[i+8])) ^= maskPattern
		*(*uint64)(unsafe.Pointer(&payload[i+16])) ^= maskPattern
		*(*uint64)(unsafe.Pointer(&payload[i+24])) ^= maskPattern
		i += 32
	}
	for i+7 < len(payload) {
		*(*uint64)(unsafe.Pointer(&payload[i])) ^= maskPattern
		i += 8
	}
	for i < len(payload) {
		payload[i] ^= mask[i&3]
		i++
	}
}
