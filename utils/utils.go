// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: utils.go — zero-alloc byte helpers for line-oriented sources
//
// Purpose:
//   - Split and trim serial bridge lines without allocating per sample.
//
// ⚠️ B2s results alias their input; callers must not mutate the bytes while
//    the string is in use.
// ─────────────────────────────────────────────────────────────────────────────

package utils

import "unsafe"

// ============================================================================
// Conversion Utilities: Zero-Alloc Casts
// ============================================================================

// B2s converts a []byte to a string without allocation.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// ============================================================================
// Line Scanners
// ============================================================================

// TrimASCII drops leading and trailing ASCII whitespace and control bytes
// (including '\r' left by CRLF line endings).
//
//go:nosplit
//go:inline
func TrimASCII(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && b[i] <= ' ' {
		i++
	}
	for j > i && b[j-1] <= ' ' {
		j--
	}
	return b[i:j]
}

// CutByte splits b around the first sep. found is false when sep is absent,
// in which case before is b.
//
//go:nosplit
//go:inline
func CutByte(b []byte, sep byte) (before, after []byte, found bool) {
	for i := 0; i < len(b); i++ {
		if b[i] == sep {
			return b[:i], b[i+1:], true
		}
	}
	return b, nil, false
}
