//go:build !linux

// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: main_other.go — memory locking fallback
//
// Purpose:
//   - Keeps the startup sequence identical where mlockall(2) is not wired
// ─────────────────────────────────────────────────────────────────────────────

package main

// lockMemory is a no-op outside Linux.
func lockMemory() error {
	return nil
}
