//go:build linux

// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: main_linux.go — Linux memory locking for the sampling thread
//
// Purpose:
//   - Locks current and future pages so the pinned sampler never stalls on
//     a page fault mid-cadence
//
// Notes:
//   - Needs CAP_IPC_LOCK or a sufficient RLIMIT_MEMLOCK; failure is logged
//     and the daemon keeps running unlocked
//
// ⚠️ Called once, after the startup GC and before the sampler starts
// ─────────────────────────────────────────────────────────────────────────────

package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lockMemory pins the process address space in RAM.
func lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
