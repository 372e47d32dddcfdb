// setaffinity_linux.go - Linux CPU affinity via sched_setaffinity(2)

//go:build linux

package ring

import "golang.org/x/sys/unix"

// setAffinity pins the calling OS thread to one CPU core.
// A negative core is a no-op.
func setAffinity(core int) error {
	if core < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
