// setaffinity_stub.go - CPU affinity no-op where sched_setaffinity(2) is unavailable

//go:build !linux

package ring

// setAffinity is a no-op on platforms without thread affinity support.
// The thread is still locked, so the producer keeps a dedicated OS thread.
func setAffinity(core int) error {
	return nil
}
