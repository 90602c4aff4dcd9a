//go:build linux

// Package affinity pins the calling OS thread to a specific CPU core.
// Pinning is best-effort: a failure (container cgroup restrictions,
// fewer cores than requested) is reported to the caller but never fatal,
// since the datapath runs correctly, only with worse tail latency,
// without it.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and restricts
// that thread's scheduling affinity to the single given core.
func Pin(core int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: pin to core %d: %w", core, err)
	}
	return nil
}
