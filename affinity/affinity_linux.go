//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation on sched_setaffinity(2) for the calling thread.

package affinity

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// maxCPUs is the number of CPUs a unix.CPUSet can describe.
const maxCPUs = int(unsafe.Sizeof(unix.CPUSet{})) * 8

func setAffinityPlatform(cpuID int) error {
	if cpuID < 0 || cpuID >= maxCPUs {
		return fmt.Errorf("affinity: cpu %d out of range [0,%d): %w", cpuID, maxCPUs, unix.EINVAL)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

func threadIDPlatform() int {
	return unix.Gettid()
}
