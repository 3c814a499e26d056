// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Worker thread pinning. A scheduler worker locks its goroutine to an OS
// thread and may pin that thread to one CPU; platform-specific
// implementations are guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the calling OS thread to a logical CPU. The caller must
// have locked its goroutine with runtime.LockOSThread.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// PinWorker locks the calling goroutine to its OS thread and, when pin is
// set, binds the thread to CPU index%NumCPU. It returns the OS thread id
// and an unlock function.
func PinWorker(index int, pin bool) (tid int, unlock func(), err error) {
	runtime.LockOSThread()
	unlock = runtime.UnlockOSThread
	if pin {
		err = SetAffinity(index % runtime.NumCPU())
	}
	return ThreadID(), unlock, err
}

// ThreadID returns the OS thread id of the calling thread, or -1 where the
// platform does not expose one.
func ThreadID() int {
	return threadIDPlatform()
}
