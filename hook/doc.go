// File: hook/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package hook is the fiber-aware system call facade. Inside a fiber whose
// worker has hooking enabled, blocking-looking calls on sockets park the
// fiber in the I/O manager instead of blocking the OS thread:
//
//	n, err := hook.Read(ctx, fd, buf) // yields until fd is readable
//
// Outside a fiber, with hooking disabled, or for descriptors that are not
// runtime-managed sockets, every function behaves like its golang.org/x/sys/unix
// counterpart. Timeouts set with Setsockopt(SO_RCVTIMEO / SO_SNDTIMEO) bound
// each wait and surface as unix.ETIMEDOUT.
//
// Only Linux is supported; on other platforms the package is empty.
package hook
