//go:build linux

// File: hook/fdmanager_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-descriptor metadata kept by the hook layer, independent of the I/O
// manager's registration table.

package hook

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// NoTimeout disables the per-operation timeout of a descriptor.
const NoTimeout time.Duration = -1

// FdCtx describes one descriptor seen by the hook layer. A socket is
// switched to O_NONBLOCK when first registered; the flag the application
// asked for is tracked separately as the user nonblock flag.
type FdCtx struct {
	fd       int
	isInit   bool
	isSocket bool

	sysNonblock  atomic.Bool
	userNonblock atomic.Bool
	closed       atomic.Bool
	recvTimeout  atomic.Int64
	sendTimeout  atomic.Int64
}

func newFdCtx(fd int) *FdCtx {
	c := &FdCtx{fd: fd}
	c.recvTimeout.Store(int64(NoTimeout))
	c.sendTimeout.Store(int64(NoTimeout))
	c.init()
	return c
}

func (c *FdCtx) init() {
	var st unix.Stat_t
	if err := unix.Fstat(c.fd, &st); err != nil {
		return
	}
	c.isInit = true
	c.isSocket = st.Mode&unix.S_IFMT == unix.S_IFSOCK
	if !c.isSocket {
		return
	}
	flags, err := unix.FcntlInt(uintptr(c.fd), unix.F_GETFL, 0)
	if err != nil {
		return
	}
	if flags&unix.O_NONBLOCK == 0 {
		if _, err := unix.FcntlInt(uintptr(c.fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
			return
		}
	}
	c.sysNonblock.Store(true)
}

// Fd returns the descriptor number.
func (c *FdCtx) Fd() int { return c.fd }

// IsInit reports whether the descriptor was valid when registered.
func (c *FdCtx) IsInit() bool { return c.isInit }

// IsSocket reports whether the descriptor is a socket.
func (c *FdCtx) IsSocket() bool { return c.isSocket }

// IsClosed reports whether Close has been called through the hook layer.
func (c *FdCtx) IsClosed() bool { return c.closed.Load() }

// SysNonblock reports whether the runtime forced O_NONBLOCK.
func (c *FdCtx) SysNonblock() bool { return c.sysNonblock.Load() }

// SetSysNonblock records the runtime nonblock flag.
func (c *FdCtx) SetSysNonblock(v bool) { c.sysNonblock.Store(v) }

// UserNonblock reports whether the application asked for O_NONBLOCK.
func (c *FdCtx) UserNonblock() bool { return c.userNonblock.Load() }

// SetUserNonblock records the application nonblock flag.
func (c *FdCtx) SetUserNonblock(v bool) { c.userNonblock.Store(v) }

// Timeout returns the timeout for kind, unix.SO_RCVTIMEO or
// unix.SO_SNDTIMEO, or NoTimeout.
func (c *FdCtx) Timeout(kind int) time.Duration {
	if kind == unix.SO_RCVTIMEO {
		return time.Duration(c.recvTimeout.Load())
	}
	return time.Duration(c.sendTimeout.Load())
}

// SetTimeout sets the timeout for kind. A non-positive d clears it.
func (c *FdCtx) SetTimeout(kind int, d time.Duration) {
	if d <= 0 {
		d = NoTimeout
	}
	if kind == unix.SO_RCVTIMEO {
		c.recvTimeout.Store(int64(d))
	} else {
		c.sendTimeout.Store(int64(d))
	}
}

// FdManager is the table of FdCtx indexed by descriptor.
type FdManager struct {
	mu   sync.RWMutex
	ctxs []*FdCtx
}

var fds = NewFdManager()

// Fds returns the process-wide descriptor table.
func Fds() *FdManager { return fds }

// NewFdManager creates an empty table.
func NewFdManager() *FdManager {
	return &FdManager{ctxs: make([]*FdCtx, 64)}
}

// Get returns the context of fd. With create set, a missing context is
// created, which probes the descriptor and makes sockets nonblocking.
func (m *FdManager) Get(fd int, create bool) *FdCtx {
	if fd < 0 {
		return nil
	}
	m.mu.RLock()
	if fd < len(m.ctxs) {
		if c := m.ctxs[fd]; c != nil || !create {
			m.mu.RUnlock()
			return c
		}
	} else if !create {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if fd >= len(m.ctxs) {
		grown := make([]*FdCtx, max(fd*3/2, fd+1))
		copy(grown, m.ctxs)
		m.ctxs = grown
	}
	if m.ctxs[fd] == nil {
		m.ctxs[fd] = newFdCtx(fd)
	}
	return m.ctxs[fd]
}

// Del marks the context of fd closed and forgets it.
func (m *FdManager) Del(fd int) {
	if fd < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < len(m.ctxs) && m.ctxs[fd] != nil {
		m.ctxs[fd].closed.Store(true)
		m.ctxs[fd] = nil
	}
}
