//go:build linux

// File: hook/syscalls_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hooked socket and descriptor calls. Signatures follow golang.org/x/sys/unix
// with a leading context that locates the calling fiber.

package hook

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/iomanager"
	"github.com/momentics/hioload-fiber/timer"
)

// Socket creates a socket and, when hooked, registers it as a
// runtime-managed nonblocking descriptor.
func Socket(ctx context.Context, domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil || !IsEnabled(ctx) {
		return fd, err
	}
	Fds().Get(fd, true)
	return fd, nil
}

// Connect is ConnectWithTimeout bounded by tcp.connect.timeout.
func Connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	return ConnectWithTimeout(ctx, fd, sa, ConnectTimeout())
}

// ConnectWithTimeout starts a connect and parks the calling fiber until the
// socket turns writable or timeout expires. NoTimeout waits without bound.
// The outcome is read back from SO_ERROR.
func ConnectWithTimeout(ctx context.Context, fd int, sa unix.Sockaddr, timeout time.Duration) error {
	m, _ := waiter(ctx)
	if m == nil {
		return unix.Connect(fd, sa)
	}
	fc := Fds().Get(fd, false)
	if fc == nil || fc.IsClosed() {
		return unix.EBADF
	}
	if !fc.IsSocket() || fc.UserNonblock() {
		return unix.Connect(fd, sa)
	}

	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		return err
	}

	info := &ioTimeout{}
	token := timer.NewToken()
	defer token.Invalidate()
	var t *timer.Timer
	if timeout >= 0 {
		t = m.AddConditionTimer(timeout, func() {
			if !info.errno.CompareAndSwap(0, uint32(unix.ETIMEDOUT)) {
				return
			}
			m.CancelEvent(fd, iomanager.Write)
		}, token, false)
	}
	if err := m.AddEvent(ctx, fd, iomanager.Write, nil); err != nil {
		m.Logger().Err().Int("fd", fd).Err(err).Log("connect add event failed")
		if t != nil {
			t.Cancel()
		}
	} else {
		fiber.YieldToHold(ctx)
		if t != nil {
			t.Cancel()
		}
		if errno := info.errno.Load(); errno != 0 {
			m.Metrics().RecordIOTimeout()
			return unix.Errno(errno)
		}
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

type accepted struct {
	fd int
	sa unix.Sockaddr
}

// Accept waits for a connection on fd. The new descriptor is registered
// when hooking is enabled.
func Accept(ctx context.Context, fd int) (int, unix.Sockaddr, error) {
	r, err := doIO(ctx, fd, "accept", iomanager.Read, unix.SO_RCVTIMEO, func() (accepted, error) {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		return accepted{fd: nfd, sa: sa}, err
	})
	if err != nil {
		return -1, nil, err
	}
	if IsEnabled(ctx) {
		Fds().Get(r.fd, true)
	}
	return r.fd, r.sa, nil
}

// Close releases every waiter parked on fd, forgets its metadata and
// closes it.
func Close(ctx context.Context, fd int) error {
	if !IsEnabled(ctx) {
		return unix.Close(fd)
	}
	if fc := Fds().Get(fd, false); fc != nil {
		if m := iomanager.FromContext(ctx); m != nil {
			m.CancelAll(fd)
		}
		Fds().Del(fd)
	}
	return unix.Close(fd)
}

// Read reads into p, parking while fd is not readable.
func Read(ctx context.Context, fd int, p []byte) (int, error) {
	return doIO(ctx, fd, "read", iomanager.Read, unix.SO_RCVTIMEO, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Readv is the scatter form of Read.
func Readv(ctx context.Context, fd int, iovs [][]byte) (int, error) {
	return doIO(ctx, fd, "readv", iomanager.Read, unix.SO_RCVTIMEO, func() (int, error) {
		return unix.Readv(fd, iovs)
	})
}

// Recv receives into p with flags.
func Recv(ctx context.Context, fd int, p []byte, flags int) (int, error) {
	return doIO(ctx, fd, "recv", iomanager.Read, unix.SO_RCVTIMEO, func() (int, error) {
		n, _, err := unix.Recvfrom(fd, p, flags)
		return n, err
	})
}

type received struct {
	n, oobn, recvflags int
	from               unix.Sockaddr
}

// Recvfrom receives into p and reports the sender.
func Recvfrom(ctx context.Context, fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	r, err := doIO(ctx, fd, "recvfrom", iomanager.Read, unix.SO_RCVTIMEO, func() (received, error) {
		n, from, err := unix.Recvfrom(fd, p, flags)
		return received{n: n, from: from}, err
	})
	return r.n, r.from, err
}

// Recvmsg receives data and ancillary data.
func Recvmsg(ctx context.Context, fd int, p, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error) {
	r, err := doIO(ctx, fd, "recvmsg", iomanager.Read, unix.SO_RCVTIMEO, func() (received, error) {
		n, oobn, recvflags, from, err := unix.Recvmsg(fd, p, oob, flags)
		return received{n: n, oobn: oobn, recvflags: recvflags, from: from}, err
	})
	return r.n, r.oobn, r.recvflags, r.from, err
}

// Write writes p, parking while fd is not writable.
func Write(ctx context.Context, fd int, p []byte) (int, error) {
	return doIO(ctx, fd, "write", iomanager.Write, unix.SO_SNDTIMEO, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// Writev is the gather form of Write.
func Writev(ctx context.Context, fd int, iovs [][]byte) (int, error) {
	return doIO(ctx, fd, "writev", iomanager.Write, unix.SO_SNDTIMEO, func() (int, error) {
		return unix.Writev(fd, iovs)
	})
}

// Send sends p with flags on a connected socket.
func Send(ctx context.Context, fd int, p []byte, flags int) (int, error) {
	return doIO(ctx, fd, "send", iomanager.Write, unix.SO_SNDTIMEO, func() (int, error) {
		return unix.SendmsgN(fd, p, nil, nil, flags)
	})
}

// Sendto sends p to the given address.
func Sendto(ctx context.Context, fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	return doIO(ctx, fd, "sendto", iomanager.Write, unix.SO_SNDTIMEO, func() (int, error) {
		return unix.SendmsgN(fd, p, nil, to, flags)
	})
}

// Sendmsg sends data and ancillary data.
func Sendmsg(ctx context.Context, fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	return doIO(ctx, fd, "sendmsg", iomanager.Write, unix.SO_SNDTIMEO, func() (int, error) {
		return unix.SendmsgN(fd, p, oob, to, flags)
	})
}

// Fcntl forwards cmd to fd. For runtime-managed sockets F_SETFL records the
// application's O_NONBLOCK choice while keeping the descriptor nonblocking,
// and F_GETFL reports the application's choice back.
func Fcntl(ctx context.Context, fd int, cmd int, arg int) (int, error) {
	switch cmd {
	case unix.F_SETFL:
		fc := Fds().Get(fd, false)
		if fc == nil || fc.IsClosed() || !fc.IsSocket() {
			return unix.FcntlInt(uintptr(fd), cmd, arg)
		}
		fc.SetUserNonblock(arg&unix.O_NONBLOCK != 0)
		if fc.SysNonblock() {
			arg |= unix.O_NONBLOCK
		} else {
			arg &^= unix.O_NONBLOCK
		}
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	case unix.F_GETFL:
		flags, err := unix.FcntlInt(uintptr(fd), cmd, 0)
		if err != nil {
			return flags, err
		}
		fc := Fds().Get(fd, false)
		if fc == nil || fc.IsClosed() || !fc.IsSocket() {
			return flags, nil
		}
		if fc.UserNonblock() {
			return flags | unix.O_NONBLOCK, nil
		}
		return flags &^ unix.O_NONBLOCK, nil
	default:
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	}
}

// Ioctl forwards req with an integer argument. FIONBIO on a
// runtime-managed socket only updates the application's nonblock flag.
func Ioctl(ctx context.Context, fd int, req uint, arg int) error {
	if req == FIONBIO {
		fc := Fds().Get(fd, false)
		if fc != nil && !fc.IsClosed() && fc.IsSocket() {
			fc.SetUserNonblock(arg != 0)
			if fc.SysNonblock() {
				arg = 1
			}
		}
		return unix.IoctlSetPointerInt(fd, req, arg)
	}
	return unix.IoctlSetInt(fd, req, arg)
}

// Getsockopt reads an integer socket option.
func Getsockopt(ctx context.Context, fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

// GetsockoptTimeval reads a timeval socket option. SO_RCVTIMEO and
// SO_SNDTIMEO of a registered descriptor report the hook layer's timeout.
func GetsockoptTimeval(ctx context.Context, fd, level, opt int) (*unix.Timeval, error) {
	if level == unix.SOL_SOCKET && (opt == unix.SO_RCVTIMEO || opt == unix.SO_SNDTIMEO) {
		if fc := Fds().Get(fd, false); fc != nil {
			d := fc.Timeout(opt)
			if d < 0 {
				d = 0
			}
			tv := unix.NsecToTimeval(d.Nanoseconds())
			return &tv, nil
		}
	}
	return unix.GetsockoptTimeval(fd, level, opt)
}

// Setsockopt sets an integer socket option.
func Setsockopt(ctx context.Context, fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

// SetsockoptTimeval sets a timeval socket option. SO_RCVTIMEO and
// SO_SNDTIMEO also become the per-operation timeouts of a registered
// descriptor; a zero timeval clears them.
func SetsockoptTimeval(ctx context.Context, fd, level, opt int, tv *unix.Timeval) error {
	if level == unix.SOL_SOCKET && (opt == unix.SO_RCVTIMEO || opt == unix.SO_SNDTIMEO) {
		if fc := Fds().Get(fd, false); fc != nil {
			fc.SetTimeout(opt, time.Duration(tv.Nano()))
		}
	}
	return unix.SetsockoptTimeval(fd, level, opt, tv)
}
