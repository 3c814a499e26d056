//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) poller with a non-blocking self-pipe for wake-ups.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/pool"
)

const maxEvents = 256

var rawPool = pool.NewSlicePool[unix.EpollEvent](maxEvents)

// epollPoller is an epoll-based poller.
type epollPoller struct {
	epfd      int
	wakeRead  int
	wakeWrite int
	closeOnce sync.Once
}

// NewPoller constructs the epoll poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: pipe2: %w", err)
	}
	p := &epollPoller{epfd: epfd, wakeRead: fds[0], wakeWrite: fds[1]}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(p.wakeRead)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.wakeRead, &ev); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("reactor: register wake pipe: %w", err)
	}
	return p, nil
}

func (p *epollPoller) ctl(op int, fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: mask | unix.EPOLLET, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

func (p *epollPoller) Add(fd int, mask uint32) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, mask)
}

func (p *epollPoller) Modify(fd int, mask uint32) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, mask)
}

func (p *epollPoller) Delete(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	raw := rawPool.Get()
	defer rawPool.Put(raw)
	buf := *raw
	if len(events) < len(buf) {
		buf = buf[:len(events)]
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := unix.EpollWait(p.epfd, buf, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		if fd == p.wakeRead {
			p.drain()
			continue
		}
		events[out] = Event{Fd: fd, Events: buf[i].Events}
		out++
	}
	return out, nil
}

// drain empties the wake pipe; any number of wake bytes collapse into one
// reactor iteration.
func (p *epollPoller) drain() {
	var b [256]byte
	for {
		n, err := unix.Read(p.wakeRead, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	_, err := unix.Write(p.wakeWrite, []byte{'T'})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("reactor: wake: %w", err)
	}
	return nil
}

// Close closes the epoll instance and the wake pipe.
func (p *epollPoller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(
			unix.Close(p.epfd),
			unix.Close(p.wakeRead),
			unix.Close(p.wakeWrite),
		)
	})
	return err
}
