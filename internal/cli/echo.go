//go:build linux

// File: internal/cli/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP echo server written against the hook layer: one fiber accepts, one
// fiber per connection echoes, and every blocking call parks a fiber
// instead of a thread.

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/hook"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/momentics/hioload-fiber/iomanager"
	"github.com/momentics/hioload-fiber/pool"
)

// echoBuffers holds per-connection read buffers.
var echoBuffers = pool.NewSlicePool[byte](4096)

func buildEchoCommand(o *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Serve a hooked TCP echo server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ap, err := netip.ParseAddrPort(addr)
			if err != nil {
				return fmt.Errorf("parse --addr: %w", err)
			}
			if !ap.Addr().Is4() {
				return fmt.Errorf("--addr must be an IPv4 address, got %s", addr)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, err := o.newIOManager("echo")
			if err != nil {
				return err
			}
			srv := newEchoServer(m, o.log)
			ready := make(chan int, 1)
			m.Schedule(func(fctx context.Context) { srv.serve(fctx, ap, ready) })

			select {
			case port := <-ready:
				if port < 0 {
					m.Stop()
					return srv.err()
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "echo listening on %s\n", netip.AddrPortFrom(ap.Addr(), uint16(port)))
			case <-ctx.Done():
			}
			<-ctx.Done()
			m.Schedule(srv.shutdown)
			m.Stop()
			return srv.err()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9002", "listen address")
	return cmd
}

// echoServer tracks the listener and open connections so shutdown can
// release every parked fiber.
type echoServer struct {
	m   *iomanager.IOManager
	log *logging.Logger

	mu       sync.Mutex
	listener int
	conns    map[int]struct{}
	closing  bool
	failure  error
}

func newEchoServer(m *iomanager.IOManager, log *logging.Logger) *echoServer {
	return &echoServer{m: m, log: log, listener: -1, conns: make(map[int]struct{})}
}

func (s *echoServer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *echoServer) fail(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
}

// listen opens the listening socket and returns the bound port.
func (s *echoServer) listen(ctx context.Context, ap netip.AddrPort) (int, error) {
	fd, err := hook.Socket(ctx, unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := hook.Setsockopt(ctx, fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = hook.Close(ctx, fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}); err != nil {
		_ = hook.Close(ctx, fd)
		return -1, fmt.Errorf("bind %s: %w", ap, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = hook.Close(ctx, fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		_ = hook.Close(ctx, fd)
		return -1, fmt.Errorf("getsockname: %w", err)
	}
	s.mu.Lock()
	s.listener = fd
	s.mu.Unlock()
	return sa.(*unix.SockaddrInet4).Port, nil
}

func (s *echoServer) serve(ctx context.Context, ap netip.AddrPort, ready chan<- int) {
	port, err := s.listen(ctx, ap)
	if err != nil {
		s.fail(err)
		ready <- -1
		return
	}
	ready <- port
	lfd := s.listener
	for {
		fd, peer, err := hook.Accept(ctx, lfd)
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, unix.EBADF) {
				return
			}
			s.log.Warning().Err(err).Log("accept failed")
			continue
		}
		if !s.track(fd) {
			_ = hook.Close(ctx, fd)
			return
		}
		s.log.Debug().Int("fd", fd).Str("peer", sockaddrString(peer)).Log("connection accepted")
		s.m.Schedule(func(ctx context.Context) { s.handle(ctx, fd) })
	}
}

func (s *echoServer) track(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[fd] = struct{}{}
	return true
}

func (s *echoServer) handle(ctx context.Context, fd int) {
	defer func() {
		s.mu.Lock()
		_, open := s.conns[fd]
		delete(s.conns, fd)
		s.mu.Unlock()
		if open {
			_ = hook.Close(ctx, fd)
		}
	}()
	bp := echoBuffers.Get()
	defer echoBuffers.Put(bp)
	buf := *bp
	for {
		n, err := hook.Read(ctx, fd, buf)
		if err != nil || n <= 0 {
			return
		}
		for off := 0; off < n; {
			w, err := hook.Write(ctx, fd, buf[off:n])
			if err != nil {
				return
			}
			off += w
		}
	}
}

// shutdown runs as a task so the closes reach the I/O manager and wake the
// parked accept and read fibers.
func (s *echoServer) shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closing = true
	lfd := s.listener
	s.listener = -1
	conns := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		conns = append(conns, fd)
	}
	clear(s.conns)
	s.mu.Unlock()

	if lfd >= 0 {
		_ = hook.Close(ctx, lfd)
	}
	for _, fd := range conns {
		_ = hook.Close(ctx, fd)
	}
	s.log.Info().Int("connections", len(conns)).Log("echo server closed")
}

func sockaddrString(sa unix.Sockaddr) string {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return netip.AddrPortFrom(netip.AddrFrom4(in4.Addr), uint16(in4.Port)).String()
	}
	return fmt.Sprintf("%T", sa)
}
