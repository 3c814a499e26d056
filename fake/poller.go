// File: fake/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scripted reactor.Poller for tests: readiness is injected with Fire and
// any registration call can be made to fail.

package fake

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/momentics/hioload-fiber/reactor"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("fake poller closed")

// ErrNotRegistered is returned by Modify and Delete for unknown fds.
var ErrNotRegistered = errors.New("fd not registered")

// Op names a Poller call for failure injection and call logs.
type Op string

const (
	OpAdd    Op = "add"
	OpModify Op = "mod"
	OpDelete Op = "del"
	OpWait   Op = "wait"
)

// Call is one recorded registration call.
type Call struct {
	Op   Op
	Fd   int
	Mask uint32
}

// Poller is an in-memory reactor.Poller.
type Poller struct {
	mu       sync.Mutex
	regs     map[int]uint32
	ready    []reactor.Event
	failures map[Op]error
	calls    []Call
	closed   bool
	wake     chan struct{}
}

var _ reactor.Poller = (*Poller)(nil)

// NewPoller returns an empty poller.
func NewPoller() *Poller {
	return &Poller{
		regs:     make(map[int]uint32),
		failures: make(map[Op]error),
		wake:     make(chan struct{}, 1),
	}
}

// Fail makes every following op return err; nil clears it. A wait failure
// is reported once.
func (p *Poller) Fail(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Fire queues a readiness report and wakes a waiter.
func (p *Poller) Fire(fd int, events uint32) {
	p.mu.Lock()
	p.ready = append(p.ready, reactor.Event{Fd: fd, Events: events})
	p.mu.Unlock()
	_ = p.Wake()
}

// Mask returns the registered mask of fd.
func (p *Poller) Mask(fd int) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.regs[fd]
	return m, ok
}

// Registered returns the registered fds in ascending order.
func (p *Poller) Registered() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	fds := make([]int, 0, len(p.regs))
	for fd := range p.regs {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

// Calls returns the registration calls seen so far.
func (p *Poller) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

func (p *Poller) record(op Op, fd int, mask uint32) error {
	p.calls = append(p.calls, Call{Op: op, Fd: fd, Mask: mask})
	if p.closed {
		return ErrClosed
	}
	return p.failures[op]
}

func (p *Poller) Add(fd int, mask uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpAdd, fd, mask); err != nil {
		return err
	}
	p.regs[fd] = mask
	return nil
}

func (p *Poller) Modify(fd int, mask uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpModify, fd, mask); err != nil {
		return err
	}
	if _, ok := p.regs[fd]; !ok {
		return ErrNotRegistered
	}
	p.regs[fd] = mask
	return nil
}

func (p *Poller) Delete(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDelete, fd, 0); err != nil {
		return err
	}
	if _, ok := p.regs[fd]; !ok {
		return ErrNotRegistered
	}
	delete(p.regs, fd)
	return nil
}

// take moves queued reports into events. Caller holds p.mu.
func (p *Poller) take(events []reactor.Event) int {
	n := copy(events, p.ready)
	p.ready = p.ready[n:]
	return n
}

func (p *Poller) Wait(events []reactor.Event, timeoutMs int) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	if err := p.failures[OpWait]; err != nil {
		delete(p.failures, OpWait)
		p.mu.Unlock()
		return 0, err
	}
	if n := p.take(events); n > 0 {
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	var expired <-chan time.Time
	if timeoutMs >= 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-p.wake:
	case <-expired:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.take(events), nil
}

func (p *Poller) Wake() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
