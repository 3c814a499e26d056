//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-fiber/api"

// NewPoller returns api.ErrUnsupported on platforms without epoll.
func NewPoller() (Poller, error) {
	return nil, api.ErrUnsupported
}
