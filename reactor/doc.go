// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the edge-triggered readiness poller behind the
// fiber I/O manager: an epoll(7) instance plus a self-pipe that lets any
// goroutine interrupt a blocked wait.
package reactor
