// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller interface used by the I/O manager.
// Registrations are edge-triggered: a descriptor is reported once per
// readiness transition and must be re-armed by the caller.

package reactor

// Readiness bits. The values match epoll(7) so that masks can be passed to
// the kernel unchanged.
const (
	EventRead  uint32 = 0x1
	EventWrite uint32 = 0x4
	EventError uint32 = 0x8
	EventHup   uint32 = 0x10
)

// Event is one readiness report returned by Wait.
type Event struct {
	Fd     int
	Events uint32
}

// Poller multiplexes descriptor readiness and can be woken from any
// goroutine.
type Poller interface {
	// Add registers fd for the given readiness mask.
	Add(fd int, mask uint32) error

	// Modify replaces the readiness mask of a registered fd.
	Modify(fd int, mask uint32) error

	// Delete unregisters fd.
	Delete(fd int) error

	// Wait blocks up to timeoutMs (negative blocks indefinitely) and fills
	// events. Wake-ups are consumed internally and never reported. An
	// interrupted wait returns zero events and no error.
	Wait(events []Event, timeoutMs int) (n int, err error)

	// Wake unblocks one pending or the next Wait. It never blocks.
	Wake() error

	// Close releases the poller's descriptors.
	Close() error
}
