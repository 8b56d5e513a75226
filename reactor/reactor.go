// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import "errors"

// ErrNotPollable is returned by Register when the descriptor does not
// support readiness notification (regular files, for example).
var ErrNotPollable = errors.New("reactor: descriptor does not support polling")

// EventReactor waits for read readiness on registered descriptors.
type EventReactor interface {
	// Register adds fd to the read interest set.
	Register(fd int) error

	// Wait blocks until at least one registered fd is readable or Wake was
	// called, then fills events. Signal interruptions are retried.
	Wait(events []Event) (n int, err error)

	// Wake makes every current and future Wait return a Woken event.
	// The wake is sticky; there is no way to reset it.
	Wake() error

	// Close releases the reactor descriptors. Callers must ensure no Wait
	// is in flight.
	Close() error
}

// Event contains readiness information returned by Wait.
type Event struct {
	Fd     int  // ready descriptor, -1 for the wake source
	Woken  bool // Wake was called
	Hangup bool // EPOLLHUP or EPOLLERR reported for Fd
}
