//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor with an eventfd wake source.
type linuxReactor struct {
	epfd   int
	wakefd int
}

// NewReactor constructs a new platform-specific EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wake: %w", err)
	}
	return &linuxReactor{epfd: epfd, wakefd: wakefd}, nil
}

// Register adds file descriptor to epoll. Level-triggered so that several
// goroutines waiting on the same fd all observe readiness.
func (r *linuxReactor) Register(fd int) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	switch {
	case err == nil, errors.Is(err, unix.EEXIST):
		return nil
	case errors.Is(err, unix.EPERM):
		return ErrNotPollable
	default:
		return fmt.Errorf("epoll ctl add: %w", err)
	}
}

// Wait waits for epoll events and fills the result into events slice.
func (r *linuxReactor) Wait(events []Event) (int, error) {
	if len(events) == 0 {
		return 0, errors.New("reactor: empty event buffer")
	}
	raw := make([]unix.EpollEvent, len(events))
	for {
		n, err := unix.EpollWait(r.epfd, raw, -1)
		if err != nil {
			// The Go runtime preempts threads with signals; epoll_wait is
			// never restarted by SA_RESTART.
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("epoll wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			if fd == r.wakefd {
				events[i] = Event{Fd: -1, Woken: true}
				continue
			}
			events[i] = Event{
				Fd:     fd,
				Hangup: raw[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
			}
		}
		return n, nil
	}
}

// Wake signals the eventfd. The counter is never drained, so the wake
// source stays readable until Close.
func (r *linuxReactor) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(r.wakefd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close closes the epoll instance and the wake source.
func (r *linuxReactor) Close() error {
	err1 := unix.Close(r.wakefd)
	err2 := unix.Close(r.epfd)
	return errors.Join(err1, err2)
}
