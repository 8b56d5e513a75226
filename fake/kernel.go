//go:build linux
// +build linux

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Kernel side of a simulated interrupt line. The device end of a socket pair
// is handed to uio.Open through WithOpener; the kernel end injects event
// counters and records the enable/disable words the device writes.

package fake

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Kernel simulates the interrupt protocol of a UIO device node.
type Kernel struct {
	mu      sync.Mutex
	devfd   int
	peerfd  int
	handed  bool
	count   uint32
	enabled bool
}

// NewKernel creates the socket pair backing one simulated device node.
func NewKernel() (*Kernel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Kernel{devfd: fds[0], peerfd: fds[1]}, nil
}

// Open hands the device end to the caller. It matches uio.Opener and can be
// called once; the caller owns the returned descriptor.
func (k *Kernel) Open(path string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.handed {
		return -1, unix.EBUSY
	}
	k.handed = true
	return k.devfd, nil
}

// Fire records one interrupt and delivers the new counter to the device.
func (k *Kernel) Fire() (uint32, error) {
	k.mu.Lock()
	k.count++
	c := k.count
	k.mu.Unlock()
	return c, k.Deliver(c)
}

// Deliver writes a raw counter value to the device end.
func (k *Kernel) Deliver(count uint32) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], count)
	_, err := unix.Write(k.peerfd, buf[:])
	return err
}

// Count returns the number of interrupts fired so far.
func (k *Kernel) Count() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.count
}

// NextControl waits up to timeout for the next control word written by the
// device (1 enable, 0 disable).
func (k *Kernel) NextControl(timeout time.Duration) (uint32, error) {
	fds := []unix.PollFd{{Fd: int32(k.peerfd), Events: unix.POLLIN}}
	deadline := time.Now().Add(timeout)
	for {
		ms := int(time.Until(deadline) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, unix.ETIMEDOUT
		}
		break
	}
	var buf [4]byte
	n, err := unix.Read(k.peerfd, buf[:])
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, unix.EIO
	}
	v := binary.NativeEndian.Uint32(buf[:])
	k.mu.Lock()
	k.enabled = v != 0
	k.mu.Unlock()
	return v, nil
}

// Enabled reports the last control word consumed by NextControl.
func (k *Kernel) Enabled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.enabled
}

// Close releases the kernel end, and the device end if it was never opened.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	if !k.handed {
		errs = append(errs, unix.Close(k.devfd))
		k.handed = true
	}
	if k.peerfd >= 0 {
		errs = append(errs, unix.Close(k.peerfd))
		k.peerfd = -1
	}
	return errors.Join(errs...)
}
