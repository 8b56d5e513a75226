// File: uio/interrupt.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interrupt channel over the device descriptor: a 4-byte write toggles
// delivery, a 4-byte read blocks until the next interrupt.

package uio

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/reactor"
)

// Values written to the device node to control interrupt delivery.
const (
	irqDisable uint32 = 0
	irqEnable  uint32 = 1
)

var _ api.InterruptChannel = (*Device)(nil)

// EnableInterrupt asks the kernel driver to deliver interrupts. How the
// request is applied is up to the driver's irqcontrol hook.
func (d *Device) EnableInterrupt() error {
	return d.writeControl(irqEnable, "enable interrupt")
}

// DisableInterrupt asks the kernel driver to stop delivering interrupts.
func (d *Device) DisableInterrupt() error {
	return d.writeControl(irqDisable, "disable interrupt")
}

func (d *device) writeControl(v uint32, op string) error {
	if err := d.acquire(op); err != nil {
		return err
	}
	defer d.done()

	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], v)
	n, err := unix.Write(d.fd, buf[:])
	if err != nil {
		return api.Wrap(api.ErrCodeIO, op, err).WithContext("index", d.index)
	}
	if n != len(buf) {
		return api.NewError(api.ErrCodeIO, op+": short write").
			WithContext("index", d.index).WithContext("written", n)
	}
	return nil
}

// WaitInterrupt blocks until the kernel reports at least one interrupt
// since the descriptor was opened or last read, and returns the kernel's
// running event counter. Successive values on one Device never decrease.
//
// The counter is a wakeup signal with a lower-bound guarantee: several
// interrupts may be folded into one wakeup. Callers that care about missed
// interrupts compare consecutive values themselves.
//
// There is no timeout. Close the Device from another goroutine to abort the
// wait; it then fails with api.ErrClosed. A read interrupted by a signal
// fails with api.ErrInterrupted, which is safe to retry.
func (d *Device) WaitInterrupt() (uint32, error) {
	if err := d.acquire("wait interrupt"); err != nil {
		return 0, err
	}
	defer d.done()

	if err := d.ensurePolled(); err != nil {
		return 0, err
	}

	events := make([]reactor.Event, 2)
	var buf [4]byte
	for {
		n, err := d.react.Wait(events)
		if err != nil {
			return 0, api.Wrap(api.ErrCodeIO, "wait interrupt", err).WithContext("index", d.index)
		}
		readable := false
		for _, ev := range events[:n] {
			if ev.Woken {
				return 0, d.closedError("wait interrupt")
			}
			if ev.Fd == d.fd {
				readable = true
			}
		}
		if !readable {
			continue
		}

		nr, err := unix.Read(d.fd, buf[:])
		switch {
		case errors.Is(err, unix.EAGAIN):
			// another waiter consumed the event
			continue
		case errors.Is(err, unix.EINTR):
			return 0, api.Wrap(api.ErrCodeInterrupted, "wait interrupt", err).WithContext("index", d.index)
		case err != nil:
			return 0, api.Wrap(api.ErrCodeIO, "wait interrupt", err).WithContext("index", d.index)
		case nr != len(buf):
			return 0, api.NewError(api.ErrCodeIO, "wait interrupt: short read").
				WithContext("index", d.index).WithContext("read", nr)
		}
		return binary.NativeEndian.Uint32(buf[:]), nil
	}
}

// ensurePolled registers the device descriptor with the reactor on first
// use. A descriptor without poll support is remembered as a permanent error.
func (d *device) ensurePolled() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.polled {
		return nil
	}
	if d.pollErr != nil {
		return d.pollErr
	}
	if err := d.react.Register(d.fd); err != nil {
		d.pollErr = api.Wrap(api.ErrCodeIO, "register device for polling", err).
			WithContext("index", d.index).WithContext("path", d.path)
		return d.pollErr
	}
	d.polled = true
	return nil
}
