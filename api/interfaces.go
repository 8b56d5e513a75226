// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package api

// AttributeReader reads single-value attributes the kernel exposes for a
// UIO device index.
type AttributeReader interface {
	ReadUint64(index int, attr string) (uint64, error)
	ReadString(index int, attr string) (string, error)
}

// RegisterView is a bounds-checked window over mapped device memory.
type RegisterView interface {
	Len() int
	Read8(off int) (uint8, error)
	Read16(off int) (uint16, error)
	Read32(off int) (uint32, error)
	Read64(off int) (uint64, error)
	Write8(off int, v uint8) error
	Write16(off int, v uint16) error
	Write32(off int, v uint32) error
	Write64(off int, v uint64) error
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// InterruptChannel toggles and waits for interrupt notifications on a device.
type InterruptChannel interface {
	EnableInterrupt() error
	DisableInterrupt() error
	// WaitInterrupt blocks until the kernel reports at least one interrupt
	// and returns its running event counter.
	WaitInterrupt() (uint32, error)
}
