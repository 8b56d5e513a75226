// File: uio/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package uio

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uio/internal/sysfs"
)

// DefaultDevRoot is the directory holding the uioN character devices.
const DefaultDevRoot = "/dev"

// Opener opens the device node at path and returns a raw descriptor.
type Opener func(path string) (int, error)

// config collects Open parameters. It is fixed for the life of a Device.
type config struct {
	devRoot   string
	sysfsRoot string
	pageSize  int
	exclusive bool
	open      Opener

	mmap   func(fd int, offset int64, length int, prot int, flags int) ([]byte, error)
	munmap func(b []byte) error
}

func defaultConfig() config {
	return config{
		devRoot:   DefaultDevRoot,
		sysfsRoot: sysfs.DefaultRoot,
		pageSize:  unix.Getpagesize(),
		open:      openNode,
		mmap:      unix.Mmap,
		munmap:    unix.Munmap,
	}
}

func openNode(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

// Option customizes Open.
type Option func(*config)

// WithDevRoot overrides the directory holding uioN device nodes.
func WithDevRoot(dir string) Option {
	return func(c *config) {
		if dir != "" {
			c.devRoot = dir
		}
	}
}

// WithSysfsRoot overrides the UIO class directory (default /sys/class/uio).
func WithSysfsRoot(dir string) Option {
	return func(c *config) {
		if dir != "" {
			c.sysfsRoot = dir
		}
	}
}

// WithPageSize overrides the page size used to compute map offsets.
// Only useful against simulated devices; the kernel ABI uses the system page size.
func WithPageSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithExclusive takes a non-blocking advisory flock on the device node so a
// second process opening the same index fails with api.ErrBusy.
func WithExclusive(on bool) Option {
	return func(c *config) {
		c.exclusive = on
	}
}

// WithOpener replaces the function used to open the device node.
func WithOpener(fn Opener) Option {
	return func(c *config) {
		if fn != nil {
			c.open = fn
		}
	}
}
