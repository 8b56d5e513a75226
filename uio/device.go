// File: uio/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Device handle for a UIO-bound device: owns the open /dev/uioN descriptor,
// the readiness reactor used by WaitInterrupt and every live Region.

package uio

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/internal/sysfs"
	"github.com/momentics/hioload-uio/reactor"
)

// Device is an open UIO device. Regions obtained from it are unmapped when
// the Device is closed, so none can outlive its handle. If a Device is
// dropped without Close, a finalizer releases it.
//
// A Device performs no locking around register access or interrupt
// control; callers that share one across goroutines serialize those
// themselves. Close may be called from any goroutine and wakes pending
// WaitInterrupt calls with api.ErrClosed.
type Device struct {
	*device
}

type regionKind uint8

const (
	kindMap regionKind = iota
	kindResource
)

type regionKey struct {
	kind  regionKind
	index int
}

type device struct {
	index int
	fd    int
	path  string
	cfg   config
	attrs *sysfs.Reader
	react reactor.EventReactor

	mu       sync.Mutex
	closed   bool
	polled   bool
	pollErr  error
	regions  map[regionKey]*Region
	inflight sync.WaitGroup
}

// Open claims /dev/uio<index>. It fails with api.ErrDeviceNotFound when the
// node or its sysfs directory is missing and api.ErrPermissionDenied when
// the caller lacks access.
func Open(index int, opts ...Option) (*Device, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if index < 0 {
		return nil, api.NewError(api.ErrCodeDeviceNotFound, "negative device index").
			WithContext("index", index)
	}
	attrs := sysfs.New(cfg.sysfsRoot)
	if !attrs.Exists(index) {
		return nil, api.NewError(api.ErrCodeDeviceNotFound, "no sysfs entry").
			WithContext("index", index).WithContext("dir", attrs.DeviceDir(index))
	}

	path := filepath.Join(cfg.devRoot, fmt.Sprintf("uio%d", index))
	fd, err := cfg.open(path)
	if err != nil {
		return nil, openError(err, index, path)
	}
	// Non-blocking so that a reader losing a readiness race returns EAGAIN
	// instead of sleeping in read(2) where Close cannot reach it.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, api.Wrap(api.ErrCodeIO, "set nonblocking", err).WithContext("path", path)
	}
	if cfg.exclusive {
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			unix.Close(fd)
			code := api.ErrCodeIO
			if errors.Is(err, unix.EWOULDBLOCK) {
				code = api.ErrCodeBusy
			}
			return nil, api.Wrap(code, "lock device", err).WithContext("path", path)
		}
	}

	react, err := reactor.NewReactor()
	if err != nil {
		unix.Close(fd)
		return nil, api.Wrap(api.ErrCodeIO, "create reactor", err).WithContext("path", path)
	}

	d := &Device{&device{
		index:   index,
		fd:      fd,
		path:    path,
		cfg:     cfg,
		attrs:   attrs,
		react:   react,
		regions: make(map[regionKey]*Region),
	}}
	runtime.SetFinalizer(d, func(d *Device) { _ = d.device.close() })
	return d, nil
}

func openError(err error, index int, path string) error {
	code := api.ErrCodeIO
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		code = api.ErrCodeDeviceNotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		code = api.ErrCodePermissionDenied
	case errors.Is(err, unix.EBUSY):
		code = api.ErrCodeBusy
	}
	return api.Wrap(code, "open device", err).
		WithContext("index", index).WithContext("path", path)
}

// Close wakes pending waits, unmaps every live Region and closes the
// device descriptor. Calling Close more than once is a no-op.
func (d *Device) Close() error {
	runtime.SetFinalizer(d, nil)
	return d.device.close()
}

func (d *device) close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	live := make([]*Region, 0, len(d.regions))
	for _, r := range d.regions {
		if r != nil {
			live = append(live, r)
		}
	}
	d.regions = nil
	d.mu.Unlock()

	var errs []error
	if err := d.react.Wake(); err != nil {
		errs = append(errs, api.Wrap(api.ErrCodeIO, "wake waiters", err))
	}
	for _, r := range live {
		if err := r.unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	d.inflight.Wait()

	if err := d.react.Close(); err != nil {
		errs = append(errs, api.Wrap(api.ErrCodeIO, "close reactor", err))
	}
	if err := unix.Close(d.fd); err != nil {
		errs = append(errs, api.Wrap(api.ErrCodeIO, "close device", err).WithContext("path", d.path))
	}
	return errors.Join(errs...)
}

// acquire registers an in-flight operation so Close keeps the descriptor
// open until it finishes.
func (d *device) acquire(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.closedError(op)
	}
	d.inflight.Add(1)
	return nil
}

func (d *device) done() { d.inflight.Done() }

func (d *device) closedError(op string) error {
	return api.NewError(api.ErrCodeClosed, "device closed").
		WithContext("index", d.index).WithContext("op", op)
}

// Index returns the device index N of /dev/uioN.
func (d *Device) Index() int { return d.index }

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// Name returns the driver-supplied device name.
func (d *Device) Name() (string, error) {
	return d.attrs.ReadString(d.index, sysfs.AttrName)
}

// Version returns the driver version string.
func (d *Device) Version() (string, error) {
	return d.attrs.ReadString(d.index, sysfs.AttrVersion)
}

// EventCount returns the total number of interrupts the kernel has seen for
// this device, as exposed in sysfs.
func (d *Device) EventCount() (uint32, error) {
	v, err := d.attrs.ReadUint64(d.index, sysfs.AttrEvent)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, api.NewError(api.ErrCodeParse, "event counter out of range").
			WithContext("index", d.index).WithContext("event", v)
	}
	return uint32(v), nil
}

// MapInfo reads the metadata of map slot i. A missing slot is reported as
// api.ErrRegionNotFound.
func (d *Device) MapInfo(i int) (api.MapInfo, error) {
	return d.mapInfo(i)
}

func (d *device) mapInfo(i int) (api.MapInfo, error) {
	if i < 0 {
		return api.MapInfo{Index: i}, d.regionNotFound(i, nil)
	}
	info, err := d.attrs.MapInfo(d.index, i)
	if errors.Is(err, api.ErrAttributeUnavailable) {
		return info, d.regionNotFound(i, err)
	}
	return info, err
}

func (d *device) regionNotFound(i int, cause error) *api.Error {
	return api.Wrap(api.ErrCodeRegionNotFound, "region not found", cause).
		WithContext("index", d.index).WithContext("map", i)
}

// Maps returns the metadata of every map slot with a non-zero size.
func (d *Device) Maps() ([]api.MapInfo, error) {
	return d.attrs.Maps(d.index)
}

// Resources lists the PCI resourceN files of the parent device.
func (d *Device) Resources() ([]api.ResourceInfo, error) {
	return d.attrs.Resources(d.index)
}

// Info collects name, version and map metadata in one call.
func (d *Device) Info() (api.DeviceInfo, error) {
	info := api.DeviceInfo{Index: d.index}
	var err error
	if info.Name, err = d.Name(); err != nil {
		return info, err
	}
	if info.Version, err = d.Version(); err != nil {
		return info, err
	}
	if info.Maps, err = d.Maps(); err != nil {
		return info, err
	}
	return info, nil
}

// Mapped returns the number of live regions owned by the device.
func (d *Device) Mapped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.regions {
		if r != nil {
			n++
		}
	}
	return n
}
