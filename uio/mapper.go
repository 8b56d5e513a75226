// File: uio/mapper.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Resource mapper: derives mapping geometry from sysfs metadata and maps
// the region through the device descriptor.

package uio

import (
	"errors"
	"io/fs"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uio/api"
)

// Map maps memory slot i (maps/map<i>) into the process. The region is
// placed at offset i*pagesize on the device node, as the UIO ABI requires,
// and is exactly as long as the size sysfs reports.
//
// An absent or zero-sized slot fails with api.ErrRegionNotFound before any
// mmap call. Mapping a slot that already has a live Region fails with
// api.ErrRegionBusy. A failed map leaves nothing mapped.
func (d *Device) Map(i int) (*Region, error) {
	if err := d.acquire("map"); err != nil {
		return nil, err
	}
	defer d.done()

	info, err := d.mapInfo(i)
	if err != nil {
		return nil, err
	}
	if info.Size == 0 {
		return nil, d.regionNotFound(i, nil).WithContext("reason", "zero size")
	}
	length, err := mapLength(info)
	if err != nil {
		return nil, api.Wrap(api.ErrCodeMapFailed, "region too large", err).
			WithContext("index", d.index).WithContext("map", i)
	}

	key := regionKey{kind: kindMap, index: i}
	if err := d.reserve(key); err != nil {
		return nil, err
	}
	offset := int64(i) * int64(d.cfg.pageSize)
	base, err := d.cfg.mmap(d.fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		d.unreserve(key)
		return nil, api.Wrap(api.ErrCodeMapFailed, "mmap", err).
			WithContext("index", d.index).WithContext("map", i).
			WithContext("offset", offset).WithContext("length", length)
	}
	return d.commit(key, info, base)
}

// MapResource maps the PCI BAR file device/resource<n> of the parent
// device. This bypasses the UIO map table and works for any PCI device
// whose resource files are exposed, bound to uio_pci_generic or not.
func (d *Device) MapResource(n int) (*Region, error) {
	if err := d.acquire("map resource"); err != nil {
		return nil, err
	}
	defer d.done()

	path := d.attrs.ResourcePath(d.index, n)
	fi, err := os.Stat(path)
	if n < 0 || err != nil {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, api.Wrap(api.ErrCodeIO, "stat resource", err).WithContext("path", path)
		}
		return nil, api.Wrap(api.ErrCodeRegionNotFound, "resource not found", err).
			WithContext("index", d.index).WithContext("resource", n)
	}
	if fi.Size() <= 0 {
		return nil, api.NewError(api.ErrCodeRegionNotFound, "resource not found").
			WithContext("index", d.index).WithContext("resource", n).WithContext("reason", "zero size")
	}
	if fi.Size() > math.MaxInt {
		return nil, api.NewError(api.ErrCodeMapFailed, "resource too large").WithContext("path", path)
	}
	info := api.MapInfo{Index: n, Name: fi.Name(), Size: uint64(fi.Size())}

	key := regionKey{kind: kindResource, index: n}
	if err := d.reserve(key); err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		d.unreserve(key)
		code := api.ErrCodeIO
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			code = api.ErrCodePermissionDenied
		}
		return nil, api.Wrap(code, "open resource", err).WithContext("path", path)
	}
	// The mapping keeps its own reference to the file.
	defer unix.Close(fd)

	base, err := d.cfg.mmap(fd, 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		d.unreserve(key)
		return nil, api.Wrap(api.ErrCodeMapFailed, "mmap resource", err).WithContext("path", path)
	}
	return d.commit(key, info, base)
}

// mapLength returns offset+size, the byte count handed to mmap. The region
// proper starts offset bytes into the mapping.
func mapLength(info api.MapInfo) (int, error) {
	if info.Offset > math.MaxInt || info.Size > math.MaxInt-info.Offset {
		return 0, errors.New("length overflows int")
	}
	return int(info.Offset + info.Size), nil
}

// reserve claims key so concurrent Map calls for the same slot cannot both
// succeed. A nil entry marks a mapping in progress.
func (d *device) reserve(key regionKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.closedError("map")
	}
	if _, busy := d.regions[key]; busy {
		return api.NewError(api.ErrCodeRegionBusy, "region already mapped").
			WithContext("index", d.index).WithContext("map", key.index)
	}
	d.regions[key] = nil
	return nil
}

func (d *device) unreserve(key regionKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regions != nil {
		delete(d.regions, key)
	}
}

// commit publishes a fresh mapping. If the device was closed meanwhile the
// mapping is released right away.
func (d *device) commit(key regionKey, info api.MapInfo, base []byte) (*Region, error) {
	r := newRegion(d, key, info, base, d.cfg.munmap)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = r.unmap()
		return nil, d.closedError("map")
	}
	d.regions[key] = r
	d.mu.Unlock()
	return r, nil
}

// forget drops r from the live set if it is still registered.
func (d *device) forget(r *Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.regions[r.key]; ok && cur == r {
		delete(d.regions, r.key)
	}
}
