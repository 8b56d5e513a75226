// File: uio/region.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounds-checked views over mapped device memory.

package uio

import (
	"io"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-uio/api"
)

// Region is one mapped device memory range. Its length is the size the
// kernel reported when it was mapped and never changes. Every access is
// checked against that length; accesses after the Region or its Device
// is closed return api.ErrClosed.
//
// Multi-byte accessors require natural alignment and perform a single load
// or store in host byte order. ReadAt and WriteAt copy with memmove and are
// meant for buffers, not for registers with access-width side effects.
type Region struct {
	Window

	dev    *device
	key    regionKey
	info   api.MapInfo
	munmap func([]byte) error

	mu   sync.RWMutex // guards the mapping lifetime, not register ordering
	base []byte       // whole mmap'ed range as returned by mmap
	mem  []byte       // the region proper, base[offset:offset+size]
}

var _ api.RegisterView = (*Region)(nil)

func newRegion(dev *device, key regionKey, info api.MapInfo, base []byte, munmap func([]byte) error) *Region {
	r := &Region{
		dev:    dev,
		key:    key,
		info:   info,
		munmap: munmap,
		base:   base,
		mem:    base[info.Offset : info.Offset+info.Size],
	}
	r.Window = Window{r: r, off: 0, n: len(r.mem)}
	return r
}

// Index returns the map or resource index this region was created from.
func (r *Region) Index() int { return r.info.Index }

// Info returns the metadata the region was mapped with.
func (r *Region) Info() api.MapInfo { return r.info }

// PhysAddr returns the base address reported by the kernel.
func (r *Region) PhysAddr() uint64 { return r.info.Addr }

// Closed reports whether the mapping has been released.
func (r *Region) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mem == nil
}

// Close unmaps the region and detaches it from its Device. It is safe to
// call more than once and after the Device itself was closed.
func (r *Region) Close() error {
	err := r.unmap()
	r.dev.forget(r)
	return err
}

func (r *Region) unmap() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base == nil {
		return nil
	}
	err := r.munmap(r.base)
	r.base, r.mem = nil, nil
	if err != nil {
		return api.Wrap(api.ErrCodeIO, "munmap", err).
			WithContext("index", r.dev.index).WithContext("map", r.info.Index)
	}
	return nil
}

// Window is a bounded sub-view of a Region. It shares the Region's
// lifetime: once the Region is unmapped every Window access fails.
type Window struct {
	r   *Region
	off int
	n   int
}

var _ api.RegisterView = (*Window)(nil)

// Len returns the number of addressable bytes.
func (w *Window) Len() int { return w.n }

// Slice returns the sub-window [off, off+n).
func (w *Window) Slice(off, n int) (*Window, error) {
	if off < 0 || n < 0 || off > w.n || n > w.n-off {
		return nil, w.rangeError(off, n)
	}
	return &Window{r: w.r, off: w.off + off, n: n}, nil
}

// at validates [off, off+width) and returns a pointer into the mapping.
// The caller must hold w.r.mu for reading.
func (w *Window) at(off, width int) (unsafe.Pointer, error) {
	if w.r.mem == nil {
		return nil, w.r.dev.closedError("region access")
	}
	if off < 0 || width > w.n || off > w.n-width {
		return nil, w.rangeError(off, width)
	}
	p := unsafe.Pointer(&w.r.mem[w.off+off])
	if uintptr(p)%uintptr(width) != 0 {
		return nil, api.NewError(api.ErrCodeMisaligned, "misaligned access").
			WithContext("offset", off).WithContext("width", width)
	}
	return p, nil
}

func (w *Window) rangeError(off, n int) error {
	return api.NewError(api.ErrCodeOutOfRange, "offset out of range").
		WithContext("offset", off).WithContext("width", n).WithContext("len", w.n)
}

// Read8 loads the byte at off.
func (w *Window) Read8(off int) (uint8, error) {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 1)
	if err != nil {
		return 0, err
	}
	return *(*uint8)(p), nil
}

// Read16 loads the naturally aligned 16-bit value at off.
func (w *Window) Read16(off int) (uint16, error) {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 2)
	if err != nil {
		return 0, err
	}
	return *(*uint16)(p), nil
}

// Read32 loads the naturally aligned 32-bit register at off in one access.
func (w *Window) Read32(off int) (uint32, error) {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 4)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(p)), nil
}

// Read64 loads the naturally aligned 64-bit value at off in one access.
func (w *Window) Read64(off int) (uint64, error) {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 8)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(p)), nil
}

// Write8 stores v at off.
func (w *Window) Write8(off int, v uint8) error {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 1)
	if err != nil {
		return err
	}
	*(*uint8)(p) = v
	return nil
}

// Write16 stores v at the naturally aligned offset off.
func (w *Window) Write16(off int, v uint16) error {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 2)
	if err != nil {
		return err
	}
	*(*uint16)(p) = v
	return nil
}

// Write32 stores v to the naturally aligned 32-bit register at off in one access.
func (w *Window) Write32(off int, v uint32) error {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 4)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(p), v)
	return nil
}

// Write64 stores v at the naturally aligned offset off in one access.
func (w *Window) Write64(off int, v uint64) error {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	p, err := w.at(off, 8)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(p), v)
	return nil
}

// ReadAt implements io.ReaderAt. Reading past the end returns the bytes up
// to the end and io.EOF; a negative offset or one beyond Len is rejected.
func (w *Window) ReadAt(p []byte, off int64) (int, error) {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	if w.r.mem == nil {
		return 0, w.r.dev.closedError("region read")
	}
	if off < 0 || off > int64(w.n) {
		return 0, w.rangeError(int(off), len(p))
	}
	start := w.off + int(off)
	n := copy(p, w.r.mem[start:w.off+w.n])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes that do not fit are rejected
// whole; nothing is written.
func (w *Window) WriteAt(p []byte, off int64) (int, error) {
	w.r.mu.RLock()
	defer w.r.mu.RUnlock()
	if w.r.mem == nil {
		return 0, w.r.dev.closedError("region write")
	}
	if off < 0 || off > int64(w.n) || int64(len(p)) > int64(w.n)-off {
		return 0, w.rangeError(int(off), len(p))
	}
	start := w.off + int(off)
	return copy(w.r.mem[start:start+len(p)], p), nil
}
