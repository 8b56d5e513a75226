// Package fake
// Author: momentics <momentics@gmail.com>
//
// Simulated UIO environment for tests: a sysfs class tree plus regular
// files standing in for /dev/uioN, so that mapping can be exercised without
// hardware.

package fake

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Tree is a throwaway /sys/class/uio and /dev layout below Root.
type Tree struct {
	Root      string
	SysfsRoot string
	DevRoot   string
	PageSize  int
}

// NewTree lays out an empty tree below dir (usually t.TempDir()).
func NewTree(dir string) (*Tree, error) {
	t := &Tree{
		Root:      dir,
		SysfsRoot: filepath.Join(dir, "sys", "class", "uio"),
		DevRoot:   filepath.Join(dir, "dev"),
		PageSize:  os.Getpagesize(),
	}
	for _, d := range []string{t.SysfsRoot, t.DevRoot} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DeviceDir returns the sysfs directory of index.
func (t *Tree) DeviceDir(index int) string {
	return filepath.Join(t.SysfsRoot, fmt.Sprintf("uio%d", index))
}

// NodePath returns the device node path of index.
func (t *Tree) NodePath(index int) string {
	return filepath.Join(t.DevRoot, fmt.Sprintf("uio%d", index))
}

// AddDevice creates the sysfs entry and the backing node for index.
func (t *Tree) AddDevice(index int, name, version string) error {
	if err := t.AddSysfs(index, name, version); err != nil {
		return err
	}
	return t.CreateNode(index)
}

// AddSysfs creates only the sysfs side of a device.
func (t *Tree) AddSysfs(index int, name, version string) error {
	if err := os.MkdirAll(t.DeviceDir(index), 0o755); err != nil {
		return err
	}
	if err := t.SetAttr(index, "name", name+"\n"); err != nil {
		return err
	}
	if err := t.SetAttr(index, "version", version+"\n"); err != nil {
		return err
	}
	return t.SetEvent(index, 0)
}

// CreateNode creates an empty regular file standing in for /dev/uioN.
func (t *Tree) CreateNode(index int) error {
	f, err := os.OpenFile(t.NodePath(index), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

// SetAttr writes an attribute file relative to the device directory.
func (t *Tree) SetAttr(index int, rel, content string) error {
	p := filepath.Join(t.DeviceDir(index), rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(content), 0o644)
}

// SetEvent updates the sysfs event counter.
func (t *Tree) SetEvent(index int, n uint32) error {
	return t.SetAttr(index, "event", strconv.FormatUint(uint64(n), 10)+"\n")
}

// AddMap declares maps/map<m> with the given size and address and grows
// the node so that offset m*PageSize+size is backed by the file.
func (t *Tree) AddMap(index, m int, size, addr uint64) error {
	return t.AddMapAt(index, m, size, addr, 0)
}

// AddMapAt is AddMap for a region starting offset bytes into its page, as
// reported by maps/map<m>/offset. The node is backed up to
// m*PageSize+offset+size.
func (t *Tree) AddMapAt(index, m int, size, addr, offset uint64) error {
	dir := filepath.Join("maps", fmt.Sprintf("map%d", m))
	if err := t.SetAttr(index, filepath.Join(dir, "size"), fmt.Sprintf("0x%08x\n", size)); err != nil {
		return err
	}
	if err := t.SetAttr(index, filepath.Join(dir, "addr"), fmt.Sprintf("0x%016x\n", addr)); err != nil {
		return err
	}
	if err := t.SetAttr(index, filepath.Join(dir, "offset"), fmt.Sprintf("0x%x\n", offset)); err != nil {
		return err
	}
	return t.grow(t.NodePath(index), int64(m)*int64(t.PageSize)+int64(offset)+int64(size))
}

// AddResource creates device/resource<n> with size bytes of backing store.
func (t *Tree) AddResource(index, n int, size int64) error {
	p := filepath.Join(t.DeviceDir(index), "device", fmt.Sprintf("resource%d", n))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return t.grow(p, size)
}

// ReadNode returns the backing bytes of the node at [off, off+n).
func (t *Tree) ReadNode(index int, off int64, n int) ([]byte, error) {
	f, err := os.Open(t.NodePath(index))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *Tree) grow(path string, size int64) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Size() >= size {
		return nil
	}
	return os.Truncate(path, size)
}
