// File: internal/sysfs/reader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Attribute reader for the per-device UIO sysfs tree (/sys/class/uio/uioN).
// Values are single-line text: strings, decimal or 0x-prefixed hex numbers.

package sysfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/momentics/hioload-uio/api"
)

// DefaultRoot is the class directory holding one uioN entry per device.
const DefaultRoot = "/sys/class/uio"

// Well-known attribute names relative to the device directory.
const (
	AttrName    = "name"
	AttrVersion = "version"
	AttrEvent   = "event"
)

// maxAttrSize bounds a single attribute read; sysfs attributes fit in a page.
const maxAttrSize = 4096

// Reader reads attributes below root. It holds no descriptors.
type Reader struct {
	root string
}

var _ api.AttributeReader = (*Reader)(nil)

// New returns a Reader rooted at root, or DefaultRoot when root is empty.
func New(root string) *Reader {
	if root == "" {
		root = DefaultRoot
	}
	return &Reader{root: root}
}

// Root returns the class directory this reader resolves against.
func (r *Reader) Root() string { return r.root }

// DeviceDir returns the sysfs directory of device index.
func (r *Reader) DeviceDir(index int) string {
	return filepath.Join(r.root, fmt.Sprintf("uio%d", index))
}

// Exists reports whether the sysfs directory for index is present.
func (r *Reader) Exists(index int) bool {
	if index < 0 {
		return false
	}
	fi, err := os.Stat(r.DeviceDir(index))
	return err == nil && fi.IsDir()
}

// MapAttr builds the relative path of a per-map attribute, e.g. maps/map0/size.
func MapAttr(mapIndex int, attr string) string {
	return filepath.Join("maps", fmt.Sprintf("map%d", mapIndex), attr)
}

// ReadString returns the trimmed content of attr.
func (r *Reader) ReadString(index int, attr string) (string, error) {
	raw, err := r.read(index, attr)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(raw))
	if s == "" || !utf8.ValidString(s) {
		return "", api.NewError(api.ErrCodeParse, "malformed string attribute").
			WithContext("index", index).WithContext("attr", attr)
	}
	return s, nil
}

// ReadUint64 parses attr as a decimal or 0x-prefixed hexadecimal number.
func (r *Reader) ReadUint64(index int, attr string) (uint64, error) {
	raw, err := r.read(index, attr)
	if err != nil {
		return 0, err
	}
	v, perr := ParseUint(string(raw))
	if perr != nil {
		return 0, api.Wrap(api.ErrCodeParse, "malformed numeric attribute", perr).
			WithContext("index", index).WithContext("attr", attr)
	}
	return v, nil
}

// ParseUint parses a trimmed decimal or 0x/0X hexadecimal value. Leading
// zeros on decimal input are accepted as decimal, never octal.
func ParseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func (r *Reader) read(index int, attr string) ([]byte, error) {
	path := filepath.Join(r.DeviceDir(index), attr)
	f, err := os.Open(path)
	if err != nil {
		return nil, attrError(err, index, attr)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxAttrSize))
	if err != nil {
		return nil, api.Wrap(api.ErrCodeIO, "read attribute", err).
			WithContext("index", index).WithContext("attr", attr)
	}
	return raw, nil
}

func attrError(err error, index int, attr string) error {
	code := api.ErrCodeIO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = api.ErrCodeAttributeUnavailable
	case errors.Is(err, fs.ErrPermission):
		code = api.ErrCodePermissionDenied
	}
	return api.Wrap(code, "open attribute", err).
		WithContext("index", index).WithContext("attr", attr)
}

// MapIndices lists the indices of maps/mapN directories in ascending order.
// A device without a maps directory yields an empty slice.
func (r *Reader) MapIndices(index int) ([]int, error) {
	return r.scanIndexed(filepath.Join(r.DeviceDir(index), "maps"), "map", true)
}

// MapInfo reads the metadata of maps/map<m>. Only size is required; addr,
// offset and name are informational and older kernels lack offset.
func (r *Reader) MapInfo(index, m int) (api.MapInfo, error) {
	info := api.MapInfo{Index: m}
	size, err := r.ReadUint64(index, MapAttr(m, "size"))
	if err != nil {
		return info, err
	}
	info.Size = size
	if v, err := r.ReadUint64(index, MapAttr(m, "addr")); err == nil {
		info.Addr = v
	}
	if v, err := r.ReadUint64(index, MapAttr(m, "offset")); err == nil {
		info.Offset = v
	}
	if s, err := r.ReadString(index, MapAttr(m, "name")); err == nil {
		info.Name = s
	}
	return info, nil
}

// Maps returns the metadata of every map slot with a non-zero size. Slots
// without a size attribute are skipped.
func (r *Reader) Maps(index int) ([]api.MapInfo, error) {
	idx, err := r.MapIndices(index)
	if err != nil {
		return nil, err
	}
	out := make([]api.MapInfo, 0, len(idx))
	for _, m := range idx {
		info, err := r.MapInfo(index, m)
		if err != nil {
			if errors.Is(err, api.ErrAttributeUnavailable) {
				continue
			}
			return nil, err
		}
		if info.Size == 0 {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Resources lists the device/resourceN files of a PCI-backed device with
// their byte sizes. Write-combining variants (resourceN_wc) are skipped.
func (r *Reader) Resources(index int) ([]api.ResourceInfo, error) {
	dir := filepath.Join(r.DeviceDir(index), "device")
	idx, err := r.scanIndexed(dir, "resource", false)
	if err != nil {
		return nil, err
	}
	out := make([]api.ResourceInfo, 0, len(idx))
	for _, i := range idx {
		name := fmt.Sprintf("resource%d", i)
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return nil, attrError(err, index, filepath.Join("device", name))
		}
		out = append(out, api.ResourceInfo{Index: i, Name: name, Size: fi.Size()})
	}
	return out, nil
}

// ResourcePath returns the absolute path of device/resource<n>.
func (r *Reader) ResourcePath(index, n int) string {
	return filepath.Join(r.DeviceDir(index), "device", fmt.Sprintf("resource%d", n))
}

func (r *Reader) scanIndexed(dir, prefix string, wantDir bool) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []int{}, nil
		}
		return nil, api.Wrap(api.ErrCodeIO, "read directory", err).WithContext("dir", dir)
	}
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
			continue
		}
		n, err := strconv.Atoi(name[len(prefix):])
		if err != nil || n < 0 {
			continue
		}
		// sysfs entries may be symlinks; follow them before checking the kind.
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil || fi.IsDir() != wantDir {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
