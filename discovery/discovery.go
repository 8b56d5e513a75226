// File: discovery/discovery.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Enumeration of UIO devices from sysfs and waiting for a device node to
// appear after an operator binds the device.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/internal/sysfs"
)

// List returns every uioN entry under sysfsRoot (default /sys/class/uio),
// ordered by index, with the non-empty map slots of each. Entries whose
// attributes cannot be read are reported with empty fields rather than
// dropped.
func List(sysfsRoot string) ([]api.DeviceInfo, error) {
	r := sysfs.New(sysfsRoot)
	entries, err := os.ReadDir(r.Root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []api.DeviceInfo{}, nil
		}
		return nil, api.Wrap(api.ErrCodeIO, "read uio class", err).WithContext("dir", r.Root())
	}
	out := make([]api.DeviceInfo, 0, len(entries))
	for _, e := range entries {
		index, ok := parseIndex(e.Name())
		if !ok || !r.Exists(index) {
			continue
		}
		info := api.DeviceInfo{Index: index}
		info.Name, _ = r.ReadString(index, sysfs.AttrName)
		info.Version, _ = r.ReadString(index, sysfs.AttrVersion)
		if maps, err := r.Maps(index); err == nil {
			info.Maps = maps
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// FindByName returns the lowest index whose name attribute equals name.
func FindByName(sysfsRoot, name string) (int, error) {
	devs, err := List(sysfsRoot)
	if err != nil {
		return -1, err
	}
	for _, d := range devs {
		if d.Name == name {
			return d.Index, nil
		}
	}
	return -1, api.NewError(api.ErrCodeDeviceNotFound, "no device with that name").
		WithContext("name", name)
}

func parseIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "uio") {
		return 0, false
	}
	n, err := strconv.Atoi(name[len("uio"):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NodePath returns devRoot/uio<index>.
func NodePath(devRoot string, index int) string {
	return filepath.Join(devRoot, fmt.Sprintf("uio%d", index))
}

// WaitForDevice blocks until devRoot/uio<index> exists or ctx is done.
// It returns at once when the node is already present.
func WaitForDevice(ctx context.Context, devRoot string, index int) error {
	path := NodePath(devRoot, index)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return api.Wrap(api.ErrCodeIO, "create watcher", err)
	}
	defer w.Close()
	// Watch before checking so a node created in between is not missed.
	if err := w.Add(devRoot); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return api.Wrap(api.ErrCodeDeviceNotFound, "device directory missing", err).
				WithContext("dir", devRoot)
		}
		return api.Wrap(api.ErrCodeIO, "watch device directory", err).WithContext("dir", devRoot)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return api.NewError(api.ErrCodeClosed, "watcher closed")
			}
			if ev.Name != path || !ev.Has(fsnotify.Create) {
				continue
			}
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return api.NewError(api.ErrCodeClosed, "watcher closed")
			}
			return api.Wrap(api.ErrCodeIO, "watch device directory", err).WithContext("dir", devRoot)
		}
	}
}
