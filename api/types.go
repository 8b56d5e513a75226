// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

// MapInfo describes one memory map slot exposed under maps/mapN.
type MapInfo struct {
	Index  int
	Name   string // optional, empty when the driver does not name the map
	Addr   uint64 // physical (or logical) base address reported by the kernel
	Size   uint64 // byte length; zero means the slot is unused
	Offset uint64 // page offset of the region start, zero on most drivers
}

// ResourceInfo describes a PCI resourceN file exposed under device/.
type ResourceInfo struct {
	Index int
	Name  string
	Size  int64
}

// DeviceInfo is a summary of one UIO device as reported by sysfs.
type DeviceInfo struct {
	Index   int
	Name    string
	Version string
	Maps    []MapInfo
}
