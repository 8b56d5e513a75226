// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, device metrics and debug introspection layer for
// hioload-uio.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads and merged updates with reload listeners
//   - Counters and gauges for interrupt and mapping telemetry
//   - Probe registration for state dumps
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
