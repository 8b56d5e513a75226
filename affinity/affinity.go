// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

// SetAffinity pins the current OS thread to a given logical CPU. The caller
// must hold runtime.LockOSThread for the pin to stick to its goroutine.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// NumCPU reports the number of CPUs usable by the process.
func NumCPU() int {
	return numCPUPlatform()
}
