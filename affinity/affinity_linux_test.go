//go:build linux

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/momentics/hioload-uio/affinity"
)

func TestSetAffinityPinsCurrentThread(t *testing.T) {
	if affinity.NumCPU() < 1 {
		t.Fatal("NumCPU < 1")
	}
	errs := make(chan error, 2)
	go func() {
		// Exiting while locked discards the pinned thread.
		runtime.LockOSThread()
		errs <- affinity.SetAffinity(0)
		errs <- affinity.SetAffinity(-1)
	}()
	if err := <-errs; err != nil {
		t.Skipf("cpu 0 not available to this process: %v", err)
	}
	if err := <-errs; err == nil {
		t.Error("expected error for negative cpu")
	}
}
