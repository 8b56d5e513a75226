package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/fake"
	"github.com/momentics/hioload-uio/uio"
)

func TestWaitErrorTranslatesTimerClose(t *testing.T) {
	closed := api.NewError(api.ErrCodeClosed, "device closed").WithContext("op", "enable interrupt")
	err := waitError(closed, 250*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out after 250ms") {
		t.Errorf("waitError = %v, want timeout message", err)
	}
	// Without a timer a close is reported as is.
	if err := waitError(closed, 0); !errors.Is(err, api.ErrClosed) {
		t.Errorf("waitError without timeout = %v", err)
	}
	ioErr := api.NewError(api.ErrCodeIO, "short write")
	if err := waitError(ioErr, time.Second); !errors.Is(err, api.ErrIO) {
		t.Errorf("waitError(io) = %v", err)
	}
}

// An enable racing the timer's Close surfaces as a timeout too.
func TestEnableAfterTimerCloseIsTimeout(t *testing.T) {
	tree, err := fake.NewTree(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.AddDevice(0, "timer", "1.0"); err != nil {
		t.Fatal(err)
	}
	dev, err := uio.Open(0, uio.WithDevRoot(tree.DevRoot), uio.WithSysfsRoot(tree.SysfsRoot))
	if err != nil {
		t.Fatal(err)
	}
	dev.Close()
	err = waitError(dev.EnableInterrupt(), time.Second)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("enable after close = %v, want timeout", err)
	}
}
