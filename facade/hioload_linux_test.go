//go:build linux
// +build linux

package facade_test

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-uio/facade"
	"github.com/momentics/hioload-uio/fake"
	"github.com/momentics/hioload-uio/uio"
)

func TestInterruptMetrics(t *testing.T) {
	tree, err := fake.NewTree(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.AddSysfs(0, "irqsrc", "1.0"); err != nil {
		t.Fatal(err)
	}
	k, err := fake.NewKernel()
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	cfg := facade.DefaultConfig()
	cfg.DevRoot = tree.DevRoot
	cfg.SysfsRoot = tree.SysfsRoot
	cfg.Exclusive = false
	cfg.Options = []uio.Option{uio.WithOpener(k.Open)}

	h, err := facade.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Shutdown()
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}

	for want := uint32(1); want <= 2; want++ {
		if v, err := k.NextControl(2 * time.Second); err != nil || v != 1 {
			t.Fatalf("control word = %d, %v; want enable", v, err)
		}
		if _, err := k.Fire(); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ev, err := h.Next(ctx)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		if ev.Count != want {
			t.Fatalf("event count = %d, want %d", ev.Count, want)
		}
	}

	stats := h.GetControl().Stats()
	if stats["irq.events"] != int64(2) {
		t.Errorf("irq.events = %v", stats["irq.events"])
	}
	if stats["irq.last_count"] != uint32(2) {
		t.Errorf("irq.last_count = %v", stats["irq.last_count"])
	}

	// The watcher re-enabled the line after the last event.
	if v, err := k.NextControl(2 * time.Second); err != nil || v != 1 {
		t.Fatalf("rearm word = %d, %v; want enable", v, err)
	}
	ctrl := h.GetControl()
	if err := ctrl.SetConfig(map[string]any{facade.ConfigIRQEnabled: false}); err != nil {
		t.Fatal(err)
	}
	if v, err := k.NextControl(2 * time.Second); err != nil || v != 0 {
		t.Fatalf("control word after irq.enabled=false = %d, %v; want disable", v, err)
	}
	// Unrelated keys and an unchanged value write nothing.
	if err := ctrl.SetConfig(map[string]any{"operator": "bench"}); err != nil {
		t.Fatal(err)
	}
	if v, err := k.NextControl(100 * time.Millisecond); err == nil {
		t.Fatalf("unexpected control word %d", v)
	}
	if err := ctrl.SetConfig(map[string]any{facade.ConfigIRQEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if v, err := k.NextControl(2 * time.Second); err != nil || v != 1 {
		t.Fatalf("control word after irq.enabled=true = %d, %v; want enable", v, err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Shutdown() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return with a pending wait")
	}
}
