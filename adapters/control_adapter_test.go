package adapters_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-uio/adapters"
	"github.com/momentics/hioload-uio/api"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter()
	cfg := ctrl.GetConfig()
	if len(cfg) != 0 {
		t.Error("Expected empty config on init")
	}
	err := ctrl.SetConfig(map[string]any{"k": 1})
	if err != nil {
		t.Fatal(err)
	}
	stats := ctrl.Stats()
	if stats["k"] != 1 {
		t.Error("SetConfig did not apply")
	}
	called := false
	ctrl.OnReload(func() { called = true })
	ctrl.SetConfig(map[string]any{"x": 2})
	if !called {
		t.Error("Reload hook not called")
	}
}

func TestControlAdapterMetricsAndProbes(t *testing.T) {
	ctrl := adapters.NewControlAdapter()
	ctrl.SetMetric("uio.name", "ivshmem")
	ctrl.AddMetric("irq.events", 2)
	ctrl.AddMetric("irq.events", 1)
	ctrl.RegisterDebugProbe("regions.mapped", func() any { return 1 })

	stats := ctrl.Stats()
	if stats["uio.name"] != "ivshmem" {
		t.Errorf("uio.name = %v", stats["uio.name"])
	}
	if stats["irq.events"] != int64(3) {
		t.Errorf("irq.events = %v", stats["irq.events"])
	}
	if stats["debug.regions.mapped"] != 1 {
		t.Errorf("debug.regions.mapped = %v", stats["debug.regions.mapped"])
	}
	if _, ok := stats["debug.platform.cpus"]; !ok {
		t.Error("platform probes not registered")
	}
	if err := ctrl.SetConfig(nil); !errors.Is(err, api.ErrParse) {
		t.Errorf("SetConfig(nil) = %v, want ErrParse", err)
	}
}
