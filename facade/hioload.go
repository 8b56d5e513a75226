// File: facade/hioload.go
// Unified facade layer for hioload-uio.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HioloadUIO aggregates an open UIO device, its mapped regions, an
// interrupt watcher and the control plane behind one lifecycle. The
// configuration is immutable per run; runtime values are published
// through the Control interface.

package facade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-uio/adapters"
	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/discovery"
	"github.com/momentics/hioload-uio/internal/sysfs"
	"github.com/momentics/hioload-uio/uio"
	"github.com/momentics/hioload-uio/watch"
)

// Config holds parameters immutable per run.
type Config struct {
	Index             int           // N of /dev/uioN
	DevRoot           string        // directory holding device nodes
	SysfsRoot         string        // UIO class directory in sysfs
	Regions           []int         // map slots to map at New
	VersionConstraint string        // semver constraint on the driver version; empty skips the check
	WaitForDevice     time.Duration // how long to wait for the node to appear; zero opens at once
	Exclusive         bool          // take an advisory lock on the node
	Watch             watch.Config  // interrupt watcher settings
	EnableMetrics     bool          // publish interrupt and mapping metrics
	EnableDebug       bool          // register debug probes
	Options           []uio.Option  // extra options passed to uio.Open last
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Index:         0,                     // first UIO device
		DevRoot:       uio.DefaultDevRoot,    // /dev
		SysfsRoot:     sysfs.DefaultRoot,     // /sys/class/uio
		Exclusive:     true,                  // one owner per device
		Watch:         watch.DefaultConfig(), // rearm before every wait
		EnableMetrics: true,
		EnableDebug:   true,
	}
}

// HioloadUIO is the main facade type.
// It implements api.GracefulShutdown to allow unified shutdown logic.
type HioloadUIO struct {
	device  *uio.Device
	regions map[int]*uio.Region
	watcher *watch.Watcher
	control *adapters.ControlAdapter

	config  *Config
	mu      sync.RWMutex
	started bool
	stopped bool
	irqMask atomic.Int32 // last applied irq.enabled: 0 unset, 1 on, 2 off
	quit    chan struct{}
	wg      sync.WaitGroup
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*HioloadUIO)(nil)

// New opens the configured device, checks its driver version, maps the
// requested regions and prepares the watcher. Nothing runs until Start.
// On failure every resource acquired so far is released.
func New(cfg *Config) (*HioloadUIO, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	h := &HioloadUIO{
		config:  cfg,
		regions: make(map[int]*uio.Region),
		control: adapters.NewControlAdapter(),
		quit:    make(chan struct{}),
	}

	if cfg.WaitForDevice > 0 {
		if err := h.waitForDevice(); err != nil {
			return nil, err
		}
	}

	opts := []uio.Option{uio.WithExclusive(cfg.Exclusive)}
	if cfg.DevRoot != "" {
		opts = append(opts, uio.WithDevRoot(cfg.DevRoot))
	}
	if cfg.SysfsRoot != "" {
		opts = append(opts, uio.WithSysfsRoot(cfg.SysfsRoot))
	}
	opts = append(opts, cfg.Options...)

	dev, err := uio.Open(cfg.Index, opts...)
	if err != nil {
		return nil, err
	}
	h.device = dev

	if cfg.VersionConstraint != "" {
		if err := dev.CheckVersion(cfg.VersionConstraint); err != nil {
			dev.Close()
			return nil, err
		}
	}
	for _, i := range cfg.Regions {
		r, err := dev.Map(i)
		if err != nil {
			dev.Close()
			return nil, err
		}
		h.regions[i] = r
	}

	wcfg := cfg.Watch
	user := wcfg.OnEvent
	wcfg.OnEvent = func(ev watch.Event) {
		if cfg.EnableMetrics {
			h.control.AddMetric("irq.events", 1)
			h.control.SetMetric("irq.last_count", ev.Count)
		}
		if user != nil {
			user(ev)
		}
	}
	h.watcher = watch.New(dev, wcfg)

	h.publish()
	h.control.OnReload(h.reload)
	return h, nil
}

func (h *HioloadUIO) waitForDevice() error {
	devRoot := h.config.DevRoot
	if devRoot == "" {
		devRoot = uio.DefaultDevRoot
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.config.WaitForDevice)
	defer cancel()
	err := discovery.WaitForDevice(ctx, devRoot, h.config.Index)
	if errors.Is(err, context.DeadlineExceeded) {
		return api.Wrap(api.ErrCodeDeviceNotFound, "device did not appear", err).
			WithContext("index", h.config.Index).WithContext("timeout", h.config.WaitForDevice)
	}
	return err
}

// publish records static device facts and registers probes.
func (h *HioloadUIO) publish() {
	dev := h.device
	cfg := map[string]any{
		"uio.index": dev.Index(),
		"uio.path":  dev.Path(),
	}
	if name, err := dev.Name(); err == nil {
		cfg["uio.name"] = name
	} else {
		log.Printf("[facade] uio%d name unavailable: %v", dev.Index(), err)
	}
	if version, err := dev.Version(); err == nil {
		cfg["uio.version"] = version
	}
	for i, r := range h.regions {
		cfg[fmt.Sprintf("region.%d.size", i)] = r.Info().Size
		cfg[fmt.Sprintf("region.%d.addr", i)] = r.PhysAddr()
	}
	_ = h.control.SetConfig(cfg)

	if h.config.EnableMetrics {
		h.control.SetMetric("regions.mapped", dev.Mapped())
		h.control.AddMetric("irq.events", 0)
		h.control.AddMetric("irq.errors", 0)
	}
	if h.config.EnableDebug {
		h.control.RegisterDebugProbe("regions.mapped", func() any {
			return dev.Mapped()
		})
		h.control.RegisterDebugProbe("irq.sysfs_event", func() any {
			n, err := dev.EventCount()
			if err != nil {
				return err.Error()
			}
			return n
		})
		h.control.RegisterDebugProbe("watch.backlog", func() any {
			_, _, backlog := h.watcher.Stats()
			return backlog
		})
	}
}

// ConfigIRQEnabled is the control key that masks or unmasks the device
// interrupt at runtime. Its value must be a bool.
const ConfigIRQEnabled = "irq.enabled"

// reload applies runtime config. Only a changed irq.enabled value touches
// the device.
func (h *HioloadUIO) reload() {
	v, ok := h.control.Config().Get(ConfigIRQEnabled)
	if !ok {
		return
	}
	on, ok := v.(bool)
	if !ok {
		log.Printf("[facade] uio%d ignoring %s=%v: not a bool", h.config.Index, ConfigIRQEnabled, v)
		return
	}
	state := int32(2)
	if on {
		state = 1
	}
	if h.irqMask.Swap(state) == state {
		return
	}
	var err error
	if on {
		err = h.device.EnableInterrupt()
	} else {
		err = h.device.DisableInterrupt()
	}
	if err != nil {
		h.irqMask.Store(0)
		log.Printf("[facade] uio%d apply %s=%v: %v", h.config.Index, ConfigIRQEnabled, on, err)
		return
	}
	log.Printf("[facade] uio%d %s=%v applied", h.config.Index, ConfigIRQEnabled, on)
}

// Start launches the interrupt watcher.
func (h *HioloadUIO) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return api.NewError(api.ErrCodeClosed, "facade stopped").WithContext("index", h.config.Index)
	}
	if h.started {
		return nil
	}
	h.watcher.Start()
	h.wg.Add(1)
	go h.monitor()
	h.started = true
	log.Printf("[facade] uio%d started", h.config.Index)
	return nil
}

// monitor counts terminal watcher errors.
func (h *HioloadUIO) monitor() {
	defer h.wg.Done()
	select {
	case err := <-h.watcher.Errors():
		if h.config.EnableMetrics {
			h.control.AddMetric("irq.errors", 1)
		}
		log.Printf("[facade] uio%d watcher stopped: %v", h.config.Index, err)
	case <-h.quit:
	}
}

// Stop closes the device, which releases every region and wakes the
// watcher, then waits for the watcher to exit. Calling Stop again is a no-op.
func (h *HioloadUIO) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	err := h.device.Close()
	h.watcher.Stop()
	close(h.quit)
	h.wg.Wait()
	if h.config.EnableMetrics {
		h.control.SetMetric("regions.mapped", 0)
	}
	h.started = false
	log.Printf("[facade] uio%d stopped", h.config.Index)
	return err
}

// Shutdown implements api.GracefulShutdown.
func (h *HioloadUIO) Shutdown() error {
	return h.Stop()
}

// Device returns the open device.
func (h *HioloadUIO) Device() *uio.Device { return h.device }

// Region returns the region mapped for slot i at New.
func (h *HioloadUIO) Region(i int) (*uio.Region, bool) {
	r, ok := h.regions[i]
	return r, ok
}

// Events delivers interrupt events once started.
func (h *HioloadUIO) Events() <-chan watch.Event { return h.watcher.Events() }

// Next returns the next interrupt event or ctx's error.
func (h *HioloadUIO) Next(ctx context.Context) (watch.Event, error) {
	return h.watcher.Next(ctx)
}

// GetControl returns the control plane.
func (h *HioloadUIO) GetControl() api.Control { return h.control }

// RegisterReloadHook runs fn whenever the control config changes.
func (h *HioloadUIO) RegisterReloadHook(fn func()) {
	h.control.OnReload(fn)
}
