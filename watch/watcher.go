// File: watch/watcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interrupt watcher: runs the blocking WaitInterrupt on a dedicated OS
// thread and hands results to consumers over a channel, so that callers
// multiplexing other work never block in read(2) themselves.

package watch

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-uio/affinity"
	"github.com/momentics/hioload-uio/api"
)

// Config controls a Watcher. It is read once by New.
type Config struct {
	Rearm  bool        // write enable before every wait, as UIO drivers with irqcontrol expect
	CPU    int         // pin the wait thread to this CPU; negative disables pinning
	Buffer int         // capacity of the Events channel
	Logger *log.Logger // defaults to log.Default()
	// OnEvent, if set, is called on the wait thread for every event before
	// it is queued. It must not block.
	OnEvent func(Event)
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		Rearm:  true,
		CPU:    -1,
		Buffer: 64,
	}
}

// Event is one successful wait. Count is the kernel's running counter; a
// jump of more than one since the previous Event means interrupts were
// coalesced. Reconciling that is up to the consumer.
type Event struct {
	Count uint32
	At    time.Time
}

// Watcher owns the wait thread for one interrupt source.
type Watcher struct {
	src api.InterruptChannel
	cfg Config
	log *log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	backlog *queue.Queue // of Event; unbounded so the wait thread never stalls
	drained bool         // producer finished, no more pushes
	started bool

	events chan Event
	errs   chan error
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	received  atomic.Uint64
	delivered atomic.Uint64
}

// New prepares a watcher for src. Nothing runs until Start.
func New(src api.InterruptChannel, cfg Config) *Watcher {
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	lg := cfg.Logger
	if lg == nil {
		lg = log.Default()
	}
	w := &Watcher{
		src:     src,
		cfg:     cfg,
		log:     lg,
		backlog: queue.New(),
		events:  make(chan Event, cfg.Buffer),
		errs:    make(chan error, 1),
		stop:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start launches the wait thread and the dispatcher. Subsequent calls have
// no effect.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(2)
	go w.waitLoop()
	go w.dispatch()
}

// Events delivers interrupt events in order. It is closed once the source
// is closed or fails and the backlog has been handed out.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors receives at most one terminal error other than api.ErrClosed.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Next returns the next event, racing it against ctx. It reports
// api.ErrClosed once the event stream has ended.
func (w *Watcher) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-w.events:
		if !ok {
			return Event{}, api.NewError(api.ErrCodeClosed, "watcher finished")
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Stop ends the dispatcher and waits for the wait thread to exit. It does
// not abort a pending wait: close the device first, that is the only way
// to release a thread blocked on the descriptor.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
	w.wg.Wait()
}

// Stats reports counters for metrics export.
func (w *Watcher) Stats() (received, delivered uint64, backlog int) {
	w.mu.Lock()
	backlog = w.backlog.Length()
	w.mu.Unlock()
	return w.received.Load(), w.delivered.Load(), backlog
}

func (w *Watcher) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Watcher) waitLoop() {
	defer w.wg.Done()
	defer w.finish()

	// Never unlocked: a pinned thread is discarded when the goroutine ends.
	runtime.LockOSThread()
	if w.cfg.CPU >= 0 {
		if err := affinity.SetAffinity(w.cfg.CPU); err != nil {
			w.log.Printf("[watch] CPU affinity warning: %v", err)
		}
	}

	for !w.stopping() {
		if w.cfg.Rearm {
			if err := w.src.EnableInterrupt(); err != nil {
				w.fail(err)
				return
			}
		}
		count, err := w.src.WaitInterrupt()
		if err != nil {
			if api.Retryable(err) {
				continue
			}
			w.fail(err)
			return
		}
		ev := Event{Count: count, At: time.Now()}
		if w.cfg.OnEvent != nil {
			w.cfg.OnEvent(ev)
		}
		w.received.Add(1)
		w.mu.Lock()
		w.backlog.Add(ev)
		w.cond.Signal()
		w.mu.Unlock()
	}
}

func (w *Watcher) fail(err error) {
	if errors.Is(err, api.ErrClosed) {
		return
	}
	w.log.Printf("[watch] interrupt wait failed: %v", err)
	select {
	case w.errs <- err:
	default:
	}
}

func (w *Watcher) finish() {
	w.mu.Lock()
	w.drained = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *Watcher) dispatch() {
	defer w.wg.Done()
	defer close(w.events)

	for {
		w.mu.Lock()
		for w.backlog.Length() == 0 && !w.drained && !w.stopping() {
			w.cond.Wait()
		}
		if w.stopping() || (w.backlog.Length() == 0 && w.drained) {
			w.mu.Unlock()
			return
		}
		ev := w.backlog.Remove().(Event)
		w.mu.Unlock()

		select {
		case w.events <- ev:
			w.delivered.Add(1)
		case <-w.stop:
			return
		}
	}
}
