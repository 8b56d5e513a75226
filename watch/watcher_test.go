package watch_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/watch"
)

// scriptSource replays a fixed list of wait results, then reports closed.
type scriptSource struct {
	mu      sync.Mutex
	results []error
	counts  []uint32
	enables int
}

func (s *scriptSource) EnableInterrupt() error {
	s.mu.Lock()
	s.enables++
	s.mu.Unlock()
	return nil
}

func (s *scriptSource) DisableInterrupt() error { return nil }

func (s *scriptSource) WaitInterrupt() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return 0, api.NewError(api.ErrCodeClosed, "closed")
	}
	err, c := s.results[0], s.counts[0]
	s.results, s.counts = s.results[1:], s.counts[1:]
	return c, err
}

func quietConfig() watch.Config {
	cfg := watch.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func collect(t *testing.T, w *watch.Watcher) []watch.Event {
	t.Helper()
	var out []watch.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("Timeout: event stream did not end")
		}
	}
}

func TestWatcherRetriesInterruptedAndEndsOnClose(t *testing.T) {
	intr := api.NewError(api.ErrCodeInterrupted, "eintr")
	src := &scriptSource{
		results: []error{nil, intr, nil, intr, intr, nil},
		counts:  []uint32{1, 0, 2, 0, 0, 5},
	}
	w := watch.New(src, quietConfig())
	w.Start()
	events := collect(t, w)
	w.Stop()

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	want := []uint32{1, 2, 5}
	for i, ev := range events {
		if ev.Count != want[i] {
			t.Errorf("event %d count %d, want %d", i, ev.Count, want[i])
		}
	}
	select {
	case err := <-w.Errors():
		t.Fatalf("unexpected terminal error: %v", err)
	default:
	}
	// One rearm per wait attempt: six scripted results plus the final closed wait.
	if src.enables != 7 {
		t.Errorf("EnableInterrupt calls = %d, want 7", src.enables)
	}
	received, delivered, backlog := w.Stats()
	if received != 3 || delivered != 3 || backlog != 0 {
		t.Errorf("Stats = %d/%d/%d", received, delivered, backlog)
	}
}

func TestWatcherPublishesTerminalError(t *testing.T) {
	src := &scriptSource{
		results: []error{nil, api.NewError(api.ErrCodeIO, "gone")},
		counts:  []uint32{1, 0},
	}
	cfg := quietConfig()
	cfg.Rearm = false
	w := watch.New(src, cfg)
	w.Start()
	events := collect(t, w)
	w.Stop()

	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	select {
	case err := <-w.Errors():
		if !errors.Is(err, api.ErrIO) {
			t.Fatalf("expected ErrIO, got %v", err)
		}
	default:
		t.Fatal("terminal error not published")
	}
	if src.enables != 0 {
		t.Errorf("rearm disabled but EnableInterrupt called %d times", src.enables)
	}
}

func TestWatcherOnEventHook(t *testing.T) {
	src := &scriptSource{results: []error{nil, nil}, counts: []uint32{3, 4}}
	cfg := quietConfig()
	var mu sync.Mutex
	var seen []uint32
	cfg.OnEvent = func(ev watch.Event) {
		mu.Lock()
		seen = append(seen, ev.Count)
		mu.Unlock()
	}
	w := watch.New(src, cfg)
	w.Start()
	collect(t, w)
	w.Stop()
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != 3 || seen[1] != 4 {
		t.Errorf("hook saw %v", seen)
	}
}

func TestNextAfterStreamEnds(t *testing.T) {
	w := watch.New(&scriptSource{}, quietConfig())
	w.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := w.Next(ctx); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	w.Stop()
	w.Stop()
}
