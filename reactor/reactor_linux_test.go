//go:build linux

package reactor_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-uio/reactor"
)

func TestReactorReadiness(t *testing.T) {
	r, err := reactor.NewReactor()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if err := r.Register(fds[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(fds[1], []byte{1}); err != nil {
		t.Fatal(err)
	}
	events := make([]reactor.Event, 4)
	n, err := r.Wait(events)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || events[0].Fd != fds[0] || events[0].Woken {
		t.Fatalf("unexpected events %+v (n=%d)", events[:n], n)
	}
}

func TestReactorWakeIsSticky(t *testing.T) {
	r, err := reactor.NewReactor()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	done := make(chan reactor.Event, 2)
	for i := 0; i < 2; i++ {
		go func() {
			events := make([]reactor.Event, 2)
			n, err := r.Wait(events)
			if err != nil || n == 0 {
				done <- reactor.Event{}
				return
			}
			done <- events[0]
		}()
	}
	time.Sleep(20 * time.Millisecond)
	if err := r.Wake(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-done:
			if !ev.Woken {
				t.Fatalf("waiter %d returned without wake: %+v", i, ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout: waiter not released by Wake")
		}
	}
}

func TestReactorRejectsRegularFile(t *testing.T) {
	r, err := reactor.NewReactor()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	f, err := os.Create(filepath.Join(t.TempDir(), "plain"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := r.Register(int(f.Fd())); !errors.Is(err, reactor.ErrNotPollable) {
		t.Fatalf("expected ErrNotPollable, got %v", err)
	}
}
