package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/discovery"
	"github.com/momentics/hioload-uio/fake"
)

func TestListAndFindByName(t *testing.T) {
	tree, err := fake.NewTree(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i, name := range map[int]string{3: "eth-fpga", 0: "uio_pci_generic", 1: "timer"} {
		if err := tree.AddDevice(i, name, "1.0"); err != nil {
			t.Fatal(err)
		}
	}
	if err := tree.AddMap(0, 0, 0x1000, 0xFE000000); err != nil {
		t.Fatal(err)
	}
	if err := tree.AddMap(0, 1, 0x2000, 0xFE010000); err != nil {
		t.Fatal(err)
	}
	// zero-sized slots are not reported
	if err := tree.AddMap(0, 2, 0, 0); err != nil {
		t.Fatal(err)
	}
	devs, err := discovery.List(tree.SysfsRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 3 || devs[0].Index != 0 || devs[1].Index != 1 || devs[2].Index != 3 {
		t.Fatalf("List = %+v", devs)
	}
	if devs[2].Name != "eth-fpga" || devs[2].Version != "1.0" {
		t.Errorf("uio3 = %+v", devs[2])
	}
	if len(devs[0].Maps) != 2 {
		t.Fatalf("uio0 maps = %+v, want 2", devs[0].Maps)
	}
	if m := devs[0].Maps[1]; m.Index != 1 || m.Size != 0x2000 || m.Addr != 0xFE010000 {
		t.Errorf("uio0 map1 = %+v", m)
	}
	if len(devs[1].Maps) != 0 {
		t.Errorf("uio1 maps = %+v, want none", devs[1].Maps)
	}
	idx, err := discovery.FindByName(tree.SysfsRoot, "timer")
	if err != nil || idx != 1 {
		t.Errorf("FindByName = %d, %v", idx, err)
	}
	if _, err := discovery.FindByName(tree.SysfsRoot, "absent"); !errors.Is(err, api.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
	empty, err := discovery.List(t.TempDir() + "/nothing")
	if err != nil || len(empty) != 0 {
		t.Errorf("List(missing) = %v, %v", empty, err)
	}
}

func TestWaitForDevice(t *testing.T) {
	tree, err := fake.NewTree(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- discovery.WaitForDevice(ctx, tree.DevRoot, 4) }()
	time.Sleep(50 * time.Millisecond)
	if err := tree.CreateNode(4); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout: node creation not observed")
	}

	// Already present.
	if err := discovery.WaitForDevice(ctx, tree.DevRoot, 4); err != nil {
		t.Fatal(err)
	}
}

func TestWaitForDeviceHonorsContext(t *testing.T) {
	tree, err := fake.NewTree(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := discovery.WaitForDevice(ctx, tree.DevRoot, 9); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if err := discovery.WaitForDevice(ctx, tree.Root+"/missing", 9); !errors.Is(err, api.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound for missing dir, got %v", err)
	}
}
