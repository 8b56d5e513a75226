// File: cmd/uioctl/main.go
// Package main
// Operator tool for UIO devices: list devices, dump metadata, peek and
// poke registers, and wait for interrupts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/momentics/hioload-uio/api"
	"github.com/momentics/hioload-uio/discovery"
	"github.com/momentics/hioload-uio/internal/sysfs"
	"github.com/momentics/hioload-uio/uio"
)

const usage = `usage: uioctl <command> [flags]

commands:
  list                          list UIO devices
  info  -index N                show device metadata
  peek  -index N -map M -off O  read a register
  poke  -index N -map M -off O -val V
                                write a register
  wait  -index N -count K       wait for K interrupts
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("uioctl: ")
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmds := map[string]func([]string) error{
		"list": runList,
		"info": runInfo,
		"peek": runPeek,
		"poke": runPoke,
		"wait": runWait,
	}
	run, ok := cmds[os.Args[1]]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[2:]); err != nil {
		log.Fatal(err)
	}
}

// common carries flags shared by every command.
type common struct {
	fs     *flag.FlagSet
	dev    *string
	sysfs  *string
	index  *int
	region *int
	off    *string
	width  *int
}

func newFlags(name string) *common {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &common{
		fs:     fs,
		dev:    fs.String("dev", uio.DefaultDevRoot, "device node directory"),
		sysfs:  fs.String("sysfs", sysfs.DefaultRoot, "UIO sysfs class directory"),
		index:  fs.Int("index", 0, "device index N of /dev/uioN"),
		region: fs.Int("map", 0, "map slot"),
		off:    fs.String("off", "0", "byte offset within the map (0x prefix for hex)"),
		width:  fs.Int("width", 32, "access width in bits: 8, 16, 32 or 64"),
	}
}

func (c *common) open() (*uio.Device, error) {
	return uio.Open(*c.index, uio.WithDevRoot(*c.dev), uio.WithSysfsRoot(*c.sysfs))
}

func (c *common) offset() (int, error) {
	v, err := sysfs.ParseUint(*c.off)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func runList(args []string) error {
	c := newFlags("list")
	c.fs.Parse(args)
	devs, err := discovery.List(*c.sysfs)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		log.Printf("no devices under %s", *c.sysfs)
		return nil
	}
	for _, d := range devs {
		fmt.Printf("uio%d\t%s\t%s\t%d maps\n", d.Index, d.Name, d.Version, len(d.Maps))
	}
	return nil
}

func runInfo(args []string) error {
	c := newFlags("info")
	c.fs.Parse(args)
	dev, err := c.open()
	if err != nil {
		return err
	}
	defer dev.Close()

	info, err := dev.Info()
	if err != nil {
		return err
	}
	fmt.Printf("device:  %s\nname:    %s\nversion: %s\n", dev.Path(), info.Name, info.Version)
	if n, err := dev.EventCount(); err == nil {
		fmt.Printf("events:  %d\n", n)
	}
	for _, m := range info.Maps {
		fmt.Printf("map%d:    addr=%#x size=%#x offset=%#x name=%q\n", m.Index, m.Addr, m.Size, m.Offset, m.Name)
	}
	res, err := dev.Resources()
	if err != nil && !errors.Is(err, api.ErrAttributeUnavailable) {
		return err
	}
	for _, r := range res {
		fmt.Printf("resource%d: size=%#x\n", r.Index, r.Size)
	}
	return nil
}

func runPeek(args []string) error {
	c := newFlags("peek")
	c.fs.Parse(args)
	off, err := c.offset()
	if err != nil {
		return err
	}
	dev, err := c.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	r, err := dev.Map(*c.region)
	if err != nil {
		return err
	}

	var v uint64
	switch *c.width {
	case 8:
		var b uint8
		b, err = r.Read8(off)
		v = uint64(b)
	case 16:
		var h uint16
		h, err = r.Read16(off)
		v = uint64(h)
	case 32:
		var w uint32
		w, err = r.Read32(off)
		v = uint64(w)
	case 64:
		v, err = r.Read64(off)
	default:
		return fmt.Errorf("unsupported width %d", *c.width)
	}
	if err != nil {
		return err
	}
	fmt.Printf("0x%0*x\n", *c.width/4, v)
	return nil
}

func runPoke(args []string) error {
	c := newFlags("poke")
	val := c.fs.String("val", "", "value to write (0x prefix for hex)")
	c.fs.Parse(args)
	if *val == "" {
		return errors.New("poke: -val is required")
	}
	v, err := sysfs.ParseUint(*val)
	if err != nil {
		return err
	}
	if *c.width < 64 && v>>uint(*c.width) != 0 {
		return fmt.Errorf("value %#x does not fit in %d bits", v, *c.width)
	}
	off, err := c.offset()
	if err != nil {
		return err
	}
	dev, err := c.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	r, err := dev.Map(*c.region)
	if err != nil {
		return err
	}

	switch *c.width {
	case 8:
		return r.Write8(off, uint8(v))
	case 16:
		return r.Write16(off, uint16(v))
	case 32:
		return r.Write32(off, uint32(v))
	case 64:
		return r.Write64(off, v)
	default:
		return fmt.Errorf("unsupported width %d", *c.width)
	}
}

func runWait(args []string) error {
	c := newFlags("wait")
	count := c.fs.Int("count", 1, "number of interrupts to wait for")
	timeout := c.fs.Duration("timeout", 0, "give up after this long; zero waits forever")
	rearm := c.fs.Bool("rearm", true, "re-enable the interrupt before every wait")
	c.fs.Parse(args)

	dev, err := c.open()
	if err != nil {
		return err
	}
	defer dev.Close()
	if *timeout > 0 {
		// Closing the device is the only way to end a pending wait.
		t := time.AfterFunc(*timeout, func() { dev.Close() })
		defer t.Stop()
	}

	var last uint32
	for i := 0; i < *count; {
		if *rearm || i == 0 {
			if err := dev.EnableInterrupt(); err != nil {
				return waitError(err, *timeout)
			}
		}
		n, err := dev.WaitInterrupt()
		if api.Retryable(err) {
			continue
		}
		if err != nil {
			return waitError(err, *timeout)
		}
		missed := ""
		if i > 0 && n-last > 1 {
			missed = " (" + strconv.FormatUint(uint64(n-last-1), 10) + " coalesced)"
		}
		fmt.Printf("%s interrupt count=%d%s\n", time.Now().Format(time.RFC3339Nano), n, missed)
		last = n
		i++
	}
	return nil
}

// waitError reports a device closed by the -timeout timer as a timeout.
func waitError(err error, timeout time.Duration) error {
	if timeout > 0 && errors.Is(err, api.ErrClosed) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return err
}
