// Package ccd assembles a Core Complex Die (C7): one CPU engine, one
// I/O manager, one x86 window cache, and the SVC dispatcher, wired
// together and driven through the Create/Reset/Run/Destroy lifecycle.
// The lifecycle shape is adapted from the teacher's emu/core.core
// (Start/Stop around a running flag), generalized from that package's
// goroutine-driven loop to a fully synchronous one, since the spec
// mandates a single-threaded, blocking exec_run per CCD with no
// implicit parallelism.
package ccd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/openpsp/pspcore/config"
	"github.com/openpsp/pspcore/emu/devreg"
	"github.com/openpsp/pspcore/emu/engine"
	"github.com/openpsp/pspcore/emu/iomanager"
	"github.com/openpsp/pspcore/emu/proxy"
	"github.com/openpsp/pspcore/emu/svc"
	"github.com/openpsp/pspcore/emu/x86window"
	"github.com/openpsp/pspcore/pspcoreerr"
)

// sramSize is the fixed SRAM region every core maps at PSP address 0.
const sramSize = 256 * 1024

// Core is one emulated ARM core plus its collaborators. It implements
// svc.Context so the dispatcher can be handed the core directly.
type Core struct {
	log    *slog.Logger
	eng    engine.Engine
	io     *iomanager.Manager
	win    *x86window.Cache
	px     proxy.Proxy
	disp   *svc.Dispatcher
	sram   []byte

	stateRegionSize uint32
	halted          bool
}

// CCD is the assembled Core Complex Die: a socket/CCD identity and its
// Core, plus the device instances attached to its I/O manager.
type CCD struct {
	Socket uint32
	ID     uint32

	core    *Core
	devices []devreg.Device
	log     *slog.Logger
}

// Create builds a fresh CCD from cfg, instantiating every device named
// in cfg.Devs against a new Core. eng and px are supplied by the
// caller (the real ARM interpreter and the real proxy transport are
// both out of scope for this module).
func Create(log *slog.Logger, cfg *config.Config, socket, id uint32, eng engine.Engine, px proxy.Proxy) (*CCD, error) {
	if log == nil {
		log = slog.Default()
	}
	sram := make([]byte, sramSize)
	if err := eng.Init(cfg.Mode, sram); err != nil {
		return nil, fmt.Errorf("ccd: engine init: %w", pspcoreerr.ErrEngineInit)
	}

	c := &Core{
		log:  log,
		eng:  eng,
		io:   iomanager.New(log),
		px:   px,
		disp: svc.NewDispatcher(),
		sram: sram,
	}
	c.win = x86window.New(log, px, int(id))

	ccd := &CCD{Socket: socket, ID: id, core: c, log: log}

	for _, name := range cfg.Devs {
		desc, ok := devreg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("ccd: device %q not registered", name)
		}
		dev, err := desc.New(socket, id)
		if err != nil {
			return nil, fmt.Errorf("ccd: create device %q: %w", name, err)
		}
		ccd.devices = append(ccd.devices, dev)

		base, ok := baseAddrFromName(name)
		if !ok {
			return nil, fmt.Errorf("ccd: device %q name does not encode a base address", name)
		}
		if err := c.io.AddMmio(name, base, desc.RegionSize, dev); err != nil {
			return nil, fmt.Errorf("ccd: register device %q: %w", name, err)
		}
		if err := eng.MapMmio(base, desc.RegionSize, dev.MmioRead, dev.MmioWrite); err != nil {
			return nil, fmt.Errorf("ccd: map device %q: %w", name, err)
		}
	}

	return ccd, nil
}

// baseAddrFromName recovers the MMIO base address a device descriptor
// is registered under from its name, which by convention (see
// emu/devreg/devreg_test.go's "unk-0x03010000" fixture, modeled on the
// original's psp-dev-unknown-0x03010000.c naming) encodes the base
// address as a trailing 0x-prefixed hex literal.
func baseAddrFromName(name string) (uint32, bool) {
	idx := strings.LastIndex(name, "0x")
	if idx == -1 {
		return 0, false
	}
	v, err := strconv.ParseUint(name[idx+2:], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Reset restores the Core to its just-created state: SRAM zeroed,
// every x86 window slot freed, halted cleared. Calling Reset on a
// freshly created CCD and calling Run afterward is indistinguishable
// from never having called Reset at all.
func (d *CCD) Reset() {
	for i := range d.core.sram {
		d.core.sram[i] = 0
	}
	d.core.win = x86window.New(d.core.log, d.core.px, int(d.ID))
	d.core.halted = false
	d.core.stateRegionSize = 0
}

// Run drives exec_run to completion: each SVC instruction interrupts
// execution, is dispatched synchronously, and execution resumes,
// until AppExit (0x00) halts the core, the engine reports a fault, or
// the engine reports its budget exhausted (Run then returns nil).
// Run blocks for as long as the guest runs; there is no implicit
// parallelism (§5).
func (d *CCD) Run(ctx context.Context) error {
	c := d.core
	for !c.halted {
		reason, err := c.eng.ExecRun(0, 0)
		if err != nil {
			return fmt.Errorf("ccd: %w", pspcoreerr.ErrEngineExec)
		}
		switch reason {
		case engine.StopSvc:
			d.core.disp.Dispatch(ctx, c.eng.LastSvc(), c)
		case engine.StopFault:
			return fmt.Errorf("ccd: %w", pspcoreerr.ErrEngineExec)
		case engine.StopBudget:
			return nil
		}
	}
	return nil
}

// Destroy tears down every device instance and the core's engine,
// aggregating every failure (rather than stopping at the first) with
// go-multierror so a caller sees the full teardown picture.
func (d *CCD) Destroy() error {
	var result *multierror.Error
	if err := d.core.io.Shutdown(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, dev := range d.devices {
		if err := dev.Destruct(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := d.core.eng.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// --- svc.Context ---

func (c *Core) Engine() engine.Engine          { return c.eng }
func (c *Core) Windows() *x86window.Cache      { return c.win }
func (c *Core) Proxy() proxy.Proxy             { return c.px }
func (c *Core) Log() *slog.Logger              { return c.log }
func (c *Core) StateRegionSize() uint32        { return c.stateRegionSize }
func (c *Core) SetStateRegionSize(v uint32)    { c.stateRegionSize = v }
func (c *Core) MarkHalted()                    { c.halted = true }

func (c *Core) ReadMem(addr, size uint32) ([]byte, error) {
	if uint64(addr)+uint64(size) > uint64(len(c.sram)) {
		return nil, pspcoreerr.ErrBadAddress
	}
	out := make([]byte, size)
	copy(out, c.sram[addr:addr+size])
	return out, nil
}

func (c *Core) WriteMem(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(len(c.sram)) {
		return pspcoreerr.ErrBadAddress
	}
	copy(c.sram[addr:], data)
	return nil
}

var _ svc.Context = (*Core)(nil)
