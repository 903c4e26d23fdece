// Package enginetest provides a hand-written fake implementing
// engine.Engine for use in tests of the packages that drive an Engine,
// the same way emu/test_dev stands in for a real unit record device in
// the teacher's channel tests.
package enginetest

import (
	"fmt"

	"github.com/openpsp/pspcore/config"
	"github.com/openpsp/pspcore/emu/engine"
)

type region struct {
	base PspAddrAlias
	buf  []byte
}

type mmioRegion struct {
	base  PspAddrAlias
	size  uint32
	read  engine.MmioReader
	write engine.MmioWriter
}

// PspAddrAlias is identical to engine.PspAddr.
type PspAddrAlias = uint32

// Fake is a minimal ARM-shaped engine double. Script queues a
// sequence of StopSvc events with a chosen SVC number; ExecRun pops
// one entry per call. It is not an instruction interpreter: tests
// drive SVC dispatch behavior directly rather than real ARM code.
type Fake struct {
	regs [16]uint32 // indexed by engine.Reg - 1; RegInvalid unused

	regions []region
	mmios   []mmioRegion

	// Script is consumed front-to-back by ExecRun: each call pops one
	// entry and returns it. An empty Script makes ExecRun return
	// StopBudget forever.
	Script []uint32

	lastSvc uint32
	closed  bool
	inited  bool
}

func regIndex(r engine.Reg) (int, error) {
	idx := int(r) - 1
	if idx < 0 || idx > int(engine.PC)-1 {
		return 0, fmt.Errorf("enginetest: bad register %d", r)
	}
	return idx, nil
}

func (f *Fake) Init(mode config.Mode, sram []byte) error {
	if f.inited {
		return fmt.Errorf("enginetest: already initialized")
	}
	f.inited = true
	f.regions = append(f.regions, region{base: 0, buf: sram})
	return nil
}

func (f *Fake) MapRegion(base uint32, buf []byte, readOnly bool) error {
	for _, r := range f.regions {
		if r.base == base {
			return fmt.Errorf("enginetest: region at %#x already mapped", base)
		}
	}
	f.regions = append(f.regions, region{base: base, buf: buf})
	return nil
}

func (f *Fake) UnmapRegion(base uint32) error {
	for i, r := range f.regions {
		if r.base == base {
			f.regions = append(f.regions[:i], f.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("enginetest: region at %#x not mapped", base)
}

func (f *Fake) MapMmio(base uint32, size uint32, read engine.MmioReader, write engine.MmioWriter) error {
	for _, r := range f.mmios {
		if r.base == base {
			return fmt.Errorf("enginetest: mmio region at %#x already mapped", base)
		}
	}
	f.mmios = append(f.mmios, mmioRegion{base: base, size: size, read: read, write: write})
	return nil
}

func (f *Fake) UnmapMmio(base uint32) error {
	for i, r := range f.mmios {
		if r.base == base {
			f.mmios = append(f.mmios[:i], f.mmios[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("enginetest: mmio region at %#x not mapped", base)
}

// ReadMmio and WriteMmio let a test drive a trapped access the way the
// real engine would, to assert that a region registered via MapMmio
// actually forwards through its callbacks rather than only being
// reachable directly.
func (f *Fake) ReadMmio(addr uint32, size uint8) (uint64, error) {
	for _, r := range f.mmios {
		if addr >= r.base && addr < r.base+r.size {
			return r.read(addr-r.base, size)
		}
	}
	return 0, fmt.Errorf("enginetest: mmio read at %#x not mapped", addr)
}

func (f *Fake) WriteMmio(addr uint32, size uint8, val uint64) error {
	for _, r := range f.mmios {
		if addr >= r.base && addr < r.base+r.size {
			return r.write(addr-r.base, size, val)
		}
	}
	return fmt.Errorf("enginetest: mmio write at %#x not mapped", addr)
}

func (f *Fake) ReadReg(r engine.Reg) (uint32, error) {
	idx, err := regIndex(r)
	if err != nil {
		return 0, err
	}
	return f.regs[idx], nil
}

func (f *Fake) WriteReg(r engine.Reg, v uint32) error {
	idx, err := regIndex(r)
	if err != nil {
		return err
	}
	f.regs[idx] = v
	return nil
}

// ExecRun pops the next scripted SVC number, if any, and reports
// StopSvc; otherwise reports StopBudget. maxInsns/maxMillis are
// accepted but unused by this fake.
func (f *Fake) ExecRun(maxInsns uint64, maxMillis uint64) (engine.StopReason, error) {
	if len(f.Script) == 0 {
		return engine.StopBudget, nil
	}
	f.lastSvc = f.Script[0]
	f.Script = f.Script[1:]
	return engine.StopSvc, nil
}

func (f *Fake) LastSvc() uint32 {
	return f.lastSvc
}

func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Mem looks up the byte slice backing the region containing addr, for
// tests that want to poke guest memory directly rather than through
// MapRegion/ReadReg round trips.
func (f *Fake) Mem(addr uint32) ([]byte, uint32, bool) {
	for _, r := range f.regions {
		if addr >= r.base && addr < r.base+uint32(len(r.buf)) {
			return r.buf, r.base, true
		}
	}
	return nil, 0, false
}
