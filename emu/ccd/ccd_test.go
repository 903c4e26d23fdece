package ccd

import (
	"context"
	"testing"

	"github.com/openpsp/pspcore/config"
	"github.com/openpsp/pspcore/emu/engine"
	"github.com/openpsp/pspcore/emu/engine/enginetest"
	"github.com/openpsp/pspcore/emu/proxy/proxytest"
	"github.com/openpsp/pspcore/emu/svc"
)

func newTestCCD(t *testing.T) (*CCD, *enginetest.Fake, *proxytest.Fake) {
	t.Helper()
	eng := &enginetest.Fake{}
	px := &proxytest.Fake{Mem: make([]byte, 1<<20)}
	cfg := &config.Config{Mode: config.ModeApp}
	c, err := Create(nil, cfg, 0, 0, eng, px)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c, eng, px
}

func TestAppInitWritesStackTop(t *testing.T) {
	c, eng, _ := newTestCCD(t)
	const destPtr = 0x51FFC
	if err := eng.WriteReg(engine.R2, destPtr); err != nil {
		t.Fatalf("WriteReg: %v", err)
	}
	eng.Script = []uint32{uint32(svc.SvcAppInit)}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := c.core.ReadMem(destPtr, 4)
	if err != nil {
		t.Fatalf("ReadMem: %v", err)
	}
	want := []byte{0x00, 0x20, 0x05, 0x00} // little-endian 0x00052000
	if string(got) != string(want) {
		t.Errorf("mem[%#x:+4] = %x, want %x", destPtr, got, want)
	}

	r2, err := eng.ReadReg(engine.R2)
	if err != nil {
		t.Fatalf("ReadReg: %v", err)
	}
	if r2 != destPtr {
		t.Errorf("R2 = %#x, want unchanged %#x", r2, destPtr)
	}
}

func TestAppExitHalts(t *testing.T) {
	c, eng, _ := newTestCCD(t)
	eng.Script = []uint32{uint32(svc.SvcAppExit)}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !c.core.halted {
		t.Errorf("core not halted after AppExit")
	}
}

func TestDispatchTotality(t *testing.T) {
	c, eng, _ := newTestCCD(t)
	for i := 0; i < 256; i++ {
		eng.Script = []uint32{uint32(i)}
		c.core.halted = false
		if err := c.Run(context.Background()); err != nil {
			t.Fatalf("svc %#x: Run: %v", i, err)
		}
	}
}

func TestUnimplementedSyscallReturns0x9(t *testing.T) {
	c, eng, _ := newTestCCD(t)
	eng.Script = []uint32{0x35} // not in the documented table
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	r0, err := eng.ReadReg(engine.R0)
	if err != nil {
		t.Fatalf("ReadReg: %v", err)
	}
	if r0 != svc.StatusGeneralMemoryError {
		t.Errorf("R0 = %#x, want %#x", r0, svc.StatusGeneralMemoryError)
	}
}

func TestResetIdempotent(t *testing.T) {
	fresh, _, _ := newTestCCD(t)
	dirty, eng, _ := newTestCCD(t)

	eng.Script = []uint32{uint32(svc.SvcAppInit)}
	if err := dirty.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	dirty.core.sram[0] = 0xff
	dirty.Reset()

	for i := range fresh.core.sram {
		if fresh.core.sram[i] != dirty.core.sram[i] {
			t.Fatalf("sram[%d] differs after reset: %#x vs %#x", i, fresh.core.sram[i], dirty.core.sram[i])
		}
	}
	if dirty.core.halted != fresh.core.halted {
		t.Errorf("halted differs after reset")
	}
}
