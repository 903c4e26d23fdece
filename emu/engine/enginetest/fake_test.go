package enginetest

import (
	"testing"

	"github.com/openpsp/pspcore/config"
	"github.com/openpsp/pspcore/emu/engine"
)

func TestInitOnceAndRegisterRoundTrip(t *testing.T) {
	f := &Fake{}
	sram := make([]byte, 256*1024)
	if err := f.Init(config.ModeApp, sram); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := f.Init(config.ModeApp, sram); err == nil {
		t.Errorf("second Init succeeded, want error")
	}

	if err := f.WriteReg(engine.R0, 0x42); err != nil {
		t.Fatalf("WriteReg: %v", err)
	}
	v, err := f.ReadReg(engine.R0)
	if err != nil {
		t.Fatalf("ReadReg: %v", err)
	}
	if v != 0x42 {
		t.Errorf("R0 = %#x, want 0x42", v)
	}
}

func TestScriptDrivesExecRun(t *testing.T) {
	f := &Fake{Script: []uint32{0x01, 0x00}}
	reason, err := f.ExecRun(0, 0)
	if err != nil || reason != engine.StopSvc || f.LastSvc() != 0x01 {
		t.Fatalf("first ExecRun = (%v, %v), LastSvc=%#x", reason, err, f.LastSvc())
	}
	reason, err = f.ExecRun(0, 0)
	if err != nil || reason != engine.StopSvc || f.LastSvc() != 0x00 {
		t.Fatalf("second ExecRun = (%v, %v), LastSvc=%#x", reason, err, f.LastSvc())
	}
	reason, err = f.ExecRun(0, 0)
	if err != nil || reason != engine.StopBudget {
		t.Fatalf("third ExecRun = (%v, %v), want StopBudget", reason, err)
	}
}

func TestMapRegionRejectsDuplicate(t *testing.T) {
	f := &Fake{}
	buf := make([]byte, 4096)
	if err := f.MapRegion(0x30000000, buf, false); err != nil {
		t.Fatalf("MapRegion: %v", err)
	}
	if err := f.MapRegion(0x30000000, buf, false); err == nil {
		t.Errorf("duplicate MapRegion succeeded")
	}
	if err := f.UnmapRegion(0x30000000); err != nil {
		t.Fatalf("UnmapRegion: %v", err)
	}
	if err := f.UnmapRegion(0x30000000); err == nil {
		t.Errorf("double UnmapRegion succeeded")
	}
}
