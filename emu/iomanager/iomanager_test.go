package iomanager

import (
	"errors"
	"strings"
	"testing"
)

type fakeDevice struct {
	reads  []uint32
	writes map[uint32]uint64
	fail   bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{writes: map[uint32]uint64{}}
}

func (d *fakeDevice) MmioRead(off uint32, size uint8) (uint64, error) {
	d.reads = append(d.reads, off)
	return uint64(off) + 1, nil
}

func (d *fakeDevice) MmioWrite(off uint32, size uint8, val uint64) error {
	d.writes[off] = val
	return nil
}

func (d *fakeDevice) Destruct() error {
	if d.fail {
		return errors.New("fake destruct failure")
	}
	return nil
}

func TestMmioDispatch(t *testing.T) {
	m := New(nil)
	dev := newFakeDevice()
	if err := m.AddMmio("test", 0x03010000, 0x1000, dev); err != nil {
		t.Fatalf("AddMmio: %v", err)
	}

	v := m.MmioRead(0x03010104, 4)
	if v != 0x105 {
		t.Errorf("MmioRead = %#x, want %#x", v, 0x105)
	}
	if len(dev.reads) != 1 || dev.reads[0] != 0x104 {
		t.Errorf("device saw offset %v, want [0x104]", dev.reads)
	}

	m.MmioWrite(0x03010010, 4, 0x42)
	if dev.writes[0x10] != 0x42 {
		t.Errorf("device write at offset 0x10 = %#x, want 0x42", dev.writes[0x10])
	}
}

func TestMmioUnmappedReadIsBenign(t *testing.T) {
	m := New(nil)
	v := m.MmioRead(0xdeadbeef, 4)
	if v != 0 {
		t.Errorf("unmapped read = %#x, want 0", v)
	}
}

func TestOverlapRejected(t *testing.T) {
	m := New(nil)
	if err := m.AddMmio("a", 0x1000, 0x1000, newFakeDevice()); err != nil {
		t.Fatalf("AddMmio a: %v", err)
	}
	if err := m.AddMmio("b", 0x1800, 0x1000, newFakeDevice()); err == nil {
		t.Errorf("overlapping AddMmio succeeded")
	}
}

func TestShutdownAggregatesAllDevices(t *testing.T) {
	m := New(nil)
	d1, d2 := newFakeDevice(), newFakeDevice()
	_ = m.AddMmio("a", 0x1000, 0x100, d1)
	_ = m.AddMmio("b", 0x2000, 0x100, d2)
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	d1.fail, d2.fail = true, true
	err := m.Shutdown()
	if err == nil {
		t.Fatalf("Shutdown with two failing devices succeeded")
	}
	if !strings.Contains(err.Error(), "2 device(s)") {
		t.Errorf("Shutdown error = %v, want both failures reported", err)
	}
}
