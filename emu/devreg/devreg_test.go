package devreg

import "testing"

// unknownDevice is a reference fixture modeled on
// psp-dev-unknown-0x03010000.c: the on-chip bootloader spins reading
// offset 0x104 of this region until bit 8 is set, so the fixture
// always reports it set.
type unknownDevice struct{}

func (unknownDevice) MmioRead(off uint32, size uint8) (uint64, error) {
	if off == 0x104 {
		return 0x100, nil
	}
	return 0, nil
}

func (unknownDevice) MmioWrite(off uint32, size uint8, val uint64) error {
	return nil
}

func (unknownDevice) Destruct() error { return nil }

func init() {
	Register(Descriptor{
		Name:        "unk-0x03010000",
		Description: "Unknown device starting at 0x03010000",
		RegionSize:  4096,
		New: func(socket, ccd uint32) (Device, error) {
			return unknownDevice{}, nil
		},
	})
}

func TestUnknownDeviceReadyBit(t *testing.T) {
	dev, err := Create("unk-0x03010000", 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v, err := dev.MmioRead(0x104, 4)
	if err != nil {
		t.Fatalf("MmioRead: %v", err)
	}
	if v != 0x100 {
		t.Errorf("offset 0x104 = %#x, want 0x100", v)
	}
	if v&0x100 == 0 {
		t.Errorf("ready bit (bit 8) not set")
	}
}

func TestLookupMiss(t *testing.T) {
	if _, ok := Lookup("does-not-exist"); ok {
		t.Errorf("Lookup of unregistered name succeeded")
	}
	if _, err := Create("does-not-exist", 0, 0); err == nil {
		t.Errorf("Create of unregistered name succeeded")
	}
}
