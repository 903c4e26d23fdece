// Package devreg is the static device registry (C3): MMIO device
// descriptors self-register by name at init() time, the same way the
// teacher's config/configparser package lets device packages call
// RegisterModel from their own init(). Instantiating a descriptor into
// a live Device for a given CCD is this package's job; writing the
// device's own MMIO behavior is not (individual device models are out
// of scope for this module; see emu/devreg/devreg_test.go for a single
// reference fixture).
package devreg

import (
	"fmt"
	"sync"
)

// Device is an MMIO device instance attached to a CCD's I/O manager.
type Device interface {
	// MmioRead and MmioWrite service guest accesses at off bytes into
	// the device's region. size is 1, 2, 4, or 8.
	MmioRead(off uint32, size uint8) (uint64, error)
	MmioWrite(off uint32, size uint8, val uint64) error

	// Destruct releases any resources the instance holds.
	Destruct() error
}

// Descriptor mirrors PSPMMIODEVREG: a device's static identity plus
// the region size it needs and the constructor that brings an
// instance to life.
type Descriptor struct {
	Name        string
	Description string
	RegionSize  uint32

	// New constructs a fresh instance. socket and ccd are passed
	// through so a device can tell which CCD/socket it belongs to.
	New func(socket, ccd uint32) (Device, error)
}

var (
	mu    sync.Mutex
	table = map[string]Descriptor{}
)

// Register adds a descriptor to the registry. It is called from a
// device package's init(), mirroring the teacher's
// config.RegisterModel self-registration convention, and panics on a
// duplicate name since that indicates a programming error discovered
// at process startup, not a runtime condition.
func Register(d Descriptor) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := table[d.Name]; ok {
		panic(fmt.Sprintf("devreg: duplicate device name %q", d.Name))
	}
	table[d.Name] = d
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (Descriptor, bool) {
	mu.Lock()
	defer mu.Unlock()
	d, ok := table[name]
	return d, ok
}

// Create looks up name and instantiates it for the given socket/CCD.
func Create(name string, socket, ccd uint32) (Device, error) {
	d, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("devreg: unknown device %q", name)
	}
	return d.New(socket, ccd)
}
