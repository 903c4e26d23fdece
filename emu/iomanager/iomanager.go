// Package iomanager is the I/O Manager (C2): it routes guest MMIO and
// SMN accesses to the region they fall in, the same way the teacher's
// emu/sys_channel routes a channel program's device address to the
// right entry of its devTab. Accesses that miss every registered
// region are logged and return a benign default rather than aborting
// the run, matching emu/sys_channel's treatment of an unconnected
// device address.
package iomanager

import (
	"fmt"
	"log/slog"

	"github.com/openpsp/pspcore/emu/devreg"
)

// region is one MMIO device's mapped window.
type region struct {
	base uint32
	size uint32
	dev  devreg.Device
	name string
}

// SmnRegion is one SMN-space device window, addressed the same way as
// an MMIO region but through the separate SMN address space.
type SmnRegion struct {
	base uint32
	size uint32
	dev  devreg.Device
	name string
}

// Manager owns the set of MMIO and SMN regions attached to one CCD.
type Manager struct {
	log  *slog.Logger
	mmio []region
	smn  []region
}

// New returns an empty Manager.
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// AddMmio registers dev to handle MMIO accesses in [base, base+size).
// It is an error for the new region to overlap an existing one.
func (m *Manager) AddMmio(name string, base, size uint32, dev devreg.Device) error {
	for _, r := range m.mmio {
		if overlaps(base, size, r.base, r.size) {
			return fmt.Errorf("iomanager: mmio region %q [%#x,%#x) overlaps %q [%#x,%#x)",
				name, base, base+size, r.name, r.base, r.base+r.size)
		}
	}
	m.mmio = append(m.mmio, region{base: base, size: size, dev: dev, name: name})
	return nil
}

// AddSmn registers dev to handle SMN accesses in [base, base+size).
func (m *Manager) AddSmn(name string, base, size uint32, dev devreg.Device) error {
	for _, r := range m.smn {
		if overlaps(base, size, r.base, r.size) {
			return fmt.Errorf("iomanager: smn region %q [%#x,%#x) overlaps %q [%#x,%#x)",
				name, base, base+size, r.name, r.base, r.base+r.size)
		}
	}
	m.smn = append(m.smn, region{base: base, size: size, dev: dev, name: name})
	return nil
}

func overlaps(aBase, aSize, bBase, bSize uint32) bool {
	return aBase < bBase+bSize && bBase < aBase+aSize
}

func (m *Manager) findMmio(addr uint32) (region, bool) {
	for _, r := range m.mmio {
		if addr >= r.base && addr < r.base+r.size {
			return r, true
		}
	}
	return region{}, false
}

func (m *Manager) findSmn(addr uint32) (region, bool) {
	for _, r := range m.smn {
		if addr >= r.base && addr < r.base+r.size {
			return r, true
		}
	}
	return region{}, false
}

// MmioRead dispatches a guest MMIO read. An address with no owning
// region logs at Warn and returns 0, rather than faulting the run.
func (m *Manager) MmioRead(addr uint32, size uint8) uint64 {
	r, ok := m.findMmio(addr)
	if !ok {
		m.log.Warn("mmio read to unmapped address", "addr", fmt.Sprintf("%#x", addr), "size", size)
		return 0
	}
	v, err := r.dev.MmioRead(addr-r.base, size)
	if err != nil {
		m.log.Warn("mmio read failed", "device", r.name, "addr", fmt.Sprintf("%#x", addr), "err", err)
		return 0
	}
	return v
}

// MmioWrite dispatches a guest MMIO write. A write to an unmapped
// address is logged and otherwise ignored.
func (m *Manager) MmioWrite(addr uint32, size uint8, val uint64) {
	r, ok := m.findMmio(addr)
	if !ok {
		m.log.Warn("mmio write to unmapped address", "addr", fmt.Sprintf("%#x", addr), "size", size)
		return
	}
	if err := r.dev.MmioWrite(addr-r.base, size, val); err != nil {
		m.log.Warn("mmio write failed", "device", r.name, "addr", fmt.Sprintf("%#x", addr), "err", err)
	}
}

// SmnRead and SmnWrite mirror MmioRead/MmioWrite for the SMN address
// space.
func (m *Manager) SmnRead(addr uint32, size uint8) uint64 {
	r, ok := m.findSmn(addr)
	if !ok {
		m.log.Warn("smn read to unmapped address", "addr", fmt.Sprintf("%#x", addr), "size", size)
		return 0
	}
	v, err := r.dev.MmioRead(addr-r.base, size)
	if err != nil {
		m.log.Warn("smn read failed", "device", r.name, "addr", fmt.Sprintf("%#x", addr), "err", err)
		return 0
	}
	return v
}

func (m *Manager) SmnWrite(addr uint32, size uint8, val uint64) {
	r, ok := m.findSmn(addr)
	if !ok {
		m.log.Warn("smn write to unmapped address", "addr", fmt.Sprintf("%#x", addr), "size", size)
		return
	}
	if err := r.dev.MmioWrite(addr-r.base, size, val); err != nil {
		m.log.Warn("smn write failed", "device", r.name, "addr", fmt.Sprintf("%#x", addr), "err", err)
	}
}

// Shutdown tears down every registered device, collecting every
// failure rather than stopping at the first.
func (m *Manager) Shutdown() error {
	var errs []error
	for _, r := range append(append([]region{}, m.mmio...), m.smn...) {
		if err := r.dev.Destruct(); err != nil {
			errs = append(errs, fmt.Errorf("iomanager: %s: %w", r.name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("iomanager: %d device(s) failed teardown: %v", len(errs), errs)
}
