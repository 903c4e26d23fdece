// Package engine defines the contract the PSP core holds the ARM
// interpreter to. The interpreter itself is out of scope for this
// module: callers supply any implementation that satisfies Engine,
// and the core drives it without knowing its internals, the same way
// emu/device.Device lets emu/sys_channel drive an arbitrary unit
// record device without knowing its internals.
package engine

import "github.com/openpsp/pspcore/config"

// Reg identifies one ARM core register, numbered the way the original
// PSPCOREREG enum numbers them (0 is deliberately invalid so a
// zero-valued Reg is caught rather than silently read as R0).
type Reg int

const (
	RegInvalid Reg = iota
	R0
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
	regCount
)

// PspAddr is an address in the PSP's own 32-bit ARM address space.
type PspAddr = uint32

// MmioReader and MmioWriter service one MMIO-mapped region's accesses.
// off is the byte offset of the access relative to the region's base,
// matching the off/size convention devreg.Device.MmioRead/MmioWrite
// already uses; MapMmio lets a region built from a callback pair (an
// I/O Manager device, an x86 mapping-cache window) trap guest accesses
// the same way a flat MapRegion buffer does.
type MmioReader func(off uint32, size uint8) (uint64, error)
type MmioWriter func(off uint32, size uint8, val uint64) error

// StopReason explains why ExecRun returned control to the caller.
type StopReason int

const (
	// StopSvc means an SVC instruction was hit; PC points just past it
	// and the SVC immediate is available via LastSvc.
	StopSvc StopReason = iota
	// StopBudget means the instruction/time budget passed to ExecRun
	// was exhausted before any other stop condition.
	StopBudget
	// StopFault means the engine hit an unrecoverable execution fault
	// (illegal instruction, unmapped fetch). The caller should treat
	// this as pspcoreerr.ErrEngineExec.
	StopFault
)

// Engine is the contract the CPU core adapter requires of an ARM
// interpreter. Mode carries enough of config.Config for the engine to
// pick an ISA variant; everything else (memory layout, MMIO routing)
// is handled above the engine by the core and I/O manager.
type Engine interface {
	// Init allocates interpreter-internal state and maps the fixed
	// SRAM region (256 KiB at PSP address 0) backed by sram. It must
	// be called at most once per Engine value.
	Init(mode config.Mode, sram []byte) error

	// MapRegion exposes an additional PSP-address-space region to the
	// engine's memory map, backed directly by buf. (x86 windows and MMIO
	// devices are not mapped this way; they go through MapMmio.)
	// readOnly marks a region the guest may read but not write. No
	// current caller uses MapRegion.
	MapRegion(base PspAddr, buf []byte, readOnly bool) error

	// UnmapRegion removes a previously mapped region.
	UnmapRegion(base PspAddr) error

	// MapMmio exposes [base, base+size) of PSP address space whose
	// accesses are serviced by read/write instead of a backing buffer,
	// mirroring uc_mmio_map from the original core. It is how the I/O
	// Manager's registered devices and the x86 mapping cache's windows
	// actually trap guest loads/stores rather than only being reachable
	// through direct method calls.
	MapMmio(base PspAddr, size uint32, read MmioReader, write MmioWriter) error

	// UnmapMmio removes a previously mapped MMIO region.
	UnmapMmio(base PspAddr) error

	// ReadReg and WriteReg access a single ARM register.
	ReadReg(r Reg) (uint32, error)
	WriteReg(r Reg, v uint32) error

	// ExecRun resumes execution at the engine's current PC and runs
	// until an SVC instruction, the supplied budget is exhausted, or a
	// fault occurs. A budget of 0 for either bound means unbounded on
	// that axis.
	ExecRun(maxInsns uint64, maxMillis uint64) (StopReason, error)

	// LastSvc returns the 24-bit immediate of the SVC instruction that
	// produced the most recent StopSvc, valid only until the next
	// ExecRun call.
	LastSvc() uint32

	// Close releases interpreter-internal state.
	Close() error
}
