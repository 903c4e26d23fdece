// Package pspcoreerr defines the sentinel error kinds shared across the
// PSP core emulator. Components wrap one of these with context via
// fmt.Errorf's %w verb; callers compare with errors.Is.
package pspcoreerr

import "errors"

var (
	// ErrOutOfMemory is returned when an allocation backing SRAM, a
	// device instance, or an x86 window mapping fails.
	ErrOutOfMemory = errors.New("pspcore: out of memory")

	// ErrEngineInit is returned when the CPU engine adapter fails to
	// initialize (bad mode, failed SRAM map, bad register set).
	ErrEngineInit = errors.New("pspcore: engine init failed")

	// ErrEngineExec is returned when a mid-run engine fault unwinds
	// exec_run (illegal instruction, unmapped fetch, engine-internal
	// error not otherwise classified).
	ErrEngineExec = errors.New("pspcore: engine execution fault")

	// ErrBadAddress is returned for an address outside any mapped
	// region, or a request that would cross one.
	ErrBadAddress = errors.New("pspcore: bad address")

	// ErrProxyIO is returned when a round trip to the proxy PSP fails
	// at the channel level. A non-zero status reported by the real PSP
	// is not turned into this error; handlers pass it through in R0.
	ErrProxyIO = errors.New("pspcore: proxy I/O failed")

	// ErrTooManyWindows is returned when all 8 cached x86 window slots
	// are occupied and a 9th is requested.
	ErrTooManyWindows = errors.New("pspcore: no free x86 window slot")

	// ErrNotImplemented is returned by optional hooks that a given
	// build or configuration does not provide.
	ErrNotImplemented = errors.New("pspcore: not implemented")
)
