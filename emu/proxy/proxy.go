// Package proxy defines the contract to a physical PSP used as an
// oracle for SVC forwarding and on-demand x86 memory fetches. The
// transport backing a real implementation (USB, SPI, whatever link the
// debug hardware uses) is out of scope for this module; only the
// synchronous request/response shape is specified here, grounded on
// include/psp-svc.h's PSPEmuSvcStateCreate(..., PSPPROXYCTX).
package proxy

import "context"

// X86PAddr is a 64-bit physical address in the host x86 system, or
// NilX86PAddr when no physical address is known.
type X86PAddr = uint64

// NilX86PAddr is the sentinel value marking "no physical address",
// matching NIL_X86PADDR in the original core.
const NilX86PAddr X86PAddr = ^uint64(0)

// ScratchBase and ScratchSize describe the fixed scratch region the
// proxy PSP dedicates to forwarded SVC request/response buffers. The
// region is guaranteed to be at least ScratchSize bytes, starting at
// ScratchBase, for the lifetime of the proxy connection.
const (
	ScratchBase uint32 = 0x20000
	ScratchSize uint32 = 256 * 1024
)

// Proxy is the synchronous channel to a real, physical PSP.
type Proxy interface {
	// SvcCall forwards an SVC invocation to the real PSP, exchanging
	// the full ARM general register file. The returned registers
	// reflect the real PSP's post-syscall state; R0 carries its status
	// code.
	SvcCall(ctx context.Context, svc uint32, regsIn [13]uint32) (regsOut [13]uint32, err error)

	// MemRead reads len(buf) bytes from host x86 physical memory at
	// addr into buf.
	MemRead(ctx context.Context, addr X86PAddr, buf []byte) error

	// MemWrite writes buf to host x86 physical memory at addr.
	MemWrite(ctx context.Context, addr X86PAddr, buf []byte) error
}
