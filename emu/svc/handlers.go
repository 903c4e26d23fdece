package svc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/openpsp/pspcore/emu/engine"
	"github.com/openpsp/pspcore/emu/proxy"
	"github.com/openpsp/pspcore/emu/x86window"
	"github.com/openpsp/pspcore/pspcoreerr"
)

// Real PSP ROM syscall indices. Named and numbered directly from
// original_source/psp-svc.c's g_apfnSyscalls table; indices not listed
// here are NULL in that table (or, per pspEmuSvcPlatformReset and
// pspEmuSvcInvalidateMemory, defined but never wired into it) and fall
// through to the dispatcher's 0x9 default.
const (
	SvcAppExit        uint8 = 0x00
	SvcAppInit        uint8 = 0x01
	SvcSmnMapEx       uint8 = 0x03
	SvcSmnMap         uint8 = 0x04
	SvcSmnUnmap       uint8 = 0x05
	SvcDbgLog         uint8 = 0x06
	SvcX86MemMap      uint8 = 0x07
	SvcX86MemUnmap    uint8 = 0x08
	SvcX86CopyToPsp   uint8 = 0x09
	SvcX86CopyFromPsp uint8 = 0x0a

	SvcX86MemMapEx uint8 = 0x25
	SvcSmuMsg      uint8 = 0x28

	Svc0x32Unk uint8 = 0x32
	Svc0x33Unk uint8 = 0x33
	Svc0x38Unk uint8 = 0x38
	SvcRng     uint8 = 0x39 // original name pspEmuSvcRng

	SvcQuerySaveStateRegion uint8 = 0x3c
	Svc0x41Unk              uint8 = 0x41
	Svc0x42Unk              uint8 = 0x42
	SvcQuerySmmRegion       uint8 = 0x48
)

// appInitStackTop is the fixed top of the 2x4KiB stack region based at
// 0x50000, written to the caller-supplied destination pointer by
// AppInit.
const appInitStackTop uint32 = 0x52000

// sixtyFourMiB is the alignment granularity an x86 mapping slot covers
// per pspEmuSvcX86MemMapEx: a mapping runs from its physical base to
// the end of the enclosing 64MiB-aligned region.
const sixtyFourMiB uint64 = 64 * 1024 * 1024

func registerHandlers(d *Dispatcher) {
	d.Register(SvcAppExit, handleAppExit)
	d.Register(SvcAppInit, handleAppInit)

	d.Register(SvcSmnMapEx, genericForwardSingleBuffer)
	d.Register(SvcSmnMap, genericForwardSingleBuffer)
	d.Register(SvcSmnUnmap, genericForwardSingleBuffer)
	d.Register(SvcDbgLog, handleDbgLog)
	d.Register(SvcX86MemMap, handleX86MemMap)
	d.Register(SvcX86MemUnmap, handleX86MemUnmap)
	d.Register(SvcX86CopyToPsp, genericForwardSingleBuffer)
	d.Register(SvcX86CopyFromPsp, genericForwardSingleBuffer)

	d.Register(SvcX86MemMapEx, handleX86MemMapEx)
	d.Register(SvcSmuMsg, handleSmuMsg)

	d.Register(Svc0x32Unk, genericForwardSingleBuffer)
	d.Register(Svc0x33Unk, genericForwardSingleBuffer)
	d.Register(Svc0x38Unk, genericForwardSingleBuffer)
	d.Register(SvcRng, genericForwardSingleBuffer)

	d.Register(SvcQuerySaveStateRegion, handleQuerySaveStateRegion)

	// 0x41's per-tag field layout is not inferable with confidence
	// from the (commented-out) original source; every tag is decoded
	// and then uniformly rejected as an unhandled subtype. See
	// DESIGN.md.
	d.Register(Svc0x41Unk, handle0x41)

	d.Register(Svc0x42Unk, genericForwardTwoValueBuffer)
	d.Register(SvcQuerySmmRegion, handleQuerySmmRegion)
}

// handleAppExit requests the proxy's save-state buffer (sized by a
// prior QuerySaveStateRegion) and marks the core halted. A proxy
// failure here is logged, not fatal: the original treats AppExit's
// save-state push as best-effort.
func handleAppExit(ctx context.Context, svcNum uint32, c Context) error {
	size := c.StateRegionSize()
	if size > 0 {
		if _, err := c.Proxy().SvcCall(ctx, uint32(svcNum), [13]uint32{}); err != nil {
			c.Log().Warn("AppExit save-state proxy call failed", "err", err)
		}
	}
	c.MarkHalted()
	setR0(c, 0)
	return nil
}

// handleAppInit reads R2 as a destination pointer (UsrPtrStackAddr in
// the original) and writes the fixed stack-top constant to PSP memory
// there; R2 itself is never modified, matching
// PSPEmuCoreQueryReg(...R2...) followed by PSPEmuCoreMemWrite rather
// than a register write.
func handleAppInit(ctx context.Context, svcNum uint32, c Context) error {
	dest, err := getReg(c, engine.R2)
	if err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], appInitStackTop)
	if err := c.WriteMem(dest, buf[:]); err != nil {
		return err
	}
	setR0(c, 0)
	return nil
}

// genericForwardSingleBuffer implements the documented "copy input
// buffer, proxy call, copy output buffer back" shape shared by most of
// the forwarded syscalls: R0 is the PSP buffer address, R1 is its
// length. The buffer is relayed through the proxy's fixed scratch
// region (which is guaranteed at least 256 KiB, comfortably larger
// than any single forwarded buffer): the proxied call receives the
// scratch address in place of the guest's buffer pointer, and is
// issued under the real syscall index (svcNum), not a fixed one, so
// the real PSP services the syscall the guest actually issued.
func genericForwardSingleBuffer(ctx context.Context, svcNum uint32, c Context) error {
	addr, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	length, err := getReg(c, engine.R1)
	if err != nil {
		return err
	}
	if length > proxy.ScratchSize {
		return fmt.Errorf("%w: forwarded buffer length %d exceeds scratch", pspcoreerr.ErrBadAddress, length)
	}

	buf, err := c.ReadMem(addr, length)
	if err != nil {
		return err
	}
	if err := c.Proxy().MemWrite(ctx, proxy.X86PAddr(proxy.ScratchBase), buf); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}

	regsOut, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{proxy.ScratchBase, length})
	if err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}

	back := make([]byte, length)
	if err := c.Proxy().MemRead(ctx, proxy.X86PAddr(proxy.ScratchBase), back); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	if err := c.WriteMem(addr, back); err != nil {
		return err
	}

	setR0(c, regsOut[0])
	return nil
}

// scratchLenAddr is a second fixed scratch slot, used alongside
// proxy.ScratchBase by the handlers that forward a (buffer, pointer to
// length) pair rather than a single (addr, len) pair.
const scratchLenAddr = proxy.ScratchBase + proxy.ScratchSize/2

// genericForwardTwoValueBuffer implements 0x42's shape: R0 is a buffer
// pointer, R1 is a pointer to a length word (not the length itself),
// matching pspEmuSvc0x42Unk's PspAddrBufUnk/PspAddrSizeUnk. The
// (possibly updated) length and buffer are copied back to the guest on
// success.
func genericForwardTwoValueBuffer(ctx context.Context, svcNum uint32, c Context) error {
	bufAddr, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	lenAddr, err := getReg(c, engine.R1)
	if err != nil {
		return err
	}

	lenBuf, err := c.ReadMem(lenAddr, 4)
	if err != nil {
		return err
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	if length > proxy.ScratchSize {
		return fmt.Errorf("%w: forwarded buffer length %d exceeds scratch", pspcoreerr.ErrBadAddress, length)
	}

	data, err := c.ReadMem(bufAddr, length)
	if err != nil {
		return err
	}
	if err := c.Proxy().MemWrite(ctx, proxy.X86PAddr(proxy.ScratchBase), data); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	if err := c.Proxy().MemWrite(ctx, proxy.X86PAddr(scratchLenAddr), lenBuf); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}

	regsOut, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{proxy.ScratchBase, scratchLenAddr})
	if err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}

	var backLen [4]byte
	if err := c.Proxy().MemRead(ctx, proxy.X86PAddr(scratchLenAddr), backLen[:]); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	newLen := binary.LittleEndian.Uint32(backLen[:])
	if newLen > length {
		newLen = length // scratch only ever holds what we wrote to it
	}
	back := make([]byte, newLen)
	if err := c.Proxy().MemRead(ctx, proxy.X86PAddr(proxy.ScratchBase), back); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	if err := c.WriteMem(lenAddr, backLen[:]); err != nil {
		return err
	}
	if err := c.WriteMem(bufAddr, back); err != nil {
		return err
	}

	setR0(c, regsOut[0])
	return nil
}

// handleDbgLog copies the NUL-terminated string R0 points at (at most
// 512 bytes) out of PSP memory and emits it to the host log at Debug
// level. Nothing is forwarded to the proxy. R0 is set to 0.
func handleDbgLog(ctx context.Context, svcNum uint32, c Context) error {
	addr, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	var msg []byte
	for i := uint32(0); i < 512; i++ {
		b, err := c.ReadMem(addr+i, 1)
		if err != nil {
			return err
		}
		if b[0] == 0 {
			break
		}
		msg = append(msg, b[0])
	}
	c.Log().Debug("psp dbg_log", "msg", string(msg))
	setR0(c, 0)
	return nil
}

// mmioCallbacksForWindow adapts a Cache window's Read/Write into the
// engine.MmioReader/MmioWriter callback pair MapMmio expects, so a
// guest access against the window's PSP range traps into the cache's
// lazy-fetch/write-coalescing logic instead of only being reachable
// through direct Cache method calls. The callbacks run with
// context.Background() rather than the dispatch ctx: MapMmio's
// contract (like devreg.Device's) carries no context, and a guest
// access can trap long after the syscall that mapped the window has
// returned.
func mmioCallbacksForWindow(win *x86window.Cache, w *x86window.Window) (engine.MmioReader, engine.MmioWriter) {
	read := func(off uint32, size uint8) (uint64, error) {
		data, err := win.Read(context.Background(), w, off, uint32(size))
		if err != nil {
			return 0, err
		}
		var buf [8]byte
		copy(buf[:], data)
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
	write := func(off uint32, size uint8, val uint64) error {
		var full [8]byte
		binary.LittleEndian.PutUint64(full[:], val)
		return win.Write(context.Background(), w, off, full[:size])
	}
	return read, write
}

// handleX86MemMapEx implements pspEmuSvcX86MemMapEx: R0/R1 are the
// low/high 32 bits of the host x86 physical address, R2 is the memory
// type. The proxy call returns the PSP address the real PSP mapped the
// window at; on success a free window slot is allocated covering from
// that physical base to the end of its enclosing 64MiB-aligned region,
// and an MMIO trap is registered over the window's 4K-rounded PSP
// range so later guest accesses actually fetch/write through the
// cache. R0 is the mapped PSP address, or 0 when the proxy itself
// returns 0; a failed proxy call, no free window slot, or a failed
// MMIO trap registration is returned as an error, which the
// dispatcher turns into 0x9 in R0.
func handleX86MemMapEx(ctx context.Context, svcNum uint32, c Context) error {
	low, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	high, err := getReg(c, engine.R1)
	if err != nil {
		return err
	}
	memType, err := getReg(c, engine.R2)
	if err != nil {
		return err
	}
	physBase := (uint64(high) << 32) | uint64(low)

	regsOut, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{low, high, memType})
	if err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	pspAddr := regsOut[0]
	if pspAddr == 0 {
		setR0(c, 0)
		return nil
	}

	cbMapped := ((physBase &^ (sixtyFourMiB - 1)) + sixtyFourMiB) - physBase
	w, err := c.Windows().Map(ctx, proxy.X86PAddr(physBase), uint32(cbMapped), pspAddr)
	if err != nil {
		return fmt.Errorf("x86 mem map ex: %w", err)
	}
	read, write := mmioCallbacksForWindow(c.Windows(), w)
	if err := c.Engine().MapMmio(w.PspAddrBase4K, uint32(w.Size()), read, write); err != nil {
		return err
	}

	setR0(c, pspAddr)
	return nil
}

// handleX86MemMap implements 0x07 (pspEmuSvcX86MemMap), whose original
// body is an empty `#if 0`/`#endif` block: the original PSP never
// serviced this index from any code path that survived into the
// reference source. Since the review requires this syscall actually be
// wired to the window cache rather than left as a raw buffer forward,
// it is treated here as X86MemMapEx's single-page special case: R0/R1
// are the low/high physical address halves (no memory-type word), and
// exactly one 4K page is mapped rather than the rest of a 64MiB slot.
func handleX86MemMap(ctx context.Context, svcNum uint32, c Context) error {
	low, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	high, err := getReg(c, engine.R1)
	if err != nil {
		return err
	}
	physBase := (uint64(high) << 32) | uint64(low)

	regsOut, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{low, high})
	if err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	pspAddr := regsOut[0]
	if pspAddr == 0 {
		setR0(c, 0)
		return nil
	}

	w, err := c.Windows().Map(ctx, proxy.X86PAddr(physBase), 4096, pspAddr)
	if err != nil {
		c.Log().Warn("x86 mem map: no free window slot", "err", err)
		setR0(c, 0)
		return nil
	}
	read, write := mmioCallbacksForWindow(c.Windows(), w)
	if err := c.Engine().MapMmio(w.PspAddrBase4K, uint32(w.Size()), read, write); err != nil {
		return err
	}

	setR0(c, pspAddr)
	return nil
}

// handleX86MemUnmap implements pspEmuSvcX86MemUnmap: R0 is the PSP
// address a prior X86MemMap(Ex) returned. If a window is still mapped
// there, its MMIO trap is torn down and its dirty range synced back to
// the proxy before the real unmap call is issued (using the real uAddr
// and svcNum, mirroring PSPProxyCtxPspSvcCall(..., idxSyscall, uAddr,
// 0, 0, 0, ...)); R0 carries the proxy's status.
func handleX86MemUnmap(ctx context.Context, svcNum uint32, c Context) error {
	addr, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}

	if w := c.Windows().Lookup(addr); w != nil {
		if err := c.Engine().UnmapMmio(w.PspAddrBase4K); err != nil {
			c.Log().Warn("unmap mmio region failed", "addr", fmt.Sprintf("%#x", w.PspAddrBase4K), "err", err)
		}
		if err := c.Windows().Unmap(ctx, w); err != nil {
			c.Log().Warn("window sync-back on unmap failed", "addr", fmt.Sprintf("%#x", addr), "err", err)
		}
	}

	regsOut, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{addr})
	if err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	setR0(c, regsOut[0])
	return nil
}

// handleSmuMsg forwards an SMU message id (R0) and argument (R1)
// directly to the proxy. R2, if non-zero, is a return-value pointer
// (UsrPtrReturnMsg): the proxy is told to stage its reply at
// proxy.ScratchBase, and that 4-byte value is written to PSP memory at
// R2 — R1 itself is never touched, matching the original leaving
// uArg0 untouched across the call.
func handleSmuMsg(ctx context.Context, svcNum uint32, c Context) error {
	msg, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	arg, err := getReg(c, engine.R1)
	if err != nil {
		return err
	}
	retPtr, err := getReg(c, engine.R2)
	if err != nil {
		return err
	}

	var scratchArg uint32
	if retPtr != 0 {
		scratchArg = proxy.ScratchBase
	}
	regsOut, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{msg, arg, scratchArg})
	if err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}

	if retPtr != 0 {
		var buf [4]byte
		if err := c.Proxy().MemRead(ctx, proxy.X86PAddr(proxy.ScratchBase), buf[:]); err != nil {
			return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
		}
		if err := c.WriteMem(retPtr, buf[:]); err != nil {
			return err
		}
	}

	setR0(c, regsOut[0])
	return nil
}

// handleQuerySaveStateRegion asks the proxy for the SEV save-state
// region's base/size, records the size for AppExit, and maps it as the
// Private State Window.
func handleQuerySaveStateRegion(ctx context.Context, svcNum uint32, c Context) error {
	regsOut, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{})
	if err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	base, size := regsOut[0], regsOut[1]
	c.SetStateRegionSize(size)
	c.Windows().MapPrivState(base, size)
	setR0(c, 0)
	return c.Engine().WriteReg(engine.R1, size)
}

// handle0x41 decodes the variant tag in word 0 of the request pointed
// to by R0, then rejects every tag as an unhandled subtype. See the
// package doc and DESIGN.md for why no tag is serviced.
func handle0x41(ctx context.Context, svcNum uint32, c Context) error {
	reqPtr, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	word0, err := c.ReadMem(reqPtr, 4)
	if err != nil {
		return err
	}
	tag := binary.LittleEndian.Uint32(word0)
	c.Log().Debug("svc 0x41: unhandled request subtype", "tag", tag)
	setR0(c, StatusGeneralMemoryError)
	return nil
}

// handleQuerySmmRegion implements pspEmuSvcQuerySmmRegion: R0/R1 are
// user pointers (UsrPtrSmmRegionStart/Size) and are never overwritten
// — the original's own body never issues a uc_reg_write for R0 either,
// so no status is reported in a register here. The proxy call is made
// with a pair of fixed scratch addresses as its arguments (the real
// PSP writes the 8-byte region start and size there); those 16 bytes
// are then read back from scratch and written to PSP memory at the
// original R0/R1 addresses.
func handleQuerySmmRegion(ctx context.Context, svcNum uint32, c Context) error {
	const smmSizeScratch = proxy.ScratchBase + 0x1000

	startPtr, err := getReg(c, engine.R0)
	if err != nil {
		return err
	}
	sizePtr, err := getReg(c, engine.R1)
	if err != nil {
		return err
	}

	if _, err := c.Proxy().SvcCall(ctx, svcNum, [13]uint32{proxy.ScratchBase, smmSizeScratch}); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}

	var region [16]byte
	if err := c.Proxy().MemRead(ctx, proxy.X86PAddr(proxy.ScratchBase), region[:8]); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	if err := c.Proxy().MemRead(ctx, proxy.X86PAddr(smmSizeScratch), region[8:]); err != nil {
		return fmt.Errorf("%w: %v", pspcoreerr.ErrProxyIO, err)
	}
	if err := c.WriteMem(startPtr, region[:8]); err != nil {
		return err
	}
	if err := c.WriteMem(sizePtr, region[8:]); err != nil {
		return err
	}

	return nil
}
