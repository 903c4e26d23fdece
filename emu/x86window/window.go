// Package x86window implements the x86 Mapping Cache (C4): lazy,
// write-coalescing windows that mirror a range of host x86 physical
// memory into the PSP's address space, fetching on first read and
// syncing back on unmap. The shape mirrors PSPX86MEMCACHEDMAPPING from
// the original core; the dirty-range watermark idiom (track how far a
// buffer has been touched, sync only that much back) is grounded on
// the single dirty flag the teacher's emu/sys_channel keeps on its
// one-byte channel buffer, generalized here to a byte-range watermark.
package x86window

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/openpsp/pspcore/emu/proxy"
	"github.com/openpsp/pspcore/pspcoreerr"
)

const (
	// MaxWindows is the number of general-purpose window slots; the
	// Private State Window is a 9th, distinguished slot tracked
	// separately.
	MaxWindows = 8

	page4K = 4096
)

// Window is one cached mirror of host x86 physical memory.
type Window struct {
	PhysX86AddrBase  proxy.X86PAddr
	PspAddrBase4K    uint32
	PspAddrBase      uint32
	PspHighestRead   uint32 // exclusive fault-in boundary, relative to PspAddrBase4K
	PspHighestWritten uint32 // exclusive sync-back boundary, relative to PspAddrBase4K
	buf              []byte

	// core is a non-owning back-reference to the owning core, modeled
	// as an opaque index rather than a pointer so the window never
	// holds a reference cycle back to its core.
	core int
}

// Size returns the mapped byte length (4K-aligned).
func (w *Window) Size() int { return len(w.buf) }

// Cache owns the fixed window table for one core and the single
// Private State Window, and performs the proxy round trips that back
// lazy fetch-in and write-back.
type Cache struct {
	log     *slog.Logger
	px      proxy.Proxy
	windows [MaxWindows]*Window
	priv    *Window
	coreIdx int
}

// New returns a Cache for the core identified by coreIdx (an opaque
// handle meaningful only to the owning CCD), talking to px.
func New(log *slog.Logger, px proxy.Proxy, coreIdx int) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{log: log, px: px, coreIdx: coreIdx}
}

func roundDown4K(a uint32) uint32 { return a &^ (page4K - 1) }
func roundUp4K(a uint32) uint32   { return roundDown4K(a+page4K-1) }

// Map allocates a free window slot mirroring [physAddr, physAddr+size)
// of host x86 physical memory into PSP address space at pspBase,
// returning the new Window for subsequent accesses. It is lazy: no
// proxy round trip happens until the first Read. Map fails with
// pspcoreerr.ErrTooManyWindows if all MaxWindows slots are occupied.
func (c *Cache) Map(ctx context.Context, physAddr proxy.X86PAddr, size uint32, pspBase uint32) (*Window, error) {
	slot := -1
	for i, w := range c.windows {
		if w == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, pspcoreerr.ErrTooManyWindows
	}

	base4K := roundDown4K(pspBase)
	mapped := roundUp4K(pspBase + size - base4K)

	w := &Window{
		PhysX86AddrBase: physAddr,
		PspAddrBase4K:   base4K,
		PspAddrBase:     pspBase,
		buf:             make([]byte, mapped),
		core:            c.coreIdx,
	}
	c.windows[slot] = w
	c.log.Debug("mapped x86 window",
		"phys", fmt.Sprintf("%#x", physAddr),
		"psp", fmt.Sprintf("%#x", pspBase),
		"size", humanize.Bytes(uint64(mapped)),
	)
	return w, nil
}

// MapPrivState allocates the distinguished Private State Window at PSP
// address pspBase (the SEV save-state region's base as reported by the
// QuerySaveStateRegion syscall), using the fixed 0xdeadd0d0 sentinel
// for PhysX86AddrBase per the original core, since the real physical
// address of this region is never actually known to the emulator.
func (c *Cache) MapPrivState(pspBase, size uint32) *Window {
	w := &Window{
		PhysX86AddrBase: 0xdeadd0d0,
		PspAddrBase4K:   roundDown4K(pspBase),
		PspAddrBase:     pspBase,
		buf:             make([]byte, roundUp4K(size+(pspBase-roundDown4K(pspBase)))),
		core:            c.coreIdx,
	}
	c.priv = w
	return w
}

// ensureRead fetches from the proxy any bytes in [0, off) of w's
// backing buffer not yet covered by PspHighestRead, advancing the
// watermark monotonically.
func (c *Cache) ensureRead(ctx context.Context, w *Window, off uint32) error {
	if off <= w.PspHighestRead {
		return nil
	}
	if off > uint32(len(w.buf)) {
		return pspcoreerr.ErrBadAddress
	}
	start := w.PspHighestRead
	if err := c.px.MemRead(ctx, w.PhysX86AddrBase+proxy.X86PAddr(start), w.buf[start:off]); err != nil {
		return fmt.Errorf("x86window: fetch [%#x,%#x): %w", start, off, pspcoreerr.ErrProxyIO)
	}
	w.PspHighestRead = off
	return nil
}

// Read returns size bytes at PSP-relative offset off into w, fetching
// from the proxy as needed.
func (c *Cache) Read(ctx context.Context, w *Window, off, size uint32) ([]byte, error) {
	if off+size > uint32(len(w.buf)) {
		return nil, pspcoreerr.ErrBadAddress
	}
	if err := c.ensureRead(ctx, w, off+size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, w.buf[off:off+size])
	return out, nil
}

// Write stores data at PSP-relative offset off into w, extending the
// dirty (PspHighestWritten) watermark; the bytes are not synced back
// to the proxy until Unmap or Sync.
func (c *Cache) Write(ctx context.Context, w *Window, off uint32, data []byte) error {
	end := off + uint32(len(data))
	if end > uint32(len(w.buf)) {
		return pspcoreerr.ErrBadAddress
	}
	// A write past the read watermark still needs the untouched
	// prefix fetched in, so a partial-word write-back doesn't clobber
	// bytes the guest never read.
	if err := c.ensureRead(ctx, w, end); err != nil {
		return err
	}
	copy(w.buf[off:end], data)
	if end > w.PspHighestWritten {
		w.PspHighestWritten = end
	}
	return nil
}

// Sync writes back every dirty byte of w to the proxy without
// unmapping it.
func (c *Cache) Sync(ctx context.Context, w *Window) error {
	if w.PspHighestWritten == 0 {
		return nil
	}
	if err := c.px.MemWrite(ctx, w.PhysX86AddrBase, w.buf[:w.PspHighestWritten]); err != nil {
		return fmt.Errorf("x86window: sync [0,%#x): %w", w.PspHighestWritten, pspcoreerr.ErrProxyIO)
	}
	return nil
}

// Unmap syncs back any dirty bytes and frees w's slot. The Private
// State Window is never unmapped by this call (it persists across
// app exits per its own lifecycle); callers must not pass c.priv.
func (c *Cache) Unmap(ctx context.Context, w *Window) error {
	if err := c.Sync(ctx, w); err != nil {
		return err
	}
	for i, slot := range c.windows {
		if slot == w {
			c.windows[i] = nil
			return nil
		}
	}
	return fmt.Errorf("x86window: window not in this cache's table")
}

// PrivState returns the Private State Window, or nil if it has not
// been mapped yet.
func (c *Cache) PrivState() *Window { return c.priv }

// Lookup returns the window whose PspAddrBase equals addr, the same
// linear search X86MemUnmap's original does over aX86Mappings, or nil
// if no window is mapped there.
func (c *Cache) Lookup(addr uint32) *Window {
	for _, w := range c.windows {
		if w != nil && w.PspAddrBase == addr {
			return w
		}
	}
	return nil
}
