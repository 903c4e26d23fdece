// Package proxytest provides a fake proxy.Proxy backed by a plain byte
// slice standing in for host x86 physical memory, grounded on the
// emu/test_dev "fake collaborator" pattern.
package proxytest

import (
	"context"
	"fmt"

	"github.com/openpsp/pspcore/emu/proxy"
)

// Fake is an in-memory stand-in for a real physical PSP.
type Fake struct {
	// Mem models host x86 physical memory as one flat buffer starting
	// at physical address 0; tests size it generously for whatever
	// addresses they exercise.
	Mem []byte

	// SvcFunc, if set, is called by SvcCall with the svc number and
	// input registers, and its result is returned. When nil, SvcCall
	// returns all-zero registers (status 0 in R0).
	SvcFunc func(svc uint32, regsIn [13]uint32) ([13]uint32, error)

	Calls []uint32 // svc numbers seen, in order, for assertions
}

func (f *Fake) SvcCall(ctx context.Context, svc uint32, regsIn [13]uint32) ([13]uint32, error) {
	f.Calls = append(f.Calls, svc)
	if f.SvcFunc != nil {
		return f.SvcFunc(svc, regsIn)
	}
	var out [13]uint32
	out[0] = 0
	return out, nil
}

func (f *Fake) MemRead(ctx context.Context, addr uint64, buf []byte) error {
	if addr+uint64(len(buf)) > uint64(len(f.Mem)) {
		return fmt.Errorf("proxytest: read [%#x,%#x) out of range", addr, addr+uint64(len(buf)))
	}
	copy(buf, f.Mem[addr:])
	return nil
}

func (f *Fake) MemWrite(ctx context.Context, addr uint64, buf []byte) error {
	if addr+uint64(len(buf)) > uint64(len(f.Mem)) {
		return fmt.Errorf("proxytest: write [%#x,%#x) out of range", addr, addr+uint64(len(buf)))
	}
	copy(f.Mem[addr:], buf)
	return nil
}

var _ proxy.Proxy = (*Fake)(nil)
