package vmm

import (
	"pios/kernel"
	"pios/kernel/mm"
	"testing"
	"unsafe"
)

// testAllocator hands out frames backed by a page-aligned slab of a plain
// Go byte slice standing in for physical RAM, following the fake-physical-
// memory test pattern used throughout gopheros' own test suite. Frame
// numbers are derived directly from the slab's real address (shifted by
// PageShift) so that Frame.Address() dereferences real, page-aligned Go
// memory instead of an arbitrary small integer.
type testAllocator struct {
	base  uintptr
	count int
	next  int
}

func newTestAllocator(t *testing.T, frames int) *testAllocator {
	t.Helper()
	slab := make([]byte, (frames+1)*int(mm.PageSize))
	base := uintptr(unsafe.Pointer(&slab[0]))
	aligned := (base + mm.PageSize - 1) &^ (mm.PageSize - 1)
	return &testAllocator{base: aligned, count: frames}
}

func (a *testAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.next >= a.count {
		return mm.InvalidFrame, &kernel.Error{Module: "mm", Message: "out of frames"}
	}
	addr := a.base + uintptr(a.next)*mm.PageSize
	a.next++
	return mm.FrameFromAddress(addr), nil
}

func (a *testAllocator) FreeFrame(mm.Frame) *kernel.Error { return nil }

// resetRefcountForTest clears mm's package-level refcount table between
// tests so frame numbers (derived from real, re-used stack/heap addresses
// across test runs) never collide with stale entries.
func resetRefcountForTest() { mm.ResetForTest() }

func setupTest(t *testing.T, frames int) *testAllocator {
	t.Helper()
	a := newTestAllocator(t, frames)
	resetRefcountForTest()
	mm.SetFrameAllocator(a)
	flushTLBEntryFn = func(uintptr) {}
	return a
}

func newPageDirectory(t *testing.T) PageDirectory {
	t.Helper()
	for i := range KernelTemplate {
		KernelTemplate[i] = PTEZero
	}
	pd, err := NewPageDirectory()
	if err != nil {
		t.Fatalf("unexpected error creating page directory: %v", err)
	}
	return pd
}
