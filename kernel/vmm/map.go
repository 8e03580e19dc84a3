package vmm

import (
	"pios/kernel"
	"pios/kernel/cpu"
	"pios/kernel/mm"
)

// flushTLBEntryFn is used by tests to override calls to cpu.FlushTLBEntry,
// which would fault outside a running kernel.
var flushTLBEntryFn = cpu.FlushTLBEntry

// errMapFailed is returned by Insert when walk could not demand-allocate a
// page table to hold the new mapping.
var errMapFailed = &kernel.Error{Module: "vmm", Message: "failed to allocate page table for mapping"}

// flushTLBRange invalidates every page-aligned entry in [v, v+size).
func flushTLBRange(v, size uintptr) {
	for addr := v; addr < v+size; addr += mm.PageSize {
		flushTLBEntryFn(addr)
	}
}

// Insert maps frame at virtual address v in pd with the given nominal
// permission bits, following spec.md §4.5's insert algorithm: the frame's
// refcount is bumped before any existing mapping at v is torn down, so that
// re-inserting the same frame at the same slot never transiently drops its
// last reference.
func Insert(pd PageDirectory, frame mm.Frame, v uintptr, perm PTEFlag) *kernel.Error {
	p, err := walk(pd, v, true)
	if err != nil {
		return err
	}
	if p == nil {
		return errMapFailed
	}

	mm.Incref(frame)

	if *p != PTEZero {
		if err := Remove(pd, v, mm.PageSize); err != nil {
			return err
		}
		flushTLBEntryFn(v)
	}

	*p = makePTE(frame, perm|FlagPresent)
	return nil
}

// Remove unmaps the page-aligned range [v, v+size) from pd, decreffing
// (and potentially freeing) every frame it referenced. Proceeds in three
// spans per spec.md §4.5: a head span up to the next 4 MiB boundary, a bulk
// span of whole page tables, and a symmetric tail span.
func Remove(pd PageDirectory, v, size uintptr) *kernel.Error {
	end := v + size
	flushTLBRange(v, size)

	for v < end {
		pdeBoundary := (v &^ (PTSize - 1)) + PTSize
		spanEnd := end
		if pdeBoundary < spanEnd {
			spanEnd = pdeBoundary
		}

		pdt := pd.table()
		pde := &pdt[pdIndex(v)]

		if *pde == PTEZero {
			v = spanEnd
			continue
		}

		if v == v&^(PTSize-1) && spanEnd == pdeBoundary {
			// Bulk span: decref the page-table frame itself; FreePageTable
			// recursively decrefs every mapping it held.
			ptFrame := pde.frame()
			if err := FreePageTable(ptFrame); err != nil {
				return err
			}
			*pde = PTEZero
			v = spanEnd
			continue
		}

		// Head or tail span: walk each 4 KiB slot individually.
		pt := table(pde.frame().Address())
		for ; v < spanEnd; v += mm.PageSize {
			entry := &pt[ptIndex(v)]
			if *entry == PTEZero {
				continue
			}
			if _, err := mm.Decref(entry.frame()); err != nil {
				return err
			}
			*entry = PTEZero
		}
	}

	return nil
}

// SetPerm force-allocates the PTE for every page in [v, v+size) and ORs in
// nom_perm|U, per spec.md §4.5. Adding SysRead to a PTEZero slot produces a
// read-only mapping of the shared zero frame; adding SysWrite keeps
// hardware W clear so the first write triggers COW allocation (§4.6).
func SetPerm(pd PageDirectory, v, size uintptr, nomPerm PTEFlag) *kernel.Error {
	for addr := v; addr < v+size; addr += mm.PageSize {
		p, err := walk(pd, addr, true)
		if err != nil {
			return err
		}
		if p == nil {
			return errMapFailed
		}
		if *p == PTEZero {
			*p = makePTE(mm.ZeroFrame, FlagPresent)
		}
		*p = p.withFlags(p.flags() | nomPerm | FlagUser | FlagPresent)
	}
	return nil
}
