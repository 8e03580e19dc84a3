package vmm

import (
	"pios/kernel"
	"pios/kernel/mm"
)

// KernelTemplate holds the canonical boot page directory: the 4 MiB
// identity-mapped kernel range PDEs that every process's directory shares
// verbatim and never mutates (spec.md §3's address-space invariants). It is
// populated once, by the boot sequence (out of scope per spec.md §1),
// before any call to NewPageDirectory.
var KernelTemplate [EntriesPerTable]pte

// PageDirectory is a handle to one process's top-level page directory: a
// single frame holding 1024 PDEs, indexed directly because physical memory
// is identity-mapped.
type PageDirectory struct {
	Frame mm.Frame
}

func (pd PageDirectory) table() *[EntriesPerTable]pte { return table(pd.Frame.Address()) }

// NewPageDirectory allocates a fresh page directory and seeds it with the
// canonical kernel template, per spec.md §4.4's new_pdir.
func NewPageDirectory() (PageDirectory, *kernel.Error) {
	f, err := mm.AllocFrame()
	if err != nil {
		return PageDirectory{}, err
	}
	mm.Incref(f)
	*table(f.Address()) = KernelTemplate
	return PageDirectory{Frame: f}, nil
}

// walk locates the PTE for v, demand-allocating a page table if create is
// true and the governing PDE is still PTEZero. Preconditions: v must lie in
// [VMUserLo, VMUserHi) (spec.md §4.4); callers within this package are
// expected to have already checked this via inUserWindow.
func walk(pd PageDirectory, v uintptr, create bool) (*pte, *kernel.Error) {
	pdt := pd.table()
	pde := &pdt[pdIndex(v)]

	if *pde == PTEZero {
		if !create {
			return nil, nil
		}
		ptFrame, err := mm.AllocFrame()
		if err != nil {
			return nil, nil
		}
		mm.Incref(ptFrame)
		pt := table(ptFrame.Address())
		for i := range pt {
			pt[i] = PTEZero
		}
		*pde = makePTE(ptFrame, FlagPresent|FlagRW|FlagUser|FlagAccessed)
		return &pt[ptIndex(v)], nil
	}

	// Whole-PT clone optimization: if a shared read-only table is about to
	// be written through, give the caller a private copy first.
	ptFrame := pde.frame()
	if create && mm.RefCount(ptFrame) > 1 {
		newFrame, err := mm.AllocFrame()
		if err != nil {
			return nil, nil
		}
		mm.Incref(newFrame)
		*table(newFrame.Address()) = *table(ptFrame.Address())
		if _, derr := mm.Decref(ptFrame); derr != nil {
			return nil, derr
		}
		*pde = makePTE(newFrame, pde.flags()|FlagRW)
		ptFrame = newFrame
	}

	pt := table(ptFrame.Address())
	return &pt[ptIndex(v)], nil
}

// FreePageTable decrefs every non-zero frame a page table references, then
// frees the table frame itself (spec.md §4.4's free_ptab).
func FreePageTable(ptFrame mm.Frame) *kernel.Error {
	pt := table(ptFrame.Address())
	for _, entry := range pt {
		if entry == PTEZero {
			continue
		}
		if _, err := mm.Decref(entry.frame()); err != nil {
			return err
		}
	}
	_, err := mm.Decref(ptFrame)
	return err
}

// FreePageDirectory removes the full user range then frees the PD frame
// itself (spec.md §4.4's free_pdir).
func FreePageDirectory(pd PageDirectory) *kernel.Error {
	if err := Remove(pd, VMUserLo, VMUserHi-VMUserLo); err != nil {
		return err
	}
	_, err := mm.Decref(pd.Frame)
	return err
}
