package vmm

import (
	"unsafe"

	"pios/kernel"
	"pios/kernel/kfmt"
	"pios/kernel/mm"
)

// errUnaligned is returned by Copy and Merge when a range argument is not
// 4 MiB aligned, as spec.md §4.7 requires.
var errUnaligned = &kernel.Error{Module: "vmm", Message: "range is not 4MiB aligned"}

// Copy lazily duplicates the 4 MiB-aligned range [sv, sv+size) from spd into
// dpd at dv, following spec.md §4.7's copy algorithm: every non-zero source
// mapping is marked copy-on-write (hardware W cleared, nominal SysWrite set
// if the original was writable by either means) in both directories, and
// the destination page table is a fresh frame holding a bit-copy of the
// source table. Failure leaves partial state in place; the caller is
// responsible for tearing down the destination range.
func Copy(spd PageDirectory, sv uintptr, dpd PageDirectory, dv uintptr, size uintptr) *kernel.Error {
	if sv%PTSize != 0 || dv%PTSize != 0 || size%PTSize != 0 {
		return errUnaligned
	}

	for off := uintptr(0); off < size; off += PTSize {
		spdt := spd.table()
		dpdt := dpd.table()
		spde := &spdt[pdIndex(sv+off)]
		dpde := &dpdt[pdIndex(dv+off)]

		if *spde == PTEZero {
			*dpde = *spde
			continue
		}

		newPT, err := mm.AllocFrame()
		if err != nil {
			return err
		}
		// Set t'.refcount = 1: the destination PDE is its sole owner.
		mm.Incref(newPT)

		srcPT := table(spde.frame().Address())
		for i := range srcPT {
			e := srcPT[i]
			if e == PTEZero {
				continue
			}
			if e.has(FlagRW) || e.has(FlagSysWrite) {
				e = e.withFlags((e.flags() &^ FlagRW) | FlagSysWrite)
				srcPT[i] = e
			}
			mm.Incref(e.frame())
		}

		dstPT := table(newPT.Address())
		*dstPT = *srcPT
		*dpde = makePTE(newPT, spde.flags())
	}

	return nil
}

// Merge implements the three-way merge (C6b) of source s against reference
// snapshot r, applying net changes into destination d, per spec.md §4.7.
func Merge(rpd, spd PageDirectory, sv uintptr, dpd PageDirectory, dv uintptr, size uintptr) *kernel.Error {
	if sv%PTSize != 0 || dv%PTSize != 0 || size%PTSize != 0 {
		return errUnaligned
	}

	for off := uintptr(0); off < size; off += PTSize {
		rpde := rpd.table()[pdIndex(sv+off)]
		spde := spd.table()[pdIndex(sv+off)]
		dpdePtr := &dpd.table()[pdIndex(dv+off)]

		if spde == rpde {
			// Unchanged page table; nothing to propagate.
			continue
		}

		if rpde == PTEZero || spde == PTEZero || *dpdePtr == PTEZero {
			if err := mergeWholeTable(rpde, spde, dpdePtr, dpd, dv, off); err != nil {
				return err
			}
			continue
		}

		rpt := table(rpde.frame().Address())
		spt := table(spde.frame().Address())
		dpt := table(dpdePtr.frame().Address())

		for i := 0; i < EntriesPerTable; i++ {
			v := dv + off + uintptr(i)*mm.PageSize
			if err := mergePage(&rpt[i], &spt[i], &dpt[i], v); err != nil {
				return err
			}
		}
	}

	return nil
}

// mergeWholeTable handles the degenerate case where one side of a changed
// 4 MiB region has no page table at all (PTEZero): each slot is synthesised
// as PTEZero for the comparison so the per-page rules in mergePage still
// apply uniformly.
func mergeWholeTable(rpde, spde pte, dpdePtr *pte, dpd PageDirectory, dv, off uintptr) *kernel.Error {
	var rpt, spt, dpt [EntriesPerTable]pte

	if rpde != PTEZero {
		rpt = *table(rpde.frame().Address())
	}
	if spde != PTEZero {
		spt = *table(spde.frame().Address())
	}
	if *dpdePtr == PTEZero {
		newPT, err := mm.AllocFrame()
		if err != nil {
			return err
		}
		mm.Incref(newPT)
		*table(newPT.Address()) = [EntriesPerTable]pte{}
		*dpdePtr = makePTE(newPT, FlagPresent|FlagRW|FlagUser|FlagAccessed)
	}
	dpt = *table(dpdePtr.frame().Address())

	for i := 0; i < EntriesPerTable; i++ {
		v := dv + off + uintptr(i)*mm.PageSize
		if err := mergePage(&rpt[i], &spt[i], &dpt[i], v); err != nil {
			return err
		}
	}

	*table(dpdePtr.frame().Address()) = dpt
	if spde != PTEZero {
		// Write back the source entries mergePage write-protected.
		*table(spde.frame().Address()) = spt
	}
	return nil
}

// mergePage resolves one 4 KiB slot of the three-way merge, per spec.md
// §4.7's rpte/spte/dpte case analysis.
func mergePage(rpte, spte, dpte *pte, v uintptr) *kernel.Error {
	switch {
	case *spte == *rpte && *dpte == *rpte:
		// Unchanged on both sides.
		return nil

	case *dpte == *rpte && *spte != *rpte:
		// Changed only at source: adopt via COW sharing. Side effect: the
		// source PTE itself loses hardware W (and gains SysWrite if it was
		// writable), so the source address space is mutated by the merge.
		if *dpte != PTEZero {
			if _, err := mm.Decref(dpte.frame()); err != nil {
				return err
			}
		}
		mm.Incref(spte.frame())
		if spte.has(FlagRW) || spte.has(FlagSysWrite) {
			*spte = spte.withFlags((spte.flags() &^ FlagRW) | FlagSysWrite)
		}
		*dpte = *spte
		return nil

	default:
		// Both sides changed relative to the reference: per-page conflict
		// resolution with word-level comparison.
		return mergeConflictingPage(rpte, spte, dpte, v)
	}
}

// mergeConflictingPage is invoked when both the source and destination
// diverged from the reference snapshot at the same page. It performs a
// word-level (32-bit) comparison of the three pages' contents: words the
// source left untouched are skipped; words the source changed are copied
// into the destination unless the destination also changed that same word
// to a different value, in which case the two sides conflict and the whole
// destination page is abandoned (warned, decreffed, reset to PTE_ZERO)
// rather than guessing a winner. Grounded directly on
// original_source/kern/pmap.c's pmap_mergepage, which has no gopheros
// analog.
func mergeConflictingPage(rpte, spte, dpte *pte, v uintptr) *kernel.Error {
	if *dpte == PTEZero {
		newFrame, err := mm.AllocFrame()
		if err != nil {
			return err
		}
		mm.Incref(newFrame)
		kernel.Memset(newFrame.Address(), 0, mm.PageSize)
		*dpte = makePTE(newFrame, FlagPresent|FlagRW|FlagUser|FlagSysRead|FlagSysWrite)
	} else if mm.RefCount(dpte.frame()) > 1 {
		newFrame, err := mm.AllocFrame()
		if err != nil {
			return err
		}
		mm.Incref(newFrame)
		kernel.Memcopy(dpte.frame().Address(), newFrame.Address(), mm.PageSize)
		if _, err := mm.Decref(dpte.frame()); err != nil {
			return err
		}
		*dpte = makePTE(newFrame, dpte.flags())
	}

	const words = int(mm.PageSize / 4)
	rWords := (*[words]uint32)(unsafe.Pointer(referenceWordBase(rpte)))
	sWords := (*[words]uint32)(unsafe.Pointer(referenceWordBase(spte)))
	dWords := (*[words]uint32)(unsafe.Pointer(referenceWordBase(dpte)))

	for i := 0; i < words; i++ {
		if sWords[i] == rWords[i] {
			// Source didn't touch this word.
			continue
		}
		if dWords[i] != rWords[i] && dWords[i] != sWords[i] {
			// Both sides changed the word, to different values: conflict.
			// Abandon the whole page rather than guess a winner.
			kfmt.Printf("vmm: merge conflict at 0x%x: source=0x%x reference=0x%x dest=0x%x\n",
				v, sWords[i], rWords[i], dWords[i])
			if _, err := mm.Decref(dpte.frame()); err != nil {
				return err
			}
			*dpte = PTEZero
			flushTLBEntryFn(v)
			return nil
		}
		dWords[i] = sWords[i]
	}

	flushTLBEntryFn(v)
	return nil
}

func referenceWordBase(p *pte) uintptr {
	if *p == PTEZero {
		return mm.ZeroFrame.Address()
	}
	return p.frame().Address()
}
