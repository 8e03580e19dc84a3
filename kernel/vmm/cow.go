package vmm

import (
	"pios/kernel"
	"pios/kernel/mm"
)

// ResolvePageFault implements the copy-on-write fault path (C6a). It is
// called from the trap dispatcher's rank-1 slot with the faulting process's
// page directory; it reports handled=true if the fault was a COW write it
// resolved in place, in which case the dispatcher resumes the faulting
// instruction directly. Any other outcome (address outside the user window,
// genuine protection violation) returns handled=false so the dispatcher
// falls through to reflection.
func ResolvePageFault(pd PageDirectory, faultAddr uintptr) (handled bool, err *kernel.Error) {
	if !inUserWindow(faultAddr) {
		return false, nil
	}

	p, err := walk(pd, faultAddr, true)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	// COW fault: hardware W clear but the owning process was nominally
	// granted write access.
	if p.has(FlagRW) || !p.has(FlagSysWrite) {
		return false, nil
	}

	f := p.frame()
	nominal := p.flags() &^ flagNominalRW

	if f == mm.ZeroFrame || mm.RefCount(f) > 1 {
		newFrame, aerr := mm.AllocFrame()
		if aerr != nil {
			return false, aerr
		}
		mm.Incref(newFrame)
		if f == mm.ZeroFrame {
			kernel.Memset(newFrame.Address(), 0, mm.PageSize)
		} else {
			kernel.Memcopy(f.Address(), newFrame.Address(), mm.PageSize)
		}
		if f != mm.ZeroFrame {
			if _, derr := mm.Decref(f); derr != nil {
				return false, derr
			}
		}
		*p = makePTE(newFrame, nominal|FlagRW|FlagPresent)
	} else {
		*p = makePTE(f, nominal|FlagRW|FlagPresent)
	}

	flushTLBEntryFn(faultAddr)
	return true, nil
}
