package syscall

import (
	"pios/kernel"
	"pios/kernel/cpu"
	"pios/kernel/gate"
	"pios/kernel/trap"
	"pios/kernel/vmm"
)

var errBadUserRange = &kernel.Error{Module: "syscall", Message: "user range outside [VM_USERLO, VM_USERHI)"}

// reflectFault delivers trapNum/errCode to f as if the user's own
// instruction had caused them, then hands off to the process collaborator
// to actually reflect the trap to the parent. The process manager that
// implements parent/child rendezvous is out of this kernel core's scope
// (spec.md §4.9's closing paragraph); it is a function variable so tests
// can observe it without a collaborator installed.
var reflectFault = func(f *gate.TrapFrame, trapNum, errCode uint32) {
	f.TrapNum = trapNum
	f.ErrorCode = errCode
	if collab != nil {
		collab.Reflect(f)
	}
}

// SetReflectFault overrides how a blamed trap is delivered; used by tests.
func SetReflectFault(fn func(f *gate.TrapFrame, trapNum, errCode uint32)) { reflectFault = fn }

// checkva validates that [uva, uva+size) lies entirely within the user
// window and that the arithmetic does not wrap, grounded on
// original_source/kern/syscall.c's checkva(). A failing range reflects a
// page fault to the parent exactly as if the user's own instruction had
// trapped (spec.md §4.9 step 1).
func checkva(f *gate.TrapFrame, uva, size uintptr) *kernel.Error {
	if uva < vmm.VMUserLo || uva >= vmm.VMUserHi || size > vmm.VMUserHi-uva {
		reflectFault(f, uint32(gate.TPgflt), 0)
		return errBadUserRange
	}
	return nil
}

// Usercopy performs a straight memory copy between a kernel buffer and a
// validated user range, aborting via the recovery hook if the copy itself
// faults partway through. Grounded directly on
// original_source/kern/syscall.c's usercopy()/sysrecover(): the recovery
// hook blames whatever trap fired during the copy on utf — the original
// syscall frame — rather than on the fault's own (kernel-internal) trap
// frame, so the user sees exactly what an ordinary faulting instruction
// would have produced. Any spinlock the caller holds across a Usercopy
// call must be released before calling it, since the recovery hook cannot
// release locks it does not know about.
func Usercopy(utf *gate.TrapFrame, copyOut bool, kptr uintptr, uva, size uintptr) *kernel.Error {
	if err := checkva(utf, uva, size); err != nil {
		return err
	}

	id := cpu.ID()
	trap.SetRecovery(id, func(ktf *gate.TrapFrame, data interface{}) {
		reflectFault(utf, ktf.TrapNum, ktf.ErrorCode)
	}, nil)
	defer trap.ClearRecovery(id)

	if copyOut {
		kernel.Memcopy(kptr, uva, size)
	} else {
		kernel.Memcopy(uva, kptr, size)
	}
	return nil
}
