// Package trap implements the trap dispatcher (C2), the per-CPU recovery
// hook (C3) and its kernel self-test. It is grounded on
// gopheros/kernel/mm/vmm's fault_amd64.go install-handler idiom, generalized
// from "one handler per exception vector" to the single ranked dispatch
// point spec.md §4.2 requires, and on original_source/kern/trap.c's trap()
// routing order and trap_check() self-test, which have no gopheros analog.
package trap

import (
	"pios/kernel/cpu"
	"pios/kernel/gate"
)

// recoveryFunc is invoked by the dispatcher in place of normal routing when
// a per-CPU recovery slot is set. It never returns to the dispatcher: it
// must itself adjust the frame and call returnFn (installed via SetReturn).
type recoveryFunc func(f *gate.TrapFrame, data interface{})

type recoverySlot struct {
	handler recoveryFunc
	data    interface{}
	set     bool
}

// recoverySlots is indexed by cpu.ID(); each CPU owns exactly one slot, per
// spec.md §3's per-CPU recovery slot and §5's one-mutator-per-CPU model.
var recoverySlots [cpu.MaxCPUs]recoverySlot

// SetRecovery installs handler as the current CPU's anticipated-fault hook.
// Used by the self-test and by kernel copy-in/out (kernel/syscall) to turn
// a synchronous CPU exception into an abortable region without unwinding
// the kernel stack.
func SetRecovery(cpuID int, handler func(f *gate.TrapFrame, data interface{}), data interface{}) {
	recoverySlots[cpuID] = recoverySlot{handler: handler, data: data, set: true}
}

// ClearRecovery uninstalls the current CPU's recovery hook so that traps
// resume normal ranked routing.
func ClearRecovery(cpuID int) {
	recoverySlots[cpuID] = recoverySlot{}
}

func recoveryFor(cpuID int) (recoveryFunc, interface{}, bool) {
	s := recoverySlots[cpuID]
	return s.handler, s.data, s.set
}
