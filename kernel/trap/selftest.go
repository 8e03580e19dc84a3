package trap

import (
	"pios/kernel"
	"pios/kernel/gate"
)

// checkArgs is the per-CPU payload threaded through the self-test's
// recovery hook, grounded on original_source/kern/trap.c's trap_check_args:
// the vector the hook last observed.
type checkArgs struct {
	trapNum gate.Vector
}

// checkScenario pairs a fault-triggering primitive with the vector Check
// expects to observe. userOnly mirrors trap_check()'s own
// `if (read_cs() & 3)` guard around the privileged-instruction case, which
// only faults when trap_check runs from user mode.
type checkScenario struct {
	name     string
	trigger  func()
	expect   gate.Vector
	userOnly bool
}

// Each trigger*Fn defaults to a body-less trigger*() declared in
// selftest_386.go; tests override the var to simulate the fault instead of
// executing it.
var (
	triggerDivideByZeroFn = triggerDivideByZero
	triggerBreakpointFn   = triggerBreakpoint
	triggerOverflowFn     = triggerOverflow
	triggerBoundsFn       = triggerBounds
	triggerIllegalOpFn    = triggerIllegalOp
	triggerBadSegmentFn   = triggerBadSegment
	triggerPrivilegedFn   = triggerPrivileged
)

func scenarios() []checkScenario {
	return []checkScenario{
		{"divide by zero", triggerDivideByZeroFn, gate.TDivide, false},
		{"breakpoint", triggerBreakpointFn, gate.TBrkpt, false},
		{"overflow", triggerOverflowFn, gate.TOflow, false},
		{"bounds check", triggerBoundsFn, gate.TBound, false},
		{"illegal opcode", triggerIllegalOpFn, gate.TIllop, false},
		{"bad segment load", triggerBadSegmentFn, gate.TGpflt, false},
		{"privileged instruction", triggerPrivilegedFn, gate.TGpflt, true},
	}
}

// Check runs the kernel self-test (C3): it installs a recovery hook on the
// current CPU, deliberately triggers each of the seven scenarios listed in
// scenarios(), and verifies the recovery hook observed the expected vector
// every time. userMode selects between the original's trap_check_kernel and
// trap_check_user variants: false for a ring-0 caller, true for a ring-3
// test process, which is the only context where the privileged-instruction
// scenario can fault at all. Kmain does not call Check, so the self-test
// does not run during boot.
func Check(userMode bool) *kernel.Error {
	id := idFn()
	args := &checkArgs{}
	SetRecovery(id, func(f *gate.TrapFrame, raw interface{}) {
		a := raw.(*checkArgs)
		a.trapNum = gate.Vector(f.TrapNum)
		returnFn(f)
	}, args)
	defer ClearRecovery(id)

	for _, sc := range scenarios() {
		if sc.userOnly && !userMode {
			continue
		}
		args.trapNum = 0xff
		sc.trigger()
		if args.trapNum != sc.expect {
			return &kernel.Error{Module: "trap", Message: "self-test: " + sc.name + " did not trap as expected"}
		}
	}
	return nil
}
