package trap

import (
	"pios/kernel/gate"
	"testing"
)

// fakeFault simulates what the common entry stub + hardware would do for
// vector v: build a trap frame and hand it to Dispatch. Real trigger*
// functions instead execute the actual faulting instruction; tests use this
// stand-in because Go cannot emit div/int3/into/boundl/ud2/lidt directly.
func fakeFault(v gate.Vector) func() {
	return func() {
		Dispatch(&gate.TrapFrame{TrapNum: uint32(v)})
	}
}

func setFakeTriggers(t *testing.T) func() {
	t.Helper()
	saved := []func(){
		triggerDivideByZeroFn, triggerBreakpointFn, triggerOverflowFn,
		triggerBoundsFn, triggerIllegalOpFn, triggerBadSegmentFn, triggerPrivilegedFn,
	}
	triggerDivideByZeroFn = fakeFault(gate.TDivide)
	triggerBreakpointFn = fakeFault(gate.TBrkpt)
	triggerOverflowFn = fakeFault(gate.TOflow)
	triggerBoundsFn = fakeFault(gate.TBound)
	triggerIllegalOpFn = fakeFault(gate.TIllop)
	triggerBadSegmentFn = fakeFault(gate.TGpflt)
	triggerPrivilegedFn = fakeFault(gate.TGpflt)
	return func() {
		triggerDivideByZeroFn, triggerBreakpointFn, triggerOverflowFn,
			triggerBoundsFn, triggerIllegalOpFn, triggerBadSegmentFn, triggerPrivilegedFn =
			saved[0], saved[1], saved[2], saved[3], saved[4], saved[5], saved[6]
	}
}

func TestCheckKernelModeRunsEveryNonPrivilegedScenario(t *testing.T) {
	resetDispatchState(t)
	defer setFakeTriggers(t)()

	if err := Check(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckUserModeAlsoRunsThePrivilegedScenario(t *testing.T) {
	resetDispatchState(t)
	defer setFakeTriggers(t)()

	privChecked := false
	triggerPrivilegedFn = func() {
		privChecked = true
		fakeFault(gate.TGpflt)()
	}

	if err := Check(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !privChecked {
		t.Fatal("expected the privileged-instruction scenario to run in user mode")
	}
}

func TestCheckKernelModeSkipsThePrivilegedScenario(t *testing.T) {
	resetDispatchState(t)
	defer setFakeTriggers(t)()

	privChecked := false
	triggerPrivilegedFn = func() {
		privChecked = true
		fakeFault(gate.TGpflt)()
	}

	if err := Check(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if privChecked {
		t.Fatal("did not expect the privileged-instruction scenario to run outside user mode")
	}
}

func TestCheckReportsMismatchedVector(t *testing.T) {
	resetDispatchState(t)
	defer setFakeTriggers(t)()

	triggerDivideByZeroFn = fakeFault(gate.TBrkpt)

	if err := Check(false); err == nil {
		t.Fatal("expected an error when the observed vector does not match the scenario")
	}
}
