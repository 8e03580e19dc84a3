package trap

// Each of these is expected, on real hardware, to execute exactly the
// faulting instruction original_source/kern/trap.c's trap_check uses for
// the same scenario (div, int3, into, boundl, ud2, an invalid segment
// load, and lidt from user mode respectively) immediately followed by the
// label recovery should resume at. No Go body is provided here: as with
// gate_386.go's installIDT, the instruction sequence and its resume label
// live in the boot glue this package does not carry in isolation.
func triggerDivideByZero()
func triggerBreakpoint()
func triggerOverflow()
func triggerBounds()
func triggerIllegalOp()
func triggerBadSegment()
func triggerPrivileged()
