package kernel

import (
	"pios/kernel/cpu"
	"pios/kernel/kfmt"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints the supplied error (if any) to the console and halts the
// CPU. Calls to Panic never return. This is the target of the trap
// dispatcher's rank-6 "kernel-mode unexpected" path (spec §4.2, §7).
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
