package cpu

import "runtime"

// MaxCPUs bounds the size of every per-CPU table in the kernel (the
// recovery-hook slot in kernel/trap, the TLB-shootdown bitmap this module
// does not yet need). Modeled on mit-pdos-biscuit's runtime.MAXCPUS, scaled
// down since this module does not carry a patched runtime and instead relies
// on runtime.NumCPU() to size real allocations.
const MaxCPUs = 32

// idFn returns the index of the CPU the calling goroutine is currently
// running on. It is a function variable so this package's tests can pin a
// fake topology; otherwise it is always defaultID.
var idFn = defaultID

// ID returns the current CPU's index into the [0, MaxCPUs) per-CPU tables.
func ID() int { return idFn() }

// defaultID always reports CPU 0; no APIC-backed implementation is wired
// in. That is correct for the single-core case the self-test and unit tests
// run under.
func defaultID() int { return 0 }

// Count returns the number of CPUs the per-CPU tables should provision for,
// capped at MaxCPUs.
func Count() int {
	if n := runtime.NumCPU(); n < MaxCPUs {
		return n
	}
	return MaxCPUs
}
