package kernel

import (
	"pios/kernel/syscall"
	"pios/kernel/trap"
)

// Kmain is the only Go symbol the boot assembly calls into, once it has
// switched to protected mode, built the boot page directory and set CR3,
// and allocated a minimal stack — mirroring
// gopher-os-gopher-os/kernel/kmain.go's Kmain, which plays the same role
// for that kernel's rt0 stub. Kmain is not expected to return; if it does,
// the boot glue halts the CPU.
//
// A full boot sequence also needs a physical-memory map (from the
// bootloader) to seed mm's frame allocator, and a process manager to
// create the first user process — both out of this kernel core's scope
// (spec.md's VM and trap core covers C1-C7 only). Kmain installs the trap
// table and dispatcher (trap.Init) and the syscall handler (syscall.Init);
// the remaining components have no boot-time setup. It then idles.
//
//go:noinline
func Kmain() {
	trap.Init()
	syscall.Init()

	Halt()
}

// Halt idles the boot CPU forever. Named separately from cpu.Halt (which
// this delegates to via cpuHaltFn) so that Panic and Kmain share the same
// test seam.
func Halt() {
	for {
		cpuHaltFn()
	}
}
