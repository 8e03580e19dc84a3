package trap

import (
	"pios/kernel"
	"pios/kernel/cpu"
	"pios/kernel/gate"
	"pios/kernel/kfmt"
	"pios/kernel/vmm"
)

// returnFn resumes the interrupted context described by f. It is a function
// variable, not a direct asm call, so the self-test can run Dispatch end to
// end without actually unwinding a Go test's call stack. The arch glue
// installs the real iret-based implementation at boot via SetReturn.
var returnFn = func(f *gate.TrapFrame) {}

// SetReturn installs the architecture's trap-return primitive (the Go side
// of the assembly entry stub that restores f onto the CPU and irets).
func SetReturn(fn func(f *gate.TrapFrame)) { returnFn = fn }

// idFn resolves the current CPU's index, overridden by tests so Dispatch can
// run single-threaded without a real percpu GDT/GS setup.
var idFn = cpu.ID

// readFaultAddressFn resolves the faulting linear address (CR2), overridden
// by tests since cpu.ReadFaultAddress has no Go body.
var readFaultAddressFn = cpu.ReadFaultAddress

// parentReflectFn delivers a user-mode fault to the faulting process's
// parent/supervisor. The real implementation lives outside this package's
// scope (it belongs to the process manager this kernel core does not
// include); tests and early boot leave it nil, in which case Dispatch falls
// through to the kernel-panic rank instead of silently dropping the fault.
var parentReflectFn func(f *gate.TrapFrame)

// SetParentReflect installs the process-manager collaborator used by rank 5.
func SetParentReflect(fn func(f *gate.TrapFrame)) { parentReflectFn = fn }

var spuriousIRQCount uint64

// irqHandlers is indexed by IRQ line (0-15); nil entries are unhandled.
var irqHandlers [gate.NumIRQLines]func()

// RegisterIRQHandler installs handler for the given IRQ line (0-15).
func RegisterIRQHandler(line uint8, handler func()) {
	irqHandlers[line] = handler
}

// SpuriousIRQCount reports how many hardware interrupts arrived with no
// registered handler for their line, for diagnostics.
func SpuriousIRQCount() uint64 { return spuriousIRQCount }

// Init wires this package's dispatcher into kernel/gate as the single
// ranked entry point every trap and interrupt funnels through, then asks
// gate to program the IDT.
func Init() {
	gate.SetDispatcher(Dispatch)
	gate.Init()
}

// Dispatch routes one trap or interrupt according to spec.md §4.2's six
// ranks, checked in order:
//
//  1. A page fault (TPgflt) is first offered to vmm.ResolvePageFault; a COW
//     fault that was fully resolved resumes the faulting instruction and
//     never reaches a lower rank.
//  2. If the current CPU has a recovery hook installed (SetRecovery), every
//     remaining trap is handed to it instead of normal routing — this is
//     what lets kernel/syscall's usercopy and the self-test turn an
//     anticipated fault into an ordinary error return.
//  3. A hardware IRQ (TIrq0..TIrq0+15) or the local APIC timer (TLtimer,
//     just past that window) is acknowledged via the local APIC and
//     dispatched by vector: the timer ticks and yields only if the
//     interrupted frame was running in user mode (f.FromUser()); an IRQ line
//     with no registered handler is counted as spurious and returns
//     immediately without further work.
//  4. TSyscall is hard-wired to the kernel/syscall package via SetSyscall.
//  5. A fault that reached here from user mode (f.FromUser()) is reflected
//     to the process's parent rather than crashing the kernel.
//  6. Anything else is an unexpected kernel-mode trap: release the console
//     lock if it is held by any CPU (the lock does not record its owner) so
//     the panic banner can print, dump the frame, and panic.
//
// Every rank that does not itself call returnFn falls through to the next;
// every rank that handles the trap is responsible for eventually resuming
// via returnFn (directly, or by calling a lower-level helper that does).
func Dispatch(f *gate.TrapFrame) {
	if gate.Vector(f.TrapNum) == gate.TPgflt {
		if handled, err := vmm.ResolvePageFault(activePageDirectory(), readFaultAddressFn()); err == nil && handled {
			returnFn(f)
			return
		}
	}

	id := idFn()
	if handler, data, ok := recoveryFor(id); ok {
		handler(f, data)
		return
	}

	v := gate.Vector(f.TrapNum)
	if v.IsIRQ() || v == gate.TLtimer {
		dispatchIRQ(f, v)
		return
	}

	if v == gate.TSyscall {
		if syscallFn != nil {
			syscallFn(f)
		}
		returnFn(f)
		return
	}

	if f.FromUser() && parentReflectFn != nil {
		parentReflectFn(f)
		return
	}

	if kfmt.ConsoleLock.Held() {
		kfmt.ConsoleLock.Release()
	}
	kfmt.Printf("unhandled trap in kernel mode:\n")
	if w := kfmt.GetOutputSink(); w != nil {
		f.DumpTo(w)
	}
	kernel.Panic("unhandled kernel-mode trap")
}

// syscallFn is installed by kernel/syscall to avoid an import cycle
// (kernel/syscall needs gate.TrapFrame and vmm, trap needs to call into
// syscall's dispatcher); SetSyscall wires it at boot.
var syscallFn func(f *gate.TrapFrame)

// SetSyscall installs the syscall command dispatcher used by rank 4.
func SetSyscall(fn func(f *gate.TrapFrame)) { syscallFn = fn }

func dispatchIRQ(f *gate.TrapFrame, v gate.Vector) {
	cpu.AckLocalAPIC()

	if v == gate.TLtimer {
		tick()
		if f.FromUser() {
			yieldFn()
		}
		returnFn(f)
		return
	}

	h := irqHandlers[v.IRQLine()]
	if h == nil {
		spuriousIRQCount++
		returnFn(f)
		return
	}
	h()
	returnFn(f)
}

var ticks uint64

func tick() { ticks++ }

// Ticks reports the number of timer interrupts observed since boot.
func Ticks() uint64 { return ticks }

// yieldFn is called whenever the timer interrupts a user-mode frame. The
// scheduler it would hand off to lives outside this kernel core's scope;
// tests and early boot leave it a no-op.
var yieldFn = func() {}

// SetYield installs the scheduler collaborator invoked by the timer IRQ
// when it interrupts a user-mode frame.
func SetYield(fn func()) { yieldFn = fn }

// activePDTFn resolves the page directory the current fault should be
// resolved against. Overridden by tests; the real implementation reads the
// per-process PageDirectory tracked by the process manager, which this
// kernel core does not include, so the default falls back to whatever
// SetActivePageDirectory last recorded.
var activePDTFn = func() vmm.PageDirectory { return currentPD }

var currentPD vmm.PageDirectory

// SetActivePageDirectory records the page directory background page faults
// should be resolved against, until the process manager's real per-process
// tracking is wired in.
func SetActivePageDirectory(pd vmm.PageDirectory) { currentPD = pd }

func activePageDirectory() vmm.PageDirectory { return activePDTFn() }
