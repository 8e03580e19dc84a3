// Package gate builds the 256-entry interrupt gate table (C1) that every
// CPU loads into its interrupt descriptor register. All gates route through
// a single common entry stub that saves a TrapFrame and invokes the
// dispatcher installed with SetDispatcher; the table itself only decides
// which vectors are present and at what privilege level, following
// gopheros/kernel/gate's split between a Go-level table description and an
// architecture-specific loader.
package gate

import (
	"io"

	"pios/kernel/kfmt"
)

// Vector identifies one of the 256 IDT slots.
type Vector uint8

// Architectural exception vectors, named after the original PIOS constants
// (spec.md §6's trap-vector-assignment table).
const (
	TDivide  = Vector(0)
	TDebug   = Vector(1)
	TNMI     = Vector(2)
	TBrkpt   = Vector(3)
	TOflow   = Vector(4)
	TBound   = Vector(5)
	TIllop   = Vector(6)
	TDevice  = Vector(7)
	TDblflt  = Vector(8)
	TTss     = Vector(10)
	TSegnp   = Vector(11)
	TStack   = Vector(12)
	TGpflt   = Vector(13)
	TPgflt   = Vector(14)
	TFperr   = Vector(16)
	TAlign   = Vector(17)
	TMchk    = Vector(18)
	TSimderr = Vector(19)
	TSecevt  = Vector(30)

	// TIrq0 is the base vector hardware IRQ lines are remapped to, so that
	// IRQ i lands on vector TIrq0+i for i in [0, 16).
	TIrq0 = Vector(32)

	// TLtimer is the local APIC timer's own vector, distinct from the
	// remapped IRQ window.
	TLtimer = Vector(TIrq0 + NumIRQLines)

	// TSyscall is the designated user-callable syscall vector (C7).
	TSyscall = Vector(TIrq0 + NumIRQLines + 1)
)

// NumIRQLines is the number of remapped hardware IRQ lines starting at TIrq0.
const NumIRQLines = 16

// IsIRQ reports whether v falls in the remapped hardware-IRQ window.
func (v Vector) IsIRQ() bool { return v >= TIrq0 && v < TIrq0+NumIRQLines }

// IRQLine returns the IRQ line number for a vector in the IRQ window.
func (v Vector) IRQLine() uint8 { return uint8(v - TIrq0) }

// dpl returns the gate privilege level required for v. Per spec.md §6, only
// the breakpoint and overflow exceptions and the designated syscall vector
// are user-callable (DPL=3); every other gate is kernel-only (DPL=0).
func (v Vector) dpl() uint8 {
	switch v {
	case TBrkpt, TOflow, TSyscall:
		return 3
	default:
		return 0
	}
}

// TrapFrame is the saved register set captured by the common entry stub
// before the dispatcher runs. Segment registers are widened to uint32 even
// though only their low 16 bits are architectural, matching how they land
// on the stack after the CPU's automatic push on a ring-crossing trap.
type TrapFrame struct {
	// Pushed by the trap_push_regs stub, in reverse push order.
	Edi, Esi, Ebp, Esp0, Ebx, Edx, Ecx, Eax uint32
	Es, Ds                                  uint32

	// TrapNum is the vector number pushed by the stub; ErrorCode is the
	// CPU-pushed error code, or zero for vectors that do not push one.
	TrapNum, ErrorCode uint32

	// Hardware-pushed return frame.
	Eip, Cs, Eflags uint32

	// Esp, Ss are only valid/pushed when the trap crossed privilege rings
	// (i.e. came from user mode); CS's low 2 bits (CPL) tell the caller
	// whether they are meaningful.
	Esp, Ss uint32
}

// FromUser reports whether the frame was captured while executing in user
// mode, i.e. the saved code-segment selector's requested privilege level is
// not 0.
func (f *TrapFrame) FromUser() bool { return f.Cs&0x3 != 0 }

// DumpTo writes a human-readable dump of the frame, used by the dispatcher's
// kernel-panic path.
func (f *TrapFrame) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "trap %d  err %x\n", f.TrapNum, f.ErrorCode)
	kfmt.Fprintf(w, "eax=%x ebx=%x ecx=%x edx=%x\n", f.Eax, f.Ebx, f.Ecx, f.Edx)
	kfmt.Fprintf(w, "esi=%x edi=%x ebp=%x esp0=%x\n", f.Esi, f.Edi, f.Ebp, f.Esp0)
	kfmt.Fprintf(w, "eip=%x cs=%x eflags=%x\n", f.Eip, f.Cs, f.Eflags)
	if f.FromUser() {
		kfmt.Fprintf(w, "esp=%x ss=%x\n", f.Esp, f.Ss)
	}
}

// dispatchFn is the common handler invoked by the hardware entry stub for
// every vector. It is a function variable, mirroring the teacher's
// HandleInterrupt table-of-callbacks idiom, but collapsed to a single slot
// because spec.md §4.2 requires one ranked dispatch point, not per-vector
// handlers.
var dispatchFn func(*TrapFrame)

// SetDispatcher installs the function invoked for every trap, interrupt and
// syscall once the table is loaded. kernel/trap calls this once during
// Init with its ranked dispatcher.
func SetDispatcher(fn func(*TrapFrame)) { dispatchFn = fn }

// dispatch is called by the architecture-specific entry stub; it exists so
// that arch code has a single, stable Go symbol to call into regardless of
// whether a dispatcher has been installed yet.
func dispatch(f *TrapFrame) {
	if dispatchFn != nil {
		dispatchFn(f)
	}
}

// Init builds the 256-entry gate table and loads it into the CPU's
// interrupt descriptor register. Must run once per CPU.
func Init() {
	installIDT()
}
