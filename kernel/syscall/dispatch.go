package syscall

import (
	"unsafe"

	"pios/kernel/gate"
	"pios/kernel/trap"
	"pios/kernel/vmm"
)

// Collaborator supplies the process-manager facts the memory-relevant
// syscall operations need but this kernel core does not implement itself
// (spec.md §4.9's closing paragraph, "their higher-level semantics... belong
// to the process collaborator"): which page directories a syscall's current
// process and a given child own, how to wait for and start a child, and how
// CPUTS output, trap reflection and RET are actually delivered.
type Collaborator interface {
	// CurrentPageDirectory is the calling process's own page directory.
	CurrentPageDirectory() vmm.PageDirectory
	// ChildPageDirectory is childIndex's page directory.
	ChildPageDirectory(childIndex int) vmm.PageDirectory
	// ReferencePageDirectory is childIndex's snapshot page directory, used
	// as the three-way merge base (spec.md §4.7).
	ReferencePageDirectory(childIndex int) vmm.PageDirectory
	// RegsBlock returns the kernel address and size of childIndex's saved
	// register block, copied to/from the user pointer in EBX by the REGS
	// flag.
	RegsBlock(childIndex int) (addr uintptr, size uintptr)
	// WaitForChildStop blocks the caller until childIndex is stopped.
	WaitForChildStop(childIndex int)
	// StartChild marks childIndex runnable.
	StartChild(childIndex int)
	// Puts writes s to the console on the process's behalf.
	Puts(s string)
	// Reflect delivers f, as amended by reflectFault, to the parent.
	Reflect(f *gate.TrapFrame)
	// Return implements RET: reflect a normal, non-trap completion.
	Return(f *gate.TrapFrame)
}

var collab Collaborator

// SetCollaborator installs the process-manager collaborator used by PUT,
// GET, RET and CPUTS. Until installed, CPUTS still validates and copies in
// the user string but discards it, and PUT, GET and RET return without
// doing anything.
func SetCollaborator(c Collaborator) { collab = c }

// Dispatch decodes the command word in EAX and routes to the matching
// operation, grounded on original_source/kern/syscall.c's syscall()
// top-level switch. It is installed as the trap dispatcher's rank-4
// syscall handler via trap.SetSyscall.
func Dispatch(f *gate.TrapFrame) {
	cmd := Cmd(f.Eax)
	switch cmd.Type() {
	case CmdCPUTS:
		doCputs(f)
	case CmdPUT:
		doPut(f, cmd.Flags())
	case CmdGET:
		doGet(f, cmd.Flags())
	case CmdRET:
		doRet(f)
	}
}

func doCputs(f *gate.TrapFrame) {
	var buf [cputsMax + 1]byte
	if err := Usercopy(f, false, uintptr(unsafe.Pointer(&buf[0])), uintptr(f.Ebx), cputsMax); err != nil {
		return
	}
	buf[cputsMax] = 0
	if collab != nil {
		collab.Puts(cString(buf[:]))
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// doPut implements SYS_PUT: optionally install a child's register block,
// then apply the requested memory operation (ZERO/COPY), permission change
// and reference snapshot, finally starting the child if asked. Grounded on
// original_source/kern/syscall.c's do_put().
func doPut(f *gate.TrapFrame, flags Flag) {
	if collab == nil {
		return
	}
	childIndex := int(f.Edx & 0xFF)
	collab.WaitForChildStop(childIndex)

	if flags&FlagRegs != 0 {
		addr, size := collab.RegsBlock(childIndex)
		if err := Usercopy(f, false, addr, uintptr(f.Ebx), size); err != nil {
			return
		}
	}

	sv, dv, size := uintptr(f.Esi), uintptr(f.Edi), uintptr(f.Ecx)
	cpd := collab.ChildPageDirectory(childIndex)
	ppd := collab.CurrentPageDirectory()

	switch {
	case flags&FlagZero != 0:
		if err := checkva(f, dv, size); err != nil {
			return
		}
		vmm.Remove(cpd, dv, size)
	case flags&FlagCopy != 0:
		if err := checkva(f, sv, size); err != nil {
			return
		}
		if err := checkva(f, dv, size); err != nil {
			return
		}
		vmm.Copy(ppd, sv, cpd, dv, size)
	}

	if flags&FlagPerm != 0 {
		applyPerm(cpd, dv, size, flags)
	}

	if flags&FlagSnap != 0 {
		rpd := collab.ReferencePageDirectory(childIndex)
		vmm.Copy(cpd, vmm.VMUserLo, rpd, vmm.VMUserLo, vmm.VMUserHi-vmm.VMUserLo)
	}

	if flags&FlagStart != 0 {
		collab.StartChild(childIndex)
	}
}

// doGet implements SYS_GET: optionally read back a child's register block,
// then either three-way merge the child's changes into the caller (MERGE)
// or apply a plain ZERO/COPY memory operation, finally applying a
// permission change. Grounded on original_source/kern/syscall.c's
// do_get().
func doGet(f *gate.TrapFrame, flags Flag) {
	if collab == nil {
		return
	}
	childIndex := int(f.Edx & 0xFF)
	collab.WaitForChildStop(childIndex)

	if flags&FlagRegs != 0 {
		addr, size := collab.RegsBlock(childIndex)
		if err := Usercopy(f, true, addr, uintptr(f.Ebx), size); err != nil {
			return
		}
	}

	sv, dv, size := uintptr(f.Esi), uintptr(f.Edi), uintptr(f.Ecx)
	cpd := collab.ChildPageDirectory(childIndex)
	ppd := collab.CurrentPageDirectory()

	switch {
	case flags&FlagMerge != 0:
		rpd := collab.ReferencePageDirectory(childIndex)
		vmm.Merge(rpd, cpd, sv, ppd, dv, size)
	case flags&FlagZero != 0:
		if err := checkva(f, dv, size); err != nil {
			return
		}
		vmm.Remove(ppd, dv, size)
	case flags&FlagCopy != 0:
		if err := checkva(f, dv, size); err != nil {
			return
		}
		if err := checkva(f, sv, size); err != nil {
			return
		}
		vmm.Copy(cpd, sv, ppd, dv, size)
	}

	if flags&FlagPerm != 0 {
		applyPerm(ppd, dv, size, flags)
	}
}

func doRet(f *gate.TrapFrame) {
	if collab != nil {
		collab.Return(f)
	}
}

// applyPerm translates the READ/WRITE flag bits into nominal PTE
// permission bits and applies them over [v, v+size), grounded on
// original_source/kern/syscall.c's inline permission loop (here delegated
// to vmm.SetPerm, C5's equivalent of that loop).
func applyPerm(pd vmm.PageDirectory, v, size uintptr, flags Flag) {
	var nomPerm vmm.PTEFlag
	if flags&FlagRead != 0 {
		nomPerm |= vmm.FlagSysRead
	}
	if flags&FlagWrite != 0 {
		nomPerm |= vmm.FlagSysWrite
	}
	vmm.SetPerm(pd, v, size, nomPerm)
}

// Init wires this package's dispatcher into kernel/trap as the rank-4
// syscall handler.
func Init() {
	trap.SetSyscall(Dispatch)
}
