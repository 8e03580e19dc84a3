package syscall

import (
	"pios/kernel"
	"pios/kernel/gate"
	"pios/kernel/mm"
	"pios/kernel/vmm"
	"testing"
	"unsafe"
)

type testFrameAllocator struct {
	base  uintptr
	next  int
	count int
}

func newTestFrameAllocator(t *testing.T, frames int) *testFrameAllocator {
	t.Helper()
	buf := make([]byte, (frames+1)*mm.PageSize)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + mm.PageSize - 1) &^ (mm.PageSize - 1)
	return &testFrameAllocator{base: aligned, count: frames}
}

func (a *testFrameAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.next >= a.count {
		return mm.InvalidFrame, &kernel.Error{Module: "mm", Message: "out of frames"}
	}
	f := mm.FrameFromAddress(a.base + uintptr(a.next)*mm.PageSize)
	a.next++
	return f, nil
}

func (a *testFrameAllocator) FreeFrame(mm.Frame) *kernel.Error { return nil }

func newTestPageDirectory(t *testing.T, frames int) vmm.PageDirectory {
	t.Helper()
	mm.ResetForTest()
	mm.SetFrameAllocator(newTestFrameAllocator(t, frames))
	for i := range vmm.KernelTemplate {
		vmm.KernelTemplate[i] = 0
	}
	pd, err := vmm.NewPageDirectory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pd
}

func resetSyscallState() {
	collab = nil
	reflectFault = func(f *gate.TrapFrame, trapNum, errCode uint32) {
		f.TrapNum = trapNum
		f.ErrorCode = errCode
		if collab != nil {
			collab.Reflect(f)
		}
	}
}

func TestUsercopyRejectsOutOfWindowAddress(t *testing.T) {
	resetSyscallState()
	var buf [8]byte

	reflected := false
	SetReflectFault(func(f *gate.TrapFrame, trapNum, errCode uint32) {
		reflected = true
		if gate.Vector(trapNum) != gate.TPgflt {
			t.Fatalf("expected a reflected page fault; got vector %d", trapNum)
		}
	})

	f := &gate.TrapFrame{Eip: 0x1234}
	err := Usercopy(f, true, uintptr(unsafe.Pointer(&buf[0])), vmm.VMUserHi, 8)
	if err == nil {
		t.Fatal("expected an error for an out-of-window address")
	}
	if !reflected {
		t.Fatal("expected the out-of-window access to reflect a page fault")
	}
}

func TestUsercopyRejectsWrappingSize(t *testing.T) {
	resetSyscallState()
	var buf [8]byte

	f := &gate.TrapFrame{}
	err := Usercopy(f, true, uintptr(unsafe.Pointer(&buf[0])), vmm.VMUserHi-4, ^uintptr(0))
	if err == nil {
		t.Fatal("expected an error for a size that would wrap the address range")
	}
}

func TestUsercopyCopiesWithinValidatedWindow(t *testing.T) {
	resetSyscallState()
	pd := newTestPageDirectory(t, 4)

	v := vmm.VMUserLo
	uframe, _ := mm.AllocFrame()
	if err := vmm.Insert(pd, uframe, v, vmm.FlagSysRead|vmm.FlagSysWrite|vmm.FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src := []byte("hello")
	kbuf := make([]byte, len(src))
	copy(kbuf, src)

	f := &gate.TrapFrame{}
	if err := Usercopy(f, true, uintptr(unsafe.Pointer(&kbuf[0])), v, uintptr(len(kbuf))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := (*[5]byte)(unsafe.Pointer(uframe.Address()))[:]
	if string(got) != "hello" {
		t.Fatalf("expected copy-out to land in the user frame; got %q", got)
	}
}

func TestCmdTypeAndFlagsDecode(t *testing.T) {
	cmd := Cmd(uint32(CmdPUT) | uint32(FlagRegs) | uint32(FlagStart))
	if cmd.Type() != CmdPUT {
		t.Fatalf("expected type PUT; got %d", cmd.Type())
	}
	if cmd.Flags()&FlagRegs == 0 || cmd.Flags()&FlagStart == 0 {
		t.Fatal("expected both REGS and START flags to decode")
	}
	if cmd.Flags()&FlagZero != 0 {
		t.Fatal("did not expect the ZERO flag to be set")
	}
}

type fakeCollaborator struct {
	current, child, reference vmm.PageDirectory
	waited, started           bool
	puts                      string
	reflected, returned       bool
	regsAddr                  uintptr
	regsSize                  uintptr
}

func (c *fakeCollaborator) CurrentPageDirectory() vmm.PageDirectory        { return c.current }
func (c *fakeCollaborator) ChildPageDirectory(int) vmm.PageDirectory       { return c.child }
func (c *fakeCollaborator) ReferencePageDirectory(int) vmm.PageDirectory   { return c.reference }
func (c *fakeCollaborator) RegsBlock(int) (uintptr, uintptr)               { return c.regsAddr, c.regsSize }
func (c *fakeCollaborator) WaitForChildStop(int)                          { c.waited = true }
func (c *fakeCollaborator) StartChild(int)                                { c.started = true }
func (c *fakeCollaborator) Puts(s string)                                 { c.puts = s }
func (c *fakeCollaborator) Reflect(f *gate.TrapFrame)                     { c.reflected = true }
func (c *fakeCollaborator) Return(f *gate.TrapFrame)                      { c.returned = true }

func TestDoCputsCopiesNulTerminatedStringToCollaborator(t *testing.T) {
	resetSyscallState()
	pd := newTestPageDirectory(t, 4)
	fc := &fakeCollaborator{current: pd}
	SetCollaborator(fc)

	v := vmm.VMUserLo
	uframe, _ := mm.AllocFrame()
	if err := vmm.Insert(pd, uframe, v, vmm.FlagSysRead|vmm.FlagSysWrite|vmm.FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := "hi there"
	dst := (*[16]byte)(unsafe.Pointer(uframe.Address()))
	copy(dst[:], msg)

	f := &gate.TrapFrame{Eax: uint32(CmdCPUTS), Ebx: uint32(v)}
	Dispatch(f)

	if fc.puts != msg {
		t.Fatalf("expected collaborator to receive %q; got %q", msg, fc.puts)
	}
}

func TestDoPutStartsChildAfterCopyAndPerm(t *testing.T) {
	resetSyscallState()
	ppd := newTestPageDirectory(t, 8)
	cpd := newTestPageDirectory(t, 8)
	fc := &fakeCollaborator{current: ppd, child: cpd}
	SetCollaborator(fc)

	v := vmm.VMUserLo
	f, _ := mm.AllocFrame()
	if err := vmm.Insert(ppd, f, v, vmm.FlagSysRead|vmm.FlagSysWrite|vmm.FlagRW); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame := &gate.TrapFrame{
		Eax: uint32(CmdPUT) | uint32(FlagCopy) | uint32(FlagPerm) | uint32(FlagRead) | uint32(FlagStart),
		Esi: uint32(v), Edi: uint32(v), Ecx: uint32(vmm.PTSize),
	}
	Dispatch(frame)

	if !fc.waited {
		t.Fatal("expected doPut to wait for the child to stop")
	}
	if !fc.started {
		t.Fatal("expected doPut to start the child after FlagStart")
	}
}
