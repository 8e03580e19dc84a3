// Package syscall implements the syscall shim (C7): command decoding, the
// fault-recoverable user-memory copy primitive, and the PUT/GET/RET/CPUTS
// operations that exercise C4/C5/C6 on the caller's behalf. Grounded on
// original_source/kern/syscall.c, which has no gopheros analog (gopheros
// never reaches user mode).
package syscall

// Cmd is the command word delivered in EAX: a small type tag in the low
// bits plus a set of operation-specific flag bits above it, per spec.md
// §4.9's "{type, flags}" pair.
type Cmd uint32

const typeMask = Cmd(0x7)

// Command types (spec.md §6's syscall ABI).
const (
	CmdCPUTS = Cmd(0)
	CmdPUT   = Cmd(1)
	CmdGET   = Cmd(2)
	CmdRET   = Cmd(3)
)

// Type extracts the command type from the low bits of a full command word.
func (c Cmd) Type() Cmd { return c & typeMask }

// Flags extracts the operation-specific flag bits above the type.
func (c Cmd) Flags() Flag { return Flag(c) &^ Flag(typeMask) }

// Flag bits, named after spec.md §6's syscall ABI flag list.
type Flag uint32

const (
	FlagRegs  = Flag(1 << 3)
	FlagCopy  = Flag(1 << 4)
	FlagZero  = Flag(1 << 5)
	FlagPerm  = Flag(1 << 6)
	FlagMerge = Flag(1 << 7)
	FlagSnap  = Flag(1 << 8)
	FlagStart = Flag(1 << 9)
	FlagRead  = Flag(1 << 10)
	FlagWrite = Flag(1 << 11)
)

// cputsMax bounds the buffer do_cputs copies in from user space, mirroring
// original_source's CPUTS_MAX.
const cputsMax = 128
