// Package vmm implements the two-level page-directory manager (C4),
// mapping operations (C5) and the copy-on-write fault resolver plus
// copy/merge engine (C6). It is grounded on gopheros/kernel/mm/vmm's
// walk/flag idiom, generalized from that package's 4-level recursively
// mapped amd64 scheme down to a directly addressable 2-level 32-bit
// scheme: because the kernel identity-maps all of physical memory in its
// own window, a Frame's Address() is always dereferenceable and no
// temporary or recursive mapping is ever required to reach an inactive
// table, unlike on amd64.
package vmm

import (
	"unsafe"

	"pios/kernel/mm"
)

// PTEFlag is the set of hardware and nominal permission bits held in the
// low 12 bits of a page-table/page-directory entry.
type PTEFlag uint32

const (
	// Hardware-recognised bits (spec.md §3).
	FlagPresent  = PTEFlag(1 << 0) // P
	FlagRW       = PTEFlag(1 << 1) // W
	FlagUser     = PTEFlag(1 << 2) // U
	FlagAccessed = PTEFlag(1 << 5) // A
	FlagHugePage = PTEFlag(1 << 7) // PS
	FlagGlobal   = PTEFlag(1 << 8) // G

	// Nominal bits: what the owning process was granted, independent of
	// the hardware W bit which may be transiently cleared for COW.
	FlagSysRead  = PTEFlag(1 << 9)
	FlagSysWrite = PTEFlag(1 << 10)

	flagAddrMask  = ^PTEFlag(0xFFF)
	flagNominalRW = FlagSysRead | FlagSysWrite
)

// PTESize is the size in bytes of a page-table or page-directory entry.
const PTESize = 4

// EntriesPerTable is the fixed fan-out of one level of the two-level
// scheme: 1024 entries of 4 bytes each, filling exactly one page.
const EntriesPerTable = int(mm.PageSize / PTESize)

// pte is a raw page-table/page-directory entry: a frame address in the high
// 20 bits plus the flag bits above.
type pte uint32

// PTEZero is the canonical "conceptually empty" entry value: frame 0 (the
// shared ZeroFrame) with the Present bit clear. Per spec.md §3 an entry
// equal to PTEZero means the slot reads as zero and writes trigger
// allocation.
const PTEZero = pte(0)

func makePTE(f mm.Frame, flags PTEFlag) pte {
	return pte(f.Address()&uintptr(flagAddrMask)) | pte(flags)
}

func (p pte) frame() mm.Frame   { return mm.FrameFromAddress(uintptr(p & pte(flagAddrMask))) }
func (p pte) flags() PTEFlag    { return PTEFlag(p) &^ PTEFlag(flagAddrMask) }
func (p pte) has(f PTEFlag) bool { return p.flags()&f == f }

func (p pte) withFlags(f PTEFlag) pte {
	return pte(uintptr(p)&uintptr(flagAddrMask)) | pte(f)
}

// ptePtr returns a pointer to the pte at the given virtual address, used to
// overlay a Go pointer on top of a page-table's physical frame; valid
// because physical memory is identity-mapped into the kernel window.
func ptePtr(addr uintptr) *pte { return (*pte)(unsafe.Pointer(addr)) }

// table overlays a 1024-entry table onto the frame at physAddr.
func table(physAddr uintptr) *[EntriesPerTable]pte {
	return (*[EntriesPerTable]pte)(unsafe.Pointer(physAddr))
}

// pdIndex and ptIndex split a user-window virtual address into its two
// 10-bit table indices.
func pdIndex(v uintptr) uintptr { return (v >> 22) & 0x3FF }
func ptIndex(v uintptr) uintptr { return (v >> 12) & 0x3FF }
