package vmm

import "pios/kernel/mm"

// PTSize is the number of bytes one page table covers (1024 entries * 4 KiB).
const PTSize = uintptr(EntriesPerTable) * mm.PageSize

// VMUserLo and VMUserHi bound the user address window (spec.md §3); PDEs
// outside this range are the kernel's 4 MiB identity map and are never
// mutated by this package.
const (
	VMUserLo = uintptr(0x00400000)
	VMUserHi = uintptr(0xEF000000)
)

// inUserWindow reports whether v falls within [VMUserLo, VMUserHi).
func inUserWindow(v uintptr) bool { return v >= VMUserLo && v < VMUserHi }
