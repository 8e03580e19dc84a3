// Package cpu exposes the x86-specific primitives the trap dispatcher and
// page-table manager need: interrupt enable/disable, TLB control, the
// active page directory register and port I/O. Each function below has no
// Go body; its implementation lives in the matching .s file, exactly as
// gopheros/kernel/cpu declares EnableInterrupts/Halt/FlushTLBEntry with
// assembly bodies supplied out-of-band.
package cpu

// EnableInterrupts sets the interrupt-enable flag (sti).
func EnableInterrupts()

// DisableInterrupts clears the interrupt-enable flag (cli). Every interrupt
// gate in kernel/gate already clears it on entry; no code in this module
// calls it.
func DisableInterrupts()

// Halt stops instruction execution (hlt). Used as the last step of
// kernel.Panic.
func Halt()

// FlushTLBEntry invalidates the single TLB entry for virtAddr (invlpg).
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT loads pdtPhysAddr into CR3, flushing the entire non-global TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address currently loaded in CR3.
func ActivePDT() uintptr

// ReadFaultAddress returns the linear address that caused the most recent
// page fault (CR2). Read exactly once per fault, before any further memory
// access that could itself fault and clobber it.
func ReadFaultAddress() uintptr

// PortWriteByte writes an 8-bit value to the given I/O port (outb).
func PortWriteByte(port uint16, val uint8)

// PortWriteWord writes a 16-bit value to the given I/O port (outw).
func PortWriteWord(port uint16, val uint16)

// PortWriteDword writes a 32-bit value to the given I/O port (outl).
func PortWriteDword(port uint16, val uint32)

// PortReadByte reads an 8-bit value from the given I/O port (inb).
func PortReadByte(port uint16) uint8

// PortReadWord reads a 16-bit value from the given I/O port (inw).
func PortReadWord(port uint16) uint16

// PortReadDword reads a 32-bit value from the given I/O port (inl).
func PortReadDword(port uint16) uint32

// AckLocalAPIC writes the local APIC's end-of-interrupt register, telling
// it the current hardware interrupt has been serviced and the next one of
// equal or lower priority may be delivered. Must be called exactly once per
// received IRQ before returning from its handler.
func AckLocalAPIC()
