package kfmt

import "pios/kernel/sync"

// ConsoleLock is the console spinlock. Printf and Fprintf do not acquire
// it, and nothing in this module holds it around output; the trap
// dispatcher's kernel-panic path releases it first if held, to avoid a
// recursive panic while printing the very diagnostics that describe the
// panic.
var ConsoleLock sync.Spinlock
