package gate

// installIDT populates the 256-entry IDT with one gate per vector (pointing
// at the shared assembly entry stub, which pushes TrapNum/ErrorCode, saves
// the remaining TrapFrame fields, and calls dispatch) and loads it via lidt.
// Gates for TBrkpt, TOflow and TSyscall are installed with DPL 3; all others
// with DPL 0, per each vector's dpl(). The body is supplied by the
// assembly/boot glue this package does not carry in isolation.
func installIDT()
