// Package kernel contains the small set of types and helpers shared by every
// other kernel package: the error sentinel type, panic handling and the
// unsafe memory-move primitives used by the VM core.
package kernel

// Error describes a kernel error. All kernel errors are defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to large parts of the
// kernel (e.g. early boot, trap handlers) so we cannot use errors.New.
type Error struct {
	// Module is the package where the error originated.
	Module string

	// Message is the error text.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
