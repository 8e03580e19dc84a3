package mm

import (
	"pios/kernel"
	"pios/kernel/sync"
)

// FrameAllocator reserves and releases physical frames. The boot-time
// allocator implementation (a free-list over the frames the bootloader's
// memory map reports as available) lives outside this package; this is its
// consumer-facing contract, grounded on gopheros/kernel/mm/pmm.FrameAllocator.
type FrameAllocator interface {
	AllocFrame() (Frame, *kernel.Error)
	FreeFrame(Frame) *kernel.Error
}

var (
	allocLock sync.Spinlock

	allocFn = func() (Frame, *kernel.Error) {
		return InvalidFrame, &kernel.Error{Module: "mm", Message: "no frame allocator installed"}
	}
	freeFn = func(Frame) *kernel.Error {
		return &kernel.Error{Module: "mm", Message: "no frame allocator installed"}
	}

	// refcount holds a reference count per physical frame. A frame absent
	// from the map has refcount 0: reserved by the allocator but not yet
	// referenced by any PTE. Index 0 (the shared ZeroFrame) starts pinned
	// at 1 so it is never mistakenly freed.
	refcount = map[Frame]uint32{ZeroFrame: 1}
)

// SetFrameAllocator installs the system's physical frame allocator. It must
// be called once during early boot before any vmm operation runs; tests call
// it with a fake backed by a plain Go slice standing in for physical RAM.
func SetFrameAllocator(a FrameAllocator) {
	allocFn = a.AllocFrame
	freeFn = a.FreeFrame
}

// AllocFrame reserves a fresh frame with refcount 0: reserved, but not yet
// referenced by any PTE. Callers that install it into a mapping (Insert, the
// page-directory walker's demand-allocation path, NewPageDirectory) are
// responsible for calling Incref once they do, per spec.md §4.4/§4.5's
// explicit "increment its refcount to 1" steps.
func AllocFrame() (Frame, *kernel.Error) {
	allocLock.Acquire()
	defer allocLock.Release()

	f, err := allocFn()
	if err != nil {
		return InvalidFrame, err
	}
	return f, nil
}

// Incref bumps f's reference count, used whenever a second PTE (COW fork,
// directory share) comes to reference an already-mapped frame.
func Incref(f Frame) {
	if f == ZeroFrame {
		return
	}
	allocLock.Acquire()
	defer allocLock.Release()
	refcount[f]++
}

// Decref drops f's reference count and frees the underlying frame once it
// reaches zero, returning true if the frame was actually released. Per spec
// §4.5, callers must decref before clearing a PTE so this is the single
// point that decides whether an unmap also triggers a physical free.
func Decref(f Frame) (freed bool, err *kernel.Error) {
	if f == ZeroFrame {
		return false, nil
	}

	allocLock.Acquire()
	defer allocLock.Release()

	n, ok := refcount[f]
	if !ok || n == 0 {
		return false, &kernel.Error{Module: "mm", Message: "decref of unreferenced frame"}
	}
	n--
	if n == 0 {
		delete(refcount, f)
		if ferr := freeFn(f); ferr != nil {
			return false, ferr
		}
		return true, nil
	}
	refcount[f] = n
	return false, nil
}

// RefCount reports f's current reference count, used by the self-test and
// by vmm's copy/merge engine to decide whether a destination page can be
// mutated in place or must first be made exclusive.
func RefCount(f Frame) uint32 {
	if f == ZeroFrame {
		return 1
	}
	allocLock.Acquire()
	defer allocLock.Release()
	return refcount[f]
}

// ResetForTest clears the refcount table; the installed frame allocator is
// left in place. Exported for other packages' tests (kernel/vmm, kernel/trap,
// kernel/syscall) that need a clean slate between cases since refcount is
// process-wide state.
func ResetForTest() {
	allocLock.Acquire()
	defer allocLock.Release()
	refcount = map[Frame]uint32{ZeroFrame: 1}
}
