package rawalloc

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

func roundToPage(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	return (size + pageSize - 1) / pageSize * pageSize
}

// CAllocator backs allocations with anonymous mmap slabs via raw
// mmap/munmap syscalls, giving callers a real off-heap usable-size
// contract (the Go heap allocator above cannot offer this, since Go's
// runtime does not expose per-object usable size). Intended for
// applications that want the profiler to track memory outside the Go
// garbage collector's reach, mirroring the original tool's ability to
// swap in an entirely different underlying allocator.
type CAllocator struct {
	mu    sync.Mutex
	slabs map[uintptr][]byte
}

// NewCAllocator constructs an empty mmap-backed allocator.
func NewCAllocator() *CAllocator {
	return &CAllocator{slabs: make(map[uintptr][]byte)}
}

func (a *CAllocator) Alloc(size uint64) (uintptr, bool) {
	length := int(roundToPage(size))
	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, false
	}
	ptr := uintptr(unsafe.Pointer(&data[0]))

	a.mu.Lock()
	a.slabs[ptr] = data
	a.mu.Unlock()
	return ptr, true
}

func (a *CAllocator) Calloc(count, size uint64) (uintptr, bool) {
	// anonymous mmap pages come zero-filled by the kernel.
	return a.Alloc(count * size)
}

func (a *CAllocator) Memalign(alignment, size uint64) (uintptr, bool) {
	// mmap already returns page-aligned regions; any alignment up to the
	// page size is satisfied for free.
	if alignment <= pageSize {
		return a.Alloc(size)
	}
	return a.Alloc(size + alignment)
}

func (a *CAllocator) Valloc(size uint64) (uintptr, bool) {
	return a.Alloc(size)
}

func (a *CAllocator) Pvalloc(size uint64) (uintptr, bool) {
	return a.Alloc(roundToPage(size))
}

func (a *CAllocator) Realloc(ptr uintptr, size uint64) (uintptr, bool) {
	newPtr, ok := a.Alloc(size)
	if !ok {
		return 0, false
	}
	if ptr != 0 {
		a.mu.Lock()
		old, found := a.slabs[ptr]
		newSlab := a.slabs[newPtr]
		a.mu.Unlock()
		if found {
			copy(newSlab, old)
		}
		a.Free(ptr)
	}
	return newPtr, true
}

func (a *CAllocator) Free(ptr uintptr) {
	a.mu.Lock()
	data, ok := a.slabs[ptr]
	delete(a.slabs, ptr)
	a.mu.Unlock()
	if ok {
		_ = unix.Munmap(data)
	}
}

func (a *CAllocator) UsableSize(ptr uintptr) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.slabs[ptr]
	if !ok {
		return 0
	}
	return uint64(len(data))
}
