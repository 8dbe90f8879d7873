package rawalloc

import (
	"sync"
	"unsafe"
)

// roundToSizeClass rounds a requested size up to a small fixed ladder, the way
// glibc's allocator buckets small requests; this is what lets UsableSize
// report something other than the exact requested size, matching the raw
// allocator's advertised "usable size may exceed requested size" contract.
var sizeClasses = []uint64{16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

func roundToSizeClass(size uint64) uint64 {
	for _, c := range sizeClasses {
		if size <= c {
			return c
		}
	}
	// large allocations: round up to the next 4096-byte page.
	const page = 4096
	return (size + page - 1) / page * page
}

// block is kept alive for as long as its entry remains in GoHeapAllocator's
// table; this is what prevents the GC from reclaiming memory the caller
// still holds a uintptr to.
type block struct {
	buf  []byte
	size uint64 // usable (size-class rounded) size, not the requested size
}

// GoHeapAllocator backs allocations with ordinary Go-heap byte slices,
// size-classed the way glibc buckets small requests. It is a stand-in for
// the process's real allocator when no off-heap behaviour is required;
// Go's runtime owns and moves/collects memory it isn't told to retain, so
// this allocator retains every live block in a table keyed by its address
// until Free removes it.
type GoHeapAllocator struct {
	mu     sync.Mutex
	blocks map[uintptr]*block
}

// NewGoHeapAllocator constructs an empty allocator.
func NewGoHeapAllocator() *GoHeapAllocator {
	return &GoHeapAllocator{blocks: make(map[uintptr]*block)}
}

func (a *GoHeapAllocator) addr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

func (a *GoHeapAllocator) Alloc(size uint64) (uintptr, bool) {
	if size == 0 {
		size = 1
	}
	usable := roundToSizeClass(size)
	buf := make([]byte, usable)
	ptr := a.addr(buf)

	a.mu.Lock()
	a.blocks[ptr] = &block{buf: buf, size: usable}
	a.mu.Unlock()
	return ptr, true
}

func (a *GoHeapAllocator) Calloc(count, size uint64) (uintptr, bool) {
	// make() already zero-initialises, satisfying calloc's contract.
	return a.Alloc(count * size)
}

func (a *GoHeapAllocator) Memalign(alignment, size uint64) (uintptr, bool) {
	if alignment <= 1 {
		return a.Alloc(size)
	}
	usable := roundToSizeClass(size) + alignment
	buf := make([]byte, usable)
	base := a.addr(buf)
	aligned := (base + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)
	offset := aligned - base

	a.mu.Lock()
	a.blocks[aligned] = &block{buf: buf, size: usable - uint64(offset)}
	a.mu.Unlock()
	return aligned, true
}

func (a *GoHeapAllocator) Valloc(size uint64) (uintptr, bool) {
	return a.Memalign(4096, size)
}

func (a *GoHeapAllocator) Pvalloc(size uint64) (uintptr, bool) {
	const page = 4096
	return a.Memalign(page, (size+page-1)/page*page)
}

func (a *GoHeapAllocator) Realloc(ptr uintptr, size uint64) (uintptr, bool) {
	newPtr, ok := a.Alloc(size)
	if !ok {
		return 0, false
	}
	if ptr == 0 {
		return newPtr, true
	}

	a.mu.Lock()
	old, found := a.blocks[ptr]
	newBlock := a.blocks[newPtr]
	a.mu.Unlock()

	if found {
		n := copy(newBlock.buf, old.buf)
		_ = n
	}
	a.Free(ptr)
	return newPtr, true
}

func (a *GoHeapAllocator) Free(ptr uintptr) {
	a.mu.Lock()
	delete(a.blocks, ptr)
	a.mu.Unlock()
}

func (a *GoHeapAllocator) UsableSize(ptr uintptr) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[ptr]
	if !ok {
		return 0
	}
	return b.size
}
