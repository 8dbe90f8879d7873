package engine

import "sync"

// fakeAllocator is a deterministic, syscall-free rawalloc.Allocator for
// engine tests: addresses are simple incrementing counters rather than
// real memory, matching Alloc→UsableSize→Free the way rawalloc's real
// implementations do.
type fakeAllocator struct {
	mu     sync.Mutex
	next   uintptr
	usable map[uintptr]uint64
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{next: 0x1000, usable: make(map[uintptr]uint64)}
}

func (a *fakeAllocator) alloc(size uint64) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	ptr := a.next
	a.next += 64
	a.usable[ptr] = size
	return ptr
}

func (a *fakeAllocator) Alloc(size uint64) (uintptr, bool) {
	return a.alloc(size), true
}

func (a *fakeAllocator) Calloc(count, size uint64) (uintptr, bool) {
	return a.alloc(count * size), true
}

func (a *fakeAllocator) Memalign(_ uint64, size uint64) (uintptr, bool) {
	return a.alloc(size), true
}

func (a *fakeAllocator) Valloc(size uint64) (uintptr, bool) {
	return a.alloc(size), true
}

func (a *fakeAllocator) Pvalloc(size uint64) (uintptr, bool) {
	return a.alloc(size), true
}

func (a *fakeAllocator) Realloc(ptr uintptr, size uint64) (uintptr, bool) {
	newPtr := a.alloc(size)
	a.mu.Lock()
	delete(a.usable, ptr)
	a.mu.Unlock()
	return newPtr, true
}

func (a *fakeAllocator) Free(ptr uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.usable, ptr)
}

func (a *fakeAllocator) UsableSize(ptr uintptr) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usable[ptr]
}
