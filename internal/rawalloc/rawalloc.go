// Package rawalloc defines the pluggable raw-allocator boundary the engine
// delegates to before any tracking happens, and ships two implementations:
// a Go-heap-backed allocator for everyday use, and an mmap-backed one for
// callers who need a real off-heap usable-size contract.
package rawalloc

// Allocator is the raw allocation primitive set the engine tracks on top
// of. Every method must return promptly and without panicking; a null
// pointer (nil/0) return means the underlying allocation failed.
type Allocator interface {
	Alloc(size uint64) (ptr uintptr, ok bool)
	Realloc(ptr uintptr, size uint64) (newPtr uintptr, ok bool)
	Calloc(count, size uint64) (ptr uintptr, ok bool)
	Memalign(alignment, size uint64) (ptr uintptr, ok bool)
	Valloc(size uint64) (ptr uintptr, ok bool)
	Pvalloc(size uint64) (ptr uintptr, ok bool)
	Free(ptr uintptr)

	// UsableSize reports the allocator's reported capacity for ptr, queried
	// before Free releases it so free-tracking uses the same measure as
	// the original allocation. Returns 0 if unknown (FreeSizeUnknown).
	UsableSize(ptr uintptr) uint64
}
