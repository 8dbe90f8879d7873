package engine

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

func runtimeLockOSThread()   { runtime.LockOSThread() }
func runtimeUnlockOSThread() { runtime.UnlockOSThread() }

// currentThreadID returns the kernel thread id of whichever OS thread is
// currently running this goroutine. Callers that need a stable identity
// across a scope's lifetime must have called runtime.LockOSThread first;
// the engine does not do this on the caller's behalf (see BindThread).
func currentThreadID() int {
	return unix.Gettid()
}

// currentThreadName reads the running thread's comm string via prctl,
// used to seed a newly registered tree's ThreadName field.
func currentThreadName() string {
	var buf [16]byte
	_, _, errno := unix.Syscall6(unix.SYS_PRCTL, unix.PR_GET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0, 0)
	if errno != 0 {
		return fmt.Sprintf("tid%d", currentThreadID())
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	if n == 0 {
		return fmt.Sprintf("tid%d", currentThreadID())
	}
	return string(buf[:n])
}

// vmSizeAndRSSBytes parses /proc/self/status for VmSize and VmRSS, both
// reported there in kB.
func vmSizeAndRSSBytes() (vmSize, vmRSS uint64) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "VmSize:"):
			vmSize = parseStatusKB(line)
		case strings.HasPrefix(line, "VmRSS:"):
			vmRSS = parseStatusKB(line)
		}
	}
	return vmSize, vmRSS
}

func parseStatusKB(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	kb, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return kb * 1024
}

// mallocInfoXML returns the raw allocator's malloc_info(3) style
// diagnostic XML when the allocator exposes one, else an empty stub.
// The pluggable rawalloc.Allocator interface has no such hook (Go's own
// allocator and the mmap-backed allocator both track everything in an
// address-keyed table already visible via CollectStats), so this always
// returns the stub; kept as a named entry point because the interface
// contract in the external interfaces table names it.
func mallocInfoXML() string {
	return "<malloc></malloc>"
}
