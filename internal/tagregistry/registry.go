// Package tagregistry implements the process-wide, thread-safe directory
// of per-thread trees: lifecycle (append-only registration), cross-thread
// aggregation, and the whole-process serialised document.
package tagregistry

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/malloctag/mtag/internal/tagcap"
	"github.com/malloctag/mtag/internal/tagoutput"
	"github.com/malloctag/mtag/internal/tagstats"
	"github.com/malloctag/mtag/internal/tagtree"
)

var (
	// ErrRegistryCapReached is returned when MAX_TREES trees are already
	// registered; the calling thread proceeds without tracking.
	ErrRegistryCapReached = fmt.Errorf("tagregistry: registry capacity reached")
	// ErrShuttingDown is returned once teardown has started.
	ErrShuttingDown = fmt.Errorf("tagregistry: registry is shutting down")
	// ErrMainAlreadyRegistered guards register_main's "must be first" rule.
	ErrMainAlreadyRegistered = fmt.Errorf("tagregistry: main tree already registered")
	// ErrNoMainTree is returned by register_secondary before a main tree exists.
	ErrNoMainTree = fmt.Errorf("tagregistry: no main tree registered yet")
)

// Registry is the process-wide, fixed-capacity directory of Trees. The
// slot array is append-only: count is bumped first to reserve slot i, and
// slot i is published (via atomic store) only after its Tree is fully
// constructed; readers skip reserved slots that are still nil.
type Registry struct {
	maxTrees int
	slots    []atomic.Pointer[tagtree.Tree]
	count    atomic.Uint32

	shutdownStarted atomic.Bool

	profilingStartWallclock time.Time
}

// New constructs an empty registry with room for maxTrees trees.
func New(maxTrees int) *Registry {
	if maxTrees <= 0 {
		maxTrees = tagcap.DefaultMaxTrees
	}
	return &Registry{
		maxTrees: maxTrees,
		slots:    make([]atomic.Pointer[tagtree.Tree], maxTrees),
	}
}

// reserveSlot atomically reserves the next free index, or reports failure
// if the registry is shutting down or at capacity.
func (r *Registry) reserveSlot() (int, error) {
	if r.shutdownStarted.Load() {
		return 0, ErrShuttingDown
	}
	reserved := r.count.Add(1) - 1
	if reserved >= uint32(r.maxTrees) {
		return 0, ErrRegistryCapReached
	}
	return int(reserved), nil
}

// RegisterMain constructs and publishes the main-thread tree. Must be the
// first registration the registry ever performs.
func (r *Registry) RegisterMain(limits tagcap.Limits, threadID int, threadName string, vmsizeAtCreation uint64) (*tagtree.Tree, error) {
	idx, err := r.reserveSlot()
	if err != nil {
		return nil, err
	}
	if idx != 0 {
		return nil, ErrMainAlreadyRegistered
	}
	tree := tagtree.NewMain(limits, threadID, threadName, vmsizeAtCreation)
	r.slots[0].Store(tree)
	r.profilingStartWallclock = time.Now()
	return tree, nil
}

// RegisterSecondary reserves the next index and constructs a tree
// inheriting the main tree's caps.
func (r *Registry) RegisterSecondary(threadID int, threadName string, vmsizeAtCreation uint64) (*tagtree.Tree, error) {
	main := r.slots[0].Load()
	if main == nil {
		return nil, ErrNoMainTree
	}
	idx, err := r.reserveSlot()
	if err != nil {
		return nil, err
	}
	tree := tagtree.NewSecondary(main, threadID, threadName, vmsizeAtCreation)
	r.slots[idx].Store(tree)
	return tree, nil
}

// HasMain reports whether the main tree has been registered.
func (r *Registry) HasMain() bool {
	return r.count.Load() > 0 && r.slots[0].Load() != nil
}

// BeginShutdown marks the registry as tearing down; it must be called
// before destructing any tree so no new thread can register mid-teardown.
func (r *Registry) BeginShutdown() {
	r.shutdownStarted.Store(true)
}

// snapshotTrees reads count then slots[0..count) in order, the
// acquire side of the registration release/acquire pairing.
func (r *Registry) snapshotTrees() []*tagtree.Tree {
	n := r.count.Load()
	if n > uint32(r.maxTrees) {
		n = uint32(r.maxTrees)
	}
	trees := make([]*tagtree.Tree, 0, n)
	for i := uint32(0); i < n; i++ {
		if t := r.slots[i].Load(); t != nil {
			trees = append(trees, t)
		}
	}
	return trees
}

// TreeCount returns the number of trees published so far; a slot that is
// reserved but whose tree is still under construction is not counted.
func (r *Registry) TreeCount() int {
	return len(r.snapshotTrees())
}

// GrandTotalTrackedBytes sums PeekTotalBytes across every registered
// tree, the same figure Serialize computes inline for its JSON/DOT body
// — exposed separately so callers (e.g. telemetry span attributes) can
// read it without paying for a full render.
func (r *Registry) GrandTotalTrackedBytes() uint64 {
	var total uint64
	for _, t := range r.snapshotTrees() {
		total += t.PeekTotalBytes()
	}
	return total
}

// TotalSelfMemoryBytes sums each Tree's own pool footprint, used to
// subtract the profiler's own cost from process-wide reports.
func (r *Registry) TotalSelfMemoryBytes() uint64 {
	var total uint64
	for _, t := range r.snapshotTrees() {
		total += t.MemoryUsageInBytes()
	}
	return total
}

// CollectAcrossTrees accumulates an approximate process-wide
// allocated/freed total by reading each tree's root under its own lock.
// Because trees are read one at a time, the result is an eventually
// consistent snapshot, not a single global instant.
func (r *Registry) CollectAcrossTrees() (allocated uint64, freed uint64) {
	for _, t := range r.snapshotTrees() {
		allocated += t.PeekTotalBytes()
		freed += t.TotalBytesFreed()
	}
	return allocated, freed
}

// CollectAsMap returns the flat `tid<TID>:<root>(.<scope>)*.<kpi>` view of
// every tree, plus the reserved ".nTrees" key holding the tree count.
func (r *Registry) CollectAsMap() map[string]uint64 {
	trees := r.snapshotTrees()
	m := make(map[string]uint64)
	m[".nTrees"] = uint64(len(trees))
	for _, t := range trees {
		t.FlattenInto(m)
	}
	return m
}

// ProfilingStartWallclock returns when the main tree was registered.
func (r *Registry) ProfilingStartWallclock() time.Time {
	return r.profilingStartWallclock
}

// Serialize builds the whole-process document in the requested format.
// bytesBeforeInit, selfUsage, vmSizeNow and vmRSSNow are supplied by the
// caller (the engine), which owns reading /proc/self/status.
func (r *Registry) Serialize(format tagoutput.Format, pid int, bytesBeforeInit, vmSizeNow, vmRSSNow uint64, now time.Time) (string, error) {
	trees := r.snapshotTrees()

	totals := make([]uint64, len(trees))
	var grandTotal uint64
	for i, t := range trees {
		totals[i] = t.PeekTotalBytes()
		grandTotal += totals[i]
	}

	switch format {
	case tagoutput.FormatJSON:
		return r.serializeJSON(trees, grandTotal, pid, bytesBeforeInit, vmSizeNow, vmRSSNow, now), nil
	case tagoutput.FormatDOT:
		return r.serializeDOT(trees, totals, grandTotal, pid, bytesBeforeInit, vmSizeNow, vmRSSNow), nil
	case tagoutput.FormatHuman:
		return r.serializeHuman(trees, pid, bytesBeforeInit, vmSizeNow, vmRSSNow), nil
	case tagoutput.FormatAll:
		j, _ := r.Serialize(tagoutput.FormatJSON, pid, bytesBeforeInit, vmSizeNow, vmRSSNow, now)
		d, _ := r.Serialize(tagoutput.FormatDOT, pid, bytesBeforeInit, vmSizeNow, vmRSSNow, now)
		return j + "\n" + d, nil
	default:
		return "", fmt.Errorf("tagregistry: unknown format %v", format)
	}
}

func (r *Registry) serializeJSON(trees []*tagtree.Tree, grandTotal uint64, pid int, bytesBeforeInit, vmSizeNow, vmRSSNow uint64, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("{")
	sb.WriteString(`"PID":`)
	sb.WriteString(strconv.Itoa(pid))
	sb.WriteString(`,"tmStartProfiling":"`)
	sb.WriteString(formatWallclock(r.profilingStartWallclock))
	sb.WriteString(`","tmCurrentSnapshot":"`)
	sb.WriteString(formatWallclock(now))
	sb.WriteString(`",`)

	for _, t := range trees {
		t.SerializeJSON(&sb, grandTotal)
		sb.WriteString(",")
	}

	sb.WriteString(`"nBytesAllocBeforeInit":`)
	sb.WriteString(strconv.FormatUint(bytesBeforeInit, 10))
	sb.WriteString(`,"nBytesMallocTagSelfUsage":`)
	sb.WriteString(strconv.FormatUint(r.TotalSelfMemoryBytes(), 10))
	sb.WriteString(`,"vmSizeNowBytes":`)
	sb.WriteString(strconv.FormatUint(vmSizeNow, 10))
	sb.WriteString(`,"vmRSSNowBytes":`)
	sb.WriteString(strconv.FormatUint(vmRSSNow, 10))
	sb.WriteString(`,"nTotalTrackedBytes":`)
	sb.WriteString(strconv.FormatUint(grandTotal, 10))
	sb.WriteString("}")
	return sb.String()
}

func (r *Registry) serializeDOT(trees []*tagtree.Tree, totals []uint64, grandTotal uint64, pid int, bytesBeforeInit, vmSizeNow, vmRSSNow uint64) string {
	var sb strings.Builder
	tagoutput.StartDigraph(&sb, "AllMallocTrees", nil)

	processLabel := fmt.Sprintf("PID=%d\\ntotal tracked=%s", pid, tagoutput.PrettyBytes(grandTotal))
	tagoutput.AppendNode(&sb, "process", processLabel, "box", "", "")

	for i, t := range trees {
		t.SerializeDOT(&sb, grandTotal)
		var weightPct string
		if grandTotal == 0 {
			weightPct = "0"
		} else {
			weightPct = tagoutput.FormatWeightPercent(tagcap.WeightScale * totals[i] / grandTotal)
		}
		rootName := tagoutput.PerThreadNodeName(t.ThreadID(), t.RootScopeName())
		tagoutput.AppendEdge(&sb, "process", rootName, "w="+weightPct+"%")
	}

	labels := []string{
		"Memory allocated before MallocTag initialization = " + tagoutput.PrettyBytes(bytesBeforeInit),
		"Memory allocated by MallocTag itself = " + tagoutput.PrettyBytes(r.TotalSelfMemoryBytes()),
		"Total memory tracked across all threads = " + tagoutput.PrettyBytes(grandTotal),
		"Process VmSize = " + tagoutput.PrettyBytes(vmSizeNow) + ", VmRSS = " + tagoutput.PrettyBytes(vmRSSNow),
	}
	tagoutput.EndDigraph(&sb, labels)
	return sb.String()
}

func (r *Registry) serializeHuman(trees []*tagtree.Tree, pid int, bytesBeforeInit, vmSizeNow, vmRSSNow uint64) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("process PID=%d  self_usage=%s  alloc_before_init=%s  VmSize=%s  VmRSS=%s\n",
		pid, tagoutput.PrettyBytes(r.TotalSelfMemoryBytes()), tagoutput.PrettyBytes(bytesBeforeInit),
		tagoutput.PrettyBytes(vmSizeNow), tagoutput.PrettyBytes(vmRSSNow)))
	writeRankedThreadsSummary(&sb, trees)
	for _, t := range trees {
		t.SerializeHuman(&sb)
	}
	return sb.String()
}

// writeRankedThreadsSummary lists threads by tracked bytes descending, so a
// human skimming the report sees the heaviest threads before the full
// per-tree dump.
func writeRankedThreadsSummary(sb *strings.Builder, trees []*tagtree.Tree) {
	if len(trees) < 2 {
		return
	}
	ranking := tagstats.NewThreadRanker(tagstats.WithMaxThreads(5)).Rank(trees)
	sb.WriteString("top threads by tracked bytes:\n")
	for _, entry := range ranking.Threads {
		sb.WriteString(fmt.Sprintf("  TID=%-8d %-20s %10s (%.1f%%)\n",
			entry.TID, entry.ThreadName, tagoutput.PrettyBytes(entry.BytesTotal), entry.Percentage))
	}
}

func formatWallclock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 @ 15:04:05 MST")
}
