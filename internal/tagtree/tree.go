// Package tagtree implements the per-thread scope tree: a fixed-capacity
// pool of nodes, a single-writer cursor, and the structure lock cold-path
// traversals take to serialise a consistent snapshot.
package tagtree

import (
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/malloctag/mtag/internal/tagcap"
	"github.com/malloctag/mtag/internal/tagnode"
	"github.com/malloctag/mtag/internal/tagoutput"
)

// Tree is a per-thread container of Nodes. Push/pop/track calls are made
// only by the owning thread; serialisation may be invoked by any thread
// holding the tree's structure lock.
type Tree struct {
	mu sync.RWMutex // structure lock: guards the node pool, links, and cursor

	limits tagcap.Limits

	pool []*tagnode.Node // fixed capacity, bump-allocated, never shrinks net of one rollback case
	next int

	root   *tagnode.Node
	cursor *tagnode.Node

	threadID   int
	threadName string
	isMain     bool

	nodesInUse           int
	maxLevelsSeen        int
	pushFailures         uint64
	freeTrackingFailures uint64
	vmsizeAtCreation     uint64
}

func newTree(limits tagcap.Limits, threadID int, threadName string, isMain bool, vmsize uint64) *Tree {
	t := &Tree{
		limits:           limits,
		pool:             make([]*tagnode.Node, limits.MaxNodes),
		threadID:         threadID,
		threadName:       threadName,
		isMain:           isMain,
		vmsizeAtCreation: vmsize,
	}
	for i := range t.pool {
		t.pool[i] = tagnode.New(limits)
	}
	t.root = t.pool[0]
	t.next = 1
	t.root.Init(nil, threadID)
	t.root.SetScopeNameFromThreadName(threadName)
	t.cursor = t.root
	t.nodesInUse = 1
	return t
}

// NewMain constructs the process's first tree. Must be registered at index
// 0; secondary trees inherit its limits.
func NewMain(limits tagcap.Limits, threadID int, threadName string, vmsizeAtCreation uint64) *Tree {
	return newTree(limits, threadID, threadName, true, vmsizeAtCreation)
}

// NewSecondary constructs a tree for a non-main thread, inheriting the
// main tree's node/level caps.
func NewSecondary(main *Tree, threadID int, threadName string, vmsizeAtCreation uint64) *Tree {
	return newTree(main.limits, threadID, threadName, false, vmsizeAtCreation)
}

func (t *Tree) ThreadID() int        { return t.threadID }
func (t *Tree) ThreadName() string   { return t.threadName }
func (t *Tree) IsMain() bool         { return t.isMain }
func (t *Tree) MaxNodes() int        { return t.limits.MaxNodes }
func (t *Tree) VmSizeAtCreation() uint64 { return t.vmsizeAtCreation }

// MemoryUsageInBytes estimates the tree's own footprint: its fixed node
// pool, used to subtract profiler self-cost from process-wide reports.
func (t *Tree) MemoryUsageInBytes() uint64 {
	return uint64(len(t.pool)) * uint64(unsafe.Sizeof(tagnode.Node{}))
}

// Push moves the cursor to (creating if needed) a child named name.
// Returns false ("not pushed") on level cap, sibling cap, or pool
// exhaustion; the caller must then skip the matching Pop.
func (t *Tree) Push(name string) bool {
	if t.cursor.TreeLevel() >= t.limits.MaxLevels {
		t.pushFailures++
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing := t.cursor.ChildWithName(name); existing != nil {
		t.cursor = existing
		return true
	}

	if t.next >= len(t.pool) {
		t.pushFailures++
		return false
	}
	slot := t.pool[t.next]
	t.next++

	slot.Init(t.cursor, t.threadID)
	slot.SetScopeName(name)

	if !t.cursor.LinkNewChild(slot) {
		// sibling cap reached: return the reserved slot to the pool.
		t.next--
		t.pushFailures++
		return false
	}

	t.nodesInUse++
	t.cursor = slot
	if t.cursor.TreeLevel() > t.maxLevelsSeen {
		t.maxLevelsSeen = t.cursor.TreeLevel()
	}
	return true
}

// Pop moves the cursor back to its parent. Only valid after a Push that
// returned true; popping past the root is a programmer error.
func (t *Tree) Pop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cursor == t.root {
		panic("tagtree: pop past root")
	}
	t.cursor.MarkLeft()
	t.cursor = t.cursor.Parent()
}

// TrackAllocInCursor charges an allocation to whichever node the cursor
// currently sits at.
func (t *Tree) TrackAllocInCursor(kind tagnode.PrimitiveKind, bytes uint64) {
	t.cursor.TrackAlloc(kind, bytes)
}

// TrackFreeInCursor charges a free of known size to the cursor's node.
func (t *Tree) TrackFreeInCursor(bytes uint64) {
	t.cursor.TrackFree(bytes)
}

// NoteFreeTrackingFailure records a free whose usable size could not be
// determined; no counter on any node is updated.
func (t *Tree) NoteFreeTrackingFailure() {
	t.freeTrackingFailures++
}

func (t *Tree) PushFailures() uint64         { return t.pushFailures }
func (t *Tree) FreeTrackingFailures() uint64 { return t.freeTrackingFailures }
func (t *Tree) NodesInUse() int              { return t.nodesInUse }
func (t *Tree) MaxLevelsSeen() int           { return t.maxLevelsSeen }

// TotalBytesTracked returns the root's bytes_total_alloc as of the last
// ComputeTotals pass (zero until the first serialisation).
func (t *Tree) TotalBytesTracked() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.BytesTotalAlloc()
}

// RootScopeName returns the root node's name (seeded once from the owning
// thread's name at creation; immutable thereafter).
func (t *Tree) RootScopeName() string { return t.root.ScopeName() }

// PeekTotalBytes recomputes and returns the tree's grand total without
// emitting anything; used by the registry to learn the cross-tree total
// before a normalised serialisation pass.
func (t *Tree) PeekTotalBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.ComputeTotals()
}

// TotalBytesFreed sums bytes_self_freed across the whole tree.
func (t *Tree) TotalBytesFreed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sumFreed(t.root)
}

// FlattenInto recomputes totals/weights against this tree's own total and
// fills m with the "tid<TID>:<root>(.<scope>)*.<kpi>" flat-map entries,
// plus this tree's own nTreeNodesInUse/nMaxTreeNodes/nPushNodeFailures/
// nFreeTrackingFailed counters.
func (t *Tree) FlattenInto(m map[string]uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recompute(0)
	prefix := "tid" + strconv.Itoa(t.threadID) + ":" + t.root.ScopeName()
	tagoutput.FlattenNode(m, prefix, t.root)
	m[prefix+".nTreeNodesInUse"] = uint64(t.nodesInUse)
	m[prefix+".nMaxTreeNodes"] = uint64(t.limits.MaxNodes)
	m[prefix+".nPushNodeFailures"] = t.pushFailures
	m[prefix+".nFreeTrackingFailed"] = t.freeTrackingFailures
}

func sumFreed(n *tagnode.Node) uint64 {
	total := n.BytesSelfFreed()
	for _, c := range n.Children() {
		total += sumFreed(c)
	}
	return total
}

// header returns a snapshot of tree-level counters for JSON emission.
// Must be called while holding the structure lock (see SerializeJSON).
func (t *Tree) header() tagoutput.TreeHeaderJSON {
	return tagoutput.TreeHeaderJSON{
		TID:                t.threadID,
		ThreadName:         t.threadName,
		TreeLevels:         t.maxLevelsSeen + 1,
		TreeNodesInUse:     t.nodesInUse,
		MaxTreeNodes:       t.limits.MaxNodes,
		PushNodeFailures:   t.pushFailures,
		FreeTrackingFailed: t.freeTrackingFailures,
		VmSizeAtCreation:   t.vmsizeAtCreation,
	}
}

// recompute runs compute_totals then compute_weights against
// rootTotalOverride if non-zero, else the tree's own root total. Caller
// must hold the structure lock.
func (t *Tree) recompute(rootTotalOverride uint64) uint64 {
	total := t.root.ComputeTotals()
	normalizeAgainst := total
	if rootTotalOverride != 0 {
		normalizeAgainst = rootTotalOverride
	}
	t.root.ComputeWeights(normalizeAgainst)
	return total
}

// SerializeJSON recomputes totals/weights and appends this tree's
// `tree_for_TID<tid>` document entry to sb. grandTotalBytes, when nonzero,
// normalises weights against the whole process instead of this tree alone.
func (t *Tree) SerializeJSON(sb *strings.Builder, grandTotalBytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recompute(grandTotalBytes)
	tagoutput.WriteTreeJSON(sb, t.header(), t.root)
}

// SerializeDOT recomputes totals/weights and appends this tree's subgraph
// (root plus descendants) to sb.
func (t *Tree) SerializeDOT(sb *strings.Builder, grandTotalBytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recompute(grandTotalBytes)

	name := "Tree_TID" + strconv.Itoa(t.threadID)
	tagoutput.StartSubgraph(sb, name, nil)
	tagoutput.WriteNodeDOT(sb, t.root)
	tagoutput.EndSubgraph(sb)
}

// SerializeHuman recomputes totals/weights and appends the human-readable
// indented rendering of this tree to sb.
func (t *Tree) SerializeHuman(sb *strings.Builder) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recompute(0)
	sb.WriteString("thread ")
	sb.WriteString(strconv.Itoa(t.threadID))
	sb.WriteString(" (")
	sb.WriteString(t.threadName)
	sb.WriteString("):\n")
	tagoutput.WriteNodeHuman(sb, t.root, 1)
}
