// Package tagnode implements a single tagged scope: the node type that
// forms the per-thread scope trees of the profiler.
package tagnode

import "github.com/malloctag/mtag/internal/tagcap"

// PrimitiveKind identifies which allocation primitive a counter update
// belongs to. memalign/valloc/pvalloc are charged as Malloc, matching the
// four-bucket counter set the node carries (§3 of the design this follows).
type PrimitiveKind int

const (
	Malloc PrimitiveKind = iota
	Realloc
	Calloc
	Free
	numPrimitiveKinds
)

func (k PrimitiveKind) String() string {
	switch k {
	case Malloc:
		return "malloc"
	case Realloc:
		return "realloc"
	case Calloc:
		return "calloc"
	case Free:
		return "free"
	default:
		return "unknown"
	}
}

// Node is one tagged scope at a particular depth within one thread's tree.
// Its counters are written only by the owning thread on the fast path and
// read by cold-path traversals holding the owning Tree's structure lock.
type Node struct {
	scopeName string
	treeLevel int
	threadID  int

	parent    *Node
	children  []*Node
	nChildren int

	bytesSelfAlloc uint64
	bytesSelfFreed uint64
	callsSelf      [numPrimitiveKinds]uint64
	nVisits        uint64

	bytesTotalAlloc uint64
	weightTotal     uint64
	weightSelf      uint64

	limits tagcap.Limits
}

// New allocates a bare node sized per limits. It does not link into any
// tree; callers draw nodes from a Tree's fixed pool and call Init.
func New(limits tagcap.Limits) *Node {
	return &Node{
		children: make([]*Node, 0, limits.MaxSiblings),
		limits:   limits,
	}
}

// Init resets a pool-drawn node to represent a fresh scope under parent,
// or the root scope when parent is nil.
func (n *Node) Init(parent *Node, threadID int) {
	n.parent = parent
	n.threadID = threadID
	n.scopeName = ""
	n.nChildren = 0
	n.children = n.children[:0]
	n.bytesSelfAlloc = 0
	n.bytesSelfFreed = 0
	for i := range n.callsSelf {
		n.callsSelf[i] = 0
	}
	n.nVisits = 0
	n.bytesTotalAlloc = 0
	n.weightTotal = 0
	n.weightSelf = 0
	if parent != nil {
		n.treeLevel = parent.treeLevel + 1
	} else {
		n.treeLevel = 0
	}
}

// SetScopeName copy-truncates name to the node's name cap.
func (n *Node) SetScopeName(name string) {
	n.scopeName = n.limits.TruncateName(name)
}

// SetScopeNameFromThreadName seeds the node's name from the OS thread name,
// as root nodes do at tree creation.
func (n *Node) SetScopeNameFromThreadName(threadName string) {
	n.SetScopeName(threadName)
}

func (n *Node) ScopeName() string { return n.scopeName }
func (n *Node) TreeLevel() int    { return n.treeLevel }
func (n *Node) ThreadID() int     { return n.threadID }
func (n *Node) Parent() *Node     { return n.parent }

// Children returns the live children in insertion order. Callers must not
// mutate the returned slice.
func (n *Node) Children() []*Node { return n.children[:n.nChildren] }

// LinkNewChild appends child if the sibling cap allows it.
func (n *Node) LinkNewChild(child *Node) bool {
	if n.nChildren >= n.limits.MaxSiblings {
		return false
	}
	if len(n.children) <= n.nChildren {
		n.children = append(n.children, child)
	} else {
		n.children[n.nChildren] = child
	}
	n.nChildren++
	return true
}

// ChildWithName performs a bounded linear scan for an existing child,
// returning the first match in insertion order, or nil.
func (n *Node) ChildWithName(name string) *Node {
	truncated := n.limits.TruncateName(name)
	for _, c := range n.children[:n.nChildren] {
		if c.scopeName == truncated {
			return c
		}
	}
	return nil
}

// TrackAlloc charges bytes to this node's self-allocated counter and bumps
// the primitive's call counter.
func (n *Node) TrackAlloc(kind PrimitiveKind, bytes uint64) {
	n.bytesSelfAlloc += bytes
	n.callsSelf[kind]++
}

// TrackFree charges bytes to this node's self-freed counter and bumps the
// Free call counter. It always succeeds; callers decide whether bytes is
// trustworthy (see FreeSizeUnknown in the engine).
func (n *Node) TrackFree(bytes uint64) {
	n.bytesSelfFreed += bytes
	n.callsSelf[Free]++
}

// MarkLeft records that the scope was left once (a push/pop round trip).
func (n *Node) MarkLeft() {
	n.nVisits++
}

// ComputeTotals recomputes bytesTotalAlloc post-order and returns it.
func (n *Node) ComputeTotals() uint64 {
	total := n.bytesSelfAlloc
	for _, c := range n.children[:n.nChildren] {
		total += c.ComputeTotals()
	}
	n.bytesTotalAlloc = total
	return total
}

// ComputeWeights recomputes weightTotal/weightSelf against rootTotal and
// recurses into children. Call after ComputeTotals.
func (n *Node) ComputeWeights(rootTotal uint64) {
	if rootTotal == 0 {
		n.weightTotal = 0
		n.weightSelf = 0
	} else {
		n.weightTotal = tagcap.WeightScale * n.bytesTotalAlloc / rootTotal
		n.weightSelf = tagcap.WeightScale * n.bytesSelfAlloc / rootTotal
	}
	for _, c := range n.children[:n.nChildren] {
		c.ComputeWeights(rootTotal)
	}
}

func (n *Node) BytesSelfAlloc() uint64   { return n.bytesSelfAlloc }
func (n *Node) BytesSelfFreed() uint64   { return n.bytesSelfFreed }
func (n *Node) BytesTotalAlloc() uint64  { return n.bytesTotalAlloc }
func (n *Node) WeightTotal() uint64      { return n.weightTotal }
func (n *Node) WeightSelf() uint64       { return n.weightSelf }
func (n *Node) NVisits() uint64          { return n.nVisits }
func (n *Node) CallsTo(k PrimitiveKind) uint64 { return n.callsSelf[k] }

// NetSelf is bytesSelfAlloc minus bytesSelfFreed, saturating at zero.
func (n *Node) NetSelf() uint64 {
	if n.bytesSelfFreed >= n.bytesSelfAlloc {
		return 0
	}
	return n.bytesSelfAlloc - n.bytesSelfFreed
}

// AvgSelfPerVisit is bytesSelfAlloc / nVisits, or 0 if never visited.
func (n *Node) AvgSelfPerVisit() uint64 {
	if n.nVisits == 0 {
		return 0
	}
	return n.bytesSelfAlloc / n.nVisits
}
