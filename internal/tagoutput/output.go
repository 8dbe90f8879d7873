// Package tagoutput provides the JSON, Graphviz DOT, and human-readable
// format helpers shared by tree and registry serialisation: byte
// pretty-printing, weight-percentage formatting, and digraph/subgraph/node/
// edge emission.
package tagoutput

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/malloctag/mtag/internal/tagnode"
)

// Format selects the wire representation produced by a serialisation pass.
type Format int

const (
	FormatJSON Format = iota
	FormatDOT
	FormatHuman
	FormatAll
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatDOT:
		return "dot"
	case FormatHuman:
		return "human"
	case FormatAll:
		return "all"
	default:
		return "unknown"
	}
}

// PrettyBytes renders bytes using kilo/mega/giga (multiplier 1000, not
// kibi/mebi/gibi) to match the post-processor's float formatting.
func PrettyBytes(bytes uint64) string {
	switch {
	case bytes < 1000:
		return strconv.FormatUint(bytes, 10) + "B"
	case bytes < 1000000:
		return strconv.FormatUint(bytes/1000, 10) + "kB"
	case bytes < 1000000000:
		return strconv.FormatUint(bytes/1000000, 10) + "MB"
	default:
		return strconv.FormatUint(bytes/1000000000, 10) + "GB"
	}
}

// FormatWeightPercent renders a WEIGHT_SCALE-scaled weight as a two-decimal
// percentage string with trailing zeros (then a trailing dot) trimmed, so
// 120 -> "1.2" and 100 -> "1".
func FormatWeightPercent(weightScaled uint64) string {
	percent := float64(weightScaled) / 100.0
	s := strconv.FormatFloat(percent, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		s = "0"
	}
	return s
}

// fillShadeAndFontSize maps a self-weight percentage (0-100) to the
// colorscheme=reds9 shade and label font size the DOT renderer uses.
func fillShadeAndFontSize(selfWeightPercent float64) (shade string, fontsize string) {
	switch {
	case selfWeightPercent < 5:
		return "1", "9"
	case selfWeightPercent < 10:
		return "2", "10"
	case selfWeightPercent < 20:
		return "3", "12"
	case selfWeightPercent < 40:
		return "4", "14"
	case selfWeightPercent < 60:
		return "5", "16"
	case selfWeightPercent < 80:
		return "6", "18"
	default:
		return "7", "20"
	}
}

// --- JSON ---

// WriteNodeJSON emits one node as `"scope_<name>": {...}`, recursing into
// nestedScopes. Per-scope fields match the documented JSON layout exactly.
func WriteNodeJSON(sb *strings.Builder, n *tagnode.Node) {
	sb.WriteString(`"scope_`)
	sb.WriteString(n.ScopeName())
	sb.WriteString(`":{`)

	sb.WriteString(`"nBytesTotalAllocated":`)
	sb.WriteString(strconv.FormatUint(n.BytesTotalAlloc(), 10))
	sb.WriteString(`,"nBytesSelfAllocated":`)
	sb.WriteString(strconv.FormatUint(n.BytesSelfAlloc(), 10))
	sb.WriteString(`,"nBytesSelfFreed":`)
	sb.WriteString(strconv.FormatUint(n.BytesSelfFreed(), 10))
	sb.WriteString(`,"nTimesEnteredAndExited":`)
	sb.WriteString(strconv.FormatUint(n.NVisits(), 10))
	sb.WriteString(`,"nWeightPercentage":`)
	sb.WriteString(FormatWeightPercent(n.WeightTotal()))

	for _, kind := range []tagnode.PrimitiveKind{tagnode.Malloc, tagnode.Realloc, tagnode.Calloc, tagnode.Free} {
		sb.WriteString(`,"nCallsTo_`)
		sb.WriteString(kind.String())
		sb.WriteString(`":`)
		sb.WriteString(strconv.FormatUint(n.CallsTo(kind), 10))
	}

	sb.WriteString(`,"nestedScopes":{`)
	children := n.Children()
	for i, c := range children {
		WriteNodeJSON(sb, c)
		if i != len(children)-1 {
			sb.WriteString(",")
		}
	}
	sb.WriteString("}}")
}

// TreeHeaderJSON holds the tree-level counters placed alongside the root
// node's nested scope object inside a tree_for_TID<tid> document entry.
type TreeHeaderJSON struct {
	TID                int
	ThreadName         string
	TreeLevels         int
	TreeNodesInUse      int
	MaxTreeNodes        int
	PushNodeFailures    uint64
	FreeTrackingFailed  uint64
	VmSizeAtCreation    uint64
}

// WriteTreeJSON emits one `"tree_for_TID<tid>": {...}` document entry.
func WriteTreeJSON(sb *strings.Builder, hdr TreeHeaderJSON, root *tagnode.Node) {
	sb.WriteString(`"tree_for_TID`)
	sb.WriteString(strconv.Itoa(hdr.TID))
	sb.WriteString(`":{`)
	sb.WriteString(`"TID":`)
	sb.WriteString(strconv.Itoa(hdr.TID))
	sb.WriteString(`,"ThreadName":"`)
	sb.WriteString(hdr.ThreadName)
	sb.WriteString(`","nTreeLevels":`)
	sb.WriteString(strconv.Itoa(hdr.TreeLevels))
	sb.WriteString(`,"nTreeNodesInUse":`)
	sb.WriteString(strconv.Itoa(hdr.TreeNodesInUse))
	sb.WriteString(`,"nMaxTreeNodes":`)
	sb.WriteString(strconv.Itoa(hdr.MaxTreeNodes))
	sb.WriteString(`,"nPushNodeFailures":`)
	sb.WriteString(strconv.FormatUint(hdr.PushNodeFailures, 10))
	sb.WriteString(`,"nFreeTrackingFailed":`)
	sb.WriteString(strconv.FormatUint(hdr.FreeTrackingFailed, 10))
	sb.WriteString(`,"nVmSizeAtCreation":`)
	sb.WriteString(strconv.FormatUint(hdr.VmSizeAtCreation, 10))
	sb.WriteString(",")
	WriteNodeJSON(sb, root)
	sb.WriteString("}")
}

// --- DOT ---

// StartDigraph opens a digraph block with the reds9 colorscheme applied to
// all nodes, optionally followed by a bottom-anchored multi-line label.
func StartDigraph(sb *strings.Builder, name string, labels []string) {
	sb.WriteString("digraph ")
	sb.WriteString(name)
	sb.WriteString(" {\n")
	sb.WriteString("node [colorscheme=reds9 style=filled]\n")
	writeLabelBlock(sb, labels)
}

// EndDigraph closes a digraph block opened with StartDigraph, optionally
// emitting a trailing label block first.
func EndDigraph(sb *strings.Builder, labels []string) {
	writeLabelBlock(sb, labels)
	sb.WriteString("}\n")
}

// StartSubgraph opens a `subgraph cluster_<name>` block.
func StartSubgraph(sb *strings.Builder, name string, labels []string) {
	sb.WriteString("subgraph cluster_")
	sb.WriteString(name)
	sb.WriteString(" {\n")
	sb.WriteString("node [colorscheme=reds9 style=filled]\n")
	writeLabelBlock(sb, labels)
}

// EndSubgraph closes a subgraph block.
func EndSubgraph(sb *strings.Builder) {
	sb.WriteString("}\n")
}

func writeLabelBlock(sb *strings.Builder, labels []string) {
	if len(labels) == 0 {
		return
	}
	sb.WriteString("labelloc=\"b\"\nlabel=\"")
	for _, l := range labels {
		sb.WriteString(l)
		sb.WriteString("\\n")
	}
	sb.WriteString("\"\n")
}

// AppendNode emits one quoted DOT node declaration.
func AppendNode(sb *strings.Builder, nodeName, label, shape, fillcolor, fontsize string) {
	sb.WriteString(`"`)
	sb.WriteString(nodeName)
	sb.WriteString(`" [label="`)
	sb.WriteString(label)
	sb.WriteString(`"`)
	if shape != "" {
		sb.WriteString(" shape=")
		sb.WriteString(shape)
	}
	if fillcolor != "" {
		sb.WriteString(" fillcolor=")
		sb.WriteString(fillcolor)
	}
	if fontsize != "" {
		sb.WriteString(" fontsize=")
		sb.WriteString(fontsize)
	}
	sb.WriteString("]\n")
}

// AppendEdge emits one quoted DOT edge, optionally labelled.
func AppendEdge(sb *strings.Builder, from, to, label string) {
	sb.WriteString(`"`)
	sb.WriteString(from)
	sb.WriteString(`" -> "`)
	sb.WriteString(to)
	sb.WriteString(`"`)
	if label != "" {
		sb.WriteString(` [label="`)
		sb.WriteString(label)
		sb.WriteString(`"]`)
	}
	sb.WriteString("\n")
}

// PerThreadNodeName matches the original tool's "<tid>_<scopename>" node
// identifier convention so edges resolve across a multi-tree document.
func PerThreadNodeName(threadID int, scopeName string) string {
	return strconv.Itoa(threadID) + "_" + scopeName
}

// WriteNodeDOT recursively emits one node and its subtree as DOT node/edge
// declarations for a single tree's subgraph.
func WriteNodeDOT(sb *strings.Builder, n *tagnode.Node) {
	thisName := PerThreadNodeName(n.ThreadID(), n.ScopeName())

	var weight string
	if n.BytesTotalAlloc() != n.BytesSelfAlloc() {
		weight = fmt.Sprintf("total=%s (%s%%)\\nself=%s (%s%%)",
			PrettyBytes(n.BytesTotalAlloc()), FormatWeightPercent(n.WeightTotal()),
			PrettyBytes(n.BytesSelfAlloc()), FormatWeightPercent(n.WeightSelf()))
	} else {
		weight = fmt.Sprintf("total=self=%s (%s%%)", PrettyBytes(n.BytesTotalAlloc()), FormatWeightPercent(n.WeightTotal()))
	}
	weight += fmt.Sprintf("\\nnum_alloc_self=%d", n.CallsTo(tagnode.Malloc)+n.CallsTo(tagnode.Realloc)+n.CallsTo(tagnode.Calloc))

	var label, shape string
	if n.Parent() == nil {
		label = fmt.Sprintf("thread=%s\\nTID=%d\\n%s", n.ScopeName(), n.ThreadID(), weight)
		shape = "box"
	} else {
		label = fmt.Sprintf("scope=%s\\n%s", n.ScopeName(), weight)
	}

	selfWeightPercent := float64(n.WeightSelf()) / 100.0
	shade, fontsize := fillShadeAndFontSize(selfWeightPercent)

	AppendNode(sb, thisName, label, shape, shade, fontsize)

	for _, c := range n.Children() {
		AppendEdge(sb, thisName, PerThreadNodeName(c.ThreadID(), c.ScopeName()), "")
	}
	for _, c := range n.Children() {
		WriteNodeDOT(sb, c)
	}
}

// --- Flat map ---

// FlattenNode fills m with "<prefix>.<kpi>" (root call passes prefix already
// holding "tid<TID>:<root_name>") for this node and recurses into children
// joined with ".", matching the flat-map key grammar.
func FlattenNode(m map[string]uint64, prefix string, n *tagnode.Node) {
	m[prefix+".nBytesTotalAllocated"] = n.BytesTotalAlloc()
	m[prefix+".nBytesSelfAllocated"] = n.BytesSelfAlloc()
	m[prefix+".nBytesSelfFreed"] = n.BytesSelfFreed()
	m[prefix+".nTimesEnteredAndExited"] = n.NVisits()
	m[prefix+".nWeightPercentage"] = n.WeightTotal()
	for _, kind := range []tagnode.PrimitiveKind{tagnode.Malloc, tagnode.Realloc, tagnode.Calloc, tagnode.Free} {
		m[prefix+".nCallsTo_"+kind.String()] = n.CallsTo(kind)
	}
	for _, c := range n.Children() {
		FlattenNode(m, prefix+"."+c.ScopeName(), c)
	}
}

// --- Human-readable ---

// WriteNodeHuman indents two spaces per level, skips subtrees below the
// 1024B / 1% visibility floor, and annotates hot nodes (weight >= 70%).
func WriteNodeHuman(sb *strings.Builder, n *tagnode.Node, level int) {
	if n.BytesTotalAlloc() < 1024 || n.WeightTotal() < 100 {
		return
	}

	sb.WriteString(strings.Repeat("  ", level))
	sb.WriteString(n.ScopeName())
	sb.WriteString(": total=")
	sb.WriteString(PrettyBytes(n.BytesTotalAlloc()))
	sb.WriteString(" (")
	sb.WriteString(FormatWeightPercent(n.WeightTotal()))
	sb.WriteString("%) self=")
	sb.WriteString(PrettyBytes(n.BytesSelfAlloc()))
	sb.WriteString(" (")
	sb.WriteString(FormatWeightPercent(n.WeightSelf()))
	sb.WriteString("%)")

	if n.WeightTotal() >= 7000 {
		if len(n.Children()) == 0 {
			sb.WriteString(" [hot leaf]")
		} else {
			sb.WriteString(" [hot path]")
		}
	}
	sb.WriteString("\n")

	for _, c := range n.Children() {
		WriteNodeHuman(sb, c, level+1)
	}
}
