package tagpost

import (
	"fmt"
	"sort"
	"strings"

	"github.com/malloctag/mtag/internal/tagoutput"
)

// fillShadeAndFontSize mirrors the live renderer's colorscheme=reds9 shade
// and label font-size bucketing for a self-weight percentage (0-100).
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

// RenderDOT renders snap as a DOT digraph, the external json2dot
// collaborator's entry point.
func RenderDOT(snap *Snapshot) string {
	return snap.WriteDOT()
}

// WriteDOT renders a whole snapshot as a DOT digraph, one subgraph cluster
// per thread tree. Self-weight, absent from the JSON document, is derived
// from each node's self-allocated bytes against the snapshot grand total.
func (s *Snapshot) WriteDOT() string {
	var sb strings.Builder
	tagoutput.StartDigraph(&sb, "mtag_snapshot", []string{fmt.Sprintf("PID=%d", s.PID)})

	for _, tree := range s.Trees {
		tagoutput.StartSubgraph(&sb, fmt.Sprintf("TID%d", tree.TID), []string{tree.ThreadName})
		if tree.Root != nil {
			writeNodeDOT(&sb, tree.TID, tree.Root, s.NTotalTrackedBytes, true)
		}
		tagoutput.EndSubgraph(&sb)
	}

	tagoutput.EndDigraph(&sb, nil)
	return sb.String()
}

func writeNodeDOT(sb *strings.Builder, tid int, n *Node, grandTotal uint64, isRoot bool) {
	thisName := tagoutput.PerThreadNodeName(tid, n.Name)

	totalPercent := n.NWeightPercentage.String()
	var weight string
	if n.NBytesTotalAllocated != n.NBytesSelfAllocated {
		weight = fmt.Sprintf("total=%s (%s%%)\\nself=%s (%s%%)",
			tagoutput.PrettyBytes(n.NBytesTotalAllocated), totalPercent,
			tagoutput.PrettyBytes(n.NBytesSelfAllocated), selfPercentString(n.NBytesSelfAllocated, grandTotal))
	} else {
		weight = fmt.Sprintf("total=self=%s (%s%%)", tagoutput.PrettyBytes(n.NBytesTotalAllocated), totalPercent)
	}
	weight += fmt.Sprintf("\\nnum_alloc_self=%d", n.NCallsToMalloc+n.NCallsToRealloc+n.NCallsToCalloc)

	var label, shape string
	if isRoot {
		label = fmt.Sprintf("thread=%s\\nTID=%d\\n%s", n.Name, tid, weight)
		shape = "box"
	} else {
		label = fmt.Sprintf("scope=%s\\n%s", n.Name, weight)
	}

	selfPercent := 0.0
	if grandTotal > 0 {
		selfPercent = float64(n.NBytesSelfAllocated) / float64(grandTotal) * 100
	}
	shade, fontsize := fillShadeAndFontSize(selfPercent)
	tagoutput.AppendNode(sb, thisName, label, shape, shade, fontsize)

	names := sortedChildNames(n)
	for _, name := range names {
		c := n.NestedScopes[name]
		tagoutput.AppendEdge(sb, thisName, tagoutput.PerThreadNodeName(tid, c.Name), "")
	}
	for _, name := range names {
		writeNodeDOT(sb, tid, n.NestedScopes[name], grandTotal, false)
	}
}

func selfPercentString(selfBytes, grandTotal uint64) string {
	if grandTotal == 0 {
		return "0"
	}
	return tagoutput.FormatWeightPercent(uint64(float64(selfBytes) / float64(grandTotal) * 10000))
}

func sortedChildNames(n *Node) []string {
	names := make([]string, 0, len(n.NestedScopes))
	for name := range n.NestedScopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
