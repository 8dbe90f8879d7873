// Package tagpost re-implements the external postprocess/json2dot
// collaborators: parsing a JSON snapshot document, applying
// "aggregate_trees" rules that merge same-pattern thread trees, and
// re-serialising the result.
package tagpost

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	scopePrefix = "scope_"
	treePrefix  = "tree_for_TID"
)

// Node mirrors one "scope_<name>" entry in the JSON document.
type Node struct {
	Name                   string           `json:"-"`
	NBytesTotalAllocated   uint64           `json:"nBytesTotalAllocated"`
	NBytesSelfAllocated    uint64           `json:"nBytesSelfAllocated"`
	NBytesSelfFreed        uint64           `json:"nBytesSelfFreed"`
	NTimesEnteredAndExited uint64           `json:"nTimesEnteredAndExited"`
	NWeightPercentage      json.Number      `json:"nWeightPercentage"`
	NCallsToMalloc         uint64           `json:"nCallsTo_malloc"`
	NCallsToRealloc        uint64           `json:"nCallsTo_realloc"`
	NCallsToCalloc         uint64           `json:"nCallsTo_calloc"`
	NCallsToFree           uint64           `json:"nCallsTo_free"`
	NestedScopes           map[string]*Node `json:"-"`
}

// UnmarshalJSON decodes a Node, pulling its children out of the
// "nestedScopes" object and stripping their "scope_" key prefix.
func (n *Node) UnmarshalJSON(data []byte) error {
	type alias Node
	aux := struct {
		*alias
		NestedScopes map[string]json.RawMessage `json:"nestedScopes"`
	}{alias: (*alias)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	n.NestedScopes = make(map[string]*Node, len(aux.NestedScopes))
	for key, raw := range aux.NestedScopes {
		if !strings.HasPrefix(key, scopePrefix) {
			return fmt.Errorf("tagpost: nested scope key %q missing %q prefix", key, scopePrefix)
		}
		child := &Node{}
		if err := json.Unmarshal(raw, child); err != nil {
			return err
		}
		child.Name = key[len(scopePrefix):]
		n.NestedScopes[child.Name] = child
	}
	return nil
}

// MarshalJSON re-encodes a Node, rebuilding "scope_<name>" keys for children.
func (n *Node) MarshalJSON() ([]byte, error) {
	type alias Node
	nested := make(map[string]*Node, len(n.NestedScopes))
	for name, child := range n.NestedScopes {
		nested[scopePrefix+name] = child
	}
	aux := struct {
		*alias
		NestedScopes map[string]*Node `json:"nestedScopes"`
	}{alias: (*alias)(n), NestedScopes: nested}
	return json.Marshal(aux)
}

// NumLevels returns the node's subtree depth, root counted as level 1.
func (n *Node) NumLevels() int {
	max := 0
	for _, c := range n.NestedScopes {
		if l := c.NumLevels(); l > max {
			max = l
		}
	}
	return 1 + max
}

// NumNodes returns the count of this node plus its whole subtree.
func (n *Node) NumNodes() int {
	total := 1
	for _, c := range n.NestedScopes {
		total += c.NumNodes()
	}
	return total
}

// AggregateWith merges other into n: monotonic counters and call tallies
// sum, and any scope present only in other is adopted as-is. Matches the
// original postprocessor's aggregate_with, which leaves the summation rule
// for weight percentages undocumented; this implementation sums them too,
// since they are themselves derived from summed byte counters.
func (n *Node) AggregateWith(other *Node) {
	n.NBytesTotalAllocated += other.NBytesTotalAllocated
	n.NBytesSelfAllocated += other.NBytesSelfAllocated
	n.NBytesSelfFreed += other.NBytesSelfFreed
	n.NTimesEnteredAndExited += other.NTimesEnteredAndExited
	n.NWeightPercentage = sumWeight(n.NWeightPercentage, other.NWeightPercentage)
	n.NCallsToMalloc += other.NCallsToMalloc
	n.NCallsToRealloc += other.NCallsToRealloc
	n.NCallsToCalloc += other.NCallsToCalloc
	n.NCallsToFree += other.NCallsToFree

	if n.NestedScopes == nil {
		n.NestedScopes = make(map[string]*Node)
	}
	for name, child := range other.NestedScopes {
		if existing, ok := n.NestedScopes[name]; ok {
			existing.AggregateWith(child)
		} else {
			n.NestedScopes[name] = child
		}
	}
}

func sumWeight(a, b json.Number) json.Number {
	af, _ := a.Float64()
	bf, _ := b.Float64()
	return json.Number(strconv.FormatFloat(af+bf, 'f', -1, 64))
}
