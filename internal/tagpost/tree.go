package tagpost

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tree mirrors one "tree_for_TID<tid>" entry: a per-thread header plus
// its root scope node.
type Tree struct {
	TID                 int    `json:"TID"`
	ThreadName          string `json:"ThreadName"`
	NTreeLevels         int    `json:"nTreeLevels"`
	NTreeNodesInUse     int    `json:"nTreeNodesInUse"`
	NMaxTreeNodes       int    `json:"nMaxTreeNodes"`
	NPushNodeFailures   int    `json:"nPushNodeFailures"`
	NFreeTrackingFailed int    `json:"nFreeTrackingFailed"`
	NVmSizeAtCreation   uint64 `json:"nVmSizeAtCreation"`
	Root                *Node  `json:"-"`
}

// UnmarshalJSON decodes a Tree's static header fields, then scans the
// remaining object keys for the single "scope_<rootname>" entry holding
// the root node.
func (t *Tree) UnmarshalJSON(data []byte) error {
	type alias Tree
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	aux := (*alias)(t)
	headerOnly := map[string]json.RawMessage{}
	var rootKey string
	var rootRaw json.RawMessage
	for key, v := range raw {
		if strings.HasPrefix(key, scopePrefix) {
			if rootKey != "" {
				return fmt.Errorf("tagpost: tree for TID %s has multiple root scopes", key)
			}
			rootKey, rootRaw = key, v
			continue
		}
		headerOnly[key] = v
	}
	headerBytes, err := json.Marshal(headerOnly)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(headerBytes, aux); err != nil {
		return err
	}

	if rootKey == "" {
		return fmt.Errorf("tagpost: tree for TID %d has no root scope", t.TID)
	}
	root := &Node{}
	if err := json.Unmarshal(rootRaw, root); err != nil {
		return err
	}
	root.Name = rootKey[len(scopePrefix):]
	t.Root = root
	return nil
}

// MarshalJSON re-encodes a Tree, placing the root node back under its
// "scope_<name>" key alongside the static header fields.
func (t *Tree) MarshalJSON() ([]byte, error) {
	type alias Tree
	headerBytes, err := json.Marshal((*alias)(t))
	if err != nil {
		return nil, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(headerBytes, &merged); err != nil {
		return nil, err
	}
	if t.Root != nil {
		rootBytes, err := json.Marshal(t.Root)
		if err != nil {
			return nil, err
		}
		merged[scopePrefix+t.Root.Name] = rootBytes
	}
	return json.Marshal(merged)
}

// RecomputeHeader recalculates nTreeLevels and nTreeNodesInUse from the
// root's current shape, used after aggregating another tree's data in.
func (t *Tree) RecomputeHeader() {
	if t.Root == nil {
		return
	}
	t.NTreeLevels = t.Root.NumLevels()
	t.NTreeNodesInUse = t.Root.NumNodes()
}

// AggregateWith merges other into t: root nodes merge recursively, header
// failure/usage counters sum, and thread identity concatenates the way the
// original postprocessor does — multiple thread names joined with commas,
// and TIDs summed rather than listed, an oddity preserved for fidelity.
func (t *Tree) AggregateWith(other *Tree) {
	if t.Root == nil {
		t.Root = other.Root
	} else if other.Root != nil {
		t.Root.AggregateWith(other.Root)
	}
	t.ThreadName = strings.Join([]string{t.ThreadName, other.ThreadName}, ",")
	t.TID += other.TID
	t.NTreeNodesInUse += other.NTreeNodesInUse
	t.NPushNodeFailures += other.NPushNodeFailures
	t.NFreeTrackingFailed += other.NFreeTrackingFailed
	t.NVmSizeAtCreation += other.NVmSizeAtCreation
	if other.NTreeLevels > t.NTreeLevels {
		t.NTreeLevels = other.NTreeLevels
	}
	if other.NMaxTreeNodes > t.NMaxTreeNodes {
		t.NMaxTreeNodes = other.NMaxTreeNodes
	}
	t.RecomputeHeader()
}
