package tagpost

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Snapshot mirrors the top-level JSON document produced by a running
// profiler: process-wide header fields plus one Tree per thread, keyed
// "tree_for_TID<tid>".
type Snapshot struct {
	PID                      int     `json:"PID"`
	TmStartProfiling         string  `json:"tmStartProfiling"`
	TmCurrentSnapshot        string  `json:"tmCurrentSnapshot"`
	NBytesAllocBeforeInit    uint64  `json:"nBytesAllocBeforeInit"`
	NBytesMallocTagSelfUsage uint64  `json:"nBytesMallocTagSelfUsage"`
	VmSizeNowBytes           uint64  `json:"vmSizeNowBytes"`
	VmRSSNowBytes            uint64  `json:"vmRSSNowBytes"`
	NTotalTrackedBytes       uint64  `json:"nTotalTrackedBytes"`
	Trees                    []*Tree `json:"-"`
}

// ParseSnapshot decodes a snapshot document, pulling each "tree_for_TID*"
// entry out into Trees and the remaining fields into the header.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tagpost: parse snapshot: %w", err)
	}

	snap := &Snapshot{}
	headerOnly := map[string]json.RawMessage{}
	for key, v := range raw {
		if strings.HasPrefix(key, treePrefix) {
			tree := &Tree{}
			if err := json.Unmarshal(v, tree); err != nil {
				return nil, fmt.Errorf("tagpost: parse %s: %w", key, err)
			}
			snap.Trees = append(snap.Trees, tree)
			continue
		}
		headerOnly[key] = v
	}
	headerBytes, err := json.Marshal(headerOnly)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(headerBytes, snap); err != nil {
		return nil, fmt.Errorf("tagpost: parse snapshot header: %w", err)
	}

	sort.Slice(snap.Trees, func(i, j int) bool { return snap.Trees[i].TID < snap.Trees[j].TID })
	return snap, nil
}

// MarshalJSON re-encodes a Snapshot, placing each Tree back under its
// "tree_for_TID<tid>" key alongside the static header fields.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	headerBytes, err := json.Marshal((*alias)(s))
	if err != nil {
		return nil, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(headerBytes, &merged); err != nil {
		return nil, err
	}
	for _, tree := range s.Trees {
		treeBytes, err := json.Marshal(tree)
		if err != nil {
			return nil, err
		}
		merged[treePrefix+strconv.Itoa(tree.TID)] = treeBytes
	}
	return json.Marshal(merged)
}

// TreeByTID returns the tree for tid, or nil if absent.
func (s *Snapshot) TreeByTID(tid int) *Tree {
	for _, t := range s.Trees {
		if t.TID == tid {
			return t
		}
	}
	return nil
}
