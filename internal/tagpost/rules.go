package tagpost

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/malloctag/mtag/pkg/tagfilter"
)

// AggregateTreesRule merges every tree whose ThreadName matches
// MatchingPrefix into a single tree, keeping the lowest-TID match as the
// merge target. MatchingPrefix is a regular expression matched the way
// Python's re.match anchors: against the start of the string, not
// necessarily the whole of it.
type AggregateTreesRule struct {
	MatchingPrefix string `json:"matching_prefix"`
}

// Rule is one named entry of a postprocess config file, e.g.
//
//	{"rule0": {"aggregate_trees": {"matching_prefix": "worker-.*"}}}
type Rule struct {
	AggregateTrees *AggregateTreesRule `json:"aggregate_trees,omitempty"`
}

// Config is an ordered set of named rules applied in file order.
type Config struct {
	order []string
	rules map[string]*Rule
}

// LoadConfig parses a postprocess rules file. Key order in the source
// JSON object is not preserved by encoding/json, so rule names are
// sorted lexicographically before application; conventional "ruleN"
// naming keeps that consistent with declaration order.
func LoadConfig(data []byte) (*Config, error) {
	raw := map[string]*Rule{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tagpost: parse postprocess config: %w", err)
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Config{order: names, rules: raw}, nil
}

// Apply runs every configured rule against snap in order, mutating it
// in place, then returns it for chaining.
func (c *Config) Apply(snap *Snapshot, filter *tagfilter.ScopeFilter) (*Snapshot, error) {
	for _, name := range c.order {
		rule := c.rules[name]
		if rule.AggregateTrees == nil {
			continue
		}
		if err := applyAggregateTrees(snap, filter, rule.AggregateTrees); err != nil {
			return nil, fmt.Errorf("tagpost: rule %s: %w", name, err)
		}
	}
	return snap, nil
}

func applyAggregateTrees(snap *Snapshot, filter *tagfilter.ScopeFilter, rule *AggregateTreesRule) error {
	if err := filter.Compile(rule.MatchingPrefix); err != nil {
		return err
	}

	var matched []*Tree
	var kept []*Tree
	for _, tree := range snap.Trees {
		ok, err := filter.Matches(rule.MatchingPrefix, tree.ThreadName)
		if err != nil {
			return err
		}
		if ok {
			matched = append(matched, tree)
		} else {
			kept = append(kept, tree)
		}
	}
	if len(matched) < 2 {
		return nil
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].TID < matched[j].TID })
	target := matched[0]
	for _, extra := range matched[1:] {
		target.AggregateWith(extra)
	}
	kept = append(kept, target)
	sort.Slice(kept, func(i, j int) bool { return kept[i].TID < kept[j].TID })
	snap.Trees = kept
	return nil
}
