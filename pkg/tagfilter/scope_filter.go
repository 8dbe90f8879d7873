// Package tagfilter provides name matching for the postprocess aggregation
// rules: "aggregate_trees" groups trees whose thread name matches a
// regular expression anchored at the start of the name.
package tagfilter

import (
	"fmt"
	"regexp"
	"sync"
)

// ScopeFilter matches thread/scope names against a set of named patterns,
// caching the compiled regexes since a postprocess run can apply a pattern
// against every tree in a snapshot.
type ScopeFilter struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewScopeFilter returns an empty ScopeFilter.
func NewScopeFilter() *ScopeFilter {
	return &ScopeFilter{patterns: make(map[string]*regexp.Regexp)}
}

// Compile parses and caches pattern, returning an error if it isn't a valid
// regular expression. Patterns are anchored at the start of the name, matching
// the original tool's re.match semantics rather than re.search.
func (f *ScopeFilter) Compile(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("tagfilter: invalid matching_prefix %q: %w", pattern, err)
	}
	f.mu.Lock()
	f.patterns[pattern] = re
	f.mu.Unlock()
	return nil
}

// Matches reports whether name matches pattern, compiling and caching the
// pattern on first use.
func (f *ScopeFilter) Matches(pattern, name string) (bool, error) {
	f.mu.RLock()
	re, ok := f.patterns[pattern]
	f.mu.RUnlock()
	if !ok {
		if err := f.Compile(pattern); err != nil {
			return false, err
		}
		f.mu.RLock()
		re = f.patterns[pattern]
		f.mu.RUnlock()
	}
	loc := re.FindIndex([]byte(name))
	return loc != nil && loc[0] == 0, nil
}

// MatchingNames returns the subset of names matching pattern, in the order
// given, mirroring postprocess.py's matching_tids list comprehension.
func (f *ScopeFilter) MatchingNames(pattern string, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		ok, err := f.Matches(pattern, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// ClearCache drops all compiled patterns.
func (f *ScopeFilter) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = make(map[string]*regexp.Regexp)
}
