// Package tagstats ranks a snapshot's per-thread trees by total tracked
// bytes, the way a human-readable report picks out the few threads worth
// looking at instead of dumping every tree.
package tagstats

import (
	"sort"

	"github.com/malloctag/mtag/internal/tagtree"
)

// ThreadRanker ranks trees by total bytes tracked, optionally truncated to
// a maximum count.
type ThreadRanker struct {
	maxThreads int
}

// Option configures a ThreadRanker.
type Option func(*ThreadRanker)

// WithMaxThreads caps the number of threads Rank returns. 0 (the
// default) means no limit.
func WithMaxThreads(n int) Option {
	return func(r *ThreadRanker) { r.maxThreads = n }
}

// NewThreadRanker creates a ThreadRanker.
func NewThreadRanker(opts ...Option) *ThreadRanker {
	r := &ThreadRanker{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ThreadEntry is one tree's ranking entry.
type ThreadEntry struct {
	TID        int
	ThreadName string
	BytesTotal uint64
	Percentage float64
}

// RankingResult holds the computed ranking.
type RankingResult struct {
	Threads    []ThreadEntry
	GrandTotal uint64
}

// Rank orders trees by PeekTotalBytes descending, computing each entry's
// share of the grand total, and truncates to maxThreads if configured.
func (r *ThreadRanker) Rank(trees []*tagtree.Tree) *RankingResult {
	result := &RankingResult{Threads: make([]ThreadEntry, 0, len(trees))}
	if len(trees) == 0 {
		return result
	}

	entries := make([]ThreadEntry, 0, len(trees))
	var grandTotal uint64
	for _, t := range trees {
		total := t.PeekTotalBytes()
		grandTotal += total
		entries = append(entries, ThreadEntry{
			TID:        t.ThreadID(),
			ThreadName: t.ThreadName(),
			BytesTotal: total,
		})
	}

	for i := range entries {
		if grandTotal > 0 {
			entries[i].Percentage = float64(entries[i].BytesTotal) / float64(grandTotal) * 100
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].BytesTotal > entries[j].BytesTotal
	})

	if r.maxThreads > 0 && len(entries) > r.maxThreads {
		entries = entries[:r.maxThreads]
	}

	result.Threads = entries
	result.GrandTotal = grandTotal
	return result
}

// ByTID returns the ranked entry for tid, or nil if absent.
func (res *RankingResult) ByTID(tid int) *ThreadEntry {
	for i := range res.Threads {
		if res.Threads[i].TID == tid {
			return &res.Threads[i]
		}
	}
	return nil
}
