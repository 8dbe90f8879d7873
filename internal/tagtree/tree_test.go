package tagtree

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malloctag/mtag/internal/tagcap"
	"github.com/malloctag/mtag/internal/tagnode"
)

func smallLimits() tagcap.Limits {
	return tagcap.Limits{MaxNameLen: 32, MaxSiblings: 16, MaxNodes: 50, MaxLevels: 3}
}

func TestTree_PushPopRoundTrip(t *testing.T) {
	tree := NewMain(smallLimits(), 1, "unit_tests", 0)
	require.True(t, tree.Push("Level1"))
	require.True(t, tree.Push("Level2"))
	tree.TrackAllocInCursor(tagnode.Malloc, 26)
	tree.Pop()
	tree.Pop()
	assert.Equal(t, 3, tree.NodesInUse()) // root + Level1 + Level2
}

func TestTree_Push_DedupsExistingChild(t *testing.T) {
	tree := NewMain(smallLimits(), 1, "unit_tests", 0)
	require.True(t, tree.Push("A"))
	tree.Pop()
	require.True(t, tree.Push("A"))
	tree.Pop()
	assert.Equal(t, 2, tree.NodesInUse()) // root + A, not two As
}

func TestTree_TooManyLevels(t *testing.T) {
	// MAX_LEVELS=3, MAX_NODES=50: pushing 5 nested scopes collapses at level 3.
	tree := NewMain(tagcap.Limits{MaxNameLen: 32, MaxSiblings: 16, MaxNodes: 50, MaxLevels: 3}, 1, "unit_tests", 0)

	ok1 := tree.Push("Level1")
	ok2 := tree.Push("Level2")
	tree.TrackAllocInCursor(tagnode.Malloc, 26)
	ok3 := tree.Push("Level3")
	ok4 := tree.Push("Level4")
	ok5 := tree.Push("Level5")
	tree.TrackAllocInCursor(tagnode.Malloc, 1999)

	require.True(t, ok1)
	require.True(t, ok2)
	require.True(t, ok3)
	assert.False(t, ok4)
	assert.False(t, ok5)
	assert.Equal(t, uint64(2), tree.PushFailures())

	if ok5 {
		tree.Pop()
	}
	if ok4 {
		tree.Pop()
	}
	tree.Pop() // Level3
	tree.Pop() // Level2
	tree.Pop() // Level1
}

func TestTree_TooManyNodes(t *testing.T) {
	// MAX_NODES=3: root consumes one slot, leaving room for exactly two
	// more pushes before the pool is exhausted.
	limits := tagcap.Limits{MaxNameLen: 32, MaxSiblings: 16, MaxNodes: 3, MaxLevels: 256}
	tree := NewMain(limits, 1, "unit_tests", 0)

	ok1 := tree.Push("A")
	ok2 := tree.Push("B")
	ok3 := tree.Push("C")

	require.True(t, ok1)
	require.True(t, ok2)
	assert.False(t, ok3, "pool exhaustion must fail the push")
	assert.Equal(t, uint64(1), tree.PushFailures())
	assert.Equal(t, 3, tree.NodesInUse()) // root + A + B, C never allocated
}

func TestTree_TooManySiblings(t *testing.T) {
	limits := tagcap.Limits{MaxNameLen: 32, MaxSiblings: 16, MaxNodes: 50, MaxLevels: 256}
	tree := NewMain(limits, 1, "unit_tests", 0)

	require.True(t, tree.Push("TooManySib"))
	for i := 0; i < 17; i++ {
		ok := tree.Push("dummy" + strconv.Itoa(i))
		if i < 16 {
			require.True(t, ok, "sibling %d should push", i)
			tree.Pop()
		} else {
			assert.False(t, ok, "17th sibling must fail")
		}
	}
	assert.Equal(t, uint64(1), tree.PushFailures())
}

func TestTree_Pop_PastRootPanics(t *testing.T) {
	tree := NewMain(smallLimits(), 1, "unit_tests", 0)
	assert.Panics(t, func() { tree.Pop() })
}

func TestTree_SerializeJSON_ContainsTreeHeader(t *testing.T) {
	tree := NewMain(smallLimits(), 7, "worker", 0)
	require.True(t, tree.Push("work"))
	tree.TrackAllocInCursor(tagnode.Malloc, 500)
	tree.Pop()

	var sb strings.Builder
	tree.SerializeJSON(&sb, 0)
	out := sb.String()

	assert.Contains(t, out, `"tree_for_TID7":{`)
	assert.Contains(t, out, `"nTreeNodesInUse":2`)
	assert.Contains(t, out, `"scope_work"`)
}

func TestTree_SerializeDOT_WrapsSubgraph(t *testing.T) {
	tree := NewMain(smallLimits(), 7, "worker", 0)
	var sb strings.Builder
	tree.SerializeDOT(&sb, 0)
	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "subgraph cluster_Tree_TID7"))
}
