package tagpost

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNodeJSON = `{
	"nBytesTotalAllocated":1000,
	"nBytesSelfAllocated":200,
	"nBytesSelfFreed":50,
	"nTimesEnteredAndExited":3,
	"nWeightPercentage":10.5,
	"nCallsTo_malloc":4,
	"nCallsTo_realloc":1,
	"nCallsTo_calloc":0,
	"nCallsTo_free":2,
	"nestedScopes":{
		"scope_child_a":{
			"nBytesTotalAllocated":800,
			"nBytesSelfAllocated":800,
			"nBytesSelfFreed":0,
			"nTimesEnteredAndExited":1,
			"nWeightPercentage":8.0,
			"nCallsTo_malloc":2,
			"nCallsTo_realloc":0,
			"nCallsTo_calloc":0,
			"nCallsTo_free":0,
			"nestedScopes":{}
		}
	}
}`

func TestNode_UnmarshalJSON_StripsScopePrefix(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(sampleNodeJSON), &n))

	assert.Equal(t, uint64(1000), n.NBytesTotalAllocated)
	require.Contains(t, n.NestedScopes, "child_a")
	assert.Equal(t, "child_a", n.NestedScopes["child_a"].Name)
	assert.Equal(t, uint64(800), n.NestedScopes["child_a"].NBytesTotalAllocated)
}

func TestNode_RoundTrip_PreservesScopeKeys(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(sampleNodeJSON), &n))
	n.Name = "root"

	out, err := json.Marshal(&n)
	require.NoError(t, err)

	var reparsed Node
	require.NoError(t, json.Unmarshal(out, &reparsed))
	assert.Equal(t, n.NBytesTotalAllocated, reparsed.NBytesTotalAllocated)
	require.Contains(t, reparsed.NestedScopes, "child_a")
}

func TestNode_AggregateWith_SumsCountersAndMergesChildren(t *testing.T) {
	a := &Node{NBytesTotalAllocated: 100, NCallsToMalloc: 1, NWeightPercentage: "10", NestedScopes: map[string]*Node{
		"x": {NBytesTotalAllocated: 50, NWeightPercentage: "5"},
	}}
	b := &Node{NBytesTotalAllocated: 200, NCallsToMalloc: 3, NWeightPercentage: "20", NestedScopes: map[string]*Node{
		"x": {NBytesTotalAllocated: 25, NWeightPercentage: "2.5"},
		"y": {NBytesTotalAllocated: 10, NWeightPercentage: "1"},
	}}

	a.AggregateWith(b)

	assert.Equal(t, uint64(300), a.NBytesTotalAllocated)
	assert.Equal(t, uint64(4), a.NCallsToMalloc)
	assert.Equal(t, "30", a.NWeightPercentage.String())
	require.Contains(t, a.NestedScopes, "x")
	require.Contains(t, a.NestedScopes, "y")
	assert.Equal(t, uint64(75), a.NestedScopes["x"].NBytesTotalAllocated)
	assert.Equal(t, uint64(10), a.NestedScopes["y"].NBytesTotalAllocated)
}

func TestNode_NumLevelsAndNumNodes(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(sampleNodeJSON), &n))
	assert.Equal(t, 2, n.NumLevels())
	assert.Equal(t, 2, n.NumNodes())
}
