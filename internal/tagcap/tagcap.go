// Package tagcap holds the compile-time capacity defaults shared by the
// node/tree/registry layers. The engine's Init overrides MaxNodes and
// MaxLevels at runtime; the other caps always take the values below.
package tagcap

const (
	// DefaultMaxNameLen bounds a scope name, NUL terminator included.
	DefaultMaxNameLen = 32
	// DefaultMaxSiblings bounds the number of children a single node may link.
	DefaultMaxSiblings = 16
	// DefaultMaxNodes bounds the total node pool size of one tree.
	DefaultMaxNodes = 256
	// DefaultMaxLevels bounds how deep a tree's cursor may descend.
	DefaultMaxLevels = 256
	// DefaultMaxTrees bounds how many per-thread trees the registry holds.
	DefaultMaxTrees = 128
	// WeightScale is the integer scale factor used for weight_total/weight_self.
	WeightScale = 10000
)

// Limits bundles the caps a Tree is constructed with. Secondary trees
// inherit these from the main tree, per the registry's ownership rules.
type Limits struct {
	MaxNameLen  int
	MaxSiblings int
	MaxNodes    int
	MaxLevels   int
}

// DefaultLimits returns the spec's compile-time defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxNameLen:  DefaultMaxNameLen,
		MaxSiblings: DefaultMaxSiblings,
		MaxNodes:    DefaultMaxNodes,
		MaxLevels:   DefaultMaxLevels,
	}
}

// TruncateName copy-truncates a scope name to fit MaxNameLen-1 bytes,
// leaving room for the conceptual NUL terminator of the original C API.
func (l Limits) TruncateName(name string) string {
	max := l.MaxNameLen - 1
	if max < 0 {
		max = 0
	}
	if len(name) <= max {
		return name
	}
	return name[:max]
}
