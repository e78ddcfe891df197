package hoo

import (
	"fmt"
	"math"

	"github.com/brensch/panotree/space"
)

// Handle addresses a node inside its Tree.
type Handle int

// NoNode marks an absent parent or child.
const NoNode Handle = -1

// MaxDepth is the deepest level a node can be split at. Children below it
// would overflow the 64 bit branch id.
const MaxDepth = 62

// Node is a box of the search space plus its bandit statistics.
type Node struct {
	Bounds   space.Bounds
	Depth    int
	BranchID uint64

	Visits int
	Sum    float64
	Best   float64
	Value  float64
	B      float64

	// SplitAxis is only meaningful once Left and Right are set.
	SplitAxis space.Axis

	Parent Handle
	Left   Handle
	Right  Handle

	draws [numDecisions]float64
	drawn [numDecisions]bool
}

func newNode(b space.Bounds, depth int, branchID uint64, parent Handle) Node {
	return Node{
		Bounds:   b,
		Depth:    depth,
		BranchID: branchID,
		Best:     math.Inf(-1),
		Value:    math.Inf(1),
		B:        math.Inf(1),
		Parent:   parent,
		Left:     NoNode,
		Right:    NoNode,
	}
}

// NodeID formats the tree-wide identity of a node.
func NodeID(depth int, branchID uint64) string {
	return fmt.Sprintf("%04d-%08d", depth, branchID)
}

func (n Node) ID() string {
	return NodeID(n.Depth, n.BranchID)
}

func (n Node) IsLeaf() bool {
	return n.Left == NoNode
}

// Evaluated reports whether a value was ever backpropagated into the node.
func (n Node) Evaluated() bool {
	return !math.IsInf(n.Best, -1)
}

// Mean is the average value seen through the node, 0 before any visit.
func (n Node) Mean() float64 {
	if n.Visits == 0 {
		return 0
	}
	return n.Sum / float64(n.Visits)
}
