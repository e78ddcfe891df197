// Package hoo implements Hierarchical Optimistic Optimization over an
// axis-aligned box: a binary partition tree whose nodes carry bandit
// statistics and are bisected the first time a value is backpropagated into
// them.
package hoo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/brensch/panotree/space"
)

// Config holds the HOO hyperparameters.
type Config struct {
	C      float64 // exploration weight
	V1     float64 // regularisation scale
	Rho    float64 // regularisation decay per depth, in (0,1)
	Policy Policy
	Seed   int64
}

// DefaultConfig matches the values the explorer ships with.
func DefaultConfig() Config {
	return Config{C: 0.2, V1: 0.5, Rho: 0.5, Policy: PolicySize, Seed: 42}
}

func (c Config) Validate() error {
	switch {
	case !(c.C > 0):
		return fmt.Errorf("%w: c must be > 0, got %g", ErrInvalidConfig, c.C)
	case !(c.V1 > 0):
		return fmt.Errorf("%w: v1 must be > 0, got %g", ErrInvalidConfig, c.V1)
	case !(c.Rho > 0 && c.Rho < 1):
		return fmt.Errorf("%w: rho must be in (0,1), got %g", ErrInvalidConfig, c.Rho)
	case !c.Policy.valid():
		return fmt.Errorf("%w: unknown %s", ErrInvalidConfig, c.Policy)
	}
	return nil
}

// Tree is a HOO partition tree. The root lives at handle 0. A Tree is not
// safe for concurrent use.
type Tree struct {
	cfg   Config
	nodes []Node

	// pending is the node handed out by the last SamplePosition and not yet
	// backpropagated.
	pending Handle

	// steps counts tree creation plus every SamplePosition call and feeds
	// the exploration bonus.
	steps int
}

// New builds a tree holding only the root box.
func New(bounds space.Bounds, cfg Config) (*Tree, error) {
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tree{
		cfg:     cfg,
		nodes:   make([]Node, 0, 64),
		pending: NoNode,
		steps:   1,
	}
	t.nodes = append(t.nodes, newNode(bounds, 0, 1, NoNode))
	return t, nil
}

// SamplePosition descends from the root along the larger B until it reaches
// a node that was never sampled, marks it pending and returns its center
// and depth.
func (t *Tree) SamplePosition() (r3.Vec, int, error) {
	if t.pending != NoNode {
		return r3.Vec{}, 0, ErrSamplePending
	}
	t.steps++

	h := Handle(0)
	for {
		n := &t.nodes[h]
		first := n.Visits == 0
		n.Visits++
		// Nodes at MaxDepth are never split and get resampled in place.
		if first || n.IsLeaf() {
			t.pending = h
			return n.Bounds.Center(), n.Depth, nil
		}
		h = t.descend(h)
	}
}

// descend picks the child to explore next. Equal bounds, including the
// +Inf pair of two fresh children, are broken by the node's tie-break draw.
func (t *Tree) descend(h Handle) Handle {
	n := &t.nodes[h]
	left, right := t.nodes[n.Left].B, t.nodes[n.Right].B
	switch {
	case left == right:
		if n.draw(t.cfg.Seed, decisionTieBreak) < 0.5 {
			return n.Left
		}
		return n.Right
	case left < right:
		return n.Right
	default:
		return n.Left
	}
}

// Backpropagate assigns value to the pending node, splits it and updates
// the statistics of every node up to the root. It returns the handle of the
// evaluated node.
func (t *Tree) Backpropagate(value float64) (Handle, error) {
	if t.pending == NoNode {
		return NoNode, ErrNoSample
	}
	if math.IsNaN(value) {
		return NoNode, ErrInvalidValue
	}

	h := t.pending
	t.pending = NoNode

	n := &t.nodes[h]
	n.Value = value
	n.B = value
	n.Best = value
	if n.IsLeaf() && n.Depth < MaxDepth {
		t.split(h)
	}
	t.climb(h, value)
	return h, nil
}

func (t *Tree) split(h Handle) {
	axis := t.chooseAxis(h)

	parent := t.nodes[h]
	lb, rb := parent.Bounds.Bisect(axis)
	left := Handle(len(t.nodes))
	t.nodes = append(t.nodes,
		newNode(lb, parent.Depth+1, parent.BranchID<<1, h),
		newNode(rb, parent.Depth+1, parent.BranchID<<1|1, h),
	)

	n := &t.nodes[h]
	n.SplitAxis = axis
	n.Left = left
	n.Right = left + 1
}

func (t *Tree) chooseAxis(h Handle) space.Axis {
	n := &t.nodes[h]
	if t.cfg.Policy == PolicyXYZ {
		return space.Axis(n.Depth % 3)
	}
	return pickAxis(axisProbabilities(n.Bounds), n.draw(t.cfg.Seed, decisionAxis))
}

// climb walks from h to the root. The root only accumulates its sum and
// best value; every other node also refreshes its B.
func (t *Tree) climb(h Handle, value float64) {
	logSteps := math.Log(float64(t.steps))
	for ; h != NoNode; h = t.nodes[h].Parent {
		n := &t.nodes[h]
		n.Sum += value
		n.Best = math.Max(n.Best, value)
		if n.Parent == NoNode {
			return
		}

		visits := float64(n.Visits)
		mean := n.Sum / visits
		bonus := t.cfg.C * math.Sqrt(2*logSteps/visits)
		reg := t.cfg.V1 * math.Pow(t.cfg.Rho, float64(n.Depth))
		n.B = math.Min(mean+bonus+reg, t.childBound(n))
	}
}

func (t *Tree) childBound(n *Node) float64 {
	if n.IsLeaf() {
		return math.Inf(1)
	}
	return math.Max(t.nodes[n.Left].B, t.nodes[n.Right].B)
}

func (t *Tree) Config() Config { return t.cfg }

// Steps is the counter used in the exploration bonus.
func (t *Tree) Steps() int { return t.steps }

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Root() Node { return t.nodes[0] }

// Pending returns the node awaiting a value, or NoNode.
func (t *Tree) Pending() Handle { return t.pending }

// Node returns a copy of the node at h.
func (t *Tree) Node(h Handle) (Node, bool) {
	if h < 0 || int(h) >= len(t.nodes) {
		return Node{}, false
	}
	return t.nodes[h], true
}

// ParentID returns the identity of h's parent, empty for the root.
func (t *Tree) ParentID(h Handle) string {
	n, ok := t.Node(h)
	if !ok || n.Parent == NoNode {
		return ""
	}
	return t.nodes[n.Parent].ID()
}

// Snapshot copies the node store. Handles stay valid against the copy.
func (t *Tree) Snapshot() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Walk visits the tree in pre-order, left before right. Returning false
// from fn skips the node's subtree.
func (t *Tree) Walk(fn func(h Handle, n Node) bool) {
	stack := []Handle{0}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := t.nodes[h]
		if !fn(h, n) || n.IsLeaf() {
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
}
