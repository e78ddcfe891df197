package store

import (
	"errors"
	"fmt"
	"slices"

	"github.com/brensch/panotree/hoo"
	"github.com/brensch/panotree/render"
)

var ErrNoRoot = errors.New("store: node log has no root record")

// ViewNode is a node rebuilt from a log. Left holds the even branch id
// child and Right the odd one.
type ViewNode struct {
	render.NodeRecord
	Left, Right *ViewNode
}

func sortBySeq(rows []NodeRow) {
	slices.SortStableFunc(rows, func(a, b NodeRow) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}

// BuildTree attaches every record to its parent. Records whose parent has
// not been seen are skipped; a duplicate id replaces nothing.
func BuildTree(recs []render.NodeRecord) (*ViewNode, error) {
	rootID := hoo.NodeID(0, 1)
	byID := make(map[string]*ViewNode, len(recs))

	var root *ViewNode
	for _, rec := range recs {
		if rec.ID == rootID {
			root = &ViewNode{NodeRecord: rec}
			byID[rec.ID] = root
			break
		}
	}
	if root == nil {
		return nil, ErrNoRoot
	}

	for _, rec := range recs {
		if _, seen := byID[rec.ID]; seen {
			continue
		}
		parent, ok := byID[rec.ParentID]
		if !ok {
			continue
		}
		if rec.BranchID/2 != parent.BranchID || rec.Depth != parent.Depth+1 {
			return nil, fmt.Errorf("store: node %s does not descend from %s", rec.ID, rec.ParentID)
		}
		n := &ViewNode{NodeRecord: rec}
		if rec.BranchID%2 == 0 {
			parent.Left = n
		} else {
			parent.Right = n
		}
		byID[rec.ID] = n
	}
	return root, nil
}

func (n *ViewNode) IsLeaf() bool { return n.Left == nil && n.Right == nil }

func (n *ViewNode) Children() []*ViewNode {
	var out []*ViewNode
	if n.Left != nil {
		out = append(out, n.Left)
	}
	if n.Right != nil {
		out = append(out, n.Right)
	}
	return out
}

// Walk visits the subtree in pre-order, left before right, until fn returns
// false.
func (n *ViewNode) Walk(fn func(*ViewNode) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	if !n.Left.Walk(fn) {
		return false
	}
	return n.Right.Walk(fn)
}

func (n *ViewNode) Len() int {
	count := 0
	n.Walk(func(*ViewNode) bool {
		count++
		return true
	})
	return count
}

// Prune collapses every subtree whose children have an extent below
// lowerSizeBound on any axis. The collapsed node keeps its own photo
// scorings followed by those of all its descendants. It returns the number
// of nodes removed.
func (n *ViewNode) Prune(lowerSizeBound float64) int {
	if n == nil || n.IsLeaf() {
		return 0
	}

	for _, c := range n.Children() {
		if c.Bounds().MinExtent() < lowerSizeBound {
			removed := 0
			var merged []render.PhotoScoring
			merged = append(merged, n.PhotoScorings...)
			for _, child := range n.Children() {
				child.Walk(func(d *ViewNode) bool {
					merged = append(merged, d.PhotoScorings...)
					removed++
					return true
				})
			}
			n.PhotoScorings = merged
			n.Left, n.Right = nil, nil
			return removed
		}
	}

	return n.Left.Prune(lowerSizeBound) + n.Right.Prune(lowerSizeBound)
}

// Select returns the nodes whose value is at least threshold, in pre-order.
func (n *ViewNode) Select(threshold float64) []*ViewNode {
	var out []*ViewNode
	n.Walk(func(v *ViewNode) bool {
		if v.Value >= threshold {
			out = append(out, v)
		}
		return true
	})
	return out
}

// Records flattens the subtree back into records, in pre-order.
func (n *ViewNode) Records() []render.NodeRecord {
	var out []render.NodeRecord
	n.Walk(func(v *ViewNode) bool {
		out = append(out, v.NodeRecord)
		return true
	})
	return out
}
