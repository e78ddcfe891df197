// Package store persists exploration sessions as parquet logs, rebuilds
// node trees from them and queries them with DuckDB.
package store

import (
	"github.com/brensch/panotree/render"
)

const (
	nodeSchema = "panotree_node_v1"
	gridSchema = "panotree_grid_v1"
)

// NodeRow is one evaluated node. Seq keeps evaluation order.
type NodeRow struct {
	SessionID     string                `parquet:"session_id,dict"`
	WorldID       string                `parquet:"world_id,dict"`
	Seq           int64                 `parquet:"seq"`
	ID            string                `parquet:"id"`
	BranchID      uint64                `parquet:"branch_id"`
	ParentID      string                `parquet:"parent_id"`
	Depth         int32                 `parquet:"depth"`
	Min           render.Vector3        `parquet:"min"`
	Max           render.Vector3        `parquet:"max"`
	Value         float64               `parquet:"value"`
	B             float64               `parquet:"b"`
	PhotoScorings []render.PhotoScoring `parquet:"photo_scorings"`
}

func (r NodeRow) Record() render.NodeRecord {
	return render.NodeRecord{
		ID:            r.ID,
		BranchID:      r.BranchID,
		ParentID:      r.ParentID,
		Depth:         int(r.Depth),
		Min:           r.Min,
		Max:           r.Max,
		Value:         r.Value,
		B:             r.B,
		PhotoScorings: r.PhotoScorings,
	}
}

// GridRow is one refined grid point of a selected node.
type GridRow struct {
	SessionID     string                `parquet:"session_id,dict"`
	NodeID        string                `parquet:"node_id,dict"`
	GridID        string                `parquet:"grid_id"`
	Position      render.Vector3        `parquet:"position"`
	BestScore     float64               `parquet:"best_score"`
	PhotoScorings []render.PhotoScoring `parquet:"photo_scorings"`
}

func (r GridRow) LeafGridNode() render.LeafGridNode {
	return render.LeafGridNode{
		GridID:        r.GridID,
		NodeID:        r.NodeID,
		Position:      r.Position,
		PhotoScorings: r.PhotoScorings,
	}
}
