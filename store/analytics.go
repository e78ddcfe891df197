package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Analytics queries node logs in place through a DuckDB view named nodes.
type Analytics struct {
	db *sql.DB
}

// DepthSummary aggregates the nodes evaluated at one depth.
type DepthSummary struct {
	Depth     int
	Nodes     int64
	MeanValue float64
	MaxValue  float64
	Photos    int64
}

// NodeSummary is one row of TopNodes.
type NodeSummary struct {
	File      string
	SessionID string
	ID        string
	Depth     int
	Value     float64
	B         float64
	Photos    int64
}

// OpenAnalytics opens an in-memory DuckDB over the given node logs. A
// directory stands for every node log directly inside it.
func OpenAnalytics(paths ...string) (*Analytics, error) {
	sources := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if st, err := os.Stat(p); err == nil && st.IsDir() {
			p = filepath.Join(p, "*_nodes.parquet")
		}
		sources = append(sources, "'"+escapeSQLString(p)+"'")
	}
	if len(sources) == 0 {
		return nil, errors.New("store: no node logs to analyse")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	sqlText := `CREATE OR REPLACE VIEW nodes AS
		SELECT * FROM read_parquet([` + strings.Join(sources, ",") + `], filename=true, union_by_name=true)`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create nodes view: %w", err)
	}
	return &Analytics{db: db}, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (a *Analytics) Close() error {
	return a.db.Close()
}

// Count returns the number of node rows across all logs.
func (a *Analytics) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// DepthSummary returns one row per depth, shallowest first.
func (a *Analytics) DepthSummary(ctx context.Context) ([]DepthSummary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			depth,
			COUNT(*) AS nodes,
			AVG(value) AS mean_value,
			MAX(value) AS max_value,
			CAST(COALESCE(SUM(len(photo_scorings)), 0) AS BIGINT) AS photos
		FROM nodes
		GROUP BY depth
		ORDER BY depth`)
	if err != nil {
		return nil, fmt.Errorf("store: depth summary: %w", err)
	}
	defer rows.Close()

	var out []DepthSummary
	for rows.Next() {
		var s DepthSummary
		if err := rows.Scan(&s.Depth, &s.Nodes, &s.MeanValue, &s.MaxValue, &s.Photos); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TopNodes returns the k highest valued nodes. Ties go to the shallower
// node.
func (a *Analytics) TopNodes(ctx context.Context, k int) ([]NodeSummary, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT filename, session_id, id, depth, value, b, CAST(len(photo_scorings) AS BIGINT)
		FROM nodes
		ORDER BY value DESC, depth ASC, id ASC
		LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("store: top nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeSummary
	for rows.Next() {
		var s NodeSummary
		if err := rows.Scan(&s.File, &s.SessionID, &s.ID, &s.Depth, &s.Value, &s.B, &s.Photos); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
