package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/brensch/panotree/render"
)

var ErrClosed = errors.New("store: log is closed")

// logWriter streams rows into a parquet file under outDir/tmp and moves it
// into outDir on Close.
type logWriter[T any] struct {
	mu sync.Mutex

	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[T]
	rows   int
}

func newLogWriter[T any](outDir, name, schema string) (*logWriter[T], error) {
	if outDir == "" {
		return nil, fmt.Errorf("store: output dir is required")
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	tmpPath := filepath.Join(tmpDir, name)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	w := parquet.NewGenericWriter[T](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.SetKeyValueMetadata("schema", schema)

	return &logWriter[T]{
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  w,
	}, nil
}

func (l *logWriter[T]) write(rows ...T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return ErrClosed
	}
	if _, err := l.writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	l.rows += len(rows)
	return nil
}

// close finalises the file. A log without rows leaves no file behind and
// returns an empty path.
func (l *logWriter[T]) close() (string, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil && l.file == nil {
		return "", 0, nil
	}

	closeErr := l.writer.Close()
	l.writer = nil
	_ = l.file.Sync()
	fileErr := l.file.Close()
	l.file = nil
	if closeErr != nil {
		return "", 0, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return "", 0, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if l.rows == 0 {
		_ = os.Remove(l.tmpPath)
		return "", 0, nil
	}
	if err := os.Rename(l.tmpPath, l.outPath); err != nil {
		return "", 0, fmt.Errorf("rename parquet: %w", err)
	}
	return l.outPath, l.rows, nil
}

// NodeLog records every evaluated node of one exploration session. It
// implements explorer.NodeSink.
type NodeLog struct {
	w         *logWriter[NodeRow]
	sessionID string
	worldID   string
	seq       int64
}

// NodeLogName is the file a session's node log ends up in.
func NodeLogName(worldID, sessionID string) string {
	return fmt.Sprintf("%s_%s_nodes.parquet", worldID, sessionID)
}

func NewNodeLog(outDir, worldID, sessionID string) (*NodeLog, error) {
	w, err := newLogWriter[NodeRow](outDir, NodeLogName(worldID, sessionID), nodeSchema)
	if err != nil {
		return nil, err
	}
	return &NodeLog{w: w, sessionID: sessionID, worldID: worldID}, nil
}

func (l *NodeLog) RecordNode(_ context.Context, rec render.NodeRecord) error {
	l.w.mu.Lock()
	seq := l.seq
	l.seq++
	l.w.mu.Unlock()

	return l.w.write(NodeRow{
		SessionID:     l.sessionID,
		WorldID:       l.worldID,
		Seq:           seq,
		ID:            rec.ID,
		BranchID:      rec.BranchID,
		ParentID:      rec.ParentID,
		Depth:         int32(rec.Depth),
		Min:           rec.Min,
		Max:           rec.Max,
		Value:         rec.Value,
		B:             rec.B,
		PhotoScorings: rec.PhotoScorings,
	})
}

// OutPath is where the log lands once closed.
func (l *NodeLog) OutPath() string { return l.w.outPath }

// Close finalises the log and returns its path and row count.
func (l *NodeLog) Close() (string, int, error) { return l.w.close() }

// GridLog records grid refinement results next to a node log.
type GridLog struct {
	w         *logWriter[GridRow]
	sessionID string
}

// GridLogName derives the grid log name from the node log it refines.
func GridLogName(nodeLogPath string) string {
	base := filepath.Base(nodeLogPath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)] + "_grid_search.parquet"
}

func NewGridLog(outDir, nodeLogPath, sessionID string) (*GridLog, error) {
	w, err := newLogWriter[GridRow](outDir, GridLogName(nodeLogPath), gridSchema)
	if err != nil {
		return nil, err
	}
	return &GridLog{w: w, sessionID: sessionID}, nil
}

// WriteNode appends the grid points refined inside one node.
func (l *GridLog) WriteNode(nodeID string, grid []render.LeafGridNode) error {
	if len(grid) == 0 {
		return nil
	}
	rows := make([]GridRow, len(grid))
	for i, g := range grid {
		best := 0.0
		for j, ps := range g.PhotoScorings {
			if j == 0 || ps.Score > best {
				best = ps.Score
			}
		}
		rows[i] = GridRow{
			SessionID:     l.sessionID,
			NodeID:        nodeID,
			GridID:        g.GridID,
			Position:      g.Position,
			BestScore:     best,
			PhotoScorings: g.PhotoScorings,
		}
	}
	return l.w.write(rows...)
}

func (l *GridLog) OutPath() string { return l.w.outPath }

func (l *GridLog) Close() (string, int, error) { return l.w.close() }

func readRows[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[T](pf)
	defer reader.Close()

	out := make([]T, 0, reader.NumRows())
	buf := make([]T, 256)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet %s: %w", path, err)
		}
	}
	return out, nil
}

// ReadNodeLog returns the records of a node log in evaluation order.
func ReadNodeLog(path string) ([]render.NodeRecord, error) {
	rows, err := readRows[NodeRow](path)
	if err != nil {
		return nil, err
	}
	sortBySeq(rows)
	recs := make([]render.NodeRecord, len(rows))
	for i, r := range rows {
		recs[i] = r.Record()
	}
	return recs, nil
}

func ReadGridLog(path string) ([]GridRow, error) {
	return readRows[GridRow](path)
}
