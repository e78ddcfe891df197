// Package explorer drives the HOO search: it samples a position from the
// tree, lays out the rollout cameras around it, and feeds the aggregated
// scores back into the tree.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/brensch/panotree/hoo"
	"github.com/brensch/panotree/render"
	"github.com/brensch/panotree/rollout"
	"github.com/brensch/panotree/space"
)

var (
	ErrInvalidConfig = errors.New("explorer: invalid config")
	ErrNotReady      = errors.New("explorer: setup has not been called")
	ErrScoreCount    = errors.New("explorer: score count does not match camera batch")
	ErrNoScores      = errors.New("explorer: no scores to aggregate")
)

// Renderer turns camera parameters into one image each, in order.
type Renderer interface {
	Render(ctx context.Context, cams []render.CameraParameter) ([]image.Image, error)
}

// Scorer rates each image, preserving count and order.
type Scorer interface {
	Score(ctx context.Context, images []image.Image) ([]float64, error)
}

type BoundingBoxProvider interface {
	BoundingBox(ctx context.Context) (space.Bounds, error)
}

// NodeSink receives every evaluated node exactly once, in evaluation order.
type NodeSink interface {
	RecordNode(ctx context.Context, rec render.NodeRecord) error
}

// offsetScale spaces the offset ring around a sampled position.
const offsetScale = 1.0

type Config struct {
	Tree               hoo.Config
	NumDirections      int
	NumPositionOffsets int
	Strategy           Strategy
}

func DefaultConfig() Config {
	return Config{
		Tree:          hoo.DefaultConfig(),
		NumDirections: 21,
		Strategy:      StrategyMax,
	}
}

// Evaluation describes the node one IngestScores call evaluated.
type Evaluation struct {
	Node  hoo.Handle
	Value float64
	Depth int
}

// Explorer owns one tree and one sampler. It is not safe for concurrent
// use; see Runner.
type Explorer struct {
	cfg     Config
	sampler *rollout.Sampler
	tree    *hoo.Tree

	position r3.Vec
	depth    int

	batch []render.CameraParameter
}

func New(cfg Config) (*Explorer, error) {
	if err := cfg.Tree.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy != StrategyMax && cfg.Strategy != StrategyMean {
		return nil, fmt.Errorf("%w: unknown %s", ErrInvalidConfig, cfg.Strategy)
	}
	sampler, err := rollout.New(cfg.NumDirections, cfg.NumPositionOffsets)
	if err != nil {
		return nil, err
	}
	return &Explorer{cfg: cfg, sampler: sampler}, nil
}

// Setup builds a fresh tree over bounds and samples its first position.
func (e *Explorer) Setup(bounds space.Bounds) error {
	tree, err := hoo.New(bounds, e.cfg.Tree)
	if err != nil {
		return err
	}
	pos, depth, err := tree.SamplePosition()
	if err != nil {
		return err
	}
	e.tree = tree
	e.position = pos
	e.depth = depth
	e.batch = nil
	e.sampler.Reset()
	return nil
}

func (e *Explorer) Ready() bool { return e.tree != nil }

// Tree returns the live tree, nil before Setup.
func (e *Explorer) Tree() *hoo.Tree { return e.tree }

// Position is the sampled position the next camera batch is built around.
func (e *Explorer) Position() (r3.Vec, int) { return e.position, e.depth }

func (e *Explorer) Config() Config { return e.cfg }

// CameraParameters lays out the full rollout around the current position.
// The batch is kept for the next IngestScores call.
func (e *Explorer) CameraParameters() ([]render.CameraParameter, error) {
	if e.tree == nil {
		return nil, ErrNotReady
	}
	views := e.sampler.Enumerate(e.position, offsetScale)
	cams := make([]render.CameraParameter, len(views))
	for i, v := range views {
		cams[i] = render.NewCameraParameter(v.Position, v.Direction)
	}
	e.batch = cams
	return cams, nil
}

// IngestScores aggregates the scores of the last camera batch, backpropagates
// the value and samples the next position.
func (e *Explorer) IngestScores(scores []float64) (Evaluation, error) {
	if e.tree == nil {
		return Evaluation{}, ErrNotReady
	}
	if e.batch == nil {
		return Evaluation{}, fmt.Errorf("%w: no camera batch was produced", ErrScoreCount)
	}
	if len(scores) != len(e.batch) {
		return Evaluation{}, fmt.Errorf("%w: got %d scores for %d cameras", ErrScoreCount, len(scores), len(e.batch))
	}

	value, err := Aggregate(scores, e.cfg.Strategy)
	if err != nil {
		return Evaluation{}, err
	}
	h, err := e.tree.Backpropagate(value)
	if err != nil {
		return Evaluation{}, err
	}
	ev := Evaluation{Node: h, Value: value, Depth: e.depth}

	e.batch = nil
	e.position, e.depth, err = e.tree.SamplePosition()
	if err != nil {
		return ev, err
	}
	e.sampler.Reset()
	return ev, nil
}

// Record builds the node record of h with the scorings it was evaluated on.
func Record(tree *hoo.Tree, h hoo.Handle, scorings []render.PhotoScoring) (render.NodeRecord, bool) {
	n, ok := tree.Node(h)
	if !ok {
		return render.NodeRecord{}, false
	}
	return render.NodeRecord{
		ID:            n.ID(),
		BranchID:      n.BranchID,
		ParentID:      tree.ParentID(h),
		Depth:         n.Depth,
		Min:           render.VecFrom(n.Bounds.Min),
		Max:           render.VecFrom(n.Bounds.Max),
		Value:         n.Value,
		B:             n.B,
		PhotoScorings: scorings,
	}, true
}
