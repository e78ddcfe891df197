// Package gridsearch refines selected regions with a dense camera grid:
// every interior lattice point of a region gets a full rollout, and the
// whole region is rendered and scored as one batch.
package gridsearch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/brensch/panotree/explorer"
	"github.com/brensch/panotree/metrics"
	"github.com/brensch/panotree/render"
	"github.com/brensch/panotree/rollout"
	"github.com/brensch/panotree/space"
)

var ErrInvalidConfig = errors.New("gridsearch: invalid config")

// GridNode is the rollout of one lattice point.
type GridNode struct {
	ID       string
	Position render.Vector3
	Scorings []render.PhotoScoring
}

// Leaf converts n into the record attached to the node it refined.
func (n GridNode) Leaf(nodeID string) render.LeafGridNode {
	return render.LeafGridNode{
		GridID:        n.ID,
		NodeID:        nodeID,
		Position:      n.Position,
		PhotoScorings: n.Scorings,
	}
}

// Leaves converts every node refined inside nodeID.
func Leaves(nodeID string, nodes []GridNode) []render.LeafGridNode {
	out := make([]render.LeafGridNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Leaf(nodeID)
	}
	return out
}

// Refiner is stateless between searches apart from its sampler, so one
// Refiner must not run two searches at once.
type Refiner struct {
	renderer explorer.Renderer
	scorer   explorer.Scorer
	sampler  *rollout.Sampler
	divider  int
	recorder *metrics.Recorder
}

type Option func(*Refiner)

func WithRecorder(rec *metrics.Recorder) Option {
	return func(r *Refiner) { r.recorder = rec }
}

// New builds a refiner laying divider points along each axis of a region.
func New(renderer explorer.Renderer, scorer explorer.Scorer, numDirections, divider int, opts ...Option) (*Refiner, error) {
	if divider < 2 {
		return nil, fmt.Errorf("%w: grid divider must be >= 2, got %d", ErrInvalidConfig, divider)
	}
	sampler, err := rollout.New(numDirections, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	r := &Refiner{
		renderer: renderer,
		scorer:   scorer,
		sampler:  sampler,
		divider:  divider,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Cameras lays out the rollout of every interior lattice point of b, point
// after point. It also returns the lattice points.
func (r *Refiner) Cameras(b space.Bounds) ([]render.CameraParameter, []render.Vector3) {
	points := b.Interior(r.divider)
	cams := make([]render.CameraParameter, 0, len(points)*r.sampler.Len())
	positions := make([]render.Vector3, len(points))
	for i, p := range points {
		positions[i] = render.VecFrom(p)
		for _, v := range r.sampler.Enumerate(p, 1) {
			cams = append(cams, render.NewCameraParameter(v.Position, v.Direction))
		}
	}
	return cams, positions
}

func (r *Refiner) refine(ctx context.Context, b space.Bounds) (nodes []GridNode, err error) {
	cams, positions := r.Cameras(b)
	ctx, span := metrics.StartSpan(ctx, "gridsearch.region",
		attribute.Int("grid_points", len(positions)),
		attribute.Int("cameras", len(cams)),
	)
	defer func() { metrics.EndSpan(span, err) }()

	if len(cams) == 0 {
		return nil, nil
	}
	images, err := r.renderer.Render(ctx, cams)
	if err != nil {
		return nil, fmt.Errorf("render %d cameras: %w", len(cams), err)
	}
	scores, err := r.scorer.Score(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("score %d images: %w", len(images), err)
	}
	scorings, err := render.Pair(cams, scores)
	if err != nil {
		return nil, err
	}

	size := r.sampler.Len()
	nodes = make([]GridNode, len(positions))
	for i := range nodes {
		nodes[i] = GridNode{
			ID:       fmt.Sprintf("grid %d", i),
			Position: positions[i],
			Scorings: scorings[i*size : (i+1)*size],
		}
	}
	r.recorder.ObserveRegion(len(nodes))
	return nodes, nil
}

// Search returns an iterator refining regions in input order. selector
// extracts the box to refine from each region.
func Search[T any](r *Refiner, regions []T, selector func(T) space.Bounds) *Searcher[T] {
	return &Searcher[T]{refiner: r, regions: regions, selector: selector, next: 0}
}

// Searcher is a finite pull iterator over refined regions. It cannot be
// restarted.
type Searcher[T any] struct {
	refiner  *Refiner
	regions  []T
	selector func(T) space.Bounds

	next   int
	nodes  []GridNode
	region T
	err    error
}

// Next refines the next region. It returns false once every region was
// refined or a call failed; Err tells the two apart.
func (s *Searcher[T]) Next(ctx context.Context) bool {
	if s.err != nil || s.next >= len(s.regions) {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return false
	}

	region := s.regions[s.next]
	s.next++
	nodes, err := s.refiner.refine(ctx, s.selector(region))
	if err != nil {
		s.err = err
		s.nodes = nil
		return false
	}
	s.region = region
	s.nodes = nodes
	return true
}

// Nodes returns the grid nodes of the region Next just refined.
func (s *Searcher[T]) Nodes() []GridNode { return s.nodes }

func (s *Searcher[T]) Region() T { return s.region }

// Index is the position of the current region in the input.
func (s *Searcher[T]) Index() int { return s.next - 1 }

func (s *Searcher[T]) Len() int { return len(s.regions) }

func (s *Searcher[T]) Err() error { return s.err }
