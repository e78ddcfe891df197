package explorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/brensch/panotree/hoo"
	"github.com/brensch/panotree/metrics"
	"github.com/brensch/panotree/render"
)

// Iteration is the outcome of one Runner step.
type Iteration struct {
	Index  int
	Record render.NodeRecord
	Evaluation

	Best     float64
	BestNode string

	RenderTime time.Duration
	ScoreTime  time.Duration
}

// Runner performs complete explorer iterations against external services.
// Its methods serialise on a mutex so snapshots can be taken from other
// goroutines while Run is going.
type Runner struct {
	mu       sync.Mutex
	explorer *Explorer
	renderer Renderer
	scorer   Scorer
	sinks    []NodeSink
	recorder *metrics.Recorder
	log      zerolog.Logger

	iterations int
	best       float64
	bestNode   string
}

type RunnerOption func(*Runner)

// WithSinks adds sinks that receive every evaluated node.
func WithSinks(sinks ...NodeSink) RunnerOption {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

func WithRecorder(rec *metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

func NewRunner(e *Explorer, renderer Renderer, scorer Scorer, opts ...RunnerOption) *Runner {
	r := &Runner{
		explorer: e,
		renderer: renderer,
		scorer:   scorer,
		log:      zerolog.Nop(),
		best:     math.Inf(-1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Setup fetches the world bounds and builds the tree over them.
func (r *Runner) Setup(ctx context.Context, bbox BoundingBoxProvider) error {
	bounds, err := bbox.BoundingBox(ctx)
	if err != nil {
		return fmt.Errorf("fetch bounding box: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.explorer.Setup(bounds); err != nil {
		return err
	}
	r.iterations = 0
	r.best = math.Inf(-1)
	r.bestNode = ""
	r.log.Info().
		Interface("min", bounds.Min).
		Interface("max", bounds.Max).
		Msg("tree ready")
	return nil
}

// Step renders, scores and backpropagates one sampled position.
func (r *Runner) Step(ctx context.Context) (it Iteration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := metrics.StartSpan(ctx, "explorer.iteration", attribute.Int("iteration", r.iterations))
	defer func() {
		if err == nil {
			span.SetAttributes(
				attribute.String("node", it.Record.ID),
				attribute.Int("depth", it.Depth),
				attribute.Float64("value", it.Value),
			)
		}
		metrics.EndSpan(span, err)
	}()

	cams, err := r.explorer.CameraParameters()
	if err != nil {
		return it, err
	}

	start := time.Now()
	images, err := r.renderer.Render(ctx, cams)
	if err != nil {
		return it, fmt.Errorf("render %d cameras: %w", len(cams), err)
	}
	it.RenderTime = time.Since(start)
	r.recorder.ObserveRender(it.RenderTime)

	start = time.Now()
	scores, err := r.scorer.Score(ctx, images)
	if err != nil {
		return it, fmt.Errorf("score %d images: %w", len(images), err)
	}
	it.ScoreTime = time.Since(start)
	r.recorder.ObserveScore(it.ScoreTime)

	ev, err := r.explorer.IngestScores(scores)
	if err != nil {
		return it, err
	}
	it.Evaluation = ev
	it.Index = r.iterations
	r.iterations++

	scorings, err := render.Pair(cams, scores)
	if err != nil {
		return it, err
	}
	tree := r.explorer.Tree()
	it.Record, _ = Record(tree, ev.Node, scorings)

	if ev.Value > r.best {
		r.best = ev.Value
		r.bestNode = it.Record.ID
	}
	it.Best, it.BestNode = r.best, r.bestNode
	r.recorder.ObserveIteration(ev.Value, r.best, ev.Depth, tree.Len())

	r.log.Info().
		Int("iteration", it.Index).
		Str("node", it.Record.ID).
		Int("depth", ev.Depth).
		Float64("value", ev.Value).
		Float64("b", it.Record.B).
		Dur("render", it.RenderTime).
		Dur("score", it.ScoreTime).
		Msg("node evaluated")

	var sinkErrs []error
	for _, s := range r.sinks {
		if err := s.RecordNode(ctx, it.Record); err != nil {
			sinkErrs = append(sinkErrs, err)
		}
	}
	if err := errors.Join(sinkErrs...); err != nil {
		return it, fmt.Errorf("record node %s: %w", it.Record.ID, err)
	}
	return it, nil
}

// Run performs n iterations, calling onStep after each one. It stops early
// when ctx is cancelled, between iterations.
func (r *Runner) Run(ctx context.Context, n int, onStep func(Iteration)) error {
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		it, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if onStep != nil {
			onStep(it)
		}
	}
	return nil
}

// Snapshot copies the current tree, nil before Setup.
func (r *Runner) Snapshot() []hoo.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.explorer.Ready() {
		return nil
	}
	return r.explorer.Tree().Snapshot()
}

// Best returns the best value seen and the node it came from.
func (r *Runner) Best() (float64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.best, r.bestNode
}

func (r *Runner) Iterations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iterations
}
