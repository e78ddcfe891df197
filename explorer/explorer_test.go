package explorer

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/brensch/panotree/hoo"
	"github.com/brensch/panotree/metrics"
	"github.com/brensch/panotree/render"
	"github.com/brensch/panotree/space"
)

func TestAggregate(t *testing.T) {
	t.Run("max picks the largest score", func(t *testing.T) {
		v, err := Aggregate([]float64{0.1, 0.9}, StrategyMax)
		require.NoError(t, err)
		require.Equal(t, 0.9, v)
	})

	t.Run("mean averages the scores", func(t *testing.T) {
		v, err := Aggregate([]float64{0.2, 0.4, 0.6}, StrategyMean)
		require.NoError(t, err)
		require.InDelta(t, 0.4, v, 1e-12)
	})

	t.Run("empty scores fail", func(t *testing.T) {
		_, err := Aggregate(nil, StrategyMax)
		require.ErrorIs(t, err, ErrNoScores)
	})

	t.Run("unknown strategy fails", func(t *testing.T) {
		_, err := Aggregate([]float64{1}, Strategy(9))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{"max": StrategyMax, "mean": StrategyMean, "avg": StrategyMean, "Average": StrategyMean} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		require.Equal(t, want, got, name)
	}
	_, err := ParseStrategy("median")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tree.Policy = hoo.PolicyXYZ
	cfg.NumDirections = 3
	cfg.NumPositionOffsets = 1
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig()
	cfg.NumDirections = 0
	_, err := New(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Tree.Rho = 2
	_, err = New(cfg)
	require.ErrorIs(t, err, hoo.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Strategy = Strategy(5)
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExplorer(t *testing.T) {
	bounds := space.NewBounds(0, 10, 0, 10, 0, 10)

	t.Run("needs setup", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		_, err = e.CameraParameters()
		require.ErrorIs(t, err, ErrNotReady)
		_, err = e.IngestScores([]float64{1})
		require.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("first batch surrounds the box center", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		require.NoError(t, e.Setup(bounds))

		pos, depth := e.Position()
		require.Equal(t, r3.Vec{X: 5, Y: 5, Z: 5}, pos)
		require.Equal(t, 0, depth)

		cams, err := e.CameraParameters()
		require.NoError(t, err)
		require.Len(t, cams, 3*2)
		for _, c := range cams[:3] {
			require.Equal(t, render.Vector3{X: 5, Y: 5, Z: 5}, c.Position)
			require.Equal(t, float64(render.DefaultFieldOfView), c.FieldOfView)
		}
	})

	t.Run("mismatched score count is rejected untouched", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		require.NoError(t, e.Setup(bounds))
		cams, err := e.CameraParameters()
		require.NoError(t, err)

		_, err = e.IngestScores(make([]float64, len(cams)-1))
		require.ErrorIs(t, err, ErrScoreCount)
		_, err = e.IngestScores(make([]float64, len(cams)+1))
		require.ErrorIs(t, err, ErrScoreCount)
		require.Equal(t, 1, e.Tree().Len())
	})

	t.Run("scores without a batch are rejected", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		require.NoError(t, e.Setup(bounds))
		_, err = e.IngestScores(nil)
		require.ErrorIs(t, err, ErrScoreCount)
	})

	t.Run("ingest backpropagates and resamples", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		require.NoError(t, e.Setup(bounds))
		cams, err := e.CameraParameters()
		require.NoError(t, err)

		scores := make([]float64, len(cams))
		scores[2] = 0.8
		ev, err := e.IngestScores(scores)
		require.NoError(t, err)
		require.Equal(t, hoo.Handle(0), ev.Node)
		require.Equal(t, 0.8, ev.Value)
		require.Equal(t, 0, ev.Depth)
		require.Equal(t, 3, e.Tree().Len())

		pos, depth := e.Position()
		require.Equal(t, 1, depth)
		require.Contains(t, []r3.Vec{{X: 2.5, Y: 5, Z: 5}, {X: 7.5, Y: 5, Z: 5}}, pos)

		// A second ingest needs a fresh batch.
		_, err = e.IngestScores(scores)
		require.ErrorIs(t, err, ErrScoreCount)
	})
}

type fakeRenderer struct {
	calls int
	err   error
}

func (f *fakeRenderer) Render(_ context.Context, cams []render.CameraParameter) ([]image.Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]image.Image, len(cams))
	for i, c := range cams {
		// Encode the camera height in the image size so the scorer can
		// rate positions.
		side := 1 + int(math.Round(c.Position.Y))
		out[i] = image.NewRGBA(image.Rect(0, 0, side, 1))
	}
	return out, nil
}

type fakeScorer struct{}

func (fakeScorer) Score(_ context.Context, images []image.Image) ([]float64, error) {
	out := make([]float64, len(images))
	for i, img := range images {
		out[i] = float64(img.Bounds().Dx()) / 20
	}
	return out, nil
}

type fakeBBox struct{ b space.Bounds }

func (f fakeBBox) BoundingBox(context.Context) (space.Bounds, error) { return f.b, nil }

type sliceSink struct {
	recs []render.NodeRecord
	err  error
}

func (s *sliceSink) RecordNode(_ context.Context, rec render.NodeRecord) error {
	s.recs = append(s.recs, rec)
	return s.err
}

func TestRunner(t *testing.T) {
	bbox := fakeBBox{space.NewBounds(0, 10, 0, 10, 0, 10)}

	t.Run("reports every evaluated node once in order", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		sink := &sliceSink{}
		r := NewRunner(e, &fakeRenderer{}, fakeScorer{}, WithSinks(sink), WithRecorder(metrics.New(prometheus.NewRegistry())))
		require.NoError(t, r.Setup(context.Background(), bbox))

		var its []Iteration
		require.NoError(t, r.Run(context.Background(), 10, func(it Iteration) { its = append(its, it) }))
		require.Len(t, its, 10)
		require.Len(t, sink.recs, 10)
		require.Equal(t, 10, r.Iterations())
		require.Equal(t, 1+2*10, len(r.Snapshot()))

		require.Equal(t, "0000-00000001", sink.recs[0].ID)
		require.Empty(t, sink.recs[0].ParentID)
		seen := map[string]bool{}
		for i, rec := range sink.recs {
			require.False(t, seen[rec.ID])
			seen[rec.ID] = true
			require.Equal(t, its[i].Record, rec)
			require.Len(t, rec.PhotoScorings, 6)
			if i > 0 {
				require.True(t, seen[rec.ParentID], "parent %s reported before %s", rec.ParentID, rec.ID)
			}
		}

		best, node := r.Best()
		require.Equal(t, its[9].Best, best)
		require.NotEmpty(t, node)
	})

	t.Run("render errors propagate unchanged", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		boom := errors.New("boom")
		r := NewRunner(e, &fakeRenderer{err: boom}, fakeScorer{})
		require.NoError(t, r.Setup(context.Background(), bbox))

		_, err = r.Step(context.Background())
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, len(r.Snapshot()), "failed iterations leave the tree untouched")
	})

	t.Run("sink errors are reported after the tree advanced", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		boom := errors.New("sink down")
		r := NewRunner(e, &fakeRenderer{}, fakeScorer{}, WithSinks(&sliceSink{err: boom}))
		require.NoError(t, r.Setup(context.Background(), bbox))

		it, err := r.Step(context.Background())
		require.ErrorIs(t, err, boom)
		require.Equal(t, "0000-00000001", it.Record.ID)
		require.Equal(t, 3, len(r.Snapshot()))
	})

	t.Run("cancelled context stops between iterations", func(t *testing.T) {
		e, err := New(testConfig())
		require.NoError(t, err)
		rend := &fakeRenderer{}
		r := NewRunner(e, rend, fakeScorer{})
		require.NoError(t, r.Setup(context.Background(), bbox))

		ctx, cancel := context.WithCancel(context.Background())
		err = r.Run(ctx, 100, func(it Iteration) {
			if it.Index == 2 {
				cancel()
			}
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 3, rend.calls)
	})
}
