package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// BatchScorer is what a Pool fans calls out to.
type BatchScorer interface {
	Score(ctx context.Context, images []image.Image) ([]float64, error)
	Stats() RuntimeStats
	Close() error
}

// Pool spreads Score calls across several scorers round-robin. Each
// OnnxScorer owns its own session and batch loop, so grid refinement and
// exploration can score in parallel.
type Pool struct {
	scorers []BatchScorer
	rr      atomic.Uint64
}

func NewPool(scorers ...BatchScorer) *Pool {
	return &Pool{scorers: scorers}
}

// NewOnnxPool opens sessions copies of the model.
func NewOnnxPool(cfg OnnxConfig, sessions int, log zerolog.Logger) (*Pool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	scorers := make([]BatchScorer, 0, sessions)
	for i := 0; i < sessions; i++ {
		s, err := NewOnnxScorer(cfg, log.With().Int("session", i).Logger())
		if err != nil {
			for _, created := range scorers {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx scorer %d/%d: %w", i+1, sessions, err)
		}
		scorers = append(scorers, s)
	}
	return NewPool(scorers...), nil
}

func (p *Pool) Score(ctx context.Context, images []image.Image) ([]float64, error) {
	if len(p.scorers) == 0 {
		return nil, errors.New("inference: pool has no scorers")
	}
	idx := int(p.rr.Add(1)-1) % len(p.scorers)
	return p.scorers[idx].Score(ctx, images)
}

func (p *Pool) Stats() RuntimeStats {
	var st RuntimeStats
	for _, s := range p.scorers {
		one := s.Stats()
		st.TotalBatches += one.TotalBatches
		st.TotalItems += one.TotalItems
		st.TotalRunNanos += one.TotalRunNanos
		st.QueueLen += one.QueueLen
		if one.LastBatchSize > st.LastBatchSize {
			st.LastBatchSize = one.LastBatchSize
		}
	}
	if st.TotalBatches > 0 {
		st.AvgBatchSize = float64(st.TotalItems) / float64(st.TotalBatches)
		st.AvgRunMs = (float64(st.TotalRunNanos) / 1e6) / float64(st.TotalBatches)
	}
	return st
}

func (p *Pool) Close() error {
	var errs []error
	for _, s := range p.scorers {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
