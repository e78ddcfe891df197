// Package metrics exposes prometheus collectors for exploration and grid
// refinement, and the HTTP endpoint serving them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	namespace  = "panotree"
	stageLabel = "stage"
)

// Recorder groups the collectors. A nil *Recorder records nothing.
type Recorder struct {
	iterations    prometheus.Counter
	stageDuration *prometheus.HistogramVec
	lastValue     prometheus.Gauge
	bestValue     prometheus.Gauge
	depth         prometheus.Gauge
	treeNodes     prometheus.Gauge
	regions       prometheus.Counter
	gridNodes     prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "The number of completed exploration iterations.",
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "The time spent rendering and scoring one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{stageLabel}),
		lastValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_value",
			Help:      "The aggregated value of the last evaluated node.",
		}),
		bestValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_value",
			Help:      "The best aggregated value seen so far.",
		}),
		depth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_depth",
			Help:      "The depth of the last evaluated node.",
		}),
		treeNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_nodes",
			Help:      "The number of nodes in the partition tree.",
		}),
		regions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_regions_total",
			Help:      "The number of regions refined by grid search.",
		}),
		gridNodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_nodes_total",
			Help:      "The number of grid points scored by grid search.",
		}),
	}
}

func (r *Recorder) ObserveRender(d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.With(prometheus.Labels{stageLabel: "render"}).Observe(d.Seconds())
}

func (r *Recorder) ObserveScore(d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.With(prometheus.Labels{stageLabel: "score"}).Observe(d.Seconds())
}

// ObserveIteration records one completed exploration step.
func (r *Recorder) ObserveIteration(value, best float64, depth, treeSize int) {
	if r == nil {
		return
	}
	r.iterations.Inc()
	r.lastValue.Set(value)
	r.bestValue.Set(best)
	r.depth.Set(float64(depth))
	r.treeNodes.Set(float64(treeSize))
}

func (r *Recorder) ObserveRegion(gridNodes int) {
	if r == nil {
		return
	}
	r.regions.Inc()
	r.gridNodes.Add(float64(gridNodes))
}

// Serve exposes the gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
