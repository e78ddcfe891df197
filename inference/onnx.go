// Package inference scores rendered views with the photo scoring network
// exported to ONNX.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultInputSize     = 224
	DefaultBatchSize     = 144
	DefaultBatchTimeout  = 2 * time.Millisecond
	DefaultPositiveClass = 1
	numClasses           = 2
)

var ErrClosed = errors.New("inference: scorer closed")

type OnnxConfig struct {
	ModelPath     string
	InputSize     int
	BatchSize     int
	BatchTimeout  time.Duration
	InputName     string
	OutputName    string
	PositiveClass int
	UseCUDA       bool
}

func (c *OnnxConfig) applyDefaults() {
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "logits"
	}
	if c.PositiveClass < 0 || c.PositiveClass >= numClasses {
		c.PositiveClass = DefaultPositiveClass
	}
}

type scoreRequest struct {
	input    []float32
	respChan chan scoreResponse
}

type scoreResponse struct {
	score float64
	err   error
}

// RuntimeStats summarises the batches a scorer has run.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

// OnnxScorer runs the scoring network in an ONNX Runtime session. Images
// from concurrent Score calls are batched together by a single loop.
type OnnxScorer struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan scoreRequest
	cfg          OnnxConfig
	log          zerolog.Logger

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	batches   atomic.Int64
	items     atomic.Int64
	runNanos  atomic.Int64
	lastBatch atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxScorer(cfg OnnxConfig, log zerolog.Logger) (*OnnxScorer, error) {
	cfg.applyDefaults()
	if cfg.ModelPath == "" {
		return nil, errors.New("inference: model path is empty")
	}

	if runtime.GOOS == "linux" {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("inference: init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	if cfg.UseCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			log.Warn().Err(err).Msg("cuda options unavailable, scoring on cpu")
		} else {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("failed to append cuda provider, scoring on cpu")
			} else {
				log.Info().Msg("cuda provider enabled")
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{cfg.InputName}, []string{cfg.OutputName}, options)
	if err != nil {
		return nil, fmt.Errorf("inference: create session: %w", err)
	}

	s := &OnnxScorer{
		session:      session,
		cfg:          cfg,
		log:          log,
		requestsChan: make(chan scoreRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go s.batchLoop()
	return s, nil
}

func (s *OnnxScorer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
		err = s.session.Destroy()
	})
	return err
}

func (s *OnnxScorer) Stats() RuntimeStats {
	batches := s.batches.Load()
	items := s.items.Load()
	runNanos := s.runNanos.Load()
	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: s.lastBatch.Load(),
		QueueLen:      len(s.requestsChan),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}

// Score returns the positive-class probability of every image, in order.
func (s *OnnxScorer) Score(ctx context.Context, images []image.Image) ([]float64, error) {
	size := s.cfg.InputSize
	pending := make([]chan scoreResponse, len(images))
	for i, img := range images {
		input := make([]float32, 3*size*size)
		toCHW(img, size, input)

		respChan := make(chan scoreResponse, 1)
		select {
		case s.requestsChan <- scoreRequest{input: input, respChan: respChan}:
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		pending[i] = respChan
	}

	scores := make([]float64, len(images))
	for i, respChan := range pending {
		select {
		case resp := <-respChan:
			if resp.err != nil {
				return nil, fmt.Errorf("inference: score image %d: %w", i, resp.err)
			}
			scores[i] = resp.score
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return scores, nil
}

func (s *OnnxScorer) batchLoop() {
	plane := 3 * s.cfg.InputSize * s.cfg.InputSize
	batchInput := make([]float32, 0, s.cfg.BatchSize*plane)
	requests := make([]scoreRequest, 0, s.cfg.BatchSize)

	ticker := time.NewTicker(s.cfg.BatchTimeout)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			s.failBatch(requests, ErrClosed)
			return
		case req := <-s.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)

			if len(requests) >= s.cfg.BatchSize {
				s.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		case <-ticker.C:
			if len(requests) > 0 {
				s.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		}
	}
}

func (s *OnnxScorer) runBatch(requests []scoreRequest, batchInput []float32) {
	n := int64(len(requests))
	size := int64(s.cfg.InputSize)

	inputTensor, err := ort.NewTensor(ort.NewShape(n, 3, size, size), batchInput)
	if err != nil {
		s.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, numClasses))
	if err != nil {
		s.failBatch(requests, err)
		return
	}
	defer outputTensor.Destroy()

	start := time.Now()
	if err := s.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		s.failBatch(requests, err)
		return
	}
	s.batches.Add(1)
	s.items.Add(n)
	s.runNanos.Add(time.Since(start).Nanoseconds())
	s.lastBatch.Store(n)

	logits := outputTensor.GetData()
	for i, req := range requests {
		req.respChan <- scoreResponse{
			score: positiveProb(logits[i*numClasses:(i+1)*numClasses], s.cfg.PositiveClass),
		}
	}
}

func (s *OnnxScorer) failBatch(requests []scoreRequest, err error) {
	for _, req := range requests {
		req.respChan <- scoreResponse{err: err}
	}
}
