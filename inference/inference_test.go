package inference

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestToCHW(t *testing.T) {
	t.Run("normalises each channel plane", func(t *testing.T) {
		const size = 4
		dst := make([]float32, 3*size*size)
		toCHW(uniform(size, size, color.RGBA{R: 255, G: 0, B: 51, A: 255}), size, dst)

		plane := size * size
		require.InDelta(t, (1-Mean[0])/Std[0], dst[0], 1e-5)
		require.InDelta(t, (0-Mean[1])/Std[1], dst[plane], 1e-5)
		require.InDelta(t, (0.2-Mean[2])/Std[2], dst[2*plane+plane-1], 1e-5)
	})

	t.Run("resizes other sizes", func(t *testing.T) {
		const size = 3
		dst := make([]float32, 3*size*size)
		toCHW(uniform(9, 5, color.RGBA{R: 128, G: 128, B: 128, A: 255}), size, dst)
		for _, v := range dst[:size*size] {
			require.InDelta(t, (128.0/255-Mean[0])/Std[0], v, 0.05)
		}
	})
}

func TestPositiveProb(t *testing.T) {
	require.InDelta(t, 0.5, positiveProb([]float32{3, 3}, 1), 1e-12)
	require.InDelta(t, 1/(1+math.Exp(-2)), positiveProb([]float32{0, 2}, 1), 1e-9)
	require.InDelta(t, 1, positiveProb([]float32{-1000, 1000}, 1), 1e-12)
}

type fakeScorer struct {
	id     float64
	calls  int
	closed bool
	err    error
}

func (f *fakeScorer) Score(_ context.Context, images []image.Image) ([]float64, error) {
	f.calls++
	out := make([]float64, len(images))
	for i := range out {
		out[i] = f.id
	}
	return out, nil
}

func (f *fakeScorer) Stats() RuntimeStats {
	return RuntimeStats{TotalBatches: 2, TotalItems: 10, TotalRunNanos: 4e6, LastBatchSize: int64(f.id)}
}

func (f *fakeScorer) Close() error {
	f.closed = true
	return f.err
}

func TestPool(t *testing.T) {
	a, b := &fakeScorer{id: 1}, &fakeScorer{id: 2, err: errors.New("close failed")}
	p := NewPool(a, b)

	imgs := []image.Image{uniform(1, 1, color.RGBA{}), uniform(1, 1, color.RGBA{})}
	for i := 0; i < 4; i++ {
		scores, err := p.Score(context.Background(), imgs)
		require.NoError(t, err)
		require.Len(t, scores, 2)
	}
	require.Equal(t, 2, a.calls)
	require.Equal(t, 2, b.calls)

	st := p.Stats()
	require.Equal(t, int64(4), st.TotalBatches)
	require.Equal(t, int64(20), st.TotalItems)
	require.Equal(t, int64(2), st.LastBatchSize)
	require.Equal(t, 5.0, st.AvgBatchSize)
	require.Equal(t, 2.0, st.AvgRunMs)

	require.Error(t, p.Close())
	require.True(t, a.closed)
	require.True(t, b.closed)

	_, err := NewPool().Score(context.Background(), imgs)
	require.Error(t, err)
}
