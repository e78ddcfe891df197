package space

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestValidate(t *testing.T) {
	t.Run("accepts degenerate and regular boxes", func(t *testing.T) {
		require.NoError(t, NewBounds(0, 10, 0, 10, 0, 10).Validate())
		require.NoError(t, NewBounds(1, 1, 2, 2, 3, 3).Validate())
	})

	t.Run("rejects min greater than max", func(t *testing.T) {
		err := NewBounds(0, 10, 5, 4, 0, 10).Validate()
		require.ErrorIs(t, err, ErrInvertedBounds)
		require.Contains(t, err.Error(), "y axis")
	})
}

func TestBisect(t *testing.T) {
	b := NewBounds(0, 10, -2, 2, 4, 8)

	for _, a := range []Axis{AxisX, AxisY, AxisZ} {
		t.Run("halves cover the box along "+a.String(), func(t *testing.T) {
			left, right := b.Bisect(a)

			require.Equal(t, Component(left.Max, a), Component(right.Min, a), "Halves should share the cut plane")
			require.Equal(t, Component(b.Min, a), Component(left.Min, a))
			require.Equal(t, Component(b.Max, a), Component(right.Max, a))
			require.InDelta(t, b.Volume(), left.Volume()+right.Volume(), 1e-9)
			for _, other := range []Axis{AxisX, AxisY, AxisZ} {
				if other == a {
					continue
				}
				require.Equal(t, Component(b.Min, other), Component(left.Min, other))
				require.Equal(t, Component(b.Max, other), Component(right.Max, other))
			}
		})
	}
}

func TestInterior(t *testing.T) {
	b := NewBounds(0, 4, 0, 4, 0, 4)

	t.Run("divider 5 yields 27 points strictly inside", func(t *testing.T) {
		points := b.Interior(5)
		require.Len(t, points, 27)
		require.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, points[0])
		require.Equal(t, r3.Vec{X: 1, Y: 1, Z: 2}, points[1], "z should vary fastest")
		require.Equal(t, r3.Vec{X: 3, Y: 3, Z: 3}, points[26])
	})

	t.Run("small dividers enumerate nothing", func(t *testing.T) {
		require.Empty(t, b.Interior(2))
		require.Empty(t, b.Interior(1))
	})

	t.Run("divider 3 yields the center", func(t *testing.T) {
		require.Equal(t, []r3.Vec{b.Center()}, b.Interior(3))
	})
}
