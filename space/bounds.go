// Package space holds the axis-aligned geometry shared by the search tree,
// the rollout sampler and the grid refiner.
package space

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvertedBounds is returned when a box has min > max on some axis.
var ErrInvertedBounds = errors.New("space: bounds min exceeds max")

// Axis indexes a coordinate (0: X, 1: Y, 2: Z)
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Component returns the coordinate of v on axis a.
func Component(v r3.Vec, a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

func withComponent(v r3.Vec, a Axis, f float64) r3.Vec {
	switch a {
	case AxisX:
		v.X = f
	case AxisY:
		v.Y = f
	default:
		v.Z = f
	}
	return v
}

// Bounds is an axis-aligned box.
type Bounds struct {
	Min r3.Vec
	Max r3.Vec
}

// NewBounds builds a box from its six extrema.
func NewBounds(minX, maxX, minY, maxY, minZ, maxZ float64) Bounds {
	return Bounds{
		Min: r3.Vec{X: minX, Y: minY, Z: minZ},
		Max: r3.Vec{X: maxX, Y: maxY, Z: maxZ},
	}
}

// Validate reports whether min <= max holds on every axis. NaN coordinates
// are rejected as well.
func (b Bounds) Validate() error {
	for a := AxisX; a <= AxisZ; a++ {
		lo, hi := Component(b.Min, a), Component(b.Max, a)
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
			return fmt.Errorf("%w: %s axis [%g, %g]", ErrInvertedBounds, a, lo, hi)
		}
	}
	return nil
}

func (b Bounds) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

func (b Bounds) Size() r3.Vec {
	return r3.Sub(b.Max, b.Min)
}

// Extents returns the absolute edge length along each axis.
func (b Bounds) Extents() [3]float64 {
	s := b.Size()
	return [3]float64{math.Abs(s.X), math.Abs(s.Y), math.Abs(s.Z)}
}

func (b Bounds) Volume() float64 {
	e := b.Extents()
	return e[0] * e[1] * e[2]
}

// MinExtent is the shortest edge of the box.
func (b Bounds) MinExtent() float64 {
	e := b.Extents()
	return math.Min(e[0], math.Min(e[1], e[2]))
}

// Bisect cuts the box in half along one axis. The two halves share the
// midpoint plane and together cover exactly the original box.
func (b Bounds) Bisect(a Axis) (left, right Bounds) {
	mid := (Component(b.Min, a) + Component(b.Max, a)) / 2
	left = Bounds{Min: b.Min, Max: withComponent(b.Max, a, mid)}
	right = Bounds{Min: withComponent(b.Min, a, mid), Max: b.Max}
	return left, right
}

// Interior returns the interior lattice points of the box for a grid with
// divider points per axis, boundary faces excluded. The result has
// (divider-2)^3 points, ordered x outermost and z innermost.
func (b Bounds) Interior(divider int) []r3.Vec {
	if divider < 3 {
		return nil
	}
	cells := float64(divider - 1)
	size := b.Size()
	step := r3.Vec{X: size.X / cells, Y: size.Y / cells, Z: size.Z / cells}

	points := make([]r3.Vec, 0, (divider-2)*(divider-2)*(divider-2))
	for x := 1; x < divider-1; x++ {
		for y := 1; y < divider-1; y++ {
			for z := 1; z < divider-1; z++ {
				offset := r3.Vec{X: float64(x) * step.X, Y: float64(y) * step.Y, Z: float64(z) * step.Z}
				points = append(points, r3.Add(b.Min, offset))
			}
		}
	}
	return points
}
