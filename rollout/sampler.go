// Package rollout enumerates the camera views gathered around a sampled
// position: every direction of a golden-angle spiral, from the position
// itself and from a ring of spiral offsets around it.
package rollout

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrInvalidConfig = errors.New("rollout: invalid config")
	ErrExhausted     = errors.New("rollout: sampler exhausted")
)

// Phi is the golden ratio.
var Phi = (1 + math.Sqrt(5)) / 2

// View is one camera placement produced by the sampler.
type View struct {
	Position  r3.Vec
	Direction r3.Vec
}

// Spiral returns n unit vectors spread over the sphere along a golden-angle
// spiral, from +y down to -y. A single vector points straight down.
func Spiral(n int) []r3.Vec {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []r3.Vec{{X: 0, Y: -1, Z: 0}}
	}

	out := make([]r3.Vec, n)
	increment := 2 * math.Pi * Phi
	for i := range out {
		y := 1 - 2*float64(i)/float64(n-1)
		radius := math.Sqrt(math.Max(0, 1-y*y))
		theta := float64(i) * increment
		out[i] = r3.Vec{X: math.Cos(theta) * radius, Y: y, Z: math.Sin(theta) * radius}
	}
	return out
}

// Sampler walks the (offset, direction) pairs in offset-major order. It is
// finite and restartable with Reset.
type Sampler struct {
	directions []r3.Vec
	offsets    []r3.Vec

	cursor   int
	finished bool
}

func New(numDirections, numOffsets int) (*Sampler, error) {
	if numDirections < 1 {
		return nil, fmt.Errorf("%w: num directions must be >= 1, got %d", ErrInvalidConfig, numDirections)
	}
	if numOffsets < 0 {
		return nil, fmt.Errorf("%w: num position offsets must be >= 0, got %d", ErrInvalidConfig, numOffsets)
	}
	return &Sampler{
		directions: Spiral(numDirections),
		offsets:    append([]r3.Vec{{}}, Spiral(numOffsets)...),
	}, nil
}

func (s *Sampler) NumDirections() int { return len(s.directions) }

// Len is the number of views in one full enumeration.
func (s *Sampler) Len() int { return len(s.directions) * len(s.offsets) }

func (s *Sampler) Finished() bool { return s.finished }

func (s *Sampler) Reset() {
	s.cursor = 0
	s.finished = false
}

// Step returns the next view around center, offsets scaled by scale.
func (s *Sampler) Step(center r3.Vec, scale float64) (View, error) {
	if s.finished || s.cursor >= s.Len() {
		return View{}, ErrExhausted
	}
	offset := s.offsets[s.cursor/len(s.directions)]
	direction := s.directions[s.cursor%len(s.directions)]

	s.cursor++
	s.finished = s.cursor == s.Len()
	return View{
		Position:  r3.Add(center, r3.Scale(scale, offset)),
		Direction: direction,
	}, nil
}

// Enumerate resets the sampler and drives it to exhaustion around center.
func (s *Sampler) Enumerate(center r3.Vec, scale float64) []View {
	s.Reset()
	views := make([]View, 0, s.Len())
	for !s.finished {
		v, err := s.Step(center, scale)
		if err != nil {
			break
		}
		views = append(views, v)
	}
	return views
}
