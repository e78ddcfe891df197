package hoo

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/brensch/panotree/space"
)

// Policy decides which axis a node is bisected along.
type Policy int

const (
	// PolicySize favours the longer axes through a softmax over the
	// normalised extents, drawn from the node's private stream.
	PolicySize Policy = iota
	// PolicyXYZ cycles x, y, z by depth.
	PolicyXYZ
)

func (p Policy) String() string {
	switch p {
	case PolicySize:
		return "size"
	case PolicyXYZ:
		return "xyz"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func (p Policy) valid() bool {
	return p == PolicySize || p == PolicyXYZ
}

// ParsePolicy maps a policy name to its Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "size":
		return PolicySize, nil
	case "xyz":
		return PolicyXYZ, nil
	}
	return 0, fmt.Errorf("%w: unknown policy %q (want size or xyz)", ErrInvalidConfig, name)
}

const policyEps = 1e-6

func softmax3(v [3]float64) [3]float64 {
	var out [3]float64
	sum := 0.0
	for i := range v {
		out[i] = math.Exp(v[i] + policyEps)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// axisProbabilities is the distribution PolicySize draws the split axis from.
func axisProbabilities(b space.Bounds) [3]float64 {
	e := b.Extents()
	norm := floats.Norm(e[:], 2) + policyEps
	floats.Scale(1/norm, e[:])
	return softmax3(e)
}

// pickAxis selects the axis whose cumulative probability first reaches draw.
func pickAxis(p [3]float64, draw float64) space.Axis {
	cumulative := p[0]
	if draw <= cumulative {
		return space.AxisX
	}
	cumulative += p[1]
	if draw <= cumulative {
		return space.AxisY
	}
	return space.AxisZ
}
