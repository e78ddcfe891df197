package explorer

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Strategy folds the scores of one camera batch into a node value.
type Strategy int

const (
	StrategyMax Strategy = iota
	StrategyMean
)

func (s Strategy) String() string {
	switch s {
	case StrategyMax:
		return "max"
	case StrategyMean:
		return "mean"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy accepts max, and mean with its aliases avg and average.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "max":
		return StrategyMax, nil
	case "mean", "avg", "average":
		return StrategyMean, nil
	}
	return 0, fmt.Errorf("%w: unknown value strategy %q (want max or mean)", ErrInvalidConfig, name)
}

// Aggregate reduces scores with strategy.
func Aggregate(scores []float64, strategy Strategy) (float64, error) {
	if len(scores) == 0 {
		return 0, ErrNoScores
	}
	switch strategy {
	case StrategyMax:
		return floats.Max(scores), nil
	case StrategyMean:
		return stat.Mean(scores, nil), nil
	}
	return 0, fmt.Errorf("%w: unknown %s", ErrInvalidConfig, strategy)
}
