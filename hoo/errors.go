package hoo

import "errors"

var (
	// ErrInvalidConfig wraps every construction-time validation failure.
	ErrInvalidConfig = errors.New("hoo: invalid config")
	// ErrSamplePending is returned by SamplePosition while the previous
	// sample still waits for its value.
	ErrSamplePending = errors.New("hoo: previous sample not backpropagated")
	// ErrNoSample is returned by Backpropagate when nothing was sampled.
	ErrNoSample = errors.New("hoo: backpropagation without a pending sample")
	// ErrInvalidValue rejects NaN values, which would poison every B on the
	// path to the root.
	ErrInvalidValue = errors.New("hoo: value is NaN")
)
