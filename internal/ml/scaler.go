package ml

import (
	"fmt"
	"math"
)

// StandardScaler centres each column on its mean and divides by its
// population standard deviation. Columns with zero variance are left
// unscaled. Fields are exported so the fitted state can be gob-encoded.
type StandardScaler struct {
	Mean     []float64
	Scale    []float64
	NSamples int
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// IsFitted reports whether Fit has completed successfully.
func (s *StandardScaler) IsFitted() bool {
	return s != nil && len(s.Mean) > 0 && len(s.Mean) == len(s.Scale)
}

func (s *StandardScaler) Fit(x [][]float64) error {
	width, err := checkMatrix(x)
	if err != nil {
		return err
	}

	mean := make([]float64, width)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	s.NSamples = len(x)
	return nil
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	if !s.IsFitted() {
		return nil, ErrNotFitted
	}
	width, err := checkMatrix(x)
	if err != nil {
		return nil, err
	}
	if width != len(s.Mean) {
		return nil, fmt.Errorf("%w: scaler fitted on %d columns, got %d", ErrInvalidInput, len(s.Mean), width)
	}

	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, width)
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}
