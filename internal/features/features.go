// Package features turns activity records into the fixed-width numeric
// vectors the productivity model is trained and queried on.
package features

import (
	"time"

	"github.com/timebloom/backend/internal/storage/models"
)

// Width is the number of columns in a feature vector.
const Width = 3

// Column indexes into a Vector.
const (
	ColHour = iota
	ColWeekday
	ColEnergy
)

// Level codes shared by energy levels and task difficulties.
const (
	LevelLow    = 0
	LevelMedium = 1
	LevelHigh   = 2
)

// Vector is [hour 0-23, weekday 0-6 with Monday=0, energy code 0-2].
type Vector [Width]float64

// Sample is a vector together with the decoded fields used for labelling.
type Sample struct {
	Vector Vector
	Hour   int
	Energy int
}

// EncodeLevel maps low/medium/high to 0/1/2. Unrecognised values are
// treated as medium.
func EncodeLevel(level string) int {
	switch level {
	case "low":
		return LevelLow
	case "high":
		return LevelHigh
	default:
		return LevelMedium
	}
}

// Weekday returns the day of week with Monday as 0 and Sunday as 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// NewVector builds a vector from its parts.
func NewVector(hour, weekday, energy int) Vector {
	return Vector{float64(hour), float64(weekday), float64(energy)}
}

// Extract returns one sample per activity whose timestamp resolves. Records
// with a missing or unparseable timestamp are skipped.
func Extract(activities []models.ActivityRecord) []Sample {
	samples := make([]Sample, 0, len(activities))
	for _, a := range activities {
		ts, ok := a.Timestamp.Resolve()
		if !ok {
			continue
		}
		energy := EncodeLevel(a.EnergyLevel)
		samples = append(samples, Sample{
			Vector: NewVector(ts.Hour(), Weekday(ts), energy),
			Hour:   ts.Hour(),
			Energy: energy,
		})
	}
	return samples
}

// Build returns only the vectors of Extract.
func Build(activities []models.ActivityRecord) []Vector {
	samples := Extract(activities)
	vectors := make([]Vector, len(samples))
	for i, s := range samples {
		vectors[i] = s.Vector
	}
	return vectors
}

// Matrix converts vectors into row slices for the ml package.
func Matrix(vectors []Vector) [][]float64 {
	rows := make([][]float64, len(vectors))
	for i := range vectors {
		row := make([]float64, Width)
		copy(row, vectors[i][:])
		rows[i] = row
	}
	return rows
}
