package evaluation

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/timebloom/backend/pkg/logger"
)

// Report summarises how well predictions track their targets.
type Report struct {
	Samples int     `json:"samples"`
	RMSE    float64 `json:"rmse"`
	MAE     float64 `json:"mae"`
	R2      float64 `json:"r2"`
	// Fit classifies R2: "strong" >= 0.8, "moderate" >= 0.5, otherwise "weak".
	Fit string `json:"fit"`
}

// Evaluate compares predicted against actual. A constant target yields
// R2 = 1 when predictions are exact and 0 otherwise.
func Evaluate(predicted, actual []float64) (*Report, error) {
	if len(predicted) != len(actual) {
		return nil, fmt.Errorf("failed to evaluate: %d predictions for %d targets", len(predicted), len(actual))
	}
	if len(actual) == 0 {
		return nil, fmt.Errorf("failed to evaluate: no samples")
	}

	n := float64(len(actual))
	var mean float64
	for _, v := range actual {
		mean += v
	}
	mean /= n

	var sse, sae, sst float64
	for i := range actual {
		d := predicted[i] - actual[i]
		sse += d * d
		sae += math.Abs(d)
		t := actual[i] - mean
		sst += t * t
	}

	report := &Report{
		Samples: len(actual),
		RMSE:    math.Sqrt(sse / n),
		MAE:     sae / n,
	}

	switch {
	case sst > 0:
		report.R2 = 1 - sse/sst
	case sse == 0:
		report.R2 = 1
	default:
		report.R2 = 0
	}

	switch {
	case report.R2 >= 0.8:
		report.Fit = "strong"
	case report.R2 >= 0.5:
		report.Fit = "moderate"
	default:
		report.Fit = "weak"
	}

	logger.Debug("Model fit evaluated",
		zap.Int("samples", report.Samples),
		zap.Float64("rmse", report.RMSE),
		zap.Float64("r2", report.R2),
		zap.String("fit", report.Fit),
	)

	return report, nil
}

func (r *Report) String() string {
	return fmt.Sprintf("samples=%d rmse=%.4f mae=%.4f r2=%.3f (%s)", r.Samples, r.RMSE, r.MAE, r.R2, r.Fit)
}
