package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActivitiesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timebloom_activities_ingested_total",
			Help: "Activity records received, by write outcome",
		},
		[]string{"status"},
	)

	TrainingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timebloom_training_total",
			Help: "Productivity model training attempts, by outcome",
		},
		[]string{"status"},
	)

	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timebloom_training_duration_seconds",
			Help:    "Time spent refitting the productivity model",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	TrainingSamples = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timebloom_training_samples",
			Help:    "Feature vectors used per training run",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	ModelFitRMSE = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "timebloom_model_fit_rmse",
			Help: "In-sample RMSE of the most recent productivity model fit",
		},
	)

	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timebloom_best_time_predictions_total",
			Help: "Best-time predictions, by outcome",
		},
		[]string{"status"},
	)

	RecommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timebloom_recommendations_total",
			Help: "Recommendation requests, by outcome",
		},
		[]string{"status"},
	)

	RecommendationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timebloom_recommendation_duration_seconds",
			Help:    "Time spent composing a recommendation response",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	ScoreTableEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "timebloom_score_table_entries",
			Help: "Entries in the task success-rate table",
		},
	)

	ArtifactOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timebloom_artifact_operations_total",
			Help: "Model artifact store operations",
		},
		[]string{"operation", "status"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timebloom_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timebloom_recommendation_cache_hits_total",
			Help: "Recommendation cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timebloom_recommendation_cache_misses_total",
			Help: "Recommendation cache misses",
		},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timebloom_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ActivitiesIngested,
			TrainingTotal,
			TrainingDuration,
			TrainingSamples,
			ModelFitRMSE,
			PredictionsTotal,
			RecommendationsTotal,
			RecommendationDuration,
			ScoreTableEntries,
			ArtifactOps,
			BreakerState,
			CacheHits,
			CacheMisses,
			RateLimited,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
