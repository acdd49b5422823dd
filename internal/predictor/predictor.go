// Package predictor owns the productivity model: a standard scaler and a
// random forest regressor trained on a user's recent activity and queried
// for the most productive hours of the day.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/artifact"
	"github.com/timebloom/backend/internal/evaluation"
	"github.com/timebloom/backend/internal/features"
	"github.com/timebloom/backend/internal/metrics"
	"github.com/timebloom/backend/internal/ml"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

// ErrNoTrainingData is returned by Train when no activity has a usable
// timestamp. Nothing is fitted or saved in that case.
var ErrNoTrainingData = errors.New("no valid training samples")

const hoursPerDay = 24

type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

type TimeSlot struct {
	StartTime         string  `json:"start_time"`
	EndTime           string  `json:"end_time"`
	ProductivityScore float64 `json:"productivity_score"`
	Confidence        string  `json:"confidence"`
}

type TrainReport struct {
	ModelVersion int                `json:"model_version"`
	Samples      int                `json:"samples"`
	Fit          *evaluation.Report `json:"fit"`
	Duration     time.Duration      `json:"duration"`
	TrainedAt    time.Time          `json:"trained_at"`
}

type Status struct {
	State        string       `json:"state"`
	ModelFitted  bool         `json:"model_fitted"`
	ScalerFitted bool         `json:"scaler_fitted"`
	ModelVersion int          `json:"model_version"`
	LastTraining *TrainReport `json:"last_training,omitempty"`
}

type Options struct {
	Forest   ml.ForestConfig
	TopSlots int
	Location *time.Location
	Now      func() time.Time
}

// ready is the loaded model state. A nil *ready on the Predictor is the
// Uninitialized state.
type ready struct {
	model   *ml.RandomForest
	scaler  *ml.StandardScaler
	version int
}

type Predictor struct {
	store artifact.Store
	opts  Options

	mu    sync.Mutex
	state *ready
	last  *TrainReport
}

func New(store artifact.Store, opts Options) *Predictor {
	if opts.TopSlots <= 0 {
		opts.TopSlots = 3
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Predictor{store: store, opts: opts}
}

// TimeScore is the fixed time-of-day weighting used to label samples.
func TimeScore(hour int) float64 {
	switch {
	case hour >= 9 && hour <= 11:
		return 2.0
	case hour >= 15 && hour <= 17:
		return 1.5
	case hour >= 12 && hour <= 14:
		return 0.5
	default:
		return 1.0
	}
}

// Label is the regression target for one sample, in [0, 1].
func Label(energy, hour int) float64 {
	return (float64(energy) + TimeScore(hour)) / 4
}

// Confidence buckets a predicted score.
func Confidence(score float64) string {
	switch {
	case score > 0.7:
		return "high"
	case score > 0.4:
		return "medium"
	default:
		return "low"
	}
}

// load moves the predictor to Ready, reading the persisted model and scaler
// if they exist. The pair is only used when both decode and carry the same
// version; anything else yields fresh, unfitted instances. Callers hold p.mu.
func (p *Predictor) load(ctx context.Context) *ready {
	if p.state != nil {
		return p.state
	}

	r := &ready{
		model:  ml.NewRandomForest(p.opts.Forest),
		scaler: ml.NewStandardScaler(),
	}

	var model ml.RandomForest
	var scaler ml.StandardScaler
	modelMeta, modelErr := p.loadArtifact(ctx, artifact.ModelName, &model)
	scalerMeta, scalerErr := p.loadArtifact(ctx, artifact.ScalerName, &scaler)

	switch {
	case modelErr != nil || scalerErr != nil:
		if modelErr == nil || scalerErr == nil {
			logger.Warn("Discarding half-saved model artifacts",
				zap.Bool("model_loaded", modelErr == nil),
				zap.Bool("scaler_loaded", scalerErr == nil),
			)
		}
	case modelMeta.Version != scalerMeta.Version:
		logger.Warn("Discarding mismatched model artifacts",
			zap.Int("model_version", modelMeta.Version),
			zap.Int("scaler_version", scalerMeta.Version),
		)
	default:
		r.model = &model
		r.scaler = &scaler
		r.version = modelMeta.Version
	}

	logger.Info("Productivity predictor ready",
		zap.Int("model_version", r.version),
		zap.Bool("model_fitted", r.model.IsFitted()),
		zap.Bool("scaler_fitted", r.scaler.IsFitted()),
	)

	p.state = r
	return r
}

func (p *Predictor) loadArtifact(ctx context.Context, name string, target any) (*artifact.Metadata, error) {
	blob, err := p.store.Load(ctx, name)
	if err != nil {
		if !errors.Is(err, artifact.ErrNotFound) {
			logger.Warn("Failed to load artifact, starting fresh", zap.String("name", name), zap.Error(err))
		}
		return nil, err
	}
	meta, err := artifact.Decode(blob, target)
	if err != nil {
		logger.Warn("Discarding unreadable artifact", zap.String("name", name), zap.Error(err))
		return nil, err
	}
	return meta, nil
}

// Train refits the scaler and model on activities and persists both,
// overwriting earlier versions. The fitted model is kept in memory even if
// saving fails.
func (p *Predictor) Train(ctx context.Context, activities []models.ActivityRecord) (*TrainReport, error) {
	samples := features.Extract(activities)
	if len(samples) == 0 {
		logger.Info("No valid features to train on", zap.Int("activities", len(activities)))
		metrics.TrainingTotal.WithLabelValues("skipped").Inc()
		return nil, ErrNoTrainingData
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	r := p.load(ctx)

	vectors := make([]features.Vector, len(samples))
	labels := make([]float64, len(samples))
	for i, s := range samples {
		vectors[i] = s.Vector
		labels[i] = Label(s.Energy, s.Hour)
	}
	x := features.Matrix(vectors)

	scaler := ml.NewStandardScaler()
	scaled, err := scaler.FitTransform(x)
	if err != nil {
		metrics.TrainingTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}

	model := ml.NewRandomForest(p.opts.Forest)
	if err := model.Fit(scaled, labels); err != nil {
		metrics.TrainingTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}

	predicted, err := model.Predict(scaled)
	if err != nil {
		metrics.TrainingTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to score training set: %w", err)
	}
	fit, err := evaluation.Evaluate(predicted, labels)
	if err != nil {
		metrics.TrainingTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	version := r.version + 1
	p.state = &ready{model: model, scaler: scaler, version: version}

	report := &TrainReport{
		ModelVersion: version,
		Samples:      len(samples),
		Fit:          fit,
		Duration:     time.Since(start),
		TrainedAt:    p.opts.Now().UTC(),
	}
	p.last = report

	metrics.TrainingDuration.Observe(report.Duration.Seconds())
	metrics.TrainingSamples.Observe(float64(report.Samples))
	metrics.ModelFitRMSE.Set(fit.RMSE)

	if err := p.persist(ctx, model, scaler, version, len(samples)); err != nil {
		metrics.TrainingTotal.WithLabelValues("unsaved").Inc()
		return report, err
	}

	metrics.TrainingTotal.WithLabelValues("success").Inc()
	logger.Info("Productivity model trained",
		zap.Int("model_version", version),
		zap.Int("samples", report.Samples),
		zap.String("fit", fit.String()),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (p *Predictor) persist(ctx context.Context, model *ml.RandomForest, scaler *ml.StandardScaler, version, samples int) error {
	savedAt := p.opts.Now().UTC()

	scalerBlob, err := artifact.Encode(scaler, artifact.Metadata{Name: artifact.ScalerName, Version: version, Samples: samples, SavedAt: savedAt})
	if err != nil {
		return err
	}
	modelBlob, err := artifact.Encode(model, artifact.Metadata{Name: artifact.ModelName, Version: version, Samples: samples, SavedAt: savedAt})
	if err != nil {
		return err
	}

	// Both blobs carry the same version; load rejects a pair that differs.
	if err := p.store.Save(ctx, artifact.ModelName, modelBlob); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	if err := p.store.Save(ctx, artifact.ScalerName, scalerBlob); err != nil {
		return fmt.Errorf("failed to save scaler: %w", err)
	}
	return nil
}

// PredictBestTime scores every hour of today at medium energy and returns
// the top slots, best first. difficulty does not influence the curve yet.
// Any failure, including an untrained model, yields an empty result.
func (p *Predictor) PredictBestTime(ctx context.Context, userID, difficulty string) []TimeSlot {
	slots, err := p.predictBestTime(ctx)
	if err != nil {
		logger.Warn("Best-time prediction unavailable",
			zap.String("user_id", userID),
			zap.String("difficulty", difficulty),
			zap.Error(err),
		)
		metrics.PredictionsTotal.WithLabelValues("empty").Inc()
		return []TimeSlot{}
	}
	metrics.PredictionsTotal.WithLabelValues("success").Inc()
	return slots
}

func (p *Predictor) predictBestTime(ctx context.Context) ([]TimeSlot, error) {
	weekday := features.Weekday(p.opts.Now().In(p.opts.Location))
	vectors := make([]features.Vector, hoursPerDay)
	for h := range vectors {
		vectors[h] = features.NewVector(h, weekday, features.LevelMedium)
	}
	x := features.Matrix(vectors)

	p.mu.Lock()
	r := p.load(ctx)
	if !r.scaler.IsFitted() {
		if err := r.scaler.Fit(x); err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("failed to fit scaler on prediction batch: %w", err)
		}
	}
	scaled, err := r.scaler.Transform(x)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	scores, err := r.model.Predict(scaled)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return topSlots(scores, p.opts.TopSlots), nil
}

func topSlots(scores []float64, n int) []TimeSlot {
	hours := make([]int, len(scores))
	for h := range hours {
		hours[h] = h
	}
	sort.SliceStable(hours, func(i, j int) bool {
		return scores[hours[i]] > scores[hours[j]]
	})
	if n > len(hours) {
		n = len(hours)
	}

	slots := make([]TimeSlot, 0, n)
	for _, h := range hours[:n] {
		score := scores[h]
		slots = append(slots, TimeSlot{
			StartTime:         fmt.Sprintf("%02d:00", h),
			EndTime:           fmt.Sprintf("%02d:00", h+1),
			ProductivityScore: score,
			Confidence:        Confidence(score),
		})
	}
	return slots
}

func (p *Predictor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{State: Uninitialized.String(), LastTraining: p.last}
	if p.state != nil {
		st.State = Ready.String()
		st.ModelFitted = p.state.model.IsFitted()
		st.ScalerFitted = p.state.scaler.IsFitted()
		st.ModelVersion = p.state.version
	}
	return st
}
