// Package recommend ties activity ingestion to model retraining and builds
// recommendation responses from the task scorer and productivity predictor.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/timebloom/backend/internal/matcher"
	"github.com/timebloom/backend/internal/metrics"
	"github.com/timebloom/backend/internal/predictor"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

// ErrMissingUserID is the only error the engine surfaces for bad input.
var ErrMissingUserID = errors.New("user_id is required")

const (
	defaultEnergy   = "medium"
	defaultLocation = "unknown"
)

// Repository is the activity and task storage the engine reads and writes.
type Repository interface {
	InsertActivity(ctx context.Context, activity *models.ActivityRecord) error
	QueryActivities(ctx context.Context, userID string, since time.Time) ([]models.ActivityRecord, error)
	QueryTasks(ctx context.Context, userID string, since time.Time) ([]models.TaskRecord, error)
	LatestActivity(ctx context.Context, userID string) (*models.ActivityRecord, error)
}

// RunRecorder stores a row per successful retrain.
type RunRecorder interface {
	InsertTrainingRun(ctx context.Context, run *models.TrainingRun) error
}

// Cache holds computed results for "now" requests, keyed by user and hour.
// The productivity model and score table are shared by all users, so a
// refresh that changes either clears every user's entries; otherwise only
// the refreshed user's entries are dropped.
type Cache interface {
	GetRecommendations(ctx context.Context, userID, slot string, result any) (bool, error)
	SetRecommendations(ctx context.Context, userID, slot string, result any, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

type ProductivityModel interface {
	Train(ctx context.Context, activities []models.ActivityRecord) (*predictor.TrainReport, error)
	PredictBestTime(ctx context.Context, userID, difficulty string) []predictor.TimeSlot
}

type TaskScorer interface {
	UpdateTaskScores(ctx context.Context, userID string, tasks []models.TaskRecord) int
	GetTaskRecommendations(ctx context.Context, userID string, currentTime time.Time, energyLevel string) []matcher.Recommendation
}

type Options struct {
	// Window bounds the history used for retraining. Defaults to 30 days.
	Window   time.Duration
	Location *time.Location
	Runs     RunRecorder
	Cache    Cache
	CacheTTL time.Duration
	Now      func() time.Time
}

type CurrentContext struct {
	Time        time.Time `json:"time"`
	EnergyLevel string    `json:"energy_level"`
	Location    string    `json:"location"`
}

type Result struct {
	CurrentContext      *CurrentContext          `json:"current_context,omitempty"`
	TaskRecommendations []matcher.Recommendation `json:"task_recommendations"`
	BestTimes           []predictor.TimeSlot     `json:"best_times"`
	Error               string                   `json:"error,omitempty"`
}

type Engine struct {
	repo      Repository
	predictor ProductivityModel
	scorer    TaskScorer
	opts      Options
	group     singleflight.Group
}

func NewEngine(repo Repository, p ProductivityModel, s TaskScorer, opts Options) *Engine {
	if opts.Window <= 0 {
		opts.Window = 30 * 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{repo: repo, predictor: p, scorer: s, opts: opts}
}

// ProcessNewActivity stores the activity and then refreshes the user's
// models. Only a missing user id or a failed write is returned as an error;
// problems while retraining are logged and dropped.
func (e *Engine) ProcessNewActivity(ctx context.Context, activity models.ActivityRecord) (*models.ActivityRecord, error) {
	if activity.UserID == "" {
		return nil, ErrMissingUserID
	}
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}

	now := e.opts.Now()
	switch ts, ok := activity.Timestamp.Resolve(); {
	case ok:
		activity.Timestamp = models.At(ts)
	case activity.Timestamp.IsZero():
		activity.Timestamp = models.At(now)
	default:
		logger.Warn("Replacing unparseable activity timestamp",
			zap.String("activity_id", activity.ID),
			zap.String("timestamp", activity.Timestamp.Raw),
		)
		activity.Timestamp = models.At(now)
	}

	if err := e.repo.InsertActivity(ctx, &activity); err != nil {
		metrics.ActivitiesIngested.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to store activity: %w", err)
	}
	metrics.ActivitiesIngested.WithLabelValues("success").Inc()

	logger.Info("Activity logged",
		zap.String("activity_id", activity.ID),
		zap.String("user_id", activity.UserID),
		zap.String("energy_level", activity.EnergyLevel),
	)

	e.refreshModels(ctx, activity.UserID)
	return &activity, nil
}

func (e *Engine) refreshModels(ctx context.Context, userID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Model refresh panicked", zap.String("user_id", userID), zap.Any("panic", r))
		}
	}()

	since := e.opts.Now().Add(-e.opts.Window)

	activities, err := e.repo.QueryActivities(ctx, userID, since)
	if err != nil {
		logger.Error("Failed to fetch activity window", zap.String("user_id", userID), zap.Error(err))
		return
	}

	report, err := e.predictor.Train(ctx, e.localize(activities))
	switch {
	case errors.Is(err, predictor.ErrNoTrainingData):
		logger.Debug("Skipped training", zap.String("user_id", userID))
	case err != nil:
		logger.Error("Failed to train productivity model", zap.String("user_id", userID), zap.Error(err))
	}
	if report != nil {
		e.recordRun(ctx, userID, report)
	}
	sharedChanged := report != nil

	tasks, err := e.repo.QueryTasks(ctx, userID, since)
	if err != nil {
		logger.Error("Failed to fetch task window", zap.String("user_id", userID), zap.Error(err))
	} else if len(tasks) == 0 {
		logger.Debug("No tasks to update scores", zap.String("user_id", userID))
	} else {
		counted := e.scorer.UpdateTaskScores(ctx, userID, tasks)
		logger.Debug("Task scores updated", zap.String("user_id", userID), zap.Int("counted", counted))
		sharedChanged = sharedChanged || counted > 0
	}

	e.invalidate(ctx, userID, sharedChanged)
}

func (e *Engine) invalidate(ctx context.Context, userID string, all bool) {
	if e.opts.Cache == nil {
		return
	}
	var err error
	if all {
		err = e.opts.Cache.InvalidateAll(ctx)
	} else {
		err = e.opts.Cache.InvalidateUser(ctx, userID)
	}
	if err != nil {
		logger.Warn("Failed to invalidate recommendation cache",
			zap.String("user_id", userID),
			zap.Bool("all_users", all),
			zap.Error(err),
		)
	}
}

// localize moves resolved timestamps into the configured zone so hour and
// weekday features follow the user's wall clock.
func (e *Engine) localize(activities []models.ActivityRecord) []models.ActivityRecord {
	out := make([]models.ActivityRecord, len(activities))
	for i, a := range activities {
		if ts, ok := a.Timestamp.Resolve(); ok {
			a.Timestamp = models.At(ts.In(e.opts.Location))
		}
		out[i] = a
	}
	return out
}

func (e *Engine) recordRun(ctx context.Context, userID string, report *predictor.TrainReport) {
	if e.opts.Runs == nil {
		return
	}
	run := &models.TrainingRun{
		UserID:       userID,
		ModelVersion: report.ModelVersion,
		Samples:      report.Samples,
		DurationMS:   report.Duration.Milliseconds(),
		CreatedAt:    report.TrainedAt,
	}
	if report.Fit != nil {
		run.RMSE = report.Fit.RMSE
		run.MAE = report.Fit.MAE
		run.R2 = report.Fit.R2
	}
	if err := e.opts.Runs.InsertTrainingRun(ctx, run); err != nil {
		logger.Warn("Failed to record training run", zap.String("user_id", userID), zap.Error(err))
	}
}

// GetRecommendations builds a Result for userID at the given time, or now
// when at is nil. Failures are reported in Result.Error, never as an error.
func (e *Engine) GetRecommendations(ctx context.Context, userID string, at *time.Time) (*Result, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	if at != nil {
		return e.compose(ctx, userID, at.In(e.opts.Location)), nil
	}

	now := e.opts.Now().In(e.opts.Location)
	if e.opts.Cache == nil {
		return e.compose(ctx, userID, now), nil
	}

	slot := now.Format("2006-01-02T15")
	// Waiters share the result, so the work must outlive the caller that
	// started it.
	shareCtx := context.WithoutCancel(ctx)
	v, _, _ := e.group.Do(userID+"|"+slot, func() (any, error) {
		var cached Result
		hit, err := e.opts.Cache.GetRecommendations(shareCtx, userID, slot, &cached)
		if err != nil {
			logger.Warn("Recommendation cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		if hit {
			metrics.CacheHits.Inc()
			metrics.RecommendationsTotal.WithLabelValues("cached").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.Inc()

		result := e.compose(shareCtx, userID, now)
		if result.Error == "" {
			if err := e.opts.Cache.SetRecommendations(shareCtx, userID, slot, result, e.opts.CacheTTL); err != nil {
				logger.Warn("Recommendation cache write failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
		return result, nil
	})

	shared := v.(*Result)
	result := *shared
	if shared.CurrentContext != nil {
		cc := *shared.CurrentContext
		cc.Time = now
		result.CurrentContext = &cc
	}
	return &result, nil
}

func (e *Engine) compose(ctx context.Context, userID string, now time.Time) (result *Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recommendation composition panicked", zap.String("user_id", userID), zap.Any("panic", r))
			result = failed(fmt.Errorf("internal error: %v", r))
		}
		status := "success"
		if result.Error != "" {
			status = "error"
		}
		metrics.RecommendationsTotal.WithLabelValues(status).Inc()
		metrics.RecommendationDuration.Observe(time.Since(start).Seconds())
	}()

	latest, err := e.repo.LatestActivity(ctx, userID)
	if err != nil {
		logger.Error("Failed to get latest activity", zap.String("user_id", userID), zap.Error(err))
		return failed(err)
	}

	cc := &CurrentContext{Time: now, EnergyLevel: defaultEnergy, Location: defaultLocation}
	if latest != nil {
		if latest.EnergyLevel != "" {
			cc.EnergyLevel = latest.EnergyLevel
		}
		if latest.Location.Type != "" {
			cc.Location = latest.Location.Type
		}
	}

	recs := e.scorer.GetTaskRecommendations(ctx, userID, now, cc.EnergyLevel)
	if recs == nil {
		recs = []matcher.Recommendation{}
	}

	difficulty := defaultEnergy
	if len(recs) > 0 {
		difficulty = recs[0].Difficulty
	}
	best := e.predictor.PredictBestTime(ctx, userID, difficulty)
	if best == nil {
		best = []predictor.TimeSlot{}
	}

	logger.Info("Recommendations generated",
		zap.String("user_id", userID),
		zap.String("energy_level", cc.EnergyLevel),
		zap.Int("task_recommendations", len(recs)),
		zap.Int("best_times", len(best)),
	)

	return &Result{
		CurrentContext:      cc,
		TaskRecommendations: recs,
		BestTimes:           best,
	}
}

func failed(err error) *Result {
	return &Result{
		TaskRecommendations: []matcher.Recommendation{},
		BestTimes:           []predictor.TimeSlot{},
		Error:               err.Error(),
	}
}
