// Package matcher keeps per-(task type, difficulty, time of day) success
// rates and ranks task types for a user's current energy level.
package matcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/artifact"
	"github.com/timebloom/backend/internal/features"
	"github.com/timebloom/backend/internal/metrics"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

type TimeBucket string

const (
	Morning   TimeBucket = "morning"
	Afternoon TimeBucket = "afternoon"
	Evening   TimeBucket = "evening"
)

const (
	defaultTaskType   = "unknown"
	defaultDifficulty = "medium"
)

// Bucket partitions the day at 12:00 and 17:00.
func Bucket(t time.Time) TimeBucket {
	switch h := t.Hour(); {
	case h < 12:
		return Morning
	case h < 17:
		return Afternoon
	default:
		return Evening
	}
}

// IsSuitable reports whether a task difficulty is within one level of the
// energy level. Unknown values count as medium.
func IsSuitable(difficulty, energy string) bool {
	d := features.EncodeLevel(difficulty) - features.EncodeLevel(energy)
	return d >= -1 && d <= 1
}

type Key struct {
	TaskType   string
	Difficulty string
	Bucket     TimeBucket
}

type Entry struct {
	Success int
	Total   int
}

// Rate is Success/Total, or 0 for an empty entry.
func (e Entry) Rate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Success) / float64(e.Total)
}

type Recommendation struct {
	TaskType   string  `json:"task_type"`
	Difficulty string  `json:"difficulty"`
	Score      float64 `json:"score"`
}

// snapshot is the persisted form of the table.
type snapshot struct {
	Scores map[Key]Entry
	Seen   map[string]bool
}

// Matcher is safe for concurrent use. When created with a store, the table
// is restored from it on first use and saved after every update batch.
type Matcher struct {
	store artifact.Store
	loc   *time.Location

	mu      sync.RWMutex
	loaded  bool
	version int
	scores  map[Key]Entry
	// seen records the completion state already counted for each task id.
	seen map[string]bool
}

// New returns a matcher. store may be nil to keep the table in memory only.
// Task times are bucketed in loc, or UTC when loc is nil.
func New(store artifact.Store, loc *time.Location) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{
		store:  store,
		loc:    loc,
		scores: make(map[Key]Entry),
		seen:   make(map[string]bool),
	}
}

// restore loads the persisted table once. Callers hold m.mu for writing.
func (m *Matcher) restore(ctx context.Context) {
	if m.loaded {
		return
	}
	m.loaded = true
	if m.store == nil {
		return
	}

	blob, err := m.store.Load(ctx, artifact.ScoreTableName)
	if err != nil {
		if !errors.Is(err, artifact.ErrNotFound) {
			logger.Warn("Failed to load task scores, starting empty", zap.Error(err))
		}
		return
	}

	var snap snapshot
	meta, err := artifact.Decode(blob, &snap)
	if err != nil {
		logger.Warn("Discarding unreadable task scores", zap.Error(err))
		return
	}
	if snap.Scores != nil {
		m.scores = snap.Scores
	}
	if snap.Seen != nil {
		m.seen = snap.Seen
	}
	m.version = meta.Version
	metrics.ScoreTableEntries.Set(float64(len(m.scores)))
	logger.Info("Task scores restored", zap.Int("entries", len(m.scores)), zap.Int("version", meta.Version))
}

func (m *Matcher) ensureLoaded(ctx context.Context) {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if loaded {
		return
	}
	m.mu.Lock()
	m.restore(ctx)
	m.mu.Unlock()
}

// UpdateTaskScores folds tasks into the table and returns how many were
// counted. Tasks without a creation time or timestamp are skipped. A task id
// is counted once; if it is later seen completed, only its success is added.
func (m *Matcher) UpdateTaskScores(ctx context.Context, userID string, tasks []models.TaskRecord) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.restore(ctx)

	counted := 0
	for _, task := range tasks {
		ts, ok := task.ResolveTime()
		if !ok {
			continue
		}

		taskType := task.TaskType
		if taskType == "" {
			taskType = defaultTaskType
		}
		difficulty := task.Difficulty
		if difficulty == "" {
			difficulty = defaultDifficulty
		}
		key := Key{TaskType: taskType, Difficulty: difficulty, Bucket: Bucket(ts.In(m.loc))}
		entry := m.scores[key]

		if task.ID != "" {
			done, seen := m.seen[task.ID]
			switch {
			case !seen:
				entry.Total++
				if task.Completed {
					entry.Success++
				}
			case !done && task.Completed:
				entry.Success++
			default:
				continue
			}
			m.seen[task.ID] = done || task.Completed
		} else {
			entry.Total++
			if task.Completed {
				entry.Success++
			}
		}

		m.scores[key] = entry
		counted++
	}

	metrics.ScoreTableEntries.Set(float64(len(m.scores)))
	logger.Debug("Task scores updated",
		zap.String("user_id", userID),
		zap.Int("tasks", len(tasks)),
		zap.Int("counted", counted),
		zap.Int("entries", len(m.scores)),
	)

	if counted > 0 {
		m.persist(ctx)
	}
	return counted
}

// persist saves the table. Failures are logged; the in-memory table stays
// authoritative. Callers hold m.mu.
func (m *Matcher) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	blob, err := artifact.Encode(snapshot{Scores: m.scores, Seen: m.seen}, artifact.Metadata{
		Name:    artifact.ScoreTableName,
		Version: m.version + 1,
		Samples: len(m.scores),
	})
	if err != nil {
		logger.Error("Failed to encode task scores", zap.Error(err))
		return
	}
	if err := m.store.Save(ctx, artifact.ScoreTableName, blob); err != nil {
		logger.Error("Failed to save task scores", zap.Error(err))
		return
	}
	m.version++
}

// GetTaskRecommendations ranks the entries of currentTime's bucket whose
// difficulty suits energyLevel by success rate, highest first. Equal rates
// are ordered by task type, then difficulty.
func (m *Matcher) GetTaskRecommendations(ctx context.Context, userID string, currentTime time.Time, energyLevel string) []Recommendation {
	m.ensureLoaded(ctx)

	bucket := Bucket(currentTime.In(m.loc))

	m.mu.RLock()
	recs := make([]Recommendation, 0, len(m.scores))
	for key, entry := range m.scores {
		if key.Bucket != bucket || !IsSuitable(key.Difficulty, energyLevel) {
			continue
		}
		recs = append(recs, Recommendation{
			TaskType:   key.TaskType,
			Difficulty: key.Difficulty,
			Score:      entry.Rate(),
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		if recs[i].TaskType != recs[j].TaskType {
			return recs[i].TaskType < recs[j].TaskType
		}
		return recs[i].Difficulty < recs[j].Difficulty
	})

	logger.Debug("Task recommendations ranked",
		zap.String("user_id", userID),
		zap.String("bucket", string(bucket)),
		zap.Int("candidates", len(recs)),
	)
	return recs
}

// entries returns a copy of the table.
func (m *Matcher) entries(ctx context.Context) map[Key]Entry {
	m.ensureLoaded(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Key]Entry, len(m.scores))
	for k, v := range m.scores {
		out[k] = v
	}
	return out
}
