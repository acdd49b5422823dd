package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebloom/backend/internal/artifact"
	"github.com/timebloom/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func activity(id, user, energy string, ts time.Time) *models.ActivityRecord {
	return &models.ActivityRecord{
		ID:          id,
		UserID:      user,
		EnergyLevel: energy,
		Location:    models.Location{Type: "office", Coordinates: []float64{52.37, 4.89}},
		Timestamp:   models.At(ts),
	}
}

func TestActivities(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.InsertActivity(ctx, activity("a1", "u1", "low", base.AddDate(0, 0, -40))))
	require.NoError(t, c.InsertActivity(ctx, activity("a2", "u1", "high", base.AddDate(0, 0, -2))))
	require.NoError(t, c.InsertActivity(ctx, activity("a3", "u1", "medium", base)))
	require.NoError(t, c.InsertActivity(ctx, activity("b1", "u2", "high", base)))

	window, err := c.QueryActivities(ctx, "u1", base.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "a2", window[0].ID)
	assert.Equal(t, "a3", window[1].ID)
	assert.Equal(t, "office", window[1].Location.Type)
	assert.Equal(t, []float64{52.37, 4.89}, window[1].Location.Coordinates)
	ts, ok := window[1].Timestamp.Resolve()
	require.True(t, ok)
	assert.True(t, ts.Equal(base))

	latest, err := c.LatestActivity(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a3", latest.ID)
	assert.Equal(t, "medium", latest.EnergyLevel)

	all, err := c.ListActivities(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := c.LatestActivity(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInsertActivity_RequiresTimestamp(t *testing.T) {
	c := newTestClient(t)
	err := c.InsertActivity(context.Background(), &models.ActivityRecord{ID: "x", UserID: "u1", EnergyLevel: "low"})
	assert.Error(t, err)
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.InsertTask(ctx, &models.TaskRecord{
		ID: "t1", UserID: "u1", Title: "old", TaskType: "coding", Difficulty: "high",
		CreatedAt: models.At(base.AddDate(0, 0, -60)),
	}))
	require.NoError(t, c.InsertTask(ctx, &models.TaskRecord{
		ID: "t2", UserID: "u1", Title: "recent", TaskType: "coding", Difficulty: "medium",
		CreatedAt: models.At(base.Add(-time.Hour)),
	}))
	require.NoError(t, c.InsertTask(ctx, &models.TaskRecord{
		ID: "t3", UserID: "u1", Title: "stamped only", TaskType: "email", Completed: true,
		Timestamp: models.At(base),
	}))
	require.NoError(t, c.InsertTask(ctx, &models.TaskRecord{ID: "t4", UserID: "u1", Title: "undated"}))

	window, err := c.QueryTasks(ctx, "u1", base.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "t2", window[0].ID)
	assert.Equal(t, "t3", window[1].ID)
	assert.True(t, window[1].Completed)
	assert.True(t, window[1].CreatedAt.IsZero())
	_, ok := window[1].ResolveTime()
	assert.True(t, ok)

	require.NoError(t, c.InsertTask(ctx, &models.TaskRecord{
		ID: "t2", UserID: "u1", Title: "recent", TaskType: "coding", Difficulty: "medium", Completed: true,
		CreatedAt: models.At(base.Add(-time.Hour)),
	}))
	all, err := c.ListTasks(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for _, task := range all {
		if task.ID == "t2" {
			assert.True(t, task.Completed, "upsert marks the task completed")
		}
	}

	got, err := c.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Completed)
	assert.Equal(t, "recent", got.Title)

	missing, err := c.GetTask(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTrainingRuns(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	run, err := c.LatestTrainingRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, run)

	first := &models.TrainingRun{UserID: "u1", ModelVersion: 1, Samples: 10, RMSE: 0.1, CreatedAt: base}
	second := &models.TrainingRun{UserID: "u2", ModelVersion: 2, Samples: 12, RMSE: 0.05, R2: 0.9, DurationMS: 7, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, c.InsertTrainingRun(ctx, first))
	require.NoError(t, c.InsertTrainingRun(ctx, second))
	assert.NotZero(t, second.ID)

	run, err = c.LatestTrainingRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 2, run.ModelVersion)
	assert.Equal(t, "u2", run.UserID)
	assert.Equal(t, 0.9, run.R2)
	assert.True(t, run.CreatedAt.Equal(second.CreatedAt))
}

func TestArtifactStore(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	var store artifact.Store = c
	_, err := store.Load(ctx, artifact.ModelName)
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	require.NoError(t, store.Save(ctx, artifact.ModelName, []byte("v1")))
	require.NoError(t, store.Save(ctx, artifact.ModelName, []byte("v2")))

	blob, err := store.Load(ctx, artifact.ModelName)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), blob)
}
