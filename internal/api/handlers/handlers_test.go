package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebloom/backend/internal/matcher"
	"github.com/timebloom/backend/internal/predictor"
	"github.com/timebloom/backend/internal/recommend"
	"github.com/timebloom/backend/internal/storage/models"
)

type fakeProcessor struct {
	got []models.ActivityRecord
	err error
}

func (f *fakeProcessor) ProcessNewActivity(_ context.Context, a models.ActivityRecord) (*models.ActivityRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, a)
	a.ID = "generated"
	return &a, nil
}

func (f *fakeProcessor) ListActivities(_ context.Context, userID string, limit int) ([]models.ActivityRecord, error) {
	var out []models.ActivityRecord
	for _, a := range f.got {
		if a.UserID == userID && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeTasks struct {
	tasks []models.TaskRecord
}

func (f *fakeTasks) InsertTask(_ context.Context, t *models.TaskRecord) error {
	for i := range f.tasks {
		if f.tasks[i].ID == t.ID {
			f.tasks[i].Completed = t.Completed
			f.tasks[i].Timestamp = t.Timestamp
			return nil
		}
	}
	f.tasks = append(f.tasks, *t)
	return nil
}

func (f *fakeTasks) GetTask(_ context.Context, id string) (*models.TaskRecord, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeTasks) ListTasks(_ context.Context, userID string, _ int) ([]models.TaskRecord, error) {
	var out []models.TaskRecord
	for _, t := range f.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeRecommender struct {
	at *time.Time
}

func (f *fakeRecommender) GetRecommendations(_ context.Context, userID string, at *time.Time) (*recommend.Result, error) {
	if userID == "" {
		return nil, recommend.ErrMissingUserID
	}
	f.at = at
	return &recommend.Result{
		CurrentContext:      &recommend.CurrentContext{EnergyLevel: "high", Location: "office"},
		TaskRecommendations: []matcher.Recommendation{{TaskType: "coding", Difficulty: "high", Score: 0.75}},
		BestTimes:           []predictor.TimeSlot{{StartTime: "09:00", EndTime: "10:00", ProductivityScore: 0.9, Confidence: "high"}},
	}, nil
}

type fakeStatus struct{}

func (fakeStatus) Status() predictor.Status {
	return predictor.Status{State: "ready", ModelFitted: true, ModelVersion: 3}
}

func (fakeStatus) LatestTrainingRun(context.Context) (*models.TrainingRun, error) {
	return &models.TrainingRun{ID: 7, ModelVersion: 3, Samples: 40}, nil
}

func newTestApp() (*fiber.App, *fakeProcessor, *fakeTasks, *fakeRecommender) {
	processor := &fakeProcessor{}
	tasks := &fakeTasks{}
	rec := &fakeRecommender{}

	app := fiber.New(fiber.Config{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal})
	activity := NewActivityHandler(processor, processor)
	task := NewTaskHandler(tasks)
	task.now = func() time.Time { return time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC) }
	model := NewModelHandler(fakeStatus{}, fakeStatus{})

	app.Post("/activity", activity.LogActivity)
	app.Get("/activity/:user_id", activity.GetUserActivity)
	app.Post("/tasks", task.CreateTask)
	app.Get("/tasks/:user_id", task.GetUserTasks)
	app.Post("/tasks/:task_id/complete", task.CompleteTask)
	app.Get("/recommendations/:user_id?", NewRecommendationHandler(rec).GetRecommendations)
	app.Get("/models/status", model.GetStatus)
	return app, processor, tasks, rec
}

func send(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	return resp.StatusCode, obj, raw
}

func TestLogActivity(t *testing.T) {
	app, processor, _, _ := newTestApp()

	status, body, _ := send(t, app, http.MethodPost, "/activity",
		`{"user_id":"u1","energy_level":"high","location":{"type":"home","coordinates":[1.5,2.5]},"timestamp":"2024-06-03T09:00:00Z"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "generated", body["id"])
	require.Len(t, processor.got, 1)
	assert.Equal(t, "home", processor.got[0].Location.Type)
	ts, ok := processor.got[0].Timestamp.Resolve()
	require.True(t, ok)
	assert.Equal(t, 9, ts.Hour())

	status, body, _ = send(t, app, http.MethodPost, "/activity", `{"energy_level":"high"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "user_id is required")

	status, _, _ = send(t, app, http.MethodPost, "/activity", `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _, raw := send(t, app, http.MethodGet, "/activity/u1", "")
	assert.Equal(t, fiber.StatusOK, status)
	var listed []models.ActivityRecord
	require.NoError(t, json.Unmarshal(raw, &listed))
	assert.Len(t, listed, 1)

	_, _, raw = send(t, app, http.MethodGet, "/activity/nobody", "")
	assert.Equal(t, "[]", string(raw))
}

func TestLogActivity_WriteFailure(t *testing.T) {
	app, processor, _, _ := newTestApp()
	processor.err = errors.New("disk full")

	status, body, _ := send(t, app, http.MethodPost, "/activity", `{"user_id":"u1","energy_level":"low"}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "Failed to log activity", body["error"])
}

func TestCreateTask(t *testing.T) {
	app, _, tasks, _ := newTestApp()

	status, body, _ := send(t, app, http.MethodPost, "/tasks",
		`{"user_id":"u1","title":"Write report","task_type":"writing","difficulty":"high","priority":"p1"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.NotEmpty(t, body["id"])
	require.Len(t, tasks.tasks, 1)
	created, ok := tasks.tasks[0].CreatedAt.Resolve()
	require.True(t, ok)
	assert.Equal(t, 12, created.Hour(), "missing created_at defaults to now")

	status, _, _ = send(t, app, http.MethodPost, "/tasks",
		`{"user_id":"u1","title":"x","task_type":"writing","difficulty":"high","priority":"p1","created_at":"soon"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body, _ = send(t, app, http.MethodPost, "/tasks", `{"user_id":"u1","title":"x"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "task_type is required")

	status, _, raw := send(t, app, http.MethodGet, "/tasks/u1", "")
	assert.Equal(t, fiber.StatusOK, status)
	var listed []models.TaskRecord
	require.NoError(t, json.Unmarshal(raw, &listed))
	assert.Len(t, listed, 1)
}

func TestCompleteTask(t *testing.T) {
	app, _, tasks, _ := newTestApp()

	_, body, _ := send(t, app, http.MethodPost, "/tasks",
		`{"user_id":"u1","title":"Write report","task_type":"writing","difficulty":"high","priority":"p1"}`)
	id := body["id"].(string)

	status, body, _ := send(t, app, http.MethodPost, "/tasks/"+id+"/complete", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["completed"])
	require.Len(t, tasks.tasks, 1, "completion updates the stored task in place")
	assert.True(t, tasks.tasks[0].Completed)
	_, ok := tasks.tasks[0].Timestamp.Resolve()
	assert.True(t, ok)

	status, _, _ = send(t, app, http.MethodPost, "/tasks/missing/complete", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestGetRecommendations(t *testing.T) {
	app, _, _, rec := newTestApp()

	status, body, _ := send(t, app, http.MethodGet, "/recommendations/u1", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Nil(t, rec.at)
	recs := body["task_recommendations"].([]any)
	require.Len(t, recs, 1)
	assert.Equal(t, "coding", recs[0].(map[string]any)["task_type"])
	times := body["best_times"].([]any)
	assert.Equal(t, "09:00", times[0].(map[string]any)["start_time"])

	status, _, _ = send(t, app, http.MethodGet, "/recommendations/u1?at=2024-06-03T19:00:00Z", "")
	assert.Equal(t, fiber.StatusOK, status)
	require.NotNil(t, rec.at)
	assert.Equal(t, 19, rec.at.Hour())

	status, _, _ = send(t, app, http.MethodGet, "/recommendations/u1?at=tomorrow", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _, _ = send(t, app, http.MethodGet, "/recommendations/", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestModelStatus(t *testing.T) {
	app, _, _, _ := newTestApp()

	status, body, _ := send(t, app, http.MethodGet, "/models/status", "")
	assert.Equal(t, fiber.StatusOK, status)
	pred := body["predictor"].(map[string]any)
	assert.Equal(t, "ready", pred["state"])
	assert.Equal(t, float64(3), pred["model_version"])
	run := body["latest_training_run"].(map[string]any)
	assert.Equal(t, float64(40), run["samples"])
}
