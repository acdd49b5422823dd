package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/artifact"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_activity (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		energy_level TEXT NOT NULL,
		location_type TEXT,
		location_coordinates TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_user_time ON user_activity(user_id, timestamp);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		task_type TEXT,
		difficulty TEXT,
		priority TEXT,
		completed INTEGER DEFAULT 0,
		created_at INTEGER,
		timestamp INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);

	CREATE TABLE IF NOT EXISTS model_artifacts (
		name TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		size_bytes INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS training_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		model_version INTEGER NOT NULL,
		samples INTEGER NOT NULL,
		rmse REAL,
		mae REAL,
		r2 REAL,
		duration_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_training_created ON training_runs(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertActivity(ctx context.Context, activity *models.ActivityRecord) error {
	ts, ok := activity.Timestamp.Resolve()
	if !ok {
		return fmt.Errorf("failed to insert activity %s: timestamp is not set", activity.ID)
	}

	coords, err := json.Marshal(activity.Location.Coordinates)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}

	query := `
		INSERT INTO user_activity (id, user_id, energy_level, location_type, location_coordinates, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx, query,
		activity.ID,
		activity.UserID,
		activity.EnergyLevel,
		activity.Location.Type,
		string(coords),
		ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	logger.Debug("Activity inserted", zap.String("activity_id", activity.ID), zap.String("user_id", activity.UserID))
	return nil
}

const activityColumns = `id, user_id, energy_level, location_type, location_coordinates, timestamp`

// QueryActivities returns a user's activities at or after since, oldest first.
func (c *Client) QueryActivities(ctx context.Context, userID string, since time.Time) ([]models.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM user_activity WHERE user_id = ? AND timestamp >= ? ORDER BY timestamp ASC, rowid ASC`
	return c.queryActivities(ctx, query, userID, since.Unix())
}

// ListActivities returns all of a user's activities, newest first.
func (c *Client) ListActivities(ctx context.Context, userID string, limit int) ([]models.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM user_activity WHERE user_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	return c.queryActivities(ctx, query, userID, limit)
}

// LatestActivity returns the user's most recent activity, or nil when the
// user has none.
func (c *Client) LatestActivity(ctx context.Context, userID string) (*models.ActivityRecord, error) {
	activities, err := c.ListActivities(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(activities) == 0 {
		return nil, nil
	}
	return &activities[0], nil
}

func (c *Client) queryActivities(ctx context.Context, query string, args ...any) ([]models.ActivityRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []models.ActivityRecord
	for rows.Next() {
		var a models.ActivityRecord
		var locType, coords sql.NullString
		var ts int64

		if err := rows.Scan(&a.ID, &a.UserID, &a.EnergyLevel, &locType, &coords, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}

		a.Location.Type = locType.String
		if coords.Valid && coords.String != "" {
			if err := json.Unmarshal([]byte(coords.String), &a.Location.Coordinates); err != nil {
				logger.Warn("Ignoring malformed location coordinates", zap.String("activity_id", a.ID), zap.Error(err))
			}
		}
		a.Timestamp = models.At(time.Unix(ts, 0).UTC())
		activities = append(activities, a)
	}

	return activities, rows.Err()
}

func (c *Client) InsertTask(ctx context.Context, task *models.TaskRecord) error {
	query := `
		INSERT INTO tasks (id, user_id, title, description, task_type, difficulty, priority, completed, created_at, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed = excluded.completed,
			timestamp = excluded.timestamp
	`

	completed := 0
	if task.Completed {
		completed = 1
	}

	_, err := c.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		task.TaskType,
		task.Difficulty,
		task.Priority,
		completed,
		unixOrNull(task.CreatedAt),
		unixOrNull(task.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	logger.Debug("Task inserted", zap.String("task_id", task.ID), zap.String("user_id", task.UserID))
	return nil
}

const taskColumns = `id, user_id, title, description, task_type, difficulty, priority, completed, created_at, timestamp`

// QueryTasks returns a user's tasks created (or, lacking a creation time,
// stamped) at or after since.
func (c *Client) QueryTasks(ctx context.Context, userID string, since time.Time) ([]models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? AND COALESCE(created_at, timestamp) >= ? ORDER BY COALESCE(created_at, timestamp) ASC, rowid ASC`
	return c.queryTasks(ctx, query, userID, since.Unix())
}

// GetTask returns the task with id, or nil if there is none.
func (c *Client) GetTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	tasks, err := c.queryTasks(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

func (c *Client) ListTasks(ctx context.Context, userID string, limit int) ([]models.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? ORDER BY rowid DESC LIMIT ?`
	return c.queryTasks(ctx, query, userID, limit)
}

func (c *Client) queryTasks(ctx context.Context, query string, args ...any) ([]models.TaskRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.TaskRecord
	for rows.Next() {
		var t models.TaskRecord
		var description, taskType, difficulty, priority sql.NullString
		var completed int
		var createdAt, ts sql.NullInt64

		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &description, &taskType, &difficulty, &priority, &completed, &createdAt, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		t.Description = description.String
		t.TaskType = taskType.String
		t.Difficulty = difficulty.String
		t.Priority = priority.String
		t.Completed = completed == 1
		if createdAt.Valid {
			t.CreatedAt = models.At(time.Unix(createdAt.Int64, 0).UTC())
		}
		if ts.Valid {
			t.Timestamp = models.At(time.Unix(ts.Int64, 0).UTC())
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func unixOrNull(i models.Instant) sql.NullInt64 {
	t, ok := i.Resolve()
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func (c *Client) InsertTrainingRun(ctx context.Context, run *models.TrainingRun) error {
	query := `
		INSERT INTO training_runs (user_id, model_version, samples, rmse, mae, r2, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.ExecContext(ctx, query,
		run.UserID,
		run.ModelVersion,
		run.Samples,
		run.RMSE,
		run.MAE,
		run.R2,
		run.DurationMS,
		run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert training run: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// LatestTrainingRun returns the most recent run, or nil if none exist.
func (c *Client) LatestTrainingRun(ctx context.Context) (*models.TrainingRun, error) {
	query := `
		SELECT id, user_id, model_version, samples, rmse, mae, r2, duration_ms, created_at
		FROM training_runs
		ORDER BY id DESC
		LIMIT 1
	`

	var run models.TrainingRun
	var createdAt int64
	err := c.db.QueryRowContext(ctx, query).Scan(
		&run.ID,
		&run.UserID,
		&run.ModelVersion,
		&run.Samples,
		&run.RMSE,
		&run.MAE,
		&run.R2,
		&run.DurationMS,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest training run: %w", err)
	}

	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &run, nil
}

// Save implements artifact.Store.
func (c *Client) Save(ctx context.Context, name string, blob []byte) error {
	query := `
		INSERT INTO model_artifacts (name, blob, size_bytes, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			blob = excluded.blob,
			size_bytes = excluded.size_bytes,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query, name, blob, len(blob), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", name, err)
	}

	logger.Debug("Artifact saved", zap.String("name", name), zap.Int("size_bytes", len(blob)))
	return nil
}

// Load implements artifact.Store.
func (c *Client) Load(ctx context.Context, name string) ([]byte, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, `SELECT blob FROM model_artifacts WHERE name = ?`, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", name, err)
	}
	return blob, nil
}
