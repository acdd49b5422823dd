package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/middleware/validation"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

type TaskStore interface {
	InsertTask(ctx context.Context, task *models.TaskRecord) error
	GetTask(ctx context.Context, id string) (*models.TaskRecord, error)
	ListTasks(ctx context.Context, userID string, limit int) ([]models.TaskRecord, error)
}

type TaskHandler struct {
	store TaskStore
	now   func() time.Time
}

func NewTaskHandler(store TaskStore) *TaskHandler {
	return &TaskHandler{
		store: store,
		now:   time.Now,
	}
}

type taskRequest struct {
	UserID      string         `json:"user_id" validate:"required,max=128"`
	Title       string         `json:"title" validate:"required,max=500"`
	Description string         `json:"description"`
	TaskType    string         `json:"task_type" validate:"required"`
	Difficulty  string         `json:"difficulty" validate:"required"`
	Priority    string         `json:"priority" validate:"required"`
	Completed   bool           `json:"completed"`
	CreatedAt   models.Instant `json:"created_at"`
}

// CreateTask stores a task. A missing creation time is set to now so the
// task falls inside the scoring window.
func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	var req taskRequest
	if err := validation.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	createdAt := req.CreatedAt
	if ts, ok := createdAt.Resolve(); ok {
		createdAt = models.At(ts)
	} else if createdAt.IsZero() {
		createdAt = models.At(h.now())
	} else {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "created_at must be an ISO-8601 timestamp",
		})
	}

	task := &models.TaskRecord{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Title:       req.Title,
		Description: req.Description,
		TaskType:    req.TaskType,
		Difficulty:  req.Difficulty,
		Priority:    req.Priority,
		Completed:   req.Completed,
		CreatedAt:   createdAt,
	}

	if err := h.store.InsertTask(c.UserContext(), task); err != nil {
		logger.Error("Failed to create task", zap.String("user_id", req.UserID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create task",
		})
	}

	logger.Info("Task created", zap.String("task_id", task.ID), zap.String("user_id", task.UserID))
	return c.Status(fiber.StatusCreated).JSON(task)
}

// CompleteTask marks a stored task completed and stamps the completion time.
// The next model refresh for the task's user counts it as a success.
func (h *TaskHandler) CompleteTask(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	if taskID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "task_id is required",
		})
	}

	task, err := h.store.GetTask(c.UserContext(), taskID)
	if err != nil {
		logger.Error("Failed to get task", zap.String("task_id", taskID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to complete task",
		})
	}
	if task == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Task not found",
		})
	}

	if !task.Completed {
		task.Completed = true
		task.Timestamp = models.At(h.now())
		if err := h.store.InsertTask(c.UserContext(), task); err != nil {
			logger.Error("Failed to complete task", zap.String("task_id", taskID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to complete task",
			})
		}
		logger.Info("Task completed", zap.String("task_id", task.ID), zap.String("user_id", task.UserID))
	}

	return c.JSON(task)
}

func (h *TaskHandler) GetUserTasks(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	tasks, err := h.store.ListTasks(c.UserContext(), userID, queryLimit(c))
	if err != nil {
		logger.Error("Failed to list tasks", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list tasks",
		})
	}
	if tasks == nil {
		tasks = []models.TaskRecord{}
	}

	return c.JSON(tasks)
}
