package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/middleware/validation"
	"github.com/timebloom/backend/internal/recommend"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

type ActivityProcessor interface {
	ProcessNewActivity(ctx context.Context, activity models.ActivityRecord) (*models.ActivityRecord, error)
}

type ActivityLister interface {
	ListActivities(ctx context.Context, userID string, limit int) ([]models.ActivityRecord, error)
}

type ActivityHandler struct {
	processor ActivityProcessor
	lister    ActivityLister
}

func NewActivityHandler(processor ActivityProcessor, lister ActivityLister) *ActivityHandler {
	return &ActivityHandler{
		processor: processor,
		lister:    lister,
	}
}

type activityRequest struct {
	UserID      string          `json:"user_id" validate:"required,max=128"`
	EnergyLevel string          `json:"energy_level" validate:"required"`
	Location    models.Location `json:"location"`
	Timestamp   models.Instant  `json:"timestamp"`
}

func (h *ActivityHandler) LogActivity(c *fiber.Ctx) error {
	var req activityRequest
	if err := validation.ParseAndValidate(c, &req); err != nil {
		logger.Debug("Rejected activity request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	activity, err := h.processor.ProcessNewActivity(c.UserContext(), models.ActivityRecord{
		UserID:      req.UserID,
		EnergyLevel: req.EnergyLevel,
		Location:    req.Location,
		Timestamp:   req.Timestamp,
	})
	if errors.Is(err, recommend.ErrMissingUserID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		logger.Error("Failed to log activity", zap.String("user_id", req.UserID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to log activity",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(activity)
}

func (h *ActivityHandler) GetUserActivity(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	activities, err := h.lister.ListActivities(c.UserContext(), userID, queryLimit(c))
	if err != nil {
		logger.Error("Failed to list activities", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list activities",
		})
	}
	if activities == nil {
		activities = []models.ActivityRecord{}
	}

	return c.JSON(activities)
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func queryLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
