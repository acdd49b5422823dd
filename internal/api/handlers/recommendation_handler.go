package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/recommend"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

type Recommender interface {
	GetRecommendations(ctx context.Context, userID string, at *time.Time) (*recommend.Result, error)
}

type RecommendationHandler struct {
	recommender Recommender
}

func NewRecommendationHandler(recommender Recommender) *RecommendationHandler {
	return &RecommendationHandler{
		recommender: recommender,
	}
}

// GetRecommendations accepts an optional ?at=<ISO-8601> override of the
// current time.
func (h *RecommendationHandler) GetRecommendations(c *fiber.Ctx) error {
	userID := c.Params("user_id")

	var at *time.Time
	if raw := c.Query("at"); raw != "" {
		ts, ok := models.ParseTimestamp(raw)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "at must be an ISO-8601 timestamp",
			})
		}
		at = &ts
	}

	result, err := h.recommender.GetRecommendations(c.UserContext(), userID, at)
	if errors.Is(err, recommend.ErrMissingUserID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		logger.Error("Failed to get recommendations", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get recommendations",
		})
	}

	return c.JSON(result)
}
