package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/predictor"
	"github.com/timebloom/backend/internal/storage/models"
	"github.com/timebloom/backend/pkg/logger"
)

type ModelStatusProvider interface {
	Status() predictor.Status
}

type TrainingRunReader interface {
	LatestTrainingRun(ctx context.Context) (*models.TrainingRun, error)
}

type ModelHandler struct {
	status ModelStatusProvider
	runs   TrainingRunReader
}

func NewModelHandler(status ModelStatusProvider, runs TrainingRunReader) *ModelHandler {
	return &ModelHandler{
		status: status,
		runs:   runs,
	}
}

func (h *ModelHandler) GetStatus(c *fiber.Ctx) error {
	resp := fiber.Map{
		"predictor": h.status.Status(),
	}

	if h.runs != nil {
		run, err := h.runs.LatestTrainingRun(c.UserContext())
		if err != nil {
			logger.Warn("Failed to read latest training run", zap.Error(err))
		} else if run != nil {
			resp["latest_training_run"] = run
		}
	}

	return c.JSON(resp)
}
