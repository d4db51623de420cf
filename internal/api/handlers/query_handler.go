package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/middleware/auth"
	"github.com/acm-research/backend/internal/orchestrator"
	"github.com/acm-research/backend/internal/storage/models"
	"github.com/acm-research/backend/pkg/logger"
)

type QueryHandler struct {
	engine      *orchestrator.Orchestrator
	development bool
}

func NewQueryHandler(engine *orchestrator.Orchestrator, development bool) *QueryHandler {
	return &QueryHandler{
		engine:      engine,
		development: development,
	}
}

// errorResponse maps domain errors onto HTTP responses. Internal detail
// is only exposed in development mode.
func (h *QueryHandler) errorResponse(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)

	if status == fiber.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		if !h.development {
			return c.Status(status).JSON(fiber.Map{
				"error": "internal server error",
				"code":  apperr.Code(err),
			})
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  apperr.Code(err),
	})
}

func (h *QueryHandler) SubmitQuery(c *fiber.Ctx) error {
	var req orchestrator.QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
			"code":  "validation_failed",
		})
	}

	accepted, err := h.engine.ExecuteQuery(c.Context(), auth.UserID(c), req)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queryId":          accepted.QueryID,
		"message":          "query accepted for processing",
		"remainingQueries": accepted.RemainingQueries,
	})
}

func (h *QueryHandler) GetQuery(c *fiber.Ctx) error {
	queryID := c.Params("id")

	q, responses, err := h.engine.GetQueryResults(auth.UserID(c), queryID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"query":     q,
		"responses": responses,
	})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	history, err := h.engine.GetQueryHistory(auth.UserID(c), limit)
	if err != nil {
		return h.errorResponse(c, err)
	}

	if history == nil {
		history = []models.Query{}
	}

	return c.JSON(fiber.Map{
		"history": history,
		"count":   len(history),
	})
}

func (h *QueryHandler) GetQueryCost(c *fiber.Ctx) error {
	queryID := c.Params("id")

	cost, err := h.engine.GetQueryCost(auth.UserID(c), queryID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(cost)
}

func (h *QueryHandler) GetUserCosts(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days <= 0 || days > 90 {
		days = 30
	}

	total, perModel, err := h.engine.UserSpending(auth.UserID(c), days)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"days":        days,
		"totalUsd":    total,
		"perModelUsd": perModel,
	})
}
