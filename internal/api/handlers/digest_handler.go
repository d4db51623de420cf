package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/jobs"
	"github.com/acm-research/backend/internal/storage/models"
)

// NightlyJobName is the scheduler key for the digest job.
const NightlyJobName = "nightly-digest"

type DigestStore interface {
	ListDigests(limit int) ([]models.ResearchDigest, error)
}

type DigestHandler struct {
	store     DigestStore
	scheduler *jobs.Scheduler
}

func NewDigestHandler(store DigestStore, scheduler *jobs.Scheduler) *DigestHandler {
	return &DigestHandler{
		store:     store,
		scheduler: scheduler,
	}
}

func (h *DigestHandler) ListDigests(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 30)
	if limit <= 0 || limit > 100 {
		limit = 30
	}

	digests, err := h.store.ListDigests(limit)
	if err != nil {
		return c.Status(apperr.HTTPStatus(err)).JSON(fiber.Map{
			"error": "failed to list digests",
			"code":  apperr.Code(err),
		})
	}

	if digests == nil {
		digests = []models.ResearchDigest{}
	}

	return c.JSON(fiber.Map{
		"digests": digests,
		"count":   len(digests),
	})
}

// AdminNightly triggers or inspects the nightly digest job.
func (h *DigestHandler) AdminNightly(c *fiber.Ctx) error {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
			"code":  "validation_failed",
		})
	}

	switch req.Action {
	case "trigger":
		if err := h.scheduler.Run(NightlyJobName); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "not_found",
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"message": "nightly digest triggered",
		})

	case "status":
		info, err := h.scheduler.Get(NightlyJobName)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "not_found",
			})
		}
		completed, failed := h.scheduler.RunCounts(c.Context(), NightlyJobName)
		return c.JSON(fiber.Map{
			"job":           info,
			"completedRuns": completed,
			"failedRuns":    failed,
		})

	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "action must be 'trigger' or 'status'",
			"code":  "validation_failed",
		})
	}
}
