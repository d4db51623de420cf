package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/acm-research/backend/internal/apperr"
	"github.com/acm-research/backend/internal/sources"
)

type SourceHandler struct {
	registry *sources.Registry
}

func NewSourceHandler(registry *sources.Registry) *SourceHandler {
	return &SourceHandler{registry: registry}
}

// GetItem fetches a single record from one source by its upstream id.
// Lookups hit the 24h cache before the network.
func (h *SourceHandler) GetItem(c *fiber.Ctx) error {
	sourceID := c.Params("source")
	if !sources.Valid(sourceID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown source: " + sourceID,
			"code":  "validation_failed",
		})
	}

	itemID := c.Params("id")
	if itemID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "item id is required",
			"code":  "validation_failed",
		})
	}

	adapter, ok := h.registry.Lookup(sources.ID(sourceID))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "source not configured",
			"code":  "not_found",
		})
	}

	fetcher, ok := adapter.(sources.ItemFetcher)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "source does not support item lookup",
			"code":  "not_found",
		})
	}

	item, err := fetcher.FetchItem(c.Context(), itemID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "item not found",
				"code":  "not_found",
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "source unavailable",
			"code":  "source_unavailable",
		})
	}

	return c.JSON(item)
}
