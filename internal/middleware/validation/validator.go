// Package validation screens incoming query payloads before they reach
// the handlers. Structural validation of fields happens in the
// orchestrator; this layer rejects oversized or hostile input early.
package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acm-research/backend/pkg/logger"
)

var injectionPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|\bdrop\s+table\b|\bunion\s+select\b)`)

type Config struct {
	MaxQueryLength int
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "unsupported content type",
				"code":  "validation_failed",
			})
		}

		if !strings.HasSuffix(c.Path(), "/query") {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON body",
				"code":  "validation_failed",
			})
		}

		query, ok := req["query"].(string)
		if !ok || query == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query is required and must be a string",
				"code":  "validation_failed",
			})
		}

		if len(query) > cfg.MaxQueryLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query exceeds maximum length",
				"code":  "validation_failed",
			})
		}

		if injectionPattern.MatchString(query) {
			logger.Warn("Rejected suspicious query payload", zap.String("ip", c.IP()))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid query content",
				"code":  "validation_failed",
			})
		}

		return c.Next()
	}
}
