package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sifan077/TempLogin/internal/app/repository"
	"github.com/sifan077/TempLogin/internal/app/service"
)

// validationErrors are safe to echo back to the caller.
var validationErrors = []error{
	service.ErrInvalidSubject,
	service.ErrInvalidNote,
	service.ErrInvalidExpiry,
	service.ErrInvalidMaxAccesses,
	service.ErrInvalidExtension,
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// writeError maps service and repository errors onto HTTP statuses. Internal
// details are logged, never returned.
func writeError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return errorJSON(c, fiber.StatusBadRequest, target.Error())
		}
	}

	switch {
	case errors.Is(err, repository.ErrLinkNotFound):
		return errorJSON(c, fiber.StatusNotFound, "link not found")
	case errors.Is(err, repository.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		logger.Error(op, zap.Error(err))
		return errorJSON(c, fiber.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		logger.Error(op, zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
