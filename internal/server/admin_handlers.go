package server

import (
	"errors"

	"livecount/internal/models"
	"livecount/internal/rollup"

	"github.com/gofiber/fiber/v2"
)

// FlushRollup runs one rollup cycle immediately and returns its result.
func (s *Server) FlushRollup(c *fiber.Ctx) error {
	if s.flusher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "Rollup disabled: no database configured",
			Code:  "ROLLUP_DISABLED",
		})
	}

	res, err := s.flusher.FlushOnce(c.UserContext())
	if errors.Is(err, rollup.ErrLockHeld) {
		return c.Status(fiber.StatusConflict).JSON(models.ErrorResponse{
			Error: "A rollup is already running",
			Code:  "ROLLUP_IN_PROGRESS",
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
