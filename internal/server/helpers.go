package server

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"livecount/internal/engagement"
	"livecount/internal/middleware"
	"livecount/internal/models"
	"livecount/internal/observability"
	"livecount/internal/store"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive int64.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func parseID(c *fiber.Ctx, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(param), 10, 64)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return id, nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "sellerId" -> "seller ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// memberID returns the authenticated caller. Routes using it sit behind AuthRequired.
func memberID(c *fiber.Ctx) (int64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		_ = models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization required"))
		return 0, errResponseWritten
	}
	return id, nil
}

// respondError maps engine errors onto HTTP statuses: invalid input is 400,
// an unreachable counter store is 503 and anything else is 500.
func respondError(c *fiber.Ctx, err error) error {
	observability.RecordErrorInContext(c.UserContext(), err)
	switch {
	case errors.Is(err, engagement.ErrInvalidViewer), errors.Is(err, engagement.ErrInvalidBroadcast):
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError(err.Error()))
	case errors.Is(err, store.ErrUnavailable):
		middleware.Logger.WarnContext(c.UserContext(), "counter store unavailable",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewUnavailableError(err))
	default:
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
}
