package server

import (
	"strings"
	"time"

	"livecount/internal/featureflags"
	"livecount/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultNoticeTTL = 24 * time.Hour
	maxNoticeTTL     = 7 * 24 * time.Hour
)

// GetBroadcastStats returns the realtime engagement snapshot of a live broadcast.
func (s *Server) GetBroadcastStats(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	stats, err := s.gateway.Stats(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// GetBroadcastLikes returns a live broadcast's like count.
func (s *Server) GetBroadcastLikes(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	count, err := s.gateway.LikeCount(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"broadcastId": id, "likeCount": count})
}

// GetBroadcastReports returns a live broadcast's report count.
func (s *Server) GetBroadcastReports(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	count, err := s.gateway.ReportCount(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"broadcastId": id, "reportCount": count})
}

// ToggleBroadcastLike flips the caller's like on a live broadcast.
func (s *Server) ToggleBroadcastLike(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	member, err := memberID(c)
	if err != nil {
		return nil
	}
	liked, count, err := s.gateway.ToggleLike(c.UserContext(), id, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"liked": liked, "likeCount": count})
}

// ReportBroadcast records the caller's report on a live broadcast. Repeat
// reports are accepted but not counted again.
func (s *Server) ReportBroadcast(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	member, err := memberID(c)
	if err != nil {
		return nil
	}
	reported, count, err := s.gateway.ReportBroadcast(c.UserContext(), id, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"reported": reported, "reportCount": count})
}

// EndBroadcast archives the broadcast's final counters and clears its live state.
// The live keys are removed even when the archive write fails.
func (s *Server) EndBroadcast(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	summary, err := s.gateway.EndBroadcast(c.UserContext(), id)
	if summary == nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"summary":  summary,
		"archived": err == nil && s.runtime.Archive != nil,
	})
}

// SaveMediaConfig stores the caller's device settings for a broadcast.
func (s *Server) SaveMediaConfig(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	seller, err := memberID(c)
	if err != nil {
		return nil
	}
	if !s.featureFlags.Enabled(featureflags.MediaConfig, seller) {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Feature", featureflags.MediaConfig))
	}

	var cfg models.MediaConfig
	if err := c.BodyParser(&cfg); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	if cfg.Volume < 0 || cfg.Volume > 100 {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Volume must be between 0 and 100"))
	}

	if err := s.gateway.SaveMediaConfig(c.UserContext(), id, seller, cfg); err != nil {
		return respondError(c, err)
	}
	return c.JSON(cfg)
}

// GetMediaConfig loads the caller's device settings for a broadcast.
func (s *Server) GetMediaConfig(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	seller, err := memberID(c)
	if err != nil {
		return nil
	}
	if !s.featureFlags.Enabled(featureflags.MediaConfig, seller) {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Feature", featureflags.MediaConfig))
	}
	cfg, found, err := s.gateway.MediaConfig(c.UserContext(), id, seller)
	if err != nil {
		return respondError(c, err)
	}
	if !found {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Media config", id))
	}
	return c.JSON(cfg)
}

// MarkNotice claims a one-time schedule notice for a broadcast. The response
// tells the caller whether it was the first to claim it.
func (s *Server) MarkNotice(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	noticeType := strings.TrimSpace(c.Params("type"))
	if noticeType == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Notice type is required"))
	}

	ttl := defaultNoticeTTL
	if secs := c.QueryInt("ttlSeconds", 0); secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > maxNoticeTTL {
		ttl = maxNoticeTTL
	}

	first, err := s.gateway.MarkNoticeOnce(c.UserContext(), id, noticeType, ttl)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"first": first})
}
