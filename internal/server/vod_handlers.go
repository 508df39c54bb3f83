package server

import (
	"strconv"

	"livecount/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// viewerHeader carries an anonymous viewer's UUID between requests.
const viewerHeader = "X-Viewer-Id"

// anonymousViewerID returns candidate when it is a well-formed UUID and a fresh one otherwise.
func anonymousViewerID(candidate string) string {
	if id, err := uuid.Parse(candidate); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// RecordVodView counts a VOD view once per viewer. Members are identified by
// their id; anonymous viewers by the X-Viewer-Id header, issued on first view.
func (s *Server) RecordVodView(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var viewer string
	if member, ok := middleware.UserID(c); ok {
		viewer = strconv.FormatInt(member, 10)
	} else {
		viewer = anonymousViewerID(c.Get(viewerHeader))
		c.Set(viewerHeader, viewer)
	}

	counted, err := s.gateway.RecordVodView(c.UserContext(), id, viewer)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"counted": counted, "viewerId": viewer})
}

// ToggleVodLike flips the caller's like on a VOD.
func (s *Server) ToggleVodLike(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	member, err := memberID(c)
	if err != nil {
		return nil
	}
	liked, err := s.gateway.ToggleVodLike(c.UserContext(), id, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"liked": liked})
}

// ReportVod records the caller's report on a VOD.
func (s *Server) ReportVod(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	member, err := memberID(c)
	if err != nil {
		return nil
	}
	reported, err := s.gateway.ReportVod(c.UserContext(), id, member)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"reported": reported})
}

// GetVodStats returns durable VOD totals alongside deltas not yet flushed.
func (s *Server) GetVodStats(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	stats, err := s.gateway.VodStats(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}
