package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"livecount/internal/gateway"
	"livecount/internal/middleware"
	"livecount/internal/notifications"
	"livecount/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.opentelemetry.io/otel/attribute"
)

// LiveWebSocketHandler serves viewers of live broadcasts. A connection
// subscribes to one broadcast chat topic at a time and receives viewer_count
// frames for it. Members are identified by the token's subject; anonymous
// viewers may pass a viewerId query parameter to keep a stable identity.
func (s *Server) LiveWebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		viewerID := anonymousViewerID(conn.Query("viewerId"))
		if id, ok := conn.Locals("userID").(int64); ok && id > 0 {
			viewerID = strconv.FormatInt(id, 10)
		}
		role, _ := conn.Locals("role").(string)
		sessionID := observability.GenerateCorrelationID()
		ctx := observability.WithCorrelationID(context.Background(), sessionID)

		client, err := s.hub.Register(sessionID, viewerID, conn)
		if err != nil {
			middleware.Logger.Warn("live websocket rejected",
				slog.String("viewer_id", viewerID),
				slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, errorFrame("", err.Error()))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			s.handleLiveFrame(ctx, c, role, message)
		}
		s.wsLog.LogConnect(ctx, sessionID, viewerID)

		go client.WritePump()
		client.ReadPump()

		s.gateway.OnDisconnect(ctx, sessionID)
		s.wsLog.LogDisconnect(ctx, sessionID, viewerID, "closed")
	})
}

// handleLiveFrame applies one client frame. The client joins the hub room
// before it is counted so the count published on registration reaches it.
func (s *Server) handleLiveFrame(ctx context.Context, c *notifications.Client, role string, message []byte) {
	var frame notifications.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.wsLog.LogError(ctx, c.SessionID, err, "decode")
		c.TrySend(errorFrame("", "invalid frame"))
		return
	}
	s.wsLog.LogMessage(ctx, c.SessionID, frame.Type)

	ctx, span := observability.GetTraceLayer().TraceWebSocket(ctx, "live", frame.Type)
	defer span.End()

	switch frame.Type {
	case notifications.FrameSubscribe:
		broadcastID, ok := gateway.ParseDestination(frame.Destination)
		if !ok {
			c.TrySend(errorFrame(frame.Destination, "unknown destination"))
			return
		}
		observability.AddTraceAttributesToContext(ctx, attribute.Int64("broadcast.id", broadcastID))
		s.hub.Join(c, broadcastID)
		s.gateway.OnSubscribeBroadcast(ctx, c.SessionID, c.ViewerID, broadcastID, role)
	case notifications.FrameUnsubscribe:
		s.hub.Leave(c)
		s.gateway.OnUnsubscribe(ctx, c.SessionID)
	default:
		c.TrySend(errorFrame(frame.Destination, "unsupported frame type"))
	}
}

func errorFrame(destination, message string) []byte {
	payload, _ := json.Marshal(fiber.Map{"message": message})
	frame, _ := json.Marshal(notifications.Frame{
		Type:        notifications.FrameError,
		Destination: destination,
		Payload:     payload,
	})
	return frame
}
