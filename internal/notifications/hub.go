package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"livecount/internal/keyspace"
	"livecount/internal/middleware"
	"livecount/internal/observability"

	"github.com/gofiber/websocket/v2"
)

var _ WSHub = (*LiveHub)(nil)

const (
	// Max connections per viewer identity
	maxConnsPerViewer = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	// ErrServerFull is returned when the instance connection limit is reached.
	ErrServerFull = errors.New("server connection limit reached")
	// ErrViewerLimit is returned when one viewer has too many open connections.
	ErrViewerLimit = errors.New("viewer connection limit reached")
)

// Frame is the JSON envelope of every WebSocket message in both directions.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameViewerCount = "viewer_count"
	FrameError       = "error"
)

// LiveHub tracks local WebSocket clients by the broadcast they are watching
// and delivers viewer-count frames to them.
type LiveHub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	rooms      map[int64]map[*Client]struct{}
	viewers    map[string]int
	totalConns int
	shutdown   chan struct{}
	closeOnce  sync.Once
	log        *observability.WSLogger
}

// Name returns a human-readable identifier for this hub.
func (h *LiveHub) Name() string { return "live hub" }

// NewLiveHub creates an empty hub.
func NewLiveHub() *LiveHub {
	return &LiveHub{
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[int64]map[*Client]struct{}),
		viewers:  make(map[string]int),
		shutdown: make(chan struct{}),
		log:      observability.NewWSLogger("live"),
	}
}

// Register admits a connection for sessionID. Returns an error if limits are exceeded.
func (h *LiveHub) Register(sessionID, viewerID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.shutdown:
		return nil, ErrServerFull
	default:
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}
	if h.viewers[viewerID] >= maxConnsPerViewer {
		return nil, ErrViewerLimit
	}

	client := NewClient(h, conn, sessionID, viewerID)
	h.clients[client] = struct{}{}
	h.viewers[viewerID]++
	h.totalConns++
	middleware.ActiveWebSockets.Inc()
	return client, nil
}

// Join moves client into the room of broadcastID, leaving any previous room.
func (h *LiveHub) Join(client *Client, broadcastID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client)
	room, ok := h.rooms[broadcastID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[broadcastID] = room
	}
	room[client] = struct{}{}
	client.broadcastID = broadcastID
}

// Leave removes client from its room, if any.
func (h *LiveHub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client)
}

func (h *LiveHub) leaveLocked(client *Client) {
	if client.broadcastID == 0 {
		return
	}
	if room, ok := h.rooms[client.broadcastID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, client.broadcastID)
		}
	}
	client.broadcastID = 0
}

// UnregisterClient forgets client. Safe to call more than once.
func (h *LiveHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.leaveLocked(client)
	h.totalConns--
	if h.viewers[client.ViewerID]--; h.viewers[client.ViewerID] <= 0 {
		delete(h.viewers, client.ViewerID)
	}
	middleware.ActiveWebSockets.Dec()
}

// Broadcast sends message to every client watching broadcastID.
func (h *LiveHub) Broadcast(broadcastID int64, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[broadcastID]
	for c := range room {
		c.TrySend(message)
	}
	return len(room)
}

// RoomSize is the number of local clients watching broadcastID.
func (h *LiveHub) RoomSize(broadcastID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[broadcastID])
}

// ConnCount is the number of registered clients.
func (h *LiveHub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// DeliverViewerCount turns one viewer-channel message into a viewer_count
// frame for the local room. Malformed messages are dropped.
func (h *LiveHub) DeliverViewerCount(channel, payload string) {
	broadcastID, ok := keyspace.ParseViewerChannel(channel)
	if !ok {
		middleware.Logger.Warn("invalid viewer count channel", slog.String("channel", channel))
		return
	}
	var vc ViewerCount
	if err := json.Unmarshal([]byte(payload), &vc); err != nil || vc.BroadcastID != broadcastID {
		middleware.Logger.Warn("invalid viewer count payload", slog.String("channel", channel))
		return
	}
	frame, err := json.Marshal(Frame{Type: FrameViewerCount, Destination: keyspace.For(broadcastID).ViewerTopic(), Payload: json.RawMessage(payload)})
	if err != nil {
		return
	}
	if h.Broadcast(broadcastID, frame) > 0 {
		observability.ViewerCountPublishes.WithLabelValues("delivered").Inc()
	}
}

// StartWiring connects the Notifier to this hub: every viewer-count message,
// from any instance, is forwarded to local clients of that broadcast.
func (h *LiveHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartViewerCountSubscriber(ctx, h.DeliverViewerCount)
}

// Shutdown stops admitting clients and closes every send queue; each
// WritePump then sends a going-away close frame and exits.
func (h *LiveHub) Shutdown(ctx context.Context) error {
	h.closeOnce.Do(func() { close(h.shutdown) })

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	h.log.LogLifecycle(ctx, "shutdown", map[string]interface{}{"closed": len(clients)})
	return nil
}
