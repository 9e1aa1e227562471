package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/registry"
	redisrepo "github.com/Vivekkumarprince1/vaani-sub000/internal/repository/redis"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/speech"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/jwt"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// Config tunes the hub's connection handling
type Config struct {
	// MaxConnections caps concurrent WebSocket connections
	MaxConnections int

	// QueueDepth is the per-client playback queue depth
	QueueDepth int

	// AllowedOrigins lists acceptable Origin headers. A single "*" allows
	// any origin.
	AllowedOrigins []string
}

// FrameDispatcher routes one raw frame from a client
type FrameDispatcher interface {
	Dispatch(c *Client, frame []byte)
}

// Hub owns every live WebSocket connection. It fronts the presence and
// room registries for the services: they address users and rooms, the hub
// resolves those to connections and delivers frames.
type Hub struct {
	presence *registry.Presence
	rooms    *registry.RoomIndex
	mirror   *redisrepo.PresenceRepository // nil when Redis is not configured
	jwt      *jwt.Manager

	dispatcher FrameDispatcher

	// onDisconnect hooks run when a user goes fully offline, before the
	// offline broadcast. Services use them to tear down the user's calls.
	onDisconnect []func(userID string)

	mu    sync.RWMutex
	conns map[string]*Client

	maxConnections int
	semaphore      chan struct{}
	queueDepth     int
	upgrader       websocket.Upgrader
}

// NewHub creates the hub around the given registries. The Redis mirror and
// JWT manager may be nil in tests.
func NewHub(presence *registry.Presence, rooms *registry.RoomIndex, mirror *redisrepo.PresenceRepository, jwtManager *jwt.Manager, cfg Config) *Hub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = constants.PlaybackQueueDepth
	}

	h := &Hub{
		presence:       presence,
		rooms:          rooms,
		mirror:         mirror,
		jwt:            jwtManager,
		conns:          make(map[string]*Client),
		maxConnections: cfg.MaxConnections,
		semaphore:      make(chan struct{}, cfg.MaxConnections),
		queueDepth:     cfg.QueueDepth,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// SetDispatcher wires the event dispatcher. Must be called before ServeWS.
func (h *Hub) SetDispatcher(d FrameDispatcher) {
	h.dispatcher = d
}

// OnDisconnect registers a hook invoked when a user goes offline
func (h *Hub) OnDisconnect(fn func(userID string)) {
	h.onDisconnect = append(h.onDisconnect, fn)
}

// ServeWS authenticates and upgrades one WebSocket request. The handler
// goroutine runs the read pump, so the connection slot stays held until
// the client disconnects.
func (h *Hub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		metrics.HubConnectionTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		metrics.HubConnectionTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		metrics.HubConnectionTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", claims.UserID),
			zap.Error(err))
		metrics.HubConnectionTotal.WithLabelValues("rejected").Inc()
		return
	}

	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, 256),
		connID:      uuid.NewString(),
		userID:      claims.UserID,
		displayName: claims.DisplayName,
	}
	client.playback = speech.NewQueue(speech.SinkFunc(func(ctx context.Context, item speech.Item) error {
		frame, err := marshalEvent("speech-final", item.Payload)
		if err != nil {
			return err
		}
		if !client.Push(frame) {
			metrics.HubClientSendDroppedTotal.WithLabelValues("backpressure").Inc()
		}
		return nil
	}), h.queueDepth)

	h.register(client, claims.Language)
	logger.Info("WebSocket client connected",
		zap.String("user_id", client.userID),
		zap.String("connection_id", client.connID))

	// The read pump runs on this goroutine so the semaphore slot is held
	// for the lifetime of the connection
	go client.writePump()
	client.readPump()
}

func (h *Hub) register(client *Client, language string) {
	entry := domain.PresenceEntry{
		UserID:       client.userID,
		ConnectionID: client.connID,
		DisplayName:  client.displayName,
		Language:     language,
	}
	evicted, cameOnline := h.presence.Register(entry, client)

	h.mu.Lock()
	h.conns[client.connID] = client
	h.mu.Unlock()

	if evicted != nil {
		evicted.Kick("session-replaced")
		metrics.HubConnectionTotal.WithLabelValues("replaced").Inc()
	}

	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.WebSocketWriteTimeout)
		if current, ok := h.presence.Entry(client.userID); ok {
			if err := h.mirror.MirrorOnline(ctx, &current); err != nil {
				logger.Warn("Failed to mirror presence to Redis",
					zap.String("user_id", client.userID), zap.Error(err))
			}
		}
		cancel()
	}

	// A replacement can carry a new language or display name, so evictions
	// announce too
	if cameOnline || evicted != nil {
		if current, ok := h.presence.Entry(client.userID); ok {
			h.broadcast(EventPresenceChanged, PresencePayload{
				UserID:      current.UserID,
				DisplayName: current.DisplayName,
				Language:    current.Language,
				Status:      current.Status,
			}, client.connID)
		}
	}

	h.sendSnapshot(client)
	metrics.HubConnectionsActive.Inc()
	metrics.HubConnectionTotal.WithLabelValues("accepted").Inc()
}

// sendSnapshot gives a fresh connection the current online roster
func (h *Hub) sendSnapshot(client *Client) {
	online := h.presence.Online()
	users := make([]PresencePayload, 0, len(online))
	for _, entry := range online {
		users = append(users, PresencePayload{
			UserID:      entry.UserID,
			DisplayName: entry.DisplayName,
			Language:    entry.Language,
			Status:      entry.Status,
		})
	}
	frame, err := marshalEvent(EventOnlineUsers, OnlineUsersPayload{Users: users})
	if err != nil {
		return
	}
	client.Push(frame)
}

// disconnect tears down a client. Safe to call more than once; only the
// first call for a connection does the work.
func (h *Hub) disconnect(client *Client, reason string) {
	h.mu.Lock()
	_, known := h.conns[client.connID]
	delete(h.conns, client.connID)
	h.mu.Unlock()
	if !known {
		return
	}

	client.closeSend()
	if client.playback != nil {
		client.playback.Close()
	}

	wentOffline := h.presence.Unregister(client.userID, client.connID)
	metrics.HubConnectionsActive.Dec()
	metrics.HubDisconnectionTotal.WithLabelValues(reason).Inc()

	if !wentOffline {
		// A replacement connection owns the presence entry now; rooms and
		// calls carry over to it
		return
	}

	left := h.rooms.LeaveAll(client.userID)
	metrics.HubRoomsActive.Set(float64(h.rooms.ActiveRooms()))

	for _, hook := range h.onDisconnect {
		hook(client.userID)
	}

	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.WebSocketWriteTimeout)
		if err := h.mirror.MirrorOffline(ctx, client.userID); err != nil {
			logger.Warn("Failed to mirror offline state to Redis",
				zap.String("user_id", client.userID), zap.Error(err))
		}
		cancel()
	}

	for _, roomID := range left {
		h.ToRoom(roomID, EventRoomLeft, RoomMemberPayload{RoomID: roomID, UserID: client.userID})
	}
	h.broadcast(EventPresenceChanged, PresencePayload{
		UserID: client.userID,
		Status: constants.UserStatusOffline,
	}, client.connID)

	logger.Info("WebSocket client disconnected",
		zap.String("user_id", client.userID),
		zap.String("connection_id", client.connID),
		zap.String("reason", reason))
}

func (h *Hub) dispatch(client *Client, frame []byte) {
	if h.dispatcher == nil {
		return
	}
	h.dispatcher.Dispatch(client, frame)
}

// ToUser delivers one event to a user's live connection. It reports false
// when the user is offline or the frame could not be enqueued.
func (h *Hub) ToUser(userID, event string, payload interface{}) bool {
	frame, err := marshalEvent(event, payload)
	if err != nil {
		logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return false
	}
	return h.pushToUser(userID, event, frame)
}

func (h *Hub) pushToUser(userID, event string, frame []byte) bool {
	conn, ok := h.presence.Get(userID)
	if !ok {
		return false
	}
	if !conn.Push(frame) {
		// A full buffer means the client stopped reading; drop it so the
		// user can reconnect cleanly
		metrics.HubClientSendDroppedTotal.WithLabelValues("backpressure").Inc()
		conn.Kick("slow-consumer")
		return false
	}
	metrics.HubEventsTotal.WithLabelValues(event, "out").Inc()
	return true
}

// ToRoom delivers one event to every live member of a room and returns the
// number of members reached
func (h *Hub) ToRoom(roomID, event string, payload interface{}) int {
	return h.toRoomExcept(roomID, "", event, payload)
}

// ToRoomExcept is ToRoom minus one member, typically the sender
func (h *Hub) ToRoomExcept(roomID, exceptUserID, event string, payload interface{}) int {
	return h.toRoomExcept(roomID, exceptUserID, event, payload)
}

func (h *Hub) toRoomExcept(roomID, exceptUserID, event string, payload interface{}) int {
	frame, err := marshalEvent(event, payload)
	if err != nil {
		logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return 0
	}
	delivered := 0
	for _, userID := range h.rooms.Members(roomID) {
		if userID == exceptUserID {
			continue
		}
		if h.pushToUser(userID, event, frame) {
			delivered++
		}
	}
	return delivered
}

// ToConnection delivers one event to a specific connection. Group call
// mesh signaling addresses peers by connection, not user.
func (h *Hub) ToConnection(connectionID, event string, payload interface{}) bool {
	frame, err := marshalEvent(event, payload)
	if err != nil {
		logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return false
	}

	h.mu.RLock()
	client, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !client.Push(frame) {
		metrics.HubClientSendDroppedTotal.WithLabelValues("backpressure").Inc()
		return false
	}
	metrics.HubEventsTotal.WithLabelValues(event, "out").Inc()
	return true
}

// broadcast sends one event to every connection except the given one
func (h *Hub) broadcast(event string, payload interface{}, exceptConnID string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HubBroadcastPanicTotal.Inc()
			logger.Error("Recovered from broadcast panic", zap.Any("panic", r))
		}
	}()

	frame, err := marshalEvent(event, payload)
	if err != nil {
		logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for connID, client := range h.conns {
		if connID == exceptConnID {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if client.Push(frame) {
			metrics.HubEventsTotal.WithLabelValues(event, "out").Inc()
		} else {
			metrics.HubClientSendDroppedTotal.WithLabelValues("backpressure").Inc()
		}
	}
}

// JoinRoom adds a user to a live room and reports whether this was a new
// membership
func (h *Hub) JoinRoom(roomID, userID string) bool {
	joined := h.rooms.Join(roomID, userID)
	metrics.HubRoomsActive.Set(float64(h.rooms.ActiveRooms()))
	return joined
}

// LeaveRoom removes a user from a live room
func (h *Hub) LeaveRoom(roomID, userID string) bool {
	left := h.rooms.Leave(roomID, userID)
	metrics.HubRoomsActive.Set(float64(h.rooms.ActiveRooms()))
	return left
}

// InRoom reports whether a user currently belongs to a live room
func (h *Hub) InRoom(roomID, userID string) bool {
	return h.rooms.Contains(roomID, userID)
}

// RoomMembers lists the current members of a live room
func (h *Hub) RoomMembers(roomID string) []string {
	return h.rooms.Members(roomID)
}

// UpdateLanguage changes a user's preferred language for future speech
// translation, keeps the Redis mirror in step and announces the change so
// peers can relabel subtitles
func (h *Hub) UpdateLanguage(ctx context.Context, userID, language string) bool {
	if !h.presence.SetLanguage(userID, language) {
		return false
	}
	entry, ok := h.presence.Entry(userID)
	if !ok {
		return false
	}
	if h.mirror != nil {
		if err := h.mirror.MirrorOnline(ctx, &entry); err != nil {
			logger.Warn("Failed to mirror language change",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	h.broadcast(EventPresenceChanged, PresencePayload{
		UserID:      entry.UserID,
		DisplayName: entry.DisplayName,
		Language:    entry.Language,
		Status:      entry.Status,
	}, entry.ConnectionID)
	return true
}

// LiveParticipants lists the connected members of a room with their
// connection IDs, for a group call newcomer to dial
func (h *Hub) LiveParticipants(roomID string) []ParticipantRef {
	members := h.rooms.Members(roomID)
	refs := make([]ParticipantRef, 0, len(members))
	for _, userID := range members {
		entry, ok := h.presence.Entry(userID)
		if !ok || entry.ConnectionID == "" {
			continue
		}
		refs = append(refs, ParticipantRef{UserID: userID, ConnectionID: entry.ConnectionID})
	}
	return refs
}

// EnqueueAudio routes a synthesized segment into the listener's playback
// queue so segments play strictly in order
func (h *Hub) EnqueueAudio(userID string, item speech.Item) bool {
	conn, ok := h.presence.Get(userID)
	if !ok {
		return false
	}
	client, ok := conn.(*Client)
	if !ok || client.playback == nil {
		return false
	}
	return client.playback.Enqueue(item)
}

// PurgePlayback drops any queued audio for a user, stopping the segment in
// flight. Used when the user mutes or their call ends.
func (h *Hub) PurgePlayback(userID string) int {
	conn, ok := h.presence.Get(userID)
	if !ok {
		return 0
	}
	client, ok := conn.(*Client)
	if !ok || client.playback == nil {
		return 0
	}
	return client.playback.Purge()
}

// StartJanitor runs periodic presence maintenance until ctx is canceled:
// expired offline entries are swept and forgotten in the mirror, and the
// mirror TTL is refreshed for users still online.
func (h *Hub) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.PresenceSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.sweep(ctx, now)
			}
		}
	}()
}

func (h *Hub) sweep(ctx context.Context, now time.Time) {
	swept := h.presence.SweepExpired(now)
	for _, entry := range swept {
		if h.mirror == nil {
			continue
		}
		if err := h.mirror.Forget(ctx, entry.UserID); err != nil {
			logger.Warn("Failed to forget swept presence entry",
				zap.String("user_id", entry.UserID), zap.Error(err))
		}
	}
	if len(swept) > 0 {
		logger.Debug("Swept expired presence entries", zap.Int("count", len(swept)))
	}

	if h.mirror != nil {
		for _, entry := range h.presence.Online() {
			if err := h.mirror.Refresh(ctx, entry.UserID); err != nil {
				logger.Warn("Failed to refresh presence mirror",
					zap.String("user_id", entry.UserID), zap.Error(err))
			}
		}
	}

	metrics.HubRoomsActive.Set(float64(h.rooms.ActiveRooms()))
}
