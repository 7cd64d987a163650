package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/metrics"
	"github.com/4xmen/medchat/internal/presence"
	"github.com/4xmen/medchat/internal/protocol"
)

// Registry tracks live connections and their room memberships.
type Registry interface {
	Add(c *Client)
	Remove(c *Client)
	Join(connID, roomID string) bool
	Leave(connID, roomID string)
	BroadcastToRoom(roomID string, ev protocol.Event)
	SendTo(connID string, ev protocol.Event)
}

// Relay carries room frames between server processes.
type Relay interface {
	PublishRoom(roomID string, frame []byte) error
	SubscribeRooms(handler func(roomID string, frame []byte)) error
}

type roomFrame struct {
	roomID string
	frame  []byte
}

// Hub is the in-process Registry. One connection may sit in many rooms and
// one user may hold many connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	users   map[string]map[string]*Client
	rooms   map[string]map[string]*Client

	relay    Relay
	presence *presence.Store
	inbound  chan roomFrame
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[string]map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		inbound: make(chan roomFrame, 256),
		log:     log,
	}
}

// WithRelay routes room broadcasts through r so members connected to other
// processes receive them. Must be called before Run.
func (h *Hub) WithRelay(r Relay) *Hub {
	h.relay = r
	return h
}

// WithPresence mirrors connections into a shared presence store.
func (h *Hub) WithPresence(p *presence.Store) *Hub {
	h.presence = p
	return h
}

// Run delivers relayed frames to local members and keeps presence fresh
// until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay != nil {
		if err := h.relay.SubscribeRooms(func(roomID string, frame []byte) {
			select {
			case h.inbound <- roomFrame{roomID: roomID, frame: frame}:
			case <-ctx.Done():
			}
		}); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(presence.DefaultTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case rf := <-h.inbound:
			h.deliverLocal(rf.roomID, rf.frame)

		case <-ticker.C:
			h.refreshPresence(ctx)
		}
	}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	conns, ok := h.users[c.identity.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.users[c.identity.UserID] = conns
	}
	conns[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	if h.presence != nil {
		if err := h.presence.AddConnection(context.Background(), c.identity.UserID, c.id); err != nil {
			h.log.Warn("presence add failed", zap.String("user_id", c.identity.UserID), zap.Error(err))
		}
	}
	h.log.Info("client connected", zap.String("user_id", c.identity.UserID), zap.String("conn_id", c.id), zap.Int("total", total))
}

// Remove drops the connection and every room membership it held. Removing
// an unknown connection is a no-op.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	if conns := h.users[c.identity.UserID]; conns != nil {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.users, c.identity.UserID)
		}
	}
	for roomID := range c.rooms {
		h.leaveLocked(c.id, roomID)
	}
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectionsActive.Dec()
	if h.presence != nil {
		if err := h.presence.RemoveConnection(context.Background(), c.identity.UserID, c.id); err != nil {
			h.log.Warn("presence remove failed", zap.String("user_id", c.identity.UserID), zap.Error(err))
		}
	}
	h.log.Info("client disconnected", zap.String("user_id", c.identity.UserID), zap.String("conn_id", c.id), zap.Int("total", total))
}

// Join adds a registered connection to a room. It reports false when the
// connection is gone.
func (h *Hub) Join(connID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[connID] = c
	c.rooms[roomID] = struct{}{}
	return true
}

func (h *Hub) Leave(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, roomID)
}

func (h *Hub) leaveLocked(connID, roomID string) {
	if c, ok := h.clients[connID]; ok {
		delete(c.rooms, roomID)
	}
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) BroadcastToRoom(roomID string, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		h.log.Error("failed to encode room event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	if h.relay != nil {
		err := h.relay.PublishRoom(roomID, frame)
		if err == nil {
			return
		}
		h.log.Warn("relay publish failed, delivering locally", zap.String("room", roomID), zap.Error(err))
	}
	h.deliverLocal(roomID, frame)
}

func (h *Hub) deliverLocal(roomID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.rooms[roomID] {
		select {
		case c.send <- frame:
		default:
			h.log.Warn("send buffer full, dropping room event", zap.String("conn_id", c.id), zap.String("room", roomID))
		}
	}
}

func (h *Hub) SendTo(connID string, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn("send buffer full, dropping event", zap.String("conn_id", connID), zap.String("type", ev.Type))
	}
}

// IsOnline reports whether the user holds a live connection on this process
// or, with a presence store, on any process.
func (h *Hub) IsOnline(ctx context.Context, userID string) bool {
	h.mu.RLock()
	_, ok := h.users[userID]
	h.mu.RUnlock()
	if ok || h.presence == nil {
		return ok
	}

	online, err := h.presence.IsOnline(ctx, userID)
	if err != nil {
		h.log.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return online
}

// RoomSize returns the number of local connections in a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) refreshPresence(ctx context.Context) {
	if h.presence == nil {
		return
	}
	h.mu.RLock()
	users := make([]string, 0, len(h.users))
	for userID := range h.users {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	for _, userID := range users {
		if err := h.presence.Refresh(ctx, userID); err != nil {
			h.log.Warn("presence refresh failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}
