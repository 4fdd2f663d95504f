package relay

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// frameWriter is the part of a websocket connection the hub writes through.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// peer is one websocket connection. Writes are serialized per connection since
// the underlying conn does not allow concurrent writers.
type peer struct {
	id       string
	userID   string
	username string

	mu sync.Mutex
	w  frameWriter
}

func (p *peer) send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.WriteMessage(websocket.TextMessage, frame)
}

// Hub tracks live connections and the conversation room each one has joined.
type Hub struct {
	mu sync.RWMutex
	// conversationID -> connID -> peer
	rooms map[string]map[string]*peer
	peers map[string]*peer
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms: make(map[string]map[string]*peer),
		peers: make(map[string]*peer),
		log:   log.Named("hub"),
	}
}

// Register stores a new connection. It reports whether this is the user's first
// live connection, i.e. the user just came online.
func (h *Hub) Register(connID, userID, username string, w frameWriter) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasOnline := h.onlineLocked(userID)
	h.peers[connID] = &peer{id: connID, userID: userID, username: username, w: w}
	return !wasOnline
}

// Unregister removes the connection from the hub and from its room. It reports
// whether it was the user's last connection.
func (h *Hub) Unregister(connID string) (userID string, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[connID]
	if !ok {
		return "", false
	}
	h.leaveAllLocked(connID)
	delete(h.peers, connID)
	return p.userID, !h.onlineLocked(p.userID)
}

// Join puts the connection in conversationID's room, leaving any room it was in.
func (h *Hub) Join(conversationID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[connID]
	if !ok {
		return
	}
	h.leaveAllLocked(connID)
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[string]*peer)
	}
	h.rooms[conversationID][connID] = p
}

func (h *Hub) Leave(conversationID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// Room returns the conversation the connection has joined, if any.
func (h *Hub) Room(connID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for room, conns := range h.rooms {
		if _, ok := conns[connID]; ok {
			return room
		}
	}
	return ""
}

// Broadcast sends frame to every connection in the room except excludeConnID.
func (h *Hub) Broadcast(conversationID string, frame []byte, excludeConnID string) {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.rooms[conversationID]))
	for id, p := range h.rooms[conversationID] {
		if id != excludeConnID {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	h.sendAll(targets, frame, "broadcast")
}

// Deliver sends frame to the room and to every connection of userIDs outside it,
// so that participants browsing other conversations still see new activity.
// Each connection receives the frame once.
func (h *Hub) Deliver(conversationID string, userIDs []string, frame []byte) int {
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}

	h.mu.RLock()
	var targets []*peer
	for _, p := range h.peers {
		_, inRoom := h.rooms[conversationID][p.id]
		_, participant := want[p.userID]
		if inRoom || participant {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	h.sendAll(targets, frame, "deliver")
	return len(targets)
}

// BroadcastToAll sends frame to every live connection.
func (h *Hub) BroadcastToAll(frame []byte, excludeUserID string) {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		if p.userID != excludeUserID {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	h.sendAll(targets, frame, "broadcast to all")
}

// SendTo writes frame to a single connection.
func (h *Hub) SendTo(connID string, frame []byte) error {
	h.mu.RLock()
	p, ok := h.peers[connID]
	h.mu.RUnlock()
	if !ok || frame == nil {
		return nil
	}
	return p.send(frame)
}

func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked(userID)
}

// CountUserConnections counts the open connections of userID across devices.
func (h *Hub) CountUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, p := range h.peers {
		if p.userID == userID {
			count++
		}
	}
	return count
}

func (h *Hub) sendAll(targets []*peer, frame []byte, op string) {
	if frame == nil {
		return
	}
	for _, p := range targets {
		// A failed write is left to the connection's read loop, which sees the
		// broken socket and unregisters it.
		if err := p.send(frame); err != nil {
			h.log.Warn(op+" write failed", zap.String("conn_id", p.id), zap.Error(err))
		}
	}
}

func (h *Hub) onlineLocked(userID string) bool {
	for _, p := range h.peers {
		if p.userID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) leaveAllLocked(connID string) {
	for room, conns := range h.rooms {
		if _, ok := conns[connID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}
