package realtime

import (
	"log/slog"
	"sync"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

// Room is the set of live connections subscribed to one group's broadcasts.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log     *slog.Logger
	GroupID string

	mu      sync.RWMutex
	members map[string]*Client
}

func newRoom(log *slog.Logger, groupID string) *Room {
	return &Room{
		log:     log,
		GroupID: groupID,
		members: make(map[string]*Client),
	}
}

// Join adds a connection to the room.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.ConnID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.ConnID] = client
	r.mu.Unlock()

	r.log.Info("room.member.join", "group_id", r.GroupID, "conn_id", client.ConnID, "user_id", client.UserID)
}

// Leave removes a connection from the room. The client itself stays alive:
// leaving one room does not end the session.
func (r *Room) Leave(connID string) {
	if r == nil || connID == "" {
		return
	}

	r.mu.Lock()
	_, had := r.members[connID]
	delete(r.members, connID)
	r.mu.Unlock()

	if had {
		r.log.Info("room.member.leave", "group_id", r.GroupID, "conn_id", connID)
	}
}

// Empty reports whether the room has no live members.
func (r *Room) Empty() bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0
}

// Broadcast fanouts an envelope to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (r *Room) Broadcast(env v1.Envelope) {
	r.broadcast(env, "")
}

// BroadcastExcept fanouts to all members except the named connection.
// Typing relays use this: the typist never sees their own indicator.
func (r *Room) BroadcastExcept(env v1.Envelope, exceptConnID string) {
	r.broadcast(env, exceptConnID)
}

func (r *Room) broadcast(env v1.Envelope, exceptConnID string) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if id == exceptConnID {
			continue
		}
		m.TryEnqueue(env)
	}
}

// Rooms owns the runtime group-room map: groupID to the set of subscribed
// connections. It is a derived view, rebuilt per connection on join_groups
// and pruned on leave and disconnect; it is never persisted.
type Rooms struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRooms constructs an empty room registry.
func NewRooms(log *slog.Logger) *Rooms {
	return &Rooms{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns a stable room handle for groupID.
func (rs *Rooms) GetOrCreate(groupID string) *Room {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r, ok := rs.rooms[groupID]; ok {
		return r
	}
	r := newRoom(rs.log, groupID)
	rs.rooms[groupID] = r
	return r
}

// Get returns the room for groupID, or nil if no connection ever joined it.
func (rs *Rooms) Get(groupID string) *Room {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.rooms[groupID]
}

// DropConn removes a connection from every room and deletes rooms that end
// up empty. Called exactly once from disconnect cleanup.
func (rs *Rooms) DropConn(connID string) int {
	if rs == nil || connID == "" {
		return 0
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	dropped := 0
	for groupID, r := range rs.rooms {
		r.mu.Lock()
		_, had := r.members[connID]
		delete(r.members, connID)
		empty := len(r.members) == 0
		r.mu.Unlock()

		if had {
			dropped++
		}
		if empty {
			delete(rs.rooms, groupID)
		}
	}

	if dropped > 0 {
		rs.log.Info("rooms.conn.drop", "conn_id", connID, "rooms", dropped)
	}
	return dropped
}

// Remove deletes the room for groupID if it is empty.
func (rs *Rooms) Remove(groupID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r, ok := rs.rooms[groupID]; ok && r.Empty() {
		delete(rs.rooms, groupID)
	}
}
