// Package ws implements the realtime gateway: websocket connection
// lifecycle, the room registry mapping chats to subscribed connections, and
// the join/send/leave event dispatch with room-scoped broadcast.
package ws

import "sync"

// RoomKey derives the registry key for a chat id.
func RoomKey(chatID string) string {
	return "chat_" + chatID
}

// Registry maintains the mapping from room key to the set of connected
// clients subscribed to it, and the reverse mapping for O(rooms-joined)
// cleanup on disconnect. All operations are pure in-memory set mutations and
// cannot fail; a join or leave for an unknown chat id is accepted as-is, the
// registry is transport-layer only and never consults persistence.
//
// A single mutex guards both maps so that join, leave and broadcast observe
// a consistent snapshot: a broadcast that starts after a join returned will
// always see that member. Registry state is owned by the Gateway for the
// life of the process and is only reachable through this contract, never as
// a raw map.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]map[string]struct{}),
	}
}

// Join adds the client to the room's member set, creating the room
// implicitly if absent. Idempotent.
func (r *Registry) Join(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}

	rooms, ok := r.joined[c]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[c] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave removes the client from the room's member set. Idempotent. The room
// entry is discarded when its member set becomes empty.
func (r *Registry) Leave(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c, room)
}

func (r *Registry) leaveLocked(c *Client, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.joined[c]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, c)
		}
	}
}

// Members returns a snapshot of the clients subscribed to the room.
// Diagnostics only; broadcast addresses the room directly.
func (r *Registry) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Drop removes the client from every room it was a member of, and from no
// other.
func (r *Registry) Drop(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(c)
}

func (r *Registry) dropLocked(c *Client) {
	for room := range r.joined[c] {
		if members, ok := r.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.joined, c)
}

// Broadcast delivers payload to every member of the room except exclude, and
// returns the number of deliveries. Members whose send buffer is full are
// dropped from the registry and their send channel closed, the same eviction
// the pumps apply to a dead connection. Addressing the member set in place
// under the lock keeps a send from racing a concurrent join or leave.
func (r *Registry) Broadcast(room string, payload []byte, exclude *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := 0
	var stalled []*Client
	for c := range r.rooms[room] {
		if c == exclude {
			continue
		}
		select {
		case c.send <- payload:
			sent++
		default:
			stalled = append(stalled, c)
		}
	}

	for _, c := range stalled {
		r.dropLocked(c)
		if !c.closed {
			c.closed = true
			close(c.send)
		}
	}
	return sent
}

// release drops the client and closes its send channel exactly once.
// Called by the gateway on transport close or error.
func (r *Registry) release(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLocked(c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
