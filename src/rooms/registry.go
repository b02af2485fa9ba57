package rooms

import (
	"sync"

	"trading-gateway/src/logger"
)

// -----------------------------------------------------------------------------
// Registry is the named pub/sub fan-out layer. Rooms are plain member sets:
// they own nothing, are created by the first join and destroyed by the last
// leave. Broadcast snapshots the membership under the lock and delivers
// outside it through the injected send function.
// -----------------------------------------------------------------------------

// Room name builders.
func MarketRoom(symbol string) string { return "market:" + symbol }
func AlertsRoom() string             { return "alerts:system" }

// -----------------------------------------------------------------------------

// SendFunc delivers one serialized payload to a member via its reliable layer.
type SendFunc func(sessionID, method string, payload []byte)

type Registry struct {
	mu        sync.Mutex
	log       *logger.Logger
	rooms     map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
	send      SendFunc
}

// -----------------------------------------------------------------------------

func NewRegistry(send SendFunc, log *logger.Logger) *Registry {
	return &Registry{
		log:       log,
		rooms:     make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
		send:      send,
	}
}

// -----------------------------------------------------------------------------

// Join adds the session to the room, creating the room when absent.
// A membership appears at most once per session.
func (r *Registry) Join(roomName, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[roomName] == nil {
		r.rooms[roomName] = make(map[string]struct{})
	}
	r.rooms[roomName][sessionID] = struct{}{}

	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = make(map[string]struct{})
	}
	r.bySession[sessionID][roomName] = struct{}{}
}

// -----------------------------------------------------------------------------

// Leave removes the session from the room; the room dies with its last member.
func (r *Registry) Leave(roomName, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomName, sessionID)
}

func (r *Registry) leaveLocked(roomName, sessionID string) {
	if members, ok := r.rooms[roomName]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, roomName)
		}
	}
	if joined, ok := r.bySession[sessionID]; ok {
		delete(joined, roomName)
		if len(joined) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

// -----------------------------------------------------------------------------

// LeaveAll removes the session from every room it joined.
func (r *Registry) LeaveAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomName := range r.bySession[sessionID] {
		r.leaveLocked(roomName, sessionID)
	}
}

// -----------------------------------------------------------------------------

// Members returns a copy of the room's current membership.
func (r *Registry) Members(roomName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, 0, len(r.rooms[roomName]))
	for id := range r.rooms[roomName] {
		members = append(members, id)
	}
	return members
}

// -----------------------------------------------------------------------------

// MemberRooms returns the rooms the session currently belongs to.
func (r *Registry) MemberRooms(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := make([]string, 0, len(r.bySession[sessionID]))
	for name := range r.bySession[sessionID] {
		joined = append(joined, name)
	}
	return joined
}

// -----------------------------------------------------------------------------

// Broadcast delivers the payload to every member present at call time.
// Joins that happen after the snapshot do not receive it.
func (r *Registry) Broadcast(roomName, method string, payload []byte) int {
	r.mu.Lock()
	snapshot := make([]string, 0, len(r.rooms[roomName]))
	for id := range r.rooms[roomName] {
		snapshot = append(snapshot, id)
	}
	r.mu.Unlock()

	for _, sessionID := range snapshot {
		r.send(sessionID, method, payload)
	}
	return len(snapshot)
}
