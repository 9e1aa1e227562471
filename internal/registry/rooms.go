package registry

import (
	"sort"
	"sync"

	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// RoomIndex tracks live room membership on this hub instance. Both
// directions are kept so disconnect cleanup does not scan every room.
// Rooms with no members are dropped from the index.
type RoomIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // roomID -> set of userIDs
	users map[string]map[string]struct{} // userID -> set of roomIDs
}

// NewRoomIndex creates an empty room index
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms: make(map[string]map[string]struct{}),
		users: make(map[string]map[string]struct{}),
	}
}

// Join adds a user to a room and reports whether membership changed
func (r *RoomIndex) Join(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[string]struct{})
	}
	if _, ok := r.rooms[roomID][userID]; ok {
		return false
	}
	r.rooms[roomID][userID] = struct{}{}

	if _, ok := r.users[userID]; !ok {
		r.users[userID] = make(map[string]struct{})
	}
	r.users[userID][roomID] = struct{}{}

	metrics.HubRoomsActive.Set(float64(len(r.rooms)))
	return true
}

// Leave removes a user from a room and reports whether membership changed
func (r *RoomIndex) Leave(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, userID)
}

// LeaveAll removes a user from every room, returning the rooms left.
// Used when a connection drops.
func (r *RoomIndex) LeaveAll(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	memberships, ok := r.users[userID]
	if !ok {
		return nil
	}

	left := make([]string, 0, len(memberships))
	for roomID := range memberships {
		left = append(left, roomID)
	}
	sort.Strings(left)

	for _, roomID := range left {
		r.leaveLocked(roomID, userID)
	}
	return left
}

// Members returns the users in a room, ordered by user ID
func (r *RoomIndex) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(set))
	for userID := range set {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members
}

// Contains reports whether a user is in a room
func (r *RoomIndex) Contains(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = set[userID]
	return ok
}

// RoomsOf returns the rooms a user is in, ordered by room ID
func (r *RoomIndex) RoomsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.users[userID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(set))
	for roomID := range set {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// Size returns the number of members in a room
func (r *RoomIndex) Size(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// ActiveRooms returns the number of rooms with at least one member
func (r *RoomIndex) ActiveRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// caller must hold r.mu
func (r *RoomIndex) leaveLocked(roomID, userID string) bool {
	set, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}

	delete(set, userID)
	if len(set) == 0 {
		delete(r.rooms, roomID)
	}

	if memberships, ok := r.users[userID]; ok {
		delete(memberships, roomID)
		if len(memberships) == 0 {
			delete(r.users, userID)
		}
	}

	metrics.HubRoomsActive.Set(float64(len(r.rooms)))
	return true
}
