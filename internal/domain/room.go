package domain

import (
	"time"
)

// Room represents a persistent room record
// Maps to CockroachDB rooms table
type Room struct {
	RoomID    string    `json:"room_id" db:"room_id"`
	Name      string    `json:"name" db:"name"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RoomMember represents a user's membership in a room
// Maps to CockroachDB room_members table
type RoomMember struct {
	RoomID   string    `json:"room_id" db:"room_id"`
	UserID   string    `json:"user_id" db:"user_id"`
	Role     string    `json:"role" db:"role"` // owner, member
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}
