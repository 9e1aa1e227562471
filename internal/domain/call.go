package domain

import (
	"time"
)

// DirectCall tracks an in-flight one-to-one call. Direct calls live only in
// hub memory; nothing about them is persisted.
type DirectCall struct {
	CallID     string     `json:"call_id"`
	CallerID   string     `json:"caller_id"`
	CalleeID   string     `json:"callee_id"`
	CallType   string     `json:"call_type"` // audio, video
	Status     string     `json:"status"`    // ringing, active, ended
	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// GroupCall represents a group call rooted in a room. CallRoomID names the
// dedicated signaling room participants join for the mesh; it is distinct
// from the room the call was started in.
// Maps to MongoDB group_calls collection
type GroupCall struct {
	CallID          string        `json:"call_id" bson:"_id"`
	RoomID          string        `json:"room_id" bson:"room_id"`
	CallRoomID      string        `json:"call_room_id" bson:"call_room_id"`
	InitiatorID     string        `json:"initiator_id" bson:"initiator_id"`
	CallType        string        `json:"call_type" bson:"call_type"` // audio, video
	Status          string        `json:"status" bson:"status"`       // ringing, active, ended
	Participants    []Participant `json:"participants" bson:"participants"`
	Version         int64         `json:"version" bson:"version"` // optimistic concurrency counter
	CreatedAt       time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" bson:"updated_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty" bson:"started_at,omitempty"` // set when the call turns active
	EndedAt         *time.Time    `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds,omitempty" bson:"duration_seconds,omitempty"`
}

// Participant represents one room member's standing in a group call
type Participant struct {
	UserID    string     `json:"user_id" bson:"user_id"`
	Status    string     `json:"status" bson:"status"` // invited, joined, declined, left, missed
	InvitedAt time.Time  `json:"invited_at" bson:"invited_at"`
	JoinedAt  *time.Time `json:"joined_at,omitempty" bson:"joined_at,omitempty"`
	LeftAt    *time.Time `json:"left_at,omitempty" bson:"left_at,omitempty"`
}

// FindParticipant returns a pointer into Participants for the given user,
// or nil when the user was never invited
func (c *GroupCall) FindParticipant(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// JoinedCount returns how many participants are currently in the call
func (c *GroupCall) JoinedCount() int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].Status == "joined" {
			n++
		}
	}
	return n
}

// PendingCount returns how many participants are still being rung
func (c *GroupCall) PendingCount() int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].Status == "invited" {
			n++
		}
	}
	return n
}

// JoinedUserIDs returns the IDs of everyone currently in the call
func (c *GroupCall) JoinedUserIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for i := range c.Participants {
		if c.Participants[i].Status == "joined" {
			ids = append(ids, c.Participants[i].UserID)
		}
	}
	return ids
}
