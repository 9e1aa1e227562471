package ws

import (
	"encoding/json"
	"time"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
)

// Client to server event types
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventChatMessage = "chat-message"

	EventCallOffer        = "call-offer"
	EventCallAnswer       = "call-answer"
	EventCallDeliveredAck = "call-delivered-ack"
	EventICECandidate     = "ice-candidate"
	EventCallEnd          = "call-end"

	EventGroupCallInitiate = "group-call-initiate"
	EventGroupCallJoin     = "group-call-join"
	EventGroupCallDecline  = "group-call-decline"
	EventGroupCallLeave    = "group-call-leave"

	// Short forms kept for older clients that predate the group-call-*
	// vocabulary
	EventGroupJoin    = "group-join"
	EventGroupLeave   = "group-leave"
	EventGroupDecline = "group-decline"

	EventGroupOffer  = "group-offer"
	EventGroupAnswer = "group-answer"
	EventGroupICE    = "group-ice"

	EventSpeechRecognize = "speech-recognize"
	EventSpeechMute      = "speech-mute"
	EventSpeechUnmute    = "speech-unmute"
	EventLanguagePref    = "language-preference"
	EventPing            = "ping"
)

// Server to client event types
const (
	EventError            = "error"
	EventOnlineUsers      = "online-users"
	EventPresenceChanged  = "presence-changed"
	EventSessionReplaced  = "session-replaced"
	EventRoomJoined       = "room-member-joined"
	EventRoomLeft         = "room-member-left"
	EventGroupCallStarted = "group-call-started"
	EventGroupPeers       = "group-participants"
	EventLanguageUpdated  = "language-updated"
	EventPong             = "pong"
)

// Envelope is the wire frame for every event in both directions
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// marshalEvent encodes an event and payload into one wire frame
func marshalEvent(event string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}

// RoomPayload addresses a room for join/leave
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// ChatPayload is an inbound chat message for a room
type ChatPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// ChatBroadcast is the relayed form of a chat message
type ChatBroadcast struct {
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}

// OfferPayload starts a direct call (targetUserId) or a group call (roomId)
type OfferPayload struct {
	TargetUserID string          `json:"targetUserId,omitempty"`
	RoomID       string          `json:"roomId,omitempty"`
	SDPOffer     json.RawMessage `json:"sdpOffer,omitempty"`
	CallType     string          `json:"callType,omitempty"`
}

// AnswerPayload answers a direct call
type AnswerPayload struct {
	TargetUserID string          `json:"targetUserId"`
	SDPAnswer    json.RawMessage `json:"sdpAnswer"`
}

// TargetPayload addresses the counterpart of a direct call
type TargetPayload struct {
	TargetUserID string `json:"targetUserId"`
}

// CandidatePayload carries one ICE candidate for a direct call
type CandidatePayload struct {
	TargetUserID string          `json:"targetUserId"`
	Candidate    json.RawMessage `json:"candidate"`
}

// GroupInitiatePayload starts a group call for a persisted room
type GroupInitiatePayload struct {
	RoomID   string `json:"roomId"`
	CallType string `json:"callType,omitempty"`
}

// GroupCallPayload addresses a group call by id or by its signaling room
type GroupCallPayload struct {
	CallID     string `json:"callId,omitempty"`
	CallRoomID string `json:"callRoomId,omitempty"`
}

// GroupRelayPayload is a mesh signaling frame relayed to one connection
type GroupRelayPayload struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload"`
}

// GroupRelayOut is the relayed mesh frame as the target receives it
type GroupRelayOut struct {
	FromUserID       string          `json:"fromUserId"`
	FromConnectionID string          `json:"fromConnectionId"`
	Payload          json.RawMessage `json:"payload"`
}

// RecognizePayload is one audio segment for the speech pipeline
type RecognizePayload struct {
	CorrelationID string `json:"correlationId"`
	SourceLang    string `json:"sourceLang,omitempty"`
	RoomID        string `json:"roomId,omitempty"`
	TargetUserID  string `json:"targetUserId,omitempty"`
	AudioBase64   []byte `json:"audioBase64"`
}

// LanguagePayload sets the connection's preferred language
type LanguagePayload struct {
	Language string `json:"lang"`
}

// ErrorPayload reports a failed event back to the sender
type ErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// PresencePayload announces one user's presence change
type PresencePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Language    string `json:"language,omitempty"`
	Status      string `json:"status"`
}

// OnlineUsersPayload is the snapshot a client receives on connect
type OnlineUsersPayload struct {
	Users []PresencePayload `json:"users"`
}

// RoomMemberPayload announces a live room join or leave
type RoomMemberPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// GroupCallReply answers a group call initiation with the created or
// already running call record
type GroupCallReply struct {
	Call          *domain.GroupCall `json:"call"`
	AlreadyActive bool              `json:"alreadyActive"`
}

// ParticipantRef identifies one live connection in a group call room
type ParticipantRef struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// GroupPeersPayload gives a newcomer the current live participants so it
// can open a mesh leg to each one
type GroupPeersPayload struct {
	CallID       string           `json:"callId"`
	CallRoomID   string           `json:"callRoomId"`
	Participants []ParticipantRef `json:"participants"`
}

// KickPayload explains a forced disconnect
type KickPayload struct {
	Reason string `json:"reason"`
}
