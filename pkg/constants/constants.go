// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write to a client
	WebSocketWriteTimeout = 10 * time.Second

	// WebSocketMaxMessageBytes caps an inbound frame. Sized for the largest
	// audio segment after base64 inflation plus envelope overhead.
	WebSocketMaxMessageBytes = 16 * 1024 * 1024

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Signaling constants
const (
	// CallDeliveryTimeout is how long the caller waits for the callee's
	// client to acknowledge receipt of an offer before the call times out
	CallDeliveryTimeout = 5 * time.Second

	// CallRoomPrefix namespaces the signaling room derived from a group
	// call ID
	CallRoomPrefix = "call:"

	// CallStatusRinging indicates a call is waiting to be answered
	CallStatusRinging = "ringing"

	// CallStatusActive indicates a call is in progress
	CallStatusActive = "active"

	// CallStatusEnded indicates a call has ended
	CallStatusEnded = "ended"

	// CallTypeAudio indicates an audio-only call
	CallTypeAudio = "audio"

	// CallTypeVideo indicates a video call
	CallTypeVideo = "video"
)

// Presence constants
const (
	// UserStatusOnline indicates a user is currently online
	UserStatusOnline = "online"

	// UserStatusOffline indicates a user is currently offline
	UserStatusOffline = "offline"

	// PresenceOfflineGrace is how long an offline entry survives before
	// garbage collection, so a quick reconnect keeps its state
	PresenceOfflineGrace = 5 * time.Minute

	// PresenceSweepInterval is how often dead connections are swept
	PresenceSweepInterval = 5 * time.Minute
)

// Group call constants
const (
	// GroupCallRingingTimeout is the staleness window after which a
	// ringing call with no joined participants is judged abandoned
	GroupCallRingingTimeout = 5 * time.Minute

	// GroupCallLeaveRetries bounds optimistic-concurrency retries on leave
	GroupCallLeaveRetries = 3

	// ParticipantInvited indicates a member was rung but has not responded
	ParticipantInvited = "invited"

	// ParticipantJoined indicates a member accepted and is in the call
	ParticipantJoined = "joined"

	// ParticipantDeclined indicates a member rejected the invitation
	ParticipantDeclined = "declined"

	// ParticipantLeft indicates a member left after joining
	ParticipantLeft = "left"

	// ParticipantMissed indicates a member never responded before the call ended
	ParticipantMissed = "missed"
)

// Speech pipeline constants
const (
	// ProviderRoundTripTimeout is the ceiling for one full pipeline round
	// trip (recognize, translate, synthesize) before a failure is reported
	ProviderRoundTripTimeout = 8 * time.Second

	// ProviderRetries bounds retries of transient provider failures
	ProviderRetries = 2

	// MinAudioBytes is the smallest audio segment accepted by the pipeline
	MinAudioBytes = 64

	// MaxAudioBytes is the largest audio segment accepted by the pipeline (10MB)
	MaxAudioBytes = 10 * 1024 * 1024

	// PlaybackQueueDepth is the per-listener buffered playback queue size
	PlaybackQueueDepth = 32

	// DefaultSourceLanguage is assumed when neither the request nor the
	// speaker's presence entry carries a language
	DefaultSourceLanguage = "en-US"

	// CorrelationSweepInterval is how often in-flight segment entries are
	// checked for leaks
	CorrelationSweepInterval = 15 * time.Second

	// CorrelationSlack extends the provider ceiling before an in-flight
	// entry counts as leaked
	CorrelationSlack = 2 * time.Second
)

// Translation cache constants
const (
	// TranslationCacheSize is the default LRU capacity
	TranslationCacheSize = 1024

	// TranslationCacheTTL is the default entry lifetime
	TranslationCacheTTL = 30 * time.Minute
)
