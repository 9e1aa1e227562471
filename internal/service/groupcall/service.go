package groupcall

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/retry"
)

// CallStore persists group call records with optimistic concurrency
type CallStore interface {
	Create(ctx context.Context, call *domain.GroupCall) error
	GetByID(ctx context.Context, callID string) (*domain.GroupCall, error)
	FindActiveByRoom(ctx context.Context, roomID string) (*domain.GroupCall, error)
	UpdateVersioned(ctx context.Context, call *domain.GroupCall) error
	FindStaleRinging(ctx context.Context, olderThan time.Time) ([]*domain.GroupCall, error)
}

// RoomStore resolves rooms and their membership
type RoomStore interface {
	GetByID(ctx context.Context, roomID string) (*domain.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	ListMembers(ctx context.Context, roomID string) ([]*domain.RoomMember, error)
}

// Notifier delivers events to users and signaling rooms
type Notifier interface {
	ToUser(userID, event string, payload interface{}) bool
	ToRoom(roomID, event string, payload interface{}) int
}

// Directory resolves presence details for event payloads
type Directory interface {
	Entry(userID string) (domain.PresenceEntry, bool)
}

// Service coordinates group calls over a room: ringing every member,
// tracking who is in the call, and ending the call when the last active
// participant leaves. All state lives in the call store; concurrent
// mutations are resolved with versioned updates and bounded retry.
type Service struct {
	calls          CallStore
	rooms          RoomStore
	notifier       Notifier
	directory      Directory
	ringingTimeout time.Duration
}

// NewService creates a new group call service
func NewService(calls CallStore, rooms RoomStore, notifier Notifier, directory Directory, ringingTimeout time.Duration) *Service {
	if ringingTimeout <= 0 {
		ringingTimeout = constants.GroupCallRingingTimeout
	}
	return &Service{
		calls:          calls,
		rooms:          rooms,
		notifier:       notifier,
		directory:      directory,
		ringingTimeout: ringingTimeout,
	}
}

// InitiateResult reports the call the initiator ends up in and whether it
// already existed
type InitiateResult struct {
	Call          *domain.GroupCall
	AlreadyActive bool
}

// LeaveResult reports whether the leave ended the call
type LeaveResult struct {
	CallEnded bool
}

// GroupCallStartedPayload rings a room member
type GroupCallStartedPayload struct {
	CallID        string `json:"callId"`
	RoomID        string `json:"roomId"`
	RoomName      string `json:"roomName,omitempty"`
	CallRoomID    string `json:"callRoomId"`
	InitiatorID   string `json:"initiatorId"`
	InitiatorName string `json:"initiatorName,omitempty"`
	CallType      string `json:"callType"`
}

// ParticipantJoinedPayload announces a join to the signaling room
type ParticipantJoinedPayload struct {
	CallID      string `json:"callId"`
	UserID      string `json:"userId"`
	JoinedCount int    `json:"joinedCount"`
	CallStatus  string `json:"callStatus"`
}

// ParticipantDeclinedPayload announces a decline to the signaling room
type ParticipantDeclinedPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// ParticipantLeftPayload announces a leave to the signaling room
type ParticipantLeftPayload struct {
	CallID    string `json:"callId"`
	UserID    string `json:"userId"`
	CallEnded bool   `json:"callEnded"`
}

// GroupCallEndedPayload announces the end of a call to the signaling room
type GroupCallEndedPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// Initiate starts a group call on a room, ringing every member. When the
// room already has a live call it is returned instead; a call judged
// abandoned is ended first and superseded.
func (s *Service) Initiate(ctx context.Context, roomID, initiatorID, callType string) (*InitiateResult, error) {
	if callType == "" {
		callType = constants.CallTypeAudio
	}
	if callType != constants.CallTypeAudio && callType != constants.CallTypeVideo {
		return nil, apperrors.ValidationError("invalid call type: " + callType)
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	isMember, err := s.rooms.IsMember(ctx, roomID, initiatorID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, apperrors.NotParticipantError("you are not a member of this room")
	}

	existing, err := s.calls.FindActiveByRoom(ctx, roomID)
	if err == nil {
		if !s.isAbandoned(existing) {
			return &InitiateResult{Call: existing, AlreadyActive: true}, nil
		}
		if err := s.endAbandoned(ctx, existing); err != nil {
			return nil, err
		}
	} else if !apperrors.IsCode(err, apperrors.ErrCodeCallNotFound) {
		return nil, err
	}

	members, err := s.rooms.ListMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	callID := uuid.NewString()
	call := &domain.GroupCall{
		CallID:      callID,
		RoomID:      roomID,
		CallRoomID:  constants.CallRoomPrefix + callID,
		InitiatorID: initiatorID,
		CallType:    callType,
		Status:      constants.CallStatusRinging,
		StartedAt:   &now,
	}
	for _, m := range members {
		p := domain.Participant{
			UserID:    m.UserID,
			Status:    constants.ParticipantInvited,
			InvitedAt: now,
		}
		if m.UserID == initiatorID {
			p.Status = constants.ParticipantJoined
			p.JoinedAt = &now
		}
		call.Participants = append(call.Participants, p)
	}

	if err := s.calls.Create(ctx, call); err != nil {
		return nil, err
	}

	metrics.CallsInitiatedTotal.WithLabelValues("group").Inc()
	metrics.CallsActive.Inc()
	metrics.GroupCallParticipants.Inc()

	s.ringMembers(call, room.Name)
	logger.Info("Group call initiated",
		zap.String("call_id", callID),
		zap.String("room_id", roomID),
		zap.String("initiator_id", initiatorID),
		zap.Int("invited", call.PendingCount()))

	return &InitiateResult{Call: call}, nil
}

// Join flips the participant to joined and promotes the call to active once
// two or more participants are in
func (s *Service) Join(ctx context.Context, callID, userID string) (*domain.GroupCall, error) {
	var joined *domain.GroupCall

	err := retry.DoIf(ctx, "group call join", retry.DefaultPolicy(), conflictRetry, func() error {
		call, err := s.calls.GetByID(ctx, callID)
		if err != nil {
			return err
		}
		if call.Status == constants.CallStatusEnded {
			return apperrors.UnavailableError("call has already ended")
		}

		p := call.FindParticipant(userID)
		if p == nil {
			return apperrors.NotParticipantError("you are not a participant of this call")
		}
		if p.Status == constants.ParticipantJoined {
			joined = call
			return nil
		}

		now := time.Now()
		p.Status = constants.ParticipantJoined
		p.JoinedAt = &now
		p.LeftAt = nil
		if call.Status == constants.CallStatusRinging && call.JoinedCount() >= 2 {
			call.Status = constants.CallStatusActive
		}

		if err := s.calls.UpdateVersioned(ctx, call); err != nil {
			return err
		}
		joined = call

		metrics.GroupCallParticipants.Inc()
		s.notifier.ToRoom(call.CallRoomID, "group-call-joined", ParticipantJoinedPayload{
			CallID:      call.CallID,
			UserID:      userID,
			JoinedCount: call.JoinedCount(),
			CallStatus:  call.Status,
		})
		logger.Info("Participant joined group call",
			zap.String("call_id", call.CallID),
			zap.String("user_id", userID),
			zap.String("call_status", call.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

// Decline marks the participant declined so they are not rung again. A
// decline on an ended call is a no-op.
func (s *Service) Decline(ctx context.Context, callID, userID string) error {
	return retry.DoIf(ctx, "group call decline", retry.DefaultPolicy(), conflictRetry, func() error {
		call, err := s.calls.GetByID(ctx, callID)
		if err != nil {
			return err
		}
		if call.Status == constants.CallStatusEnded {
			return nil
		}

		p := call.FindParticipant(userID)
		if p == nil {
			return apperrors.NotParticipantError("you are not a participant of this call")
		}
		if p.Status == constants.ParticipantJoined {
			return apperrors.ValidationError("cannot decline a call you already joined")
		}
		if p.Status == constants.ParticipantDeclined {
			return nil
		}

		p.Status = constants.ParticipantDeclined
		if err := s.calls.UpdateVersioned(ctx, call); err != nil {
			return err
		}

		s.notifier.ToRoom(call.CallRoomID, "group-call-declined", ParticipantDeclinedPayload{
			CallID: call.CallID,
			UserID: userID,
		})
		return nil
	})
}

// Leave removes the participant from the call. The last active participant
// leaving ends the call and finalizes everyone's status.
func (s *Service) Leave(ctx context.Context, callID, userID string) (*LeaveResult, error) {
	result := &LeaveResult{}

	err := retry.DoIf(ctx, "group call leave", retry.DefaultPolicy(), conflictRetry, func() error {
		call, err := s.calls.GetByID(ctx, callID)
		if err != nil {
			return err
		}
		if call.Status == constants.CallStatusEnded {
			result.CallEnded = true
			return nil
		}

		p := call.FindParticipant(userID)
		if p == nil {
			return apperrors.NotParticipantError("you are not a participant of this call")
		}
		if p.Status != constants.ParticipantJoined {
			return nil
		}

		now := time.Now()
		p.Status = constants.ParticipantLeft
		p.LeftAt = &now

		ended := call.JoinedCount() == 0
		if ended {
			s.finalizeEnded(call, now)
		}

		if err := s.calls.UpdateVersioned(ctx, call); err != nil {
			return err
		}
		result.CallEnded = ended

		metrics.GroupCallParticipants.Dec()
		if ended {
			s.recordEnded(call, "ended")
		}
		s.notifier.ToRoom(call.CallRoomID, "group-call-left", ParticipantLeftPayload{
			CallID:    call.CallID,
			UserID:    userID,
			CallEnded: ended,
		})
		logger.Info("Participant left group call",
			zap.String("call_id", call.CallID),
			zap.String("user_id", userID),
			zap.Bool("call_ended", ended))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ActiveCall returns the room's current live call, if any
func (s *Service) ActiveCall(ctx context.Context, roomID string) (*domain.GroupCall, error) {
	return s.calls.FindActiveByRoom(ctx, roomID)
}

// Get loads a call by id
func (s *Service) Get(ctx context.Context, callID string) (*domain.GroupCall, error) {
	return s.calls.GetByID(ctx, callID)
}

// ReapAbandoned ends ringing calls that have outlived the ringing window.
// Conflicted updates are skipped; the next sweep retries them.
func (s *Service) ReapAbandoned(ctx context.Context) int {
	cutoff := time.Now().Add(-s.ringingTimeout)
	stale, err := s.calls.FindStaleRinging(ctx, cutoff)
	if err != nil {
		logger.Error("Failed to scan for abandoned calls", zap.Error(err))
		return 0
	}

	reaped := 0
	for _, call := range stale {
		if err := s.endAbandoned(ctx, call); err != nil {
			logger.Warn("Failed to reap abandoned call",
				zap.String("call_id", call.CallID),
				zap.Error(err))
			continue
		}
		reaped++
	}
	return reaped
}

// StartReaper sweeps for abandoned calls on an interval until ctx is done
func (s *Service) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.ReapAbandoned(ctx); n > 0 {
					logger.Info("Reaped abandoned group calls", zap.Int("count", n))
				}
			}
		}
	}()
}

// isAbandoned reports whether a live call record is stale: nobody is in it,
// or it has been ringing past the ringing window
func (s *Service) isAbandoned(call *domain.GroupCall) bool {
	if call.JoinedCount() == 0 {
		return true
	}
	return call.Status == constants.CallStatusRinging && time.Since(call.UpdatedAt) > s.ringingTimeout
}

func (s *Service) endAbandoned(ctx context.Context, call *domain.GroupCall) error {
	s.finalizeEnded(call, time.Now())
	if err := s.calls.UpdateVersioned(ctx, call); err != nil {
		return err
	}

	metrics.GroupCallReapedTotal.Inc()
	s.recordEnded(call, "timeout")
	s.notifier.ToRoom(call.CallRoomID, "group-call-ended", GroupCallEndedPayload{
		CallID: call.CallID,
		Reason: "abandoned",
	})
	logger.Info("Ended abandoned group call",
		zap.String("call_id", call.CallID),
		zap.String("room_id", call.RoomID))
	return nil
}

// finalizeEnded applies the end-of-call rule: still-invited participants
// become missed, participants still in the call get the end time stamped
func (s *Service) finalizeEnded(call *domain.GroupCall, now time.Time) {
	call.Status = constants.CallStatusEnded
	call.EndedAt = &now
	if call.StartedAt != nil {
		call.DurationSeconds = int(now.Sub(*call.StartedAt).Seconds())
	}
	for i := range call.Participants {
		p := &call.Participants[i]
		switch p.Status {
		case constants.ParticipantInvited:
			p.Status = constants.ParticipantMissed
		case constants.ParticipantJoined:
			if p.LeftAt == nil {
				p.LeftAt = &now
			}
		}
	}
}

func (s *Service) recordEnded(call *domain.GroupCall, outcome string) {
	metrics.CallsActive.Dec()
	metrics.CallOutcomeTotal.WithLabelValues("group", outcome).Inc()
	if call.StartedAt != nil && call.EndedAt != nil {
		metrics.CallDuration.WithLabelValues("group").Observe(call.EndedAt.Sub(*call.StartedAt).Seconds())
	}
}

func (s *Service) ringMembers(call *domain.GroupCall, roomName string) {
	initiatorName := ""
	if entry, ok := s.directory.Entry(call.InitiatorID); ok {
		initiatorName = entry.DisplayName
	}

	payload := GroupCallStartedPayload{
		CallID:        call.CallID,
		RoomID:        call.RoomID,
		RoomName:      roomName,
		CallRoomID:    call.CallRoomID,
		InitiatorID:   call.InitiatorID,
		InitiatorName: initiatorName,
		CallType:      call.CallType,
	}
	for i := range call.Participants {
		p := &call.Participants[i]
		if p.Status != constants.ParticipantInvited {
			continue
		}
		// Offline members simply miss the ring; they end up missed when
		// the call ends
		s.notifier.ToUser(p.UserID, "group-call-started", payload)
	}
}

// conflictRetry retries versioned-update conflicts only
func conflictRetry(err error) bool {
	if apperrors.IsCode(err, apperrors.ErrCodeConflict) {
		metrics.GroupCallConflictRetryTotal.Inc()
		return true
	}
	return false
}
