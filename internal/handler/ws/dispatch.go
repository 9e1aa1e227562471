package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/groupcall"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/signal"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/speech"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// HandlerFunc processes one decoded event payload for a client
type HandlerFunc func(ctx context.Context, c *Client, payload json.RawMessage) error

// Dispatcher decodes inbound frames and routes them to the services. A
// handler error is reported back to the sender on the error channel and
// never tears down the connection.
type Dispatcher struct {
	hub      *Hub
	signal   *signal.Service
	groups   *groupcall.Service
	speech   *speech.Orchestrator
	rooms    groupcall.RoomStore
	handlers map[string]HandlerFunc
}

// NewDispatcher wires the event table. The room store backs membership
// checks for persisted rooms.
func NewDispatcher(hub *Hub, signalSvc *signal.Service, groupSvc *groupcall.Service, speechSvc *speech.Orchestrator, rooms groupcall.RoomStore) *Dispatcher {
	d := &Dispatcher{
		hub:    hub,
		signal: signalSvc,
		groups: groupSvc,
		speech: speechSvc,
		rooms:  rooms,
	}
	d.handlers = map[string]HandlerFunc{
		EventJoinRoom:    d.handleJoinRoom,
		EventLeaveRoom:   d.handleLeaveRoom,
		EventChatMessage: d.handleChat,

		EventCallOffer:        d.handleOffer,
		EventCallAnswer:       d.handleAnswer,
		EventCallDeliveredAck: d.handleDeliveredAck,
		EventICECandidate:     d.handleCandidate,
		EventCallEnd:          d.handleCallEnd,

		EventGroupCallInitiate: d.handleGroupInitiate,
		EventGroupCallJoin:     d.handleGroupJoin,
		EventGroupCallDecline:  d.handleGroupDecline,
		EventGroupCallLeave:    d.handleGroupLeave,
		EventGroupJoin:         d.handleGroupJoin,
		EventGroupLeave:        d.handleGroupLeave,
		EventGroupDecline:      d.handleGroupDecline,
		EventGroupOffer:        d.relayHandler(EventGroupOffer),
		EventGroupAnswer:       d.relayHandler(EventGroupAnswer),
		EventGroupICE:          d.relayHandler(EventGroupICE),

		EventSpeechRecognize: d.handleRecognize,
		EventSpeechMute:      d.handleMute,
		EventSpeechUnmute:    d.handleUnmute,
		EventLanguagePref:    d.handleLanguage,
		EventPing:            d.handlePing,
	}
	return d
}

// Dispatch routes one raw frame from a client connection
func (d *Dispatcher) Dispatch(c *Client, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		d.sendError(c, "", apperrors.ValidationError("malformed frame"))
		return
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		d.sendError(c, "", apperrors.ValidationError("unknown event type"))
		return
	}
	metrics.HubEventsTotal.WithLabelValues(env.Type, "in").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	if err := handler(ctx, c, env.Payload); err != nil {
		logger.Debug("Event handler rejected frame",
			zap.String("event", env.Type),
			zap.String("user_id", c.userID),
			zap.Error(err))
		d.sendError(c, "", err)
	}
}

// sendError reports a failure to the sender on the error channel
func (d *Dispatcher) sendError(c *Client, correlationID string, err error) {
	appErr := apperrors.GetAppError(err)
	metrics.HubEventErrorsTotal.WithLabelValues(string(appErr.Code)).Inc()
	d.reply(c, EventError, ErrorPayload{
		Code:          string(appErr.Code),
		Message:       appErr.Message,
		CorrelationID: correlationID,
	})
}

// reply pushes an event straight to the originating connection
func (d *Dispatcher) reply(c *Client, event string, payload interface{}) {
	frame, err := marshalEvent(event, payload)
	if err != nil {
		logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	if c.Push(frame) {
		metrics.HubEventsTotal.WithLabelValues(event, "out").Inc()
	} else {
		metrics.HubClientSendDroppedTotal.WithLabelValues("backpressure").Inc()
	}
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid join-room payload")
	}
	if p.RoomID == "" {
		return apperrors.MissingFieldError("roomId")
	}

	// Membership in a persisted room is required before joining its live
	// index. Call signaling rooms are joined through group-join instead.
	isMember, err := d.rooms.IsMember(ctx, p.RoomID, c.userID)
	if err != nil {
		return err
	}
	if !isMember {
		return apperrors.NotParticipantError("user is not a member of this room")
	}

	if d.hub.JoinRoom(p.RoomID, c.userID) {
		d.hub.ToRoomExcept(p.RoomID, c.userID, EventRoomJoined, RoomMemberPayload{
			RoomID: p.RoomID,
			UserID: c.userID,
		})
	}
	return nil
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p RoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid leave-room payload")
	}
	if p.RoomID == "" {
		return apperrors.MissingFieldError("roomId")
	}

	if d.hub.LeaveRoom(p.RoomID, c.userID) {
		d.hub.ToRoom(p.RoomID, EventRoomLeft, RoomMemberPayload{
			RoomID: p.RoomID,
			UserID: c.userID,
		})
	}
	return nil
}

func (d *Dispatcher) handleChat(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid chat payload")
	}
	if p.RoomID == "" {
		return apperrors.MissingFieldError("roomId")
	}
	if p.Content == "" {
		return apperrors.MissingFieldError("content")
	}
	if !d.hub.InRoom(p.RoomID, c.userID) {
		return apperrors.NotParticipantError("join the room before sending messages")
	}

	d.hub.ToRoomExcept(p.RoomID, c.userID, EventChatMessage, ChatBroadcast{
		RoomID:     p.RoomID,
		SenderID:   c.userID,
		SenderName: c.displayName,
		Content:    p.Content,
		SentAt:     time.Now(),
	})
	return nil
}

// handleOffer starts a direct call when targetUserId is set and a group
// call when roomId is set
func (d *Dispatcher) handleOffer(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p OfferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid call-offer payload")
	}

	if p.RoomID != "" {
		return d.startGroupCall(ctx, c, p.RoomID, p.CallType)
	}

	if p.TargetUserID == "" {
		return apperrors.MissingFieldError("targetUserId")
	}
	return d.signal.Offer(c.userID, p.TargetUserID, p.CallType, p.SDPOffer)
}

func (d *Dispatcher) handleGroupInitiate(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p GroupInitiatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid group-call-initiate payload")
	}
	if p.RoomID == "" {
		return apperrors.MissingFieldError("roomId")
	}
	return d.startGroupCall(ctx, c, p.RoomID, p.CallType)
}

// startGroupCall runs the initiate flow and reports the call record back,
// flagged when an active call already exists for the room
func (d *Dispatcher) startGroupCall(ctx context.Context, c *Client, roomID, callType string) error {
	res, err := d.groups.Initiate(ctx, roomID, c.userID, callType)
	if err != nil {
		return err
	}
	d.hub.JoinRoom(res.Call.CallRoomID, c.userID)
	d.reply(c, EventGroupCallStarted, GroupCallReply{
		Call:          res.Call,
		AlreadyActive: res.AlreadyActive,
	})
	return nil
}

func (d *Dispatcher) handleAnswer(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p AnswerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid call-answer payload")
	}
	if p.TargetUserID == "" {
		return apperrors.MissingFieldError("targetUserId")
	}
	return d.signal.Answer(c.userID, p.TargetUserID, p.SDPAnswer)
}

func (d *Dispatcher) handleDeliveredAck(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p TargetPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid call-delivered-ack payload")
	}
	if p.TargetUserID == "" {
		return apperrors.MissingFieldError("targetUserId")
	}
	d.signal.DeliveredAck(c.userID, p.TargetUserID)
	return nil
}

func (d *Dispatcher) handleCandidate(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p CandidatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid ice-candidate payload")
	}
	if p.TargetUserID == "" {
		return apperrors.MissingFieldError("targetUserId")
	}
	d.signal.Candidate(c.userID, p.TargetUserID, p.Candidate)
	return nil
}

func (d *Dispatcher) handleCallEnd(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p TargetPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid call-end payload")
	}
	if p.TargetUserID == "" {
		return apperrors.MissingFieldError("targetUserId")
	}
	d.signal.End(c.userID, p.TargetUserID)

	// Anything the pipeline still owes this call is stale once it ends
	d.speech.CancelConversation(c.userID, p.TargetUserID, "call_end")
	d.hub.PurgePlayback(c.userID)
	d.hub.PurgePlayback(p.TargetUserID)
	return nil
}

// callRef resolves a group call payload into the call ID and its
// signaling room
func callRef(p GroupCallPayload) (callID, callRoomID string, err error) {
	callID = p.CallID
	if callID == "" && p.CallRoomID != "" {
		callID = strings.TrimPrefix(p.CallRoomID, constants.CallRoomPrefix)
	}
	if callID == "" {
		return "", "", apperrors.MissingFieldError("callId")
	}
	return callID, constants.CallRoomPrefix + callID, nil
}

func (d *Dispatcher) handleGroupJoin(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p GroupCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid group-join payload")
	}
	callID, _, err := callRef(p)
	if err != nil {
		return err
	}

	call, err := d.groups.Join(ctx, callID, c.userID)
	if err != nil {
		return err
	}

	// The roster is captured before the join so a rejoining client never
	// sees itself in the peer list
	peers := make([]ParticipantRef, 0)
	for _, ref := range d.hub.LiveParticipants(call.CallRoomID) {
		if ref.UserID != c.userID {
			peers = append(peers, ref)
		}
	}
	d.hub.JoinRoom(call.CallRoomID, c.userID)
	d.reply(c, EventGroupPeers, GroupPeersPayload{
		CallID:       call.CallID,
		CallRoomID:   call.CallRoomID,
		Participants: peers,
	})
	return nil
}

func (d *Dispatcher) handleGroupLeave(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p GroupCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid group-leave payload")
	}
	callID, callRoomID, err := callRef(p)
	if err != nil {
		return err
	}

	res, err := d.groups.Leave(ctx, callID, c.userID)
	if err != nil {
		return err
	}

	d.hub.LeaveRoom(callRoomID, c.userID)
	d.speech.CancelSpeaker(c.userID, "call_end")
	d.hub.PurgePlayback(c.userID)

	if res.CallEnded {
		// Dissolve the signaling room and drop any audio still queued
		// for the remaining participants
		d.speech.CancelRoom(callRoomID, "room_ended")
		for _, member := range d.hub.RoomMembers(callRoomID) {
			d.hub.PurgePlayback(member)
			d.hub.LeaveRoom(callRoomID, member)
		}
	}
	return nil
}

func (d *Dispatcher) handleGroupDecline(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p GroupCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid group-decline payload")
	}
	callID, _, err := callRef(p)
	if err != nil {
		return err
	}
	return d.groups.Decline(ctx, callID, c.userID)
}

// relayHandler forwards a mesh signaling frame to one connection,
// stamping the sender so the receiver can route the answer back
func (d *Dispatcher) relayHandler(event string) HandlerFunc {
	return func(ctx context.Context, c *Client, raw json.RawMessage) error {
		var p GroupRelayPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return apperrors.ValidationError("invalid relay payload")
		}
		if p.TargetConnectionID == "" {
			return apperrors.MissingFieldError("targetConnectionId")
		}

		delivered := d.hub.ToConnection(p.TargetConnectionID, event, GroupRelayOut{
			FromUserID:       c.userID,
			FromConnectionID: c.connID,
			Payload:          p.Payload,
		})
		if !delivered {
			return apperrors.UnavailableError("target connection is gone")
		}
		return nil
	}
}

// handleRecognize runs the speech pipeline off the read loop so a slow
// provider never blocks the connection
func (d *Dispatcher) handleRecognize(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p RecognizePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid speech-recognize payload")
	}
	if c.Muted() {
		d.sendError(c, p.CorrelationID, apperrors.ValidationError("speaker is muted"))
		return nil
	}

	req := speech.Request{
		CorrelationID: p.CorrelationID,
		SpeakerID:     c.userID,
		SourceLang:    p.SourceLang,
		RoomID:        p.RoomID,
		TargetUserID:  p.TargetUserID,
		Audio:         p.AudioBase64,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from speech pipeline panic",
					zap.String("correlation_id", p.CorrelationID),
					zap.Any("panic", r))
			}
		}()
		if err := d.speech.Process(context.Background(), req); err != nil {
			d.sendError(c, p.CorrelationID, err)
		}
	}()
	return nil
}

func (d *Dispatcher) handleMute(ctx context.Context, c *Client, raw json.RawMessage) error {
	c.SetMuted(true)
	d.speech.CancelSpeaker(c.userID, "mute")
	d.hub.PurgePlayback(c.userID)
	return nil
}

func (d *Dispatcher) handleUnmute(ctx context.Context, c *Client, raw json.RawMessage) error {
	c.SetMuted(false)
	return nil
}

func (d *Dispatcher) handleLanguage(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p LanguagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ValidationError("invalid language-preference payload")
	}
	if p.Language == "" {
		return apperrors.MissingFieldError("lang")
	}

	if !d.hub.UpdateLanguage(ctx, c.userID, p.Language) {
		return apperrors.UserNotFoundError()
	}
	d.reply(c, EventLanguageUpdated, LanguagePayload{Language: p.Language})
	return nil
}

// handlePing answers application-level heartbeats. Protocol pings are
// handled by the pumps; this one exists for clients behind proxies that
// strip control frames.
func (d *Dispatcher) handlePing(ctx context.Context, c *Client, raw json.RawMessage) error {
	d.hub.presence.Touch(c.userID)
	d.reply(c, EventPong, nil)
	return nil
}
