package signal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// Notifier delivers an event to a user's live connection. It reports false
// when the user has no deliverable connection.
type Notifier interface {
	ToUser(userID, event string, payload interface{}) bool
}

// Directory resolves presence details for event payloads
type Directory interface {
	Entry(userID string) (domain.PresenceEntry, bool)
}

type state int

const (
	stateOffering state = iota
	stateRinging
	stateConnected
)

// session is one in-flight one-to-one call, keyed by the user pair.
// Sessions are ephemeral; terminal transitions delete them.
type session struct {
	callID     string
	callerID   string
	calleeID   string
	callType   string
	state      state
	timer      *time.Timer
	startedAt  time.Time
	answeredAt time.Time
}

// Service is the one-to-one call signaling state machine. It relays
// offer/answer/ICE between the two live connections and enforces the
// delivery acknowledgment window on the initial offer.
type Service struct {
	notifier        Notifier
	directory       Directory
	deliveryTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session // pairKey -> session
}

// NewService creates a new signaling service
func NewService(notifier Notifier, directory Directory, deliveryTimeout time.Duration) *Service {
	if deliveryTimeout <= 0 {
		deliveryTimeout = constants.CallDeliveryTimeout
	}
	return &Service{
		notifier:        notifier,
		directory:       directory,
		deliveryTimeout: deliveryTimeout,
		sessions:        make(map[string]*session),
	}
}

// IncomingCallPayload notifies the callee of a new offer
type IncomingCallPayload struct {
	CallID     string          `json:"callId"`
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName,omitempty"`
	CallType   string          `json:"callType"`
	SDPOffer   json.RawMessage `json:"sdpOffer"`
}

// CallDeliveredPayload confirms the offer reached the callee's client
type CallDeliveredPayload struct {
	CallID   string `json:"callId"`
	CalleeID string `json:"calleeId"`
}

// CallUnavailablePayload tells the caller the callee cannot be reached
type CallUnavailablePayload struct {
	CalleeID string `json:"calleeId"`
}

// CallTimeoutPayload tells the caller the offer was never acknowledged
type CallTimeoutPayload struct {
	CallID   string `json:"callId"`
	CalleeID string `json:"calleeId"`
}

// CallAnsweredPayload relays the callee's answer to the caller
type CallAnsweredPayload struct {
	CallID    string          `json:"callId"`
	CalleeID  string          `json:"calleeId"`
	SDPAnswer json.RawMessage `json:"sdpAnswer"`
}

// CandidatePayload relays one ICE candidate
type CandidatePayload struct {
	FromUserID string          `json:"fromUserId"`
	Candidate  json.RawMessage `json:"candidate"`
}

// CallEndedPayload tells the counterpart the call is over
type CallEndedPayload struct {
	FromUserID string `json:"fromUserId"`
	Reason     string `json:"reason,omitempty"`
}

// Offer relays a call offer to the callee and starts the delivery timer.
// An unreachable callee resolves to a call-unavailable event for the
// caller; no session is created.
func (s *Service) Offer(callerID, calleeID, callType string, sdpOffer json.RawMessage) error {
	if calleeID == "" {
		return apperrors.MissingFieldError("targetUserId")
	}
	if calleeID == callerID {
		return apperrors.ValidationError("cannot call yourself")
	}
	if len(sdpOffer) == 0 {
		return apperrors.MissingFieldError("sdpOffer")
	}
	if callType == "" {
		callType = constants.CallTypeAudio
	}

	metrics.CallsInitiatedTotal.WithLabelValues("direct").Inc()

	callerName := ""
	if entry, ok := s.directory.Entry(callerID); ok {
		callerName = entry.DisplayName
	}

	callID := uuid.NewString()
	delivered := s.notifier.ToUser(calleeID, "incoming-call", IncomingCallPayload{
		CallID:     callID,
		CallerID:   callerID,
		CallerName: callerName,
		CallType:   callType,
		SDPOffer:   sdpOffer,
	})
	if !delivered {
		metrics.CallOutcomeTotal.WithLabelValues("direct", "unavailable").Inc()
		s.notifier.ToUser(callerID, "call-unavailable", CallUnavailablePayload{CalleeID: calleeID})
		logger.Info("Call target unavailable",
			zap.String("caller_id", callerID),
			zap.String("callee_id", calleeID))
		return nil
	}

	key := pairKey(callerID, calleeID)

	s.mu.Lock()
	if old, ok := s.sessions[key]; ok {
		if old.state == stateConnected {
			// Renegotiation passthrough: the established session stays as is
			s.mu.Unlock()
			return nil
		}
		s.stopTimerLocked(old)
		metrics.CallsActive.Dec()
	}

	sess := &session{
		callID:    callID,
		callerID:  callerID,
		calleeID:  calleeID,
		callType:  callType,
		state:     stateOffering,
		startedAt: time.Now(),
	}
	sess.timer = time.AfterFunc(s.deliveryTimeout, func() { s.deliveryTimedOut(key, callID) })
	s.sessions[key] = sess
	s.mu.Unlock()

	metrics.CallsActive.Inc()
	logger.Info("Call offer relayed",
		zap.String("call_id", callID),
		zap.String("caller_id", callerID),
		zap.String("callee_id", calleeID),
		zap.String("call_type", callType))
	return nil
}

// DeliveredAck records the callee client's receipt of the offer, cancels
// the delivery timer and confirms delivery to the caller
func (s *Service) DeliveredAck(calleeID, callerID string) {
	key := pairKey(callerID, calleeID)

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok || sess.calleeID != calleeID || sess.state != stateOffering {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked(sess)
	sess.state = stateRinging
	callID := sess.callID
	s.mu.Unlock()

	s.notifier.ToUser(callerID, "call-delivered", CallDeliveredPayload{
		CallID:   callID,
		CalleeID: calleeID,
	})
}

// Answer relays the callee's answer to the caller and marks the session
// connected. An answer for an unknown session is a no-op.
func (s *Service) Answer(calleeID, callerID string, sdpAnswer json.RawMessage) error {
	if len(sdpAnswer) == 0 {
		return apperrors.MissingFieldError("sdpAnswer")
	}

	key := pairKey(callerID, calleeID)

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok || sess.calleeID != calleeID {
		s.mu.Unlock()
		logger.Debug("Answer for unknown call session",
			zap.String("caller_id", callerID),
			zap.String("callee_id", calleeID))
		return nil
	}
	s.stopTimerLocked(sess)
	sess.state = stateConnected
	sess.answeredAt = time.Now()
	callID := sess.callID
	s.mu.Unlock()

	metrics.CallOutcomeTotal.WithLabelValues("direct", "answered").Inc()
	s.notifier.ToUser(callerID, "call-answered", CallAnsweredPayload{
		CallID:    callID,
		CalleeID:  calleeID,
		SDPAnswer: sdpAnswer,
	})
	logger.Info("Call answered",
		zap.String("call_id", callID),
		zap.String("caller_id", callerID),
		zap.String("callee_id", calleeID))
	return nil
}

// Candidate relays an ICE candidate to the counterpart. A missing
// counterpart makes this a no-op; candidates are pure relays.
func (s *Service) Candidate(fromID, targetID string, candidate json.RawMessage) {
	if targetID == "" || len(candidate) == 0 {
		return
	}
	s.notifier.ToUser(targetID, "ice-candidate", CandidatePayload{
		FromUserID: fromID,
		Candidate:  candidate,
	})
}

// End relays termination to the counterpart and drops the pair's session
// state and timers
func (s *Service) End(fromID, targetID string) {
	if targetID == "" {
		return
	}

	s.finishSession(pairKey(fromID, targetID), "ended")
	s.notifier.ToUser(targetID, "call-ended", CallEndedPayload{FromUserID: fromID})
}

// DropUser ends every session involving a disconnected user and notifies
// the counterparts
func (s *Service) DropUser(userID string) {
	s.mu.Lock()
	var affected []*session
	for key, sess := range s.sessions {
		if sess.callerID == userID || sess.calleeID == userID {
			s.stopTimerLocked(sess)
			delete(s.sessions, key)
			affected = append(affected, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range affected {
		s.recordOutcome(sess, "ended")
		counterpart := sess.callerID
		if counterpart == userID {
			counterpart = sess.calleeID
		}
		s.notifier.ToUser(counterpart, "call-ended", CallEndedPayload{
			FromUserID: userID,
			Reason:     "peer-disconnected",
		})
	}
}

// ActiveSessions returns the number of tracked one-to-one sessions
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) deliveryTimedOut(key, callID string) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok || sess.callID != callID || sess.state != stateOffering {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, key)
	s.mu.Unlock()

	metrics.CallsActive.Dec()
	metrics.CallOutcomeTotal.WithLabelValues("direct", "timeout").Inc()
	s.notifier.ToUser(sess.callerID, "call-timeout", CallTimeoutPayload{
		CallID:   callID,
		CalleeID: sess.calleeID,
	})
	logger.Info("Call delivery timed out",
		zap.String("call_id", callID),
		zap.String("caller_id", sess.callerID),
		zap.String("callee_id", sess.calleeID))
}

func (s *Service) finishSession(key, outcome string) {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if ok {
		s.stopTimerLocked(sess)
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	if ok {
		s.recordOutcome(sess, outcome)
	}
}

func (s *Service) recordOutcome(sess *session, outcome string) {
	metrics.CallsActive.Dec()
	metrics.CallOutcomeTotal.WithLabelValues("direct", outcome).Inc()
	if !sess.answeredAt.IsZero() {
		metrics.CallDuration.WithLabelValues("direct").Observe(time.Since(sess.answeredAt).Seconds())
	}
}

// caller must hold s.mu
func (s *Service) stopTimerLocked(sess *session) {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
}

// pairKey builds an order-independent key for a user pair
func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}
