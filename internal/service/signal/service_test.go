package signal

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault("signal-test")
	os.Exit(m.Run())
}

type sentEvent struct {
	event   string
	payload interface{}
}

// fakeNotifier records delivered events and simulates offline users
type fakeNotifier struct {
	mu      sync.Mutex
	sent    map[string][]sentEvent
	offline map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		sent:    make(map[string][]sentEvent),
		offline: make(map[string]bool),
	}
}

func (f *fakeNotifier) ToUser(userID, event string, payload interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline[userID] {
		return false
	}
	f.sent[userID] = append(f.sent[userID], sentEvent{event: event, payload: payload})
	return true
}

func (f *fakeNotifier) eventsFor(userID string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentEvent, len(f.sent[userID]))
	copy(out, f.sent[userID])
	return out
}

func (f *fakeNotifier) lastEvent(userID string) (sentEvent, bool) {
	events := f.eventsFor(userID)
	if len(events) == 0 {
		return sentEvent{}, false
	}
	return events[len(events)-1], true
}

func (f *fakeNotifier) hasEvent(userID, event string) bool {
	for _, e := range f.eventsFor(userID) {
		if e.event == event {
			return true
		}
	}
	return false
}

type fakeDirectory struct {
	entries map[string]domain.PresenceEntry
}

func (f *fakeDirectory) Entry(userID string) (domain.PresenceEntry, bool) {
	e, ok := f.entries[userID]
	return e, ok
}

func newTestService(timeout time.Duration) (*Service, *fakeNotifier) {
	notifier := newFakeNotifier()
	directory := &fakeDirectory{entries: map[string]domain.PresenceEntry{
		"alice": {UserID: "alice", DisplayName: "Alice"},
		"bob":   {UserID: "bob", DisplayName: "Bob"},
	}}
	return NewService(notifier, directory, timeout), notifier
}

var testSDP = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

// TestOffer_RelaysToCallee tests that an offer reaches an online callee
func TestOffer_RelaysToCallee(t *testing.T) {
	svc, notifier := newTestService(time.Second)

	err := svc.Offer("alice", "bob", "video", testSDP)
	require.NoError(t, err)

	last, ok := notifier.lastEvent("bob")
	require.True(t, ok)
	assert.Equal(t, "incoming-call", last.event)

	payload := last.payload.(IncomingCallPayload)
	assert.Equal(t, "alice", payload.CallerID)
	assert.Equal(t, "Alice", payload.CallerName)
	assert.Equal(t, "video", payload.CallType)
	assert.NotEmpty(t, payload.CallID)
	assert.Equal(t, 1, svc.ActiveSessions())
}

// TestOffer_OfflineCallee tests that an unreachable callee resolves to
// call-unavailable for the caller and no session is ever created
func TestOffer_OfflineCallee(t *testing.T) {
	svc, notifier := newTestService(time.Second)
	notifier.offline["bob"] = true

	err := svc.Offer("alice", "bob", "audio", testSDP)
	require.NoError(t, err)

	last, ok := notifier.lastEvent("alice")
	require.True(t, ok)
	assert.Equal(t, "call-unavailable", last.event)
	assert.Equal(t, "bob", last.payload.(CallUnavailablePayload).CalleeID)
	assert.Equal(t, 0, svc.ActiveSessions())
	assert.Empty(t, notifier.eventsFor("bob"))
}

// TestOffer_SelfCall tests that calling yourself is rejected
func TestOffer_SelfCall(t *testing.T) {
	svc, _ := newTestService(time.Second)

	err := svc.Offer("alice", "alice", "audio", testSDP)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

// TestOffer_MissingSDP tests offer validation
func TestOffer_MissingSDP(t *testing.T) {
	svc, _ := newTestService(time.Second)

	err := svc.Offer("alice", "bob", "audio", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingField))
}

// TestDeliveredAck tests that the callee's acknowledgment cancels the
// delivery timer and confirms delivery to the caller
func TestDeliveredAck(t *testing.T) {
	svc, notifier := newTestService(50 * time.Millisecond)

	require.NoError(t, svc.Offer("alice", "bob", "audio", testSDP))
	svc.DeliveredAck("bob", "alice")

	last, ok := notifier.lastEvent("alice")
	require.True(t, ok)
	assert.Equal(t, "call-delivered", last.event)
	assert.Equal(t, "bob", last.payload.(CallDeliveredPayload).CalleeID)

	// The canceled timer must not fire a timeout later
	time.Sleep(150 * time.Millisecond)
	assert.False(t, notifier.hasEvent("alice", "call-timeout"))
	assert.Equal(t, 1, svc.ActiveSessions())
}

// TestDeliveryTimeout tests that an unacknowledged offer times out and
// the session is discarded
func TestDeliveryTimeout(t *testing.T) {
	svc, notifier := newTestService(30 * time.Millisecond)

	require.NoError(t, svc.Offer("alice", "bob", "audio", testSDP))

	assert.Eventually(t, func() bool {
		return notifier.hasEvent("alice", "call-timeout")
	}, time.Second, 10*time.Millisecond)

	last, _ := notifier.lastEvent("alice")
	assert.Equal(t, "bob", last.payload.(CallTimeoutPayload).CalleeID)
	assert.Equal(t, 0, svc.ActiveSessions())
}

// TestAnswer tests the answer relay and the connected transition
func TestAnswer(t *testing.T) {
	svc, notifier := newTestService(time.Second)

	require.NoError(t, svc.Offer("alice", "bob", "video", testSDP))
	svc.DeliveredAck("bob", "alice")

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	require.NoError(t, svc.Answer("bob", "alice", answer))

	last, ok := notifier.lastEvent("alice")
	require.True(t, ok)
	assert.Equal(t, "call-answered", last.event)

	payload := last.payload.(CallAnsweredPayload)
	assert.Equal(t, "bob", payload.CalleeID)
	assert.JSONEq(t, string(answer), string(payload.SDPAnswer))
	assert.Equal(t, 1, svc.ActiveSessions())
}

// TestAnswer_UnknownSession tests that an answer without a matching offer
// is ignored
func TestAnswer_UnknownSession(t *testing.T) {
	svc, notifier := newTestService(time.Second)

	err := svc.Answer("bob", "alice", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Empty(t, notifier.eventsFor("alice"))
}

// TestCandidate tests the ICE candidate relay in both directions
func TestCandidate(t *testing.T) {
	svc, notifier := newTestService(time.Second)

	candidate := json.RawMessage(`{"candidate":"candidate:1"}`)
	svc.Candidate("alice", "bob", candidate)

	last, ok := notifier.lastEvent("bob")
	require.True(t, ok)
	assert.Equal(t, "ice-candidate", last.event)
	assert.Equal(t, "alice", last.payload.(CandidatePayload).FromUserID)

	// A missing counterpart makes the relay a silent no-op
	notifier.offline["alice"] = true
	svc.Candidate("bob", "alice", candidate)
	assert.Empty(t, notifier.eventsFor("alice"))
}

// TestEnd tests that ending a call notifies the counterpart and drops
// all session state
func TestEnd(t *testing.T) {
	svc, notifier := newTestService(50 * time.Millisecond)

	require.NoError(t, svc.Offer("alice", "bob", "audio", testSDP))
	svc.End("alice", "bob")

	assert.True(t, notifier.hasEvent("bob", "call-ended"))
	assert.Equal(t, 0, svc.ActiveSessions())

	// The stopped delivery timer must not fire after the call ended
	time.Sleep(150 * time.Millisecond)
	assert.False(t, notifier.hasEvent("alice", "call-timeout"))
}

// TestDropUser tests that a disconnect ends the user's sessions and
// notifies the counterparts
func TestDropUser(t *testing.T) {
	svc, notifier := newTestService(time.Second)

	require.NoError(t, svc.Offer("alice", "bob", "audio", testSDP))
	svc.DeliveredAck("bob", "alice")
	svc.DropUser("bob")

	last, ok := notifier.lastEvent("alice")
	require.True(t, ok)
	assert.Equal(t, "call-ended", last.event)

	payload := last.payload.(CallEndedPayload)
	assert.Equal(t, "bob", payload.FromUserID)
	assert.Equal(t, "peer-disconnected", payload.Reason)
	assert.Equal(t, 0, svc.ActiveSessions())
}

// TestOffer_ReplacesPendingSession tests that a repeated offer for the
// same pair supersedes the earlier pending session
func TestOffer_ReplacesPendingSession(t *testing.T) {
	svc, notifier := newTestService(50 * time.Millisecond)

	require.NoError(t, svc.Offer("alice", "bob", "audio", testSDP))
	require.NoError(t, svc.Offer("alice", "bob", "video", testSDP))

	assert.Equal(t, 1, svc.ActiveSessions())

	events := notifier.eventsFor("bob")
	require.Len(t, events, 2)
	first := events[0].payload.(IncomingCallPayload)
	second := events[1].payload.(IncomingCallPayload)
	assert.NotEqual(t, first.CallID, second.CallID)

	// Only the second session's timer is live; acking it keeps the call
	svc.DeliveredAck("bob", "alice")
	time.Sleep(150 * time.Millisecond)
	assert.False(t, notifier.hasEvent("alice", "call-timeout"))
}
