package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/provider"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/registry"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/groupcall"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/signal"
	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/speech"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	apperrors "github.com/Vivekkumarprince1/vaani-sub000/pkg/errors"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault("ws-test")
	os.Exit(m.Run())
}

// memCallStore is an in-memory groupcall.CallStore with real version
// checking
type memCallStore struct {
	mu    sync.Mutex
	calls map[string]*domain.GroupCall
}

func newMemCallStore() *memCallStore {
	return &memCallStore{calls: make(map[string]*domain.GroupCall)}
}

func copyCall(call *domain.GroupCall) *domain.GroupCall {
	out := *call
	out.Participants = append([]domain.Participant(nil), call.Participants...)
	return &out
}

func (s *memCallStore) Create(ctx context.Context, call *domain.GroupCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call.Version = 1
	call.CreatedAt = time.Now()
	call.UpdatedAt = call.CreatedAt
	s.calls[call.CallID] = copyCall(call)
	return nil
}

func (s *memCallStore) GetByID(ctx context.Context, callID string) (*domain.GroupCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	return copyCall(call), nil
}

func (s *memCallStore) FindActiveByRoom(ctx context.Context, roomID string) (*domain.GroupCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.calls {
		if call.RoomID == roomID && call.Status != constants.CallStatusEnded {
			return copyCall(call), nil
		}
	}
	return nil, apperrors.CallNotFoundError()
}

func (s *memCallStore) UpdateVersioned(ctx context.Context, call *domain.GroupCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.calls[call.CallID]
	if !ok {
		return apperrors.CallNotFoundError()
	}
	if stored.Version != call.Version {
		return apperrors.ConflictError("group call was modified concurrently")
	}
	call.Version++
	call.UpdatedAt = time.Now()
	s.calls[call.CallID] = copyCall(call)
	return nil
}

func (s *memCallStore) FindStaleRinging(ctx context.Context, olderThan time.Time) ([]*domain.GroupCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.GroupCall
	for _, call := range s.calls {
		if call.Status == constants.CallStatusRinging && call.UpdatedAt.Before(olderThan) {
			out = append(out, copyCall(call))
		}
	}
	return out, nil
}

func (s *memCallStore) stored(callID string) *domain.GroupCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCall(s.calls[callID])
}

// memRoomStore is an in-memory groupcall.RoomStore
type memRoomStore struct {
	mu      sync.Mutex
	rooms   map[string]string
	members map[string][]string
}

func newMemRoomStore() *memRoomStore {
	return &memRoomStore{rooms: make(map[string]string), members: make(map[string][]string)}
}

func (s *memRoomStore) addRoom(roomID, name string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = name
	s.members[roomID] = members
}

func (s *memRoomStore) GetByID(ctx context.Context, roomID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.rooms[roomID]
	if !ok {
		return nil, apperrors.RoomNotFoundError()
	}
	return &domain.Room{RoomID: roomID, Name: name}, nil
}

func (s *memRoomStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[roomID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memRoomStore) ListMembers(ctx context.Context, roomID string) ([]*domain.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.RoomMember, 0, len(s.members[roomID]))
	for _, m := range s.members[roomID] {
		out = append(out, &domain.RoomMember{RoomID: roomID, UserID: m})
	}
	return out, nil
}

// stubRecognizer returns a fixed transcript
type stubRecognizer struct{ text string }

func (r *stubRecognizer) Recognize(ctx context.Context, audio []byte, language string) (provider.Transcript, error) {
	return provider.Transcript{Text: r.text, Confidence: 0.9}, nil
}
func (r *stubRecognizer) Close() error { return nil }

type stubTranslator struct{}

func (t *stubTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}
func (t *stubTranslator) Close() error { return nil }

type stubSynthesizer struct{}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	return []byte("audio:" + text), nil
}
func (s *stubSynthesizer) Close() error { return nil }

type wsEnv struct {
	hub        *Hub
	dispatcher *Dispatcher
	presence   *registry.Presence
	roomIndex  *registry.RoomIndex
	callStore  *memCallStore
	roomStore  *memRoomStore
	signal     *signal.Service
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()

	presence := registry.NewPresence(time.Minute)
	roomIndex := registry.NewRoomIndex()
	hub := NewHub(presence, roomIndex, nil, nil, Config{MaxConnections: 16})

	callStore := newMemCallStore()
	roomStore := newMemRoomStore()

	signalSvc := signal.NewService(hub, presence, time.Minute)
	groupSvc := groupcall.NewService(callStore, roomStore, hub, presence, time.Minute)
	orch := speech.NewOrchestrator(
		speech.Providers{
			Recognizer:  &stubRecognizer{text: "hello there"},
			Translator:  &stubTranslator{},
			Synthesizer: &stubSynthesizer{},
		},
		speech.NewTranslationCache(64, time.Minute, nil),
		roomIndex,
		presence,
		hub,
		hub,
		speech.Config{},
	)

	dispatcher := NewDispatcher(hub, signalSvc, groupSvc, orch, roomStore)
	hub.SetDispatcher(dispatcher)
	hub.OnDisconnect(signalSvc.DropUser)
	hub.OnDisconnect(func(userID string) {
		orch.CancelSpeaker(userID, "disconnect")
	})

	return &wsEnv{
		hub:        hub,
		dispatcher: dispatcher,
		presence:   presence,
		roomIndex:  roomIndex,
		callStore:  callStore,
		roomStore:  roomStore,
		signal:     signalSvc,
	}
}

// connect registers a client without a real socket. Frames accumulate in
// the send buffer where tests read them.
func (e *wsEnv) connect(userID, displayName, language string) *Client {
	return e.connectAs(userID, displayName, language, "conn-"+userID)
}

func (e *wsEnv) connectAs(userID, displayName, language, connID string) *Client {
	c := &Client{
		hub:         e.hub,
		send:        make(chan []byte, 64),
		connID:      connID,
		userID:      userID,
		displayName: displayName,
	}
	c.playback = speech.NewQueue(speech.SinkFunc(func(ctx context.Context, item speech.Item) error {
		frame, err := marshalEvent("speech-final", item.Payload)
		if err != nil {
			return err
		}
		c.Push(frame)
		return nil
	}), 8)
	e.hub.register(c, language)
	return c
}

func (e *wsEnv) send(c *Client, event string, payload interface{}) {
	frame, err := marshalEvent(event, payload)
	if err != nil {
		panic(err)
	}
	e.dispatcher.Dispatch(c, frame)
}

// awaitEvent reads frames until one matches the wanted type, skipping
// presence noise along the way
func awaitEvent(t *testing.T, c *Client, event string) json.RawMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-c.send:
			require.True(t, ok, "send channel closed while waiting for %q", event)
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			if env.Type == event {
				return env.Payload
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", event)
		}
	}
}

// drain empties buffered frames and returns them by type
func drain(t *testing.T, c *Client) map[string][]json.RawMessage {
	t.Helper()
	out := make(map[string][]json.RawMessage)
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out[env.Type] = append(out[env.Type], env.Payload)
		default:
			return out
		}
	}
}

func TestConnectSnapshotAndPresence(t *testing.T) {
	env := newWSEnv(t)

	alice := env.connect("alice", "Alice", "en")
	var snapshot OnlineUsersPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventOnlineUsers), &snapshot))
	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, "alice", snapshot.Users[0].UserID)
	assert.Equal(t, "en", snapshot.Users[0].Language)

	bob := env.connect("bob", "Bob", "fr")
	var announced PresencePayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventPresenceChanged), &announced))
	assert.Equal(t, "bob", announced.UserID)
	assert.Equal(t, constants.UserStatusOnline, announced.Status)

	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, EventOnlineUsers), &snapshot))
	assert.Len(t, snapshot.Users, 2)
}

func TestSessionReplacement(t *testing.T) {
	env := newWSEnv(t)

	first := env.connect("alice", "Alice", "en")
	drain(t, first)

	second := env.connectAs("alice", "Alice", "en", "conn-alice-2")
	awaitEvent(t, first, EventSessionReplaced)

	// The replaced connection's teardown must not take the user offline
	env.hub.disconnect(first, "read-closed")
	entry, ok := env.presence.Entry("alice")
	require.True(t, ok)
	assert.True(t, entry.Online())

	conn, ok := env.presence.Get("alice")
	require.True(t, ok)
	assert.Equal(t, second.connID, conn.ID())
}

func TestJoinRoomRequiresMembership(t *testing.T) {
	env := newWSEnv(t)
	env.roomStore.addRoom("r1", "Trip Planning", "alice", "bob")

	alice := env.connect("alice", "Alice", "en")
	carol := env.connect("carol", "Carol", "en")
	drain(t, alice)
	drain(t, carol)

	env.send(carol, EventJoinRoom, RoomPayload{RoomID: "r1"})
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, carol, EventError), &errPayload))
	assert.Equal(t, string(apperrors.ErrCodeNotParticipant), errPayload.Code)
	assert.False(t, env.roomIndex.Contains("r1", "carol"))

	env.send(alice, EventJoinRoom, RoomPayload{RoomID: "r1"})
	assert.True(t, env.roomIndex.Contains("r1", "alice"))

	bob := env.connect("bob", "Bob", "fr")
	drain(t, bob)
	env.send(bob, EventJoinRoom, RoomPayload{RoomID: "r1"})

	var joined RoomMemberPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventRoomJoined), &joined))
	assert.Equal(t, "bob", joined.UserID)
}

func TestChatRelay(t *testing.T) {
	env := newWSEnv(t)
	env.roomStore.addRoom("r1", "Trip Planning", "alice", "bob")

	alice := env.connect("alice", "Alice", "en")
	bob := env.connect("bob", "Bob", "fr")
	env.send(alice, EventJoinRoom, RoomPayload{RoomID: "r1"})
	env.send(bob, EventJoinRoom, RoomPayload{RoomID: "r1"})
	drain(t, alice)
	drain(t, bob)

	env.send(bob, EventChatMessage, ChatPayload{RoomID: "r1", Content: "hello"})

	var msg ChatBroadcast
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventChatMessage), &msg))
	assert.Equal(t, "bob", msg.SenderID)
	assert.Equal(t, "Bob", msg.SenderName)
	assert.Equal(t, "hello", msg.Content)

	// The sender does not get an echo
	frames := drain(t, bob)
	assert.Empty(t, frames[EventChatMessage])

	carol := env.connect("carol", "Carol", "en")
	drain(t, carol)
	env.send(carol, EventChatMessage, ChatPayload{RoomID: "r1", Content: "hi"})
	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, carol, EventError), &errPayload))
	assert.Equal(t, string(apperrors.ErrCodeNotParticipant), errPayload.Code)
}

func TestDirectCallFlow(t *testing.T) {
	env := newWSEnv(t)
	alice := env.connect("alice", "Alice", "en")
	bob := env.connect("bob", "Bob", "fr")
	drain(t, alice)
	drain(t, bob)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	env.send(alice, EventCallOffer, OfferPayload{TargetUserID: "bob", SDPOffer: sdp, CallType: "video"})

	var incoming signal.IncomingCallPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, "incoming-call"), &incoming))
	assert.Equal(t, "alice", incoming.CallerID)
	assert.Equal(t, "Alice", incoming.CallerName)
	assert.JSONEq(t, string(sdp), string(incoming.SDPOffer))

	env.send(bob, EventCallDeliveredAck, TargetPayload{TargetUserID: "alice"})
	awaitEvent(t, alice, "call-delivered")

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	env.send(bob, EventCallAnswer, AnswerPayload{TargetUserID: "alice", SDPAnswer: answer})
	var answered signal.CallAnsweredPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, "call-answered"), &answered))
	assert.JSONEq(t, string(answer), string(answered.SDPAnswer))

	candidate := json.RawMessage(`{"candidate":"foo"}`)
	env.send(alice, EventICECandidate, CandidatePayload{TargetUserID: "bob", Candidate: candidate})
	var relayed signal.CandidatePayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, "ice-candidate"), &relayed))
	assert.Equal(t, "alice", relayed.FromUserID)

	env.send(alice, EventCallEnd, TargetPayload{TargetUserID: "bob"})
	awaitEvent(t, bob, "call-ended")
	assert.Equal(t, 0, env.signal.ActiveSessions())
}

func TestGroupCallFlow(t *testing.T) {
	env := newWSEnv(t)
	env.roomStore.addRoom("r1", "Trip Planning", "alice", "bob", "carol")

	alice := env.connect("alice", "Alice", "en")
	bob := env.connect("bob", "Bob", "fr")
	carol := env.connect("carol", "Carol", "es")
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	env.send(alice, EventCallOffer, OfferPayload{RoomID: "r1", CallType: "audio"})

	var reply GroupCallReply
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventGroupCallStarted), &reply))
	require.NotNil(t, reply.Call)
	assert.False(t, reply.AlreadyActive)
	callID := reply.Call.CallID
	callRoomID := reply.Call.CallRoomID
	assert.Equal(t, constants.CallRoomPrefix+callID, callRoomID)
	assert.True(t, env.roomIndex.Contains(callRoomID, "alice"))

	var ring groupcall.GroupCallStartedPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, "group-call-started"), &ring))
	assert.Equal(t, callID, ring.CallID)
	assert.Equal(t, "Trip Planning", ring.RoomName)
	awaitEvent(t, carol, "group-call-started")

	env.send(bob, EventGroupJoin, GroupCallPayload{CallID: callID})

	var peers GroupPeersPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, EventGroupPeers), &peers))
	require.Len(t, peers.Participants, 1)
	assert.Equal(t, "alice", peers.Participants[0].UserID)
	assert.Equal(t, "conn-alice", peers.Participants[0].ConnectionID)

	var joinedNote groupcall.ParticipantJoinedPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, "group-call-joined"), &joinedNote))
	assert.Equal(t, "bob", joinedNote.UserID)
	assert.Equal(t, constants.CallStatusActive, joinedNote.CallStatus)

	// Mesh legs address peers by connection
	offer := json.RawMessage(`{"sdp":"v=0"}`)
	env.send(bob, EventGroupOffer, GroupRelayPayload{TargetConnectionID: "conn-alice", Payload: offer})
	var meshOffer GroupRelayOut
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventGroupOffer), &meshOffer))
	assert.Equal(t, "bob", meshOffer.FromUserID)
	assert.Equal(t, "conn-bob", meshOffer.FromConnectionID)
	assert.JSONEq(t, string(offer), string(meshOffer.Payload))

	env.send(carol, EventGroupDecline, GroupCallPayload{CallID: callID})

	env.send(bob, EventGroupLeave, GroupCallPayload{CallID: callID})
	var left groupcall.ParticipantLeftPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, "group-call-left"), &left))
	assert.Equal(t, "bob", left.UserID)
	assert.False(t, left.CallEnded)

	env.send(alice, EventGroupLeave, GroupCallPayload{CallRoomID: callRoomID})

	stored := env.callStore.stored(callID)
	assert.Equal(t, constants.CallStatusEnded, stored.Status)
	assert.Equal(t, constants.ParticipantDeclined, stored.FindParticipant("carol").Status)
	assert.False(t, env.roomIndex.Contains(callRoomID, "alice"))
	assert.Equal(t, 0, env.roomIndex.Size(callRoomID))
}

func TestGroupCallLongFormEvents(t *testing.T) {
	env := newWSEnv(t)
	env.roomStore.addRoom("r2", "Standup", "alice", "bob", "carol")

	alice := env.connect("alice", "Alice", "en")
	bob := env.connect("bob", "Bob", "fr")
	carol := env.connect("carol", "Carol", "es")
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	env.send(alice, EventGroupCallInitiate, GroupInitiatePayload{RoomID: "r2", CallType: "video"})

	var reply GroupCallReply
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventGroupCallStarted), &reply))
	require.NotNil(t, reply.Call)
	callID := reply.Call.CallID
	awaitEvent(t, bob, EventGroupCallStarted)
	awaitEvent(t, carol, EventGroupCallStarted)

	env.send(bob, EventGroupCallJoin, GroupCallPayload{CallID: callID})
	awaitEvent(t, bob, EventGroupPeers)

	env.send(carol, EventGroupCallDecline, GroupCallPayload{CallID: callID})
	var declined groupcall.ParticipantDeclinedPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, "group-call-declined"), &declined))
	assert.Equal(t, "carol", declined.UserID)

	env.send(bob, EventGroupCallLeave, GroupCallPayload{CallID: callID})
	var left groupcall.ParticipantLeftPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, "group-call-left"), &left))
	assert.Equal(t, "bob", left.UserID)
	assert.False(t, left.CallEnded)
}

func TestSpeechOverDispatch(t *testing.T) {
	env := newWSEnv(t)
	env.roomStore.addRoom("r1", "Trip Planning", "alice", "bob")

	alice := env.connect("alice", "Alice", "en")
	bob := env.connect("bob", "Bob", "fr")
	env.send(alice, EventJoinRoom, RoomPayload{RoomID: "r1"})
	env.send(bob, EventJoinRoom, RoomPayload{RoomID: "r1"})
	drain(t, alice)
	drain(t, bob)

	audio := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 200)...)
	env.send(alice, EventSpeechRecognize, RecognizePayload{
		CorrelationID: "seg-1",
		RoomID:        "r1",
		AudioBase64:   audio,
	})

	var final speech.FinalPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, "speech-final"), &final))
	assert.Equal(t, "seg-1", final.CorrelationID)
	assert.Equal(t, "hello there", final.OriginalText)
	assert.Equal(t, "[fr] hello there", final.TranslatedText)
	assert.NotEmpty(t, final.Audio)
}

func TestSpeechMutedSpeakerRejected(t *testing.T) {
	env := newWSEnv(t)
	env.roomStore.addRoom("r1", "Trip Planning", "alice", "bob")

	alice := env.connect("alice", "Alice", "en")
	drain(t, alice)

	env.send(alice, EventSpeechMute, nil)
	audio := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 200)...)
	env.send(alice, EventSpeechRecognize, RecognizePayload{
		CorrelationID: "seg-muted",
		RoomID:        "r1",
		AudioBase64:   audio,
	})

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventError), &errPayload))
	assert.Equal(t, "seg-muted", errPayload.CorrelationID)

	env.send(alice, EventSpeechUnmute, nil)
	assert.False(t, alice.Muted())
}

func TestLanguagePreference(t *testing.T) {
	env := newWSEnv(t)
	alice := env.connect("alice", "Alice", "en")
	bob := env.connect("bob", "Bob", "fr")
	drain(t, alice)
	drain(t, bob)

	env.send(alice, EventLanguagePref, LanguagePayload{Language: "hi-IN"})

	var ack LanguagePayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventLanguageUpdated), &ack))
	assert.Equal(t, "hi-IN", ack.Language)

	// Peers learn the new language so they can relabel the speaker
	var changed PresencePayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, EventPresenceChanged), &changed))
	assert.Equal(t, "alice", changed.UserID)
	assert.Equal(t, "hi-IN", changed.Language)
	assert.Equal(t, constants.UserStatusOnline, changed.Status)

	entry, ok := env.presence.Entry("alice")
	require.True(t, ok)
	assert.Equal(t, "hi-IN", entry.Language)
}

func TestPingPong(t *testing.T) {
	env := newWSEnv(t)
	alice := env.connect("alice", "Alice", "en")
	drain(t, alice)

	env.dispatcher.Dispatch(alice, []byte(`{"type":"ping"}`))
	awaitEvent(t, alice, EventPong)
}

func TestUnknownEventType(t *testing.T) {
	env := newWSEnv(t)
	alice := env.connect("alice", "Alice", "en")
	drain(t, alice)

	env.dispatcher.Dispatch(alice, []byte(`{"type":"no-such-event"}`))

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, alice, EventError), &errPayload))
	assert.Equal(t, string(apperrors.ErrCodeValidation), errPayload.Code)
}

func TestDisconnectCleanup(t *testing.T) {
	env := newWSEnv(t)
	env.roomStore.addRoom("r1", "Trip Planning", "alice", "bob")

	alice := env.connect("alice", "Alice", "en")
	bob := env.connect("bob", "Bob", "fr")
	env.send(alice, EventJoinRoom, RoomPayload{RoomID: "r1"})
	env.send(bob, EventJoinRoom, RoomPayload{RoomID: "r1"})

	sdp := json.RawMessage(`{"type":"offer"}`)
	env.send(alice, EventCallOffer, OfferPayload{TargetUserID: "bob", SDPOffer: sdp})
	drain(t, alice)
	drain(t, bob)

	env.hub.disconnect(alice, "read-closed")

	var ended signal.CallEndedPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, "call-ended"), &ended))
	assert.Equal(t, "peer-disconnected", ended.Reason)

	var left RoomMemberPayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, EventRoomLeft), &left))
	assert.Equal(t, "alice", left.UserID)

	var offline PresencePayload
	require.NoError(t, json.Unmarshal(awaitEvent(t, bob, EventPresenceChanged), &offline))
	assert.Equal(t, "alice", offline.UserID)
	assert.Equal(t, constants.UserStatusOffline, offline.Status)

	entry, ok := env.presence.Entry("alice")
	require.True(t, ok)
	assert.False(t, entry.Online())
	assert.False(t, env.roomIndex.Contains("r1", "alice"))
	assert.Equal(t, 0, env.signal.ActiveSessions())
}
