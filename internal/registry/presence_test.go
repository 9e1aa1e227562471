package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
)

// fakeConn is a minimal Pusher for registry tests
type fakeConn struct {
	id         string
	frames     [][]byte
	kickReason string
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Push(frame []byte) bool {
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeConn) Kick(reason string) { f.kickReason = reason }

func entryFor(userID, connID string) domain.PresenceEntry {
	return domain.PresenceEntry{
		UserID:       userID,
		ConnectionID: connID,
		DisplayName:  "User " + userID,
		Language:     "en-US",
	}
}

// TestRegister tests first-time registration
func TestRegister(t *testing.T) {
	p := NewPresence(time.Minute)
	conn := &fakeConn{id: "c1"}

	evicted, cameOnline := p.Register(entryFor("alice", "c1"), conn)

	assert.Nil(t, evicted)
	assert.True(t, cameOnline)
	assert.Equal(t, 1, p.OnlineCount())

	got, ok := p.Get("alice")
	assert.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	info, ok := p.Entry("alice")
	assert.True(t, ok)
	assert.Equal(t, constants.UserStatusOnline, info.Status)
}

// TestRegister_ReplacesExistingConnection tests that a second registration
// for the same user evicts the first connection
func TestRegister_ReplacesExistingConnection(t *testing.T) {
	p := NewPresence(time.Minute)
	first := &fakeConn{id: "c1"}
	second := &fakeConn{id: "c2"}

	p.Register(entryFor("alice", "c1"), first)
	evicted, cameOnline := p.Register(entryFor("alice", "c2"), second)

	assert.Same(t, first, evicted)
	assert.False(t, cameOnline, "replacement is not a presence transition")
	assert.Equal(t, 1, p.OnlineCount())

	got, ok := p.Get("alice")
	assert.True(t, ok)
	assert.Equal(t, "c2", got.ID())
}

// TestUnregister_StaleConnectionIgnored tests that an evicted connection's
// late unregister cannot remove the replacement's registration
func TestUnregister_StaleConnectionIgnored(t *testing.T) {
	p := NewPresence(time.Minute)
	first := &fakeConn{id: "c1"}
	second := &fakeConn{id: "c2"}

	p.Register(entryFor("alice", "c1"), first)
	p.Register(entryFor("alice", "c2"), second)

	wentOffline := p.Unregister("alice", "c1")

	assert.False(t, wentOffline)
	got, ok := p.Get("alice")
	assert.True(t, ok)
	assert.Equal(t, "c2", got.ID())
}

// TestUnregister_MarksOffline tests the online to offline transition
func TestUnregister_MarksOffline(t *testing.T) {
	p := NewPresence(time.Minute)
	conn := &fakeConn{id: "c1"}

	p.Register(entryFor("alice", "c1"), conn)
	wentOffline := p.Unregister("alice", "c1")

	assert.True(t, wentOffline)
	assert.Equal(t, 0, p.OnlineCount())

	_, ok := p.Get("alice")
	assert.False(t, ok)

	// The entry stays within the grace window
	info, ok := p.Entry("alice")
	assert.True(t, ok)
	assert.Equal(t, constants.UserStatusOffline, info.Status)
}

// TestRegister_ReconnectKeepsLanguage tests that a graced entry's language
// survives a reconnect that does not state its own
func TestRegister_ReconnectKeepsLanguage(t *testing.T) {
	p := NewPresence(time.Minute)

	p.Register(entryFor("alice", "c1"), &fakeConn{id: "c1"})
	p.SetLanguage("alice", "hi-IN")
	p.Unregister("alice", "c1")

	info := entryFor("alice", "c2")
	info.Language = ""
	_, cameOnline := p.Register(info, &fakeConn{id: "c2"})

	assert.True(t, cameOnline)
	got, _ := p.Entry("alice")
	assert.Equal(t, "hi-IN", got.Language)
}

// TestSweepExpired tests garbage collection of lapsed offline entries
func TestSweepExpired(t *testing.T) {
	p := NewPresence(50 * time.Millisecond)

	p.Register(entryFor("alice", "c1"), &fakeConn{id: "c1"})
	p.Register(entryFor("bob", "c2"), &fakeConn{id: "c2"})
	p.Unregister("alice", "c1")

	// Within grace nothing is removed
	removed := p.SweepExpired(time.Now())
	assert.Empty(t, removed)

	removed = p.SweepExpired(time.Now().Add(time.Second))
	assert.Len(t, removed, 1)
	assert.Equal(t, "alice", removed[0].UserID)

	_, ok := p.Entry("alice")
	assert.False(t, ok)

	// Online users are never swept
	_, ok = p.Get("bob")
	assert.True(t, ok)
}

// TestOnline tests the presence snapshot ordering
func TestOnline(t *testing.T) {
	p := NewPresence(time.Minute)

	p.Register(entryFor("carol", "c3"), &fakeConn{id: "c3"})
	p.Register(entryFor("alice", "c1"), &fakeConn{id: "c1"})
	p.Register(entryFor("bob", "c2"), &fakeConn{id: "c2"})
	p.Unregister("bob", "c2")

	online := p.Online()
	assert.Len(t, online, 2)
	assert.Equal(t, "alice", online[0].UserID)
	assert.Equal(t, "carol", online[1].UserID)
}

// TestSetLanguage tests language preference updates
func TestSetLanguage(t *testing.T) {
	p := NewPresence(time.Minute)
	p.Register(entryFor("alice", "c1"), &fakeConn{id: "c1"})

	assert.True(t, p.SetLanguage("alice", "ta-IN"))
	assert.False(t, p.SetLanguage("nobody", "ta-IN"))

	info, _ := p.Entry("alice")
	assert.Equal(t, "ta-IN", info.Language)
}
