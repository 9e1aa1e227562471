package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/domain"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// Pusher is the transport side of a registered connection. The WebSocket
// client implements it; the registry only needs delivery and teardown.
type Pusher interface {
	// ID returns the connection identifier, unique per socket
	ID() string

	// Push enqueues an encoded frame without blocking. It reports false
	// when the connection's buffer is full or closed.
	Push(frame []byte) bool

	// Kick closes the connection after a replacement or forced logout
	Kick(reason string)
}

type presenceEntry struct {
	info domain.PresenceEntry
	conn Pusher // nil while the entry is offline
}

// Presence is the authoritative record of who is connected to this hub.
// A user has at most one live connection; registering a second one evicts
// the first. Offline entries linger for a grace period so that a quick
// reconnect keeps the user's identity and language preference.
type Presence struct {
	mu    sync.RWMutex
	users map[string]*presenceEntry
	grace time.Duration
}

// NewPresence creates a presence registry with the given offline grace
func NewPresence(grace time.Duration) *Presence {
	if grace <= 0 {
		grace = constants.PresenceOfflineGrace
	}
	return &Presence{
		users: make(map[string]*presenceEntry),
		grace: grace,
	}
}

// Register binds a connection to a user and returns the evicted connection
// when the user was already connected elsewhere. cameOnline reports whether
// this registration changed the user's visible status, so callers know
// whether to broadcast a presence change.
func (p *Presence) Register(info domain.PresenceEntry, conn Pusher) (evicted Pusher, cameOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info.Status = constants.UserStatusOnline
	info.LastSeen = time.Now()

	existing, ok := p.users[info.UserID]
	if !ok {
		p.users[info.UserID] = &presenceEntry{info: info, conn: conn}
		p.setOnlineGauge()
		return nil, true
	}

	cameOnline = existing.conn == nil
	if existing.conn != nil && existing.conn.ID() != conn.ID() {
		evicted = existing.conn
	}

	// Keep the language preference from a graced offline entry unless the
	// new registration states its own
	if info.Language == "" {
		info.Language = existing.info.Language
	}
	existing.info = info
	existing.conn = conn
	p.setOnlineGauge()
	return evicted, cameOnline
}

// Unregister marks a user offline, but only when the departing connection
// still owns the entry. A stale unregister from an evicted connection must
// not clobber the replacement's registration.
func (p *Presence) Unregister(userID, connectionID string) (wentOffline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.users[userID]
	if !ok || entry.conn == nil || entry.conn.ID() != connectionID {
		return false
	}

	entry.conn = nil
	entry.info.ConnectionID = ""
	entry.info.Status = constants.UserStatusOffline
	entry.info.LastSeen = time.Now()
	p.setOnlineGauge()
	return true
}

// Get returns the live connection for a user
func (p *Presence) Get(userID string) (Pusher, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.users[userID]
	if !ok || entry.conn == nil {
		return nil, false
	}
	return entry.conn, true
}

// Entry returns a copy of the user's presence record, online or graced
func (p *Presence) Entry(userID string) (domain.PresenceEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.users[userID]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	return entry.info, true
}

// SetLanguage updates a user's preferred language and reports whether the
// user was known
func (p *Presence) SetLanguage(userID, language string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.users[userID]
	if !ok {
		return false
	}
	entry.info.Language = language
	return true
}

// Touch refreshes a user's last-seen timestamp on heartbeat
func (p *Presence) Touch(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.users[userID]
	if !ok {
		return false
	}
	entry.info.LastSeen = time.Now()
	return true
}

// Online returns the currently connected users, ordered by user ID
func (p *Presence) Online() []domain.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.PresenceEntry, 0, len(p.users))
	for _, entry := range p.users {
		if entry.conn != nil {
			out = append(out, entry.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// OnlineCount returns the number of connected users
func (p *Presence) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.onlineLocked()
}

// SweepExpired removes offline entries whose grace has lapsed and returns
// the forgotten records so the caller can clean up mirrors
func (p *Presence) SweepExpired(now time.Time) []domain.PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []domain.PresenceEntry
	for userID, entry := range p.users {
		if entry.conn == nil && now.Sub(entry.info.LastSeen) > p.grace {
			removed = append(removed, entry.info)
			delete(p.users, userID)
		}
	}
	return removed
}

// caller must hold p.mu
func (p *Presence) onlineLocked() int {
	n := 0
	for _, entry := range p.users {
		if entry.conn != nil {
			n++
		}
	}
	return n
}

// caller must hold p.mu
func (p *Presence) setOnlineGauge() {
	metrics.HubUsersOnline.Set(float64(p.onlineLocked()))
}
