package speech

import (
	"context"
	"sync"
	"time"

	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// segmentEntry is one in-flight pipeline run
type segmentEntry struct {
	speakerID string
	targetID  string
	roomID    string
	startedAt time.Time
	cancel    context.CancelFunc
}

// correlationTable tracks in-flight segments by correlation id. Mute, call
// end and disconnect cancel a speaker's pending work through it, and the
// janitor sweeps entries whose owning goroutine never came back.
type correlationTable struct {
	mu      sync.Mutex
	entries map[string]*segmentEntry
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{entries: make(map[string]*segmentEntry)}
}

// track registers one in-flight segment. A second segment reusing an id
// still in flight is refused so partial and final emissions for an id stay
// ordered.
func (t *correlationTable) track(req Request, cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[req.CorrelationID]; exists {
		return false
	}
	t.entries[req.CorrelationID] = &segmentEntry{
		speakerID: req.SpeakerID,
		targetID:  req.TargetUserID,
		roomID:    req.RoomID,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	metrics.SpeechInflightSegments.Inc()
	return true
}

// done releases an entry when its owning goroutine finishes. Safe to call
// after a sweep already removed the entry.
func (t *correlationTable) done(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[correlationID]; ok {
		delete(t.entries, correlationID)
		metrics.SpeechInflightSegments.Dec()
	}
}

// cancelWhere cancels every entry the predicate selects. Entries stay in the
// table until the owning goroutine observes the cancellation and calls done.
func (t *correlationTable) cancelWhere(reason string, match func(*segmentEntry) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if match(e) {
			e.cancel()
			n++
		}
	}
	if n > 0 {
		metrics.SpeechSegmentsCancelledTotal.WithLabelValues(reason).Add(float64(n))
	}
	return n
}

func (t *correlationTable) cancelSpeaker(speakerID, reason string) int {
	return t.cancelWhere(reason, func(e *segmentEntry) bool {
		return e.speakerID == speakerID
	})
}

// cancelPair cancels direct segments travelling either way between two users
func (t *correlationTable) cancelPair(userA, userB, reason string) int {
	return t.cancelWhere(reason, func(e *segmentEntry) bool {
		return (e.speakerID == userA && e.targetID == userB) ||
			(e.speakerID == userB && e.targetID == userA)
	})
}

func (t *correlationTable) cancelRoom(roomID, reason string) int {
	return t.cancelWhere(reason, func(e *segmentEntry) bool {
		return e.roomID == roomID
	})
}

// sweep cancels and removes entries older than maxAge. A provider that
// ignores its context can strand a goroutine past the round-trip ceiling;
// removal here lets the client resend the id while the stuck call drains.
func (t *correlationTable) sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, e := range t.entries {
		if e.startedAt.Before(cutoff) {
			e.cancel()
			delete(t.entries, id)
			metrics.SpeechInflightSegments.Dec()
			n++
		}
	}
	if n > 0 {
		metrics.SpeechSegmentsCancelledTotal.WithLabelValues("leaked").Add(float64(n))
	}
	return n
}

func (t *correlationTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
