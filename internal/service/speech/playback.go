package speech

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// Item is one synthesized utterance waiting for playback
type Item struct {
	CorrelationID string
	SpeakerID     string
	Payload       FinalPayload
}

// Sink performs the actual playback of one item. Playback for a connected
// client means pushing the final event down its connection.
type Sink interface {
	Play(ctx context.Context, item Item) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, item Item) error

func (f SinkFunc) Play(ctx context.Context, item Item) error { return f(ctx, item) }

// Queue serializes synthesized audio for one listener. A single consumer
// plays one item at a time in arrival order, so utterances from different
// speakers never overlap. Appending never preempts the current item, a
// failed item logs and advances, and the queue can be purged when the call
// ends or the listener mutes.
type Queue struct {
	sink  Sink
	items chan Item

	mu        sync.Mutex
	closed    bool
	cancelCur context.CancelFunc

	done chan struct{}
}

// NewQueue creates a playback queue and starts its consumer
func NewQueue(sink Sink, depth int) *Queue {
	if depth <= 0 {
		depth = constants.PlaybackQueueDepth
	}
	q := &Queue{
		sink:  sink,
		items: make(chan Item, depth),
		done:  make(chan struct{}),
	}
	metrics.PlaybackQueuesActive.Inc()
	go q.consume()
	return q
}

// Enqueue appends an item without blocking. A full or closed queue drops
// the item.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		metrics.PlaybackDroppedTotal.WithLabelValues("closed").Inc()
		return false
	}
	q.mu.Unlock()

	select {
	case q.items <- item:
		return true
	default:
		metrics.PlaybackDroppedTotal.WithLabelValues("overflow").Inc()
		logger.Warn("Playback queue full, dropping utterance",
			zap.String("correlation_id", item.CorrelationID),
			zap.String("speaker_id", item.SpeakerID))
		return false
	}
}

// Purge drops all queued items and stops the one currently playing. The
// queue remains usable afterwards.
func (q *Queue) Purge() int {
	q.mu.Lock()
	if q.cancelCur != nil {
		q.cancelCur()
	}
	q.mu.Unlock()

	dropped := 0
	for {
		select {
		case <-q.items:
			dropped++
			metrics.PlaybackDroppedTotal.WithLabelValues("purged").Inc()
		default:
			return dropped
		}
	}
}

// Close purges the queue and stops the consumer
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Purge()
	close(q.done)
	metrics.PlaybackQueuesActive.Dec()
}

// Depth returns how many items are waiting
func (q *Queue) Depth() int {
	return len(q.items)
}

func (q *Queue) consume() {
	for {
		select {
		case <-q.done:
			return
		case item := <-q.items:
			q.play(item)
		}
	}
}

func (q *Queue) play(item Item) {
	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.cancelCur = cancel
	q.mu.Unlock()

	err := q.sink.Play(ctx, item)

	q.mu.Lock()
	q.cancelCur = nil
	q.mu.Unlock()
	cancel()

	// A failed item is logged and skipped so the queue never stalls
	if err != nil && ctx.Err() == nil {
		logger.Warn("Playback failed, advancing queue",
			zap.String("correlation_id", item.CorrelationID),
			zap.Error(err))
	}
}
