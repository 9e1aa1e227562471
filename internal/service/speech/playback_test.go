package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitItem(t *testing.T, ch <-chan Item) Item {
	t.Helper()
	select {
	case item := <-ch:
		return item
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback")
		return Item{}
	}
}

// TestQueue_PlaysInOrder tests FIFO playback with a single consumer
func TestQueue_PlaysInOrder(t *testing.T) {
	played := make(chan Item, 8)
	q := NewQueue(SinkFunc(func(_ context.Context, item Item) error {
		played <- item
		return nil
	}), 8)
	defer q.Close()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(Item{CorrelationID: id}))
	}

	assert.Equal(t, "a", awaitItem(t, played).CorrelationID)
	assert.Equal(t, "b", awaitItem(t, played).CorrelationID)
	assert.Equal(t, "c", awaitItem(t, played).CorrelationID)
}

// TestQueue_NeverPreemptsCurrent tests that new items wait behind the one
// playing
func TestQueue_NeverPreemptsCurrent(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string

	q := NewQueue(SinkFunc(func(ctx context.Context, item Item) error {
		mu.Lock()
		order = append(order, item.CorrelationID)
		mu.Unlock()
		if item.CorrelationID == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}), 8)
	defer q.Close()

	q.Enqueue(Item{CorrelationID: "slow"})

	// Wait until the slow item is being played, then pile more behind it
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, 5*time.Millisecond)

	q.Enqueue(Item{CorrelationID: "next"})
	mu.Lock()
	assert.Equal(t, []string{"slow"}, order)
	mu.Unlock()

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2 && order[1] == "next"
	}, time.Second, 5*time.Millisecond)
}

// TestQueue_FullQueueDrops tests the bounded buffer
func TestQueue_FullQueueDrops(t *testing.T) {
	blocked := make(chan struct{}, 4)
	release := make(chan struct{})
	q := NewQueue(SinkFunc(func(ctx context.Context, _ Item) error {
		blocked <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}), 1)
	defer q.Close()

	require.True(t, q.Enqueue(Item{CorrelationID: "playing"}))
	<-blocked

	require.True(t, q.Enqueue(Item{CorrelationID: "queued"}))
	assert.False(t, q.Enqueue(Item{CorrelationID: "dropped"}))
	close(release)
}

// TestQueue_FailureAdvances tests that a failed item does not stall the
// queue
func TestQueue_FailureAdvances(t *testing.T) {
	played := make(chan Item, 8)
	q := NewQueue(SinkFunc(func(_ context.Context, item Item) error {
		if item.CorrelationID == "bad" {
			return errors.New("decode error")
		}
		played <- item
		return nil
	}), 8)
	defer q.Close()

	q.Enqueue(Item{CorrelationID: "bad"})
	q.Enqueue(Item{CorrelationID: "good"})

	assert.Equal(t, "good", awaitItem(t, played).CorrelationID)
}

// TestQueue_PurgeDropsQueuedAndStopsCurrent tests the mute/call-end purge
func TestQueue_PurgeDropsQueuedAndStopsCurrent(t *testing.T) {
	playing := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)
	q := NewQueue(SinkFunc(func(ctx context.Context, item Item) error {
		playing <- struct{}{}
		<-ctx.Done()
		stopped <- struct{}{}
		return ctx.Err()
	}), 8)
	defer q.Close()

	q.Enqueue(Item{CorrelationID: "current"})
	<-playing
	q.Enqueue(Item{CorrelationID: "q1"})
	q.Enqueue(Item{CorrelationID: "q2"})

	dropped := q.Purge()
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 0, q.Depth())

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("current item was not stopped")
	}
}

// TestQueue_CloseRejectsNewItems tests that a closed queue drops everything
func TestQueue_CloseRejectsNewItems(t *testing.T) {
	q := NewQueue(SinkFunc(func(_ context.Context, _ Item) error { return nil }), 4)
	q.Close()

	assert.False(t, q.Enqueue(Item{CorrelationID: "late"}))
	// Closing twice is safe
	q.Close()
}
