package vrstream

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeQueue_PushPopRoundTrip(t *testing.T) {
	q := NewDecodeQueue(4, nil)
	item := FrameItem{TrackingFrameIndex: 1, Buffer: []byte("frame")}

	require.NoError(t, q.Push(item))
	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, item, got)
}

func TestDecodeQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := NewDecodeQueue(4, nil)
	q.popTimeout = 10 * time.Millisecond

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestDecodeQueue_PushDropsOnTimeoutAndCountsLoss(t *testing.T) {
	tl := NewTimeline(16)
	q := NewDecodeQueue(1, tl)
	q.pushTimeout = 10 * time.Millisecond

	require.NoError(t, q.Push(FrameItem{TrackingFrameIndex: 1}))
	// Queue is now full; this push must time out and drop without error.
	require.NoError(t, q.Push(FrameItem{TrackingFrameIndex: 2}))

	snap := tl.Snapshot()
	assert.Equal(t, uint64(1), snap.PacketsLostTotal)
}

func TestDecodeQueue_CloseRejectsFuturePushes(t *testing.T) {
	q := NewDecodeQueue(4, nil)
	q.Close()

	err := q.Push(FrameItem{TrackingFrameIndex: 1})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestDecodeQueue_PopDrainsThenReportsClosed(t *testing.T) {
	q := NewDecodeQueue(4, nil)
	q.popTimeout = 10 * time.Millisecond
	require.NoError(t, q.Push(FrameItem{TrackingFrameIndex: 1}))
	q.Close()

	_, ok := q.Pop()
	assert.True(t, ok, "buffered item should still be delivered after close")

	_, ok = q.Pop()
	assert.False(t, ok, "closed, drained queue reports no more items")
}

// Concurrent producers pushing and a concurrent consumer popping must not
// race or drop items outside the documented timeout-drop path (run with
// -race).
func TestDecodeQueue_ConcurrentProducersAndConsumer(t *testing.T) {
	const producers = 8
	const itemsPerProducer = 200
	q := NewDecodeQueue(producers*itemsPerProducer, nil)

	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, ok := q.Pop()
			if !ok {
				return
			}
			received.Add(1)
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				require.NoError(t, q.Push(FrameItem{TrackingFrameIndex: uint64(p*itemsPerProducer + i)}))
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return received.Load() == int64(producers*itemsPerProducer)
	}, time.Second, time.Millisecond)

	q.Close()
	<-done
}
