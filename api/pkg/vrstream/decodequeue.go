package vrstream

import (
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultQueueCapacity is the decoder input queue's default bound (spec.md
// §4.6 "capacity ≈ 360").
const DefaultQueueCapacity = 360

// DefaultPushTimeout is the default bound a producer waits for free queue
// capacity before dropping a frame (spec.md §4.6 "≈ 500 ms").
const DefaultPushTimeout = 500 * time.Millisecond

// DefaultPopTimeout is the default bound a consumer waits for an item
// before looping to re-check shutdown.
const DefaultPopTimeout = 200 * time.Millisecond

// FrameItem is one entry on the decoder input queue: a reassembled frame
// buffer tagged with the tracking_frame_index that produced it.
type FrameItem struct {
	TrackingFrameIndex uint64
	Buffer             []byte
}

// DecodeQueue is the bounded blocking queue handing reassembled frames to
// the decoder driver (C6). Push blocks up to a timeout and drops the frame
// on expiry; Pop blocks up to a timeout and returns ok=false so the consumer
// can poll a shutdown flag (spec.md §4.6).
type DecodeQueue struct {
	items       chan FrameItem
	closed      chan struct{}
	pushTimeout time.Duration
	popTimeout  time.Duration

	timeline *Timeline
}

// NewDecodeQueue constructs a DecodeQueue with the given capacity (<= 0
// selects DefaultQueueCapacity). Dropped-on-timeout pushes are reported to
// timeline as packet loss, matching spec.md §7 error kind 5 ("queue overflow
// / push timeout ... treated as loss of that frame").
func NewDecodeQueue(capacity int, timeline *Timeline) *DecodeQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &DecodeQueue{
		items:       make(chan FrameItem, capacity),
		closed:      make(chan struct{}),
		pushTimeout: DefaultPushTimeout,
		popTimeout:  DefaultPopTimeout,
		timeline:    timeline,
	}
}

// Push enqueues an item, blocking up to the push timeout. On timeout the
// frame is dropped and counted as a loss; ErrQueueClosed is returned if the
// queue has been closed.
func (q *DecodeQueue) Push(item FrameItem) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	timer := time.NewTimer(q.pushTimeout)
	defer timer.Stop()

	select {
	case q.items <- item:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-timer.C:
		if q.timeline != nil {
			q.timeline.PacketLoss(1)
		}
		log.Warn().
			Uint64("tracking_frame_index", item.TrackingFrameIndex).
			Msg("vrstream: decode queue push timed out, dropping frame")
		return nil
	}
}

// Pop dequeues an item, blocking up to the pop timeout. ok is false on
// timeout, whether because the queue is empty or because it has been
// closed; either way the caller should re-check its shutdown condition
// before calling Pop again.
func (q *DecodeQueue) Pop() (FrameItem, bool) {
	timer := time.NewTimer(q.popTimeout)
	defer timer.Stop()

	select {
	case item := <-q.items:
		return item, true
	case <-timer.C:
		return FrameItem{}, false
	}
}

// Close signals shutdown: blocked and future Push calls return
// ErrQueueClosed. The items channel itself is deliberately never closed,
// since a Push racing the close could otherwise send on a closed channel;
// Pop simply drains any buffered items and then times out.
func (q *DecodeQueue) Close() {
	select {
	case <-q.closed:
		return // already closed
	default:
		close(q.closed)
	}
}
