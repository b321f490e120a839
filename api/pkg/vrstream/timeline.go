package vrstream

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// frameTimestamps holds the per-stage microsecond wall-clock values for one
// tracking_frame_index (spec.md §3 "Frame timeline record").
type frameTimestamps struct {
	trackingFrameIndex uint64

	tracking            uint64
	estimatedSentUs     uint64
	received            uint64
	receivedFirst       uint64
	receivedLast        uint64
	decoderInput        uint64
	decoderOutput       uint64
	rendered1           uint64
	rendered2           uint64
	submit              uint64
	insertionOrder      uint64 // monotonic sequence used to evict the oldest record
}

// Latency index constants for Timeline.Latency (spec.md §4.2 table).
const (
	LatencyTotal     = 0
	LatencyTransport = 1
	LatencyDecode    = 2
	LatencySendOneWay = 3
	LatencyRenderIdle = 4
)

const maxServerTotalLatencyUs = 200_000

// Timeline is the frame-timeline collector (C2). It records per-frame event
// timestamps from tracking through submit, and produces rolling latency
// averages and per-second counters. The frame-record map is guarded by one
// mutex; the scalar statistics are atomics so readers (C10) never block
// writers, matching spec.md §4.2's concurrency note.
type Timeline struct {
	maxFrames int

	mu             sync.Mutex
	frames         map[uint64]*frameTimestamps
	insertCounter  uint64

	latency    [5]atomic.Uint64 // microseconds; decode and render-idle saturate at 0 on inversion
	ema        atomic.Uint64    // server_total_latency_us, EMA, saturated at 200ms
	lastSubmit atomic.Uint64
	fpsBits    atomic.Uint64 // math.Float64bits(fps)

	statSecond          atomic.Int64
	packetsLostTotal    atomic.Uint64
	packetsLostInSecond atomic.Uint64
	packetsLostPrev     atomic.Uint64
	fecFailureTotal     atomic.Uint64
	fecFailureInSecond  atomic.Uint64
	fecFailurePrev      atomic.Uint64
	staleFrameTotal     atomic.Uint64
}

// NewTimeline constructs a Timeline bounded to maxFrames records (spec.md
// calls this N, N≈1024).
func NewTimeline(maxFrames int) *Timeline {
	if maxFrames <= 0 {
		maxFrames = 1024
	}
	t := &Timeline{
		maxFrames: maxFrames,
		frames:    make(map[uint64]*frameTimestamps, maxFrames),
	}
	t.statSecond.Store(NowWallSeconds())
	return t
}

// getOrInsert finds or lazily creates the record for a tracking frame index,
// evicting the oldest record if the map would grow beyond maxFrames. Must be
// called with mu held.
func (t *Timeline) getOrInsert(idx uint64) *frameTimestamps {
	f, ok := t.frames[idx]
	if ok {
		return f
	}
	if len(t.frames) >= t.maxFrames {
		t.evictOldestLocked()
	}
	t.insertCounter++
	f = &frameTimestamps{trackingFrameIndex: idx, insertionOrder: t.insertCounter}
	t.frames[idx] = f
	return f
}

func (t *Timeline) evictOldestLocked() {
	var oldestKey uint64
	var oldestOrder uint64 = math.MaxUint64
	for k, f := range t.frames {
		if f.insertionOrder < oldestOrder {
			oldestOrder = f.insertionOrder
			oldestKey = k
		}
	}
	delete(t.frames, oldestKey)
}

func (t *Timeline) stamp(idx uint64, set func(*frameTimestamps, uint64)) {
	now := NowMicros()
	t.mu.Lock()
	f := t.getOrInsert(idx)
	set(f, now)
	t.mu.Unlock()
}

// Tracking records the timestamp at which the tracking sample driving this
// frame was taken, client-side.
func (t *Timeline) Tracking(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.tracking = now })
}

// EstimatedSent records the server's send time translated into client time
// via the clock offset estimator (C3). offsetUs is that send time relative to
// now, as returned by ClockOffsetEstimator.EstimateSentUs (zero or negative,
// passed as its two's-complement uint64); it is added to the current stamp.
func (t *Timeline) EstimatedSent(idx uint64, offsetUs uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.estimatedSentUs = now + offsetUs })
}

// Received records the round-trip acknowledgement of the tracking packet
// (mode-3 time sync).
func (t *Timeline) Received(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.received = now })
}

// ReceivedFirst records arrival of the first shard of the frame.
func (t *Timeline) ReceivedFirst(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.receivedFirst = now })
}

// ReceivedLast records arrival/completion of the last shard of the frame.
func (t *Timeline) ReceivedLast(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.receivedLast = now })
}

// DecoderInput records submission of the reassembled frame to the decoder.
func (t *Timeline) DecoderInput(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.decoderInput = now })
}

// DecoderOutput records the decoder producing a decoded surface for this
// frame.
func (t *Timeline) DecoderOutput(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.decoderOutput = now })
}

// Rendered1 records the render loop beginning composition of this frame.
func (t *Timeline) Rendered1(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.rendered1 = now })
}

// Rendered2 records the render loop finishing composition of this frame.
func (t *Timeline) Rendered2(idx uint64) {
	t.stamp(idx, func(f *frameTimestamps, now uint64) { f.rendered2 = now })
}

// Submit is the finalizer: it stamps submit, computes the five rolling
// latency scalars (spec.md §4.2 table) and updates FPS. The scalars are
// computed from a copy of the frame record taken under the frame-map lock,
// so the computation sees a consistent snapshot.
func (t *Timeline) Submit(idx uint64) {
	now := NowMicros()

	t.mu.Lock()
	f := t.getOrInsert(idx)
	f.submit = now
	snapshot := *f
	t.mu.Unlock()

	total := snapshot.submit - snapshot.tracking

	var decode uint64
	if snapshot.decoderInput < snapshot.decoderOutput {
		decode = snapshot.decoderOutput - snapshot.decoderInput
	}

	var sendOneWay, transport uint64
	if snapshot.received != 0 {
		sendOneWay = (snapshot.received - snapshot.tracking) / 2
		transport = (snapshot.receivedLast - snapshot.receivedFirst) + sendOneWay
	} else {
		transport = snapshot.receivedLast - snapshot.receivedFirst
	}

	var renderIdle uint64
	if snapshot.decoderOutput < snapshot.rendered2 {
		renderIdle = snapshot.rendered2 - snapshot.decoderOutput
	}

	t.latency[LatencyTotal].Store(total)
	t.latency[LatencyTransport].Store(transport)
	t.latency[LatencyDecode].Store(decode)
	t.latency[LatencySendOneWay].Store(sendOneWay)
	t.latency[LatencyRenderIdle].Store(renderIdle)

	last := t.lastSubmit.Swap(now)
	if last != 0 && now > last {
		fps := 1_000_000.0 / float64(now-last)
		t.fpsBits.Store(math.Float64bits(fps))
	}

	t.checkSecondBoundary()
}

// Latency returns one of the five rolling latency scalars by index (spec.md
// §4.2 table; use the Latency* constants).
func (t *Timeline) Latency(i int) uint64 {
	return t.latency[i].Load()
}

// FPS returns the most recently computed frames-per-second value.
func (t *Timeline) FPS() float64 {
	return math.Float64frombits(t.fpsBits.Load())
}

// UpdateServerTotalLatency folds a new server-reported total-latency sample
// into the EMA: EMA_new = 0.05*sample + 0.95*EMA_old, saturated at 200ms
// (spec.md §3 "Latency rolling averages").
func (t *Timeline) UpdateServerTotalLatency(sampleUs uint32) {
	if sampleUs >= maxServerTotalLatencyUs {
		return
	}
	for {
		old := t.ema.Load()
		next := uint64(math.Round(0.05*float64(sampleUs) + 0.95*float64(old)))
		if next > maxServerTotalLatencyUs {
			next = maxServerTotalLatencyUs
		}
		if t.ema.CompareAndSwap(old, next) {
			return
		}
	}
}

// ServerTotalLatency returns the current EMA of server-reported total
// latency, clamped to 200ms.
func (t *Timeline) ServerTotalLatency() uint64 {
	v := t.ema.Load()
	if v > maxServerTotalLatencyUs {
		return maxServerTotalLatencyUs
	}
	return v
}

// checkSecondBoundary snapshots the in-second counters to "previous" and
// resets them when the wall-clock second has advanced (spec.md §4.2
// "Counters").
func (t *Timeline) checkSecondBoundary() {
	current := NowWallSeconds()
	prev := t.statSecond.Load()
	if prev == current {
		return
	}
	if !t.statSecond.CompareAndSwap(prev, current) {
		return // another goroutine already rolled the window
	}
	t.packetsLostPrev.Store(t.packetsLostInSecond.Swap(0))
	t.fecFailurePrev.Store(t.fecFailureInSecond.Swap(0))
}

// PacketLoss accounts for n packets detected lost via sequence-number gaps
// (spec.md §4.5).
func (t *Timeline) PacketLoss(n uint64) {
	t.checkSecondBoundary()
	t.packetsLostTotal.Add(n)
	t.packetsLostInSecond.Add(n)
}

// FECFailure records one unrecoverable FEC frame.
func (t *Timeline) FECFailure() {
	t.checkSecondBoundary()
	t.fecFailureTotal.Add(1)
	t.fecFailureInSecond.Add(1)
}

// StaleFrame records a VIDEO_FRAME packet shard whose video_frame_index was
// older than any frame already seen (a reordered or retransmitted shard),
// dropped rather than treated as a frame-boundary transition (SPEC_FULL.md
// open-question decision; additive, does not change any spec.md-named
// counter).
func (t *Timeline) StaleFrame() {
	t.staleFrameTotal.Add(1)
}

// Counters is a point-in-time snapshot of the per-second and cumulative
// counters, used by C10 to build a report.
type Counters struct {
	PacketsLostTotal    uint64
	PacketsLostInSecond uint64
	FECFailureTotal     uint64
	FECFailureInSecond  uint64
	StaleFrameTotal     uint64
}

// Snapshot returns the current counters, rolling the per-second window first
// if a boundary has passed with no intervening events.
func (t *Timeline) Snapshot() Counters {
	t.checkSecondBoundary()
	return Counters{
		PacketsLostTotal:    t.packetsLostTotal.Load(),
		PacketsLostInSecond: t.packetsLostInSecond.Load(),
		FECFailureTotal:     t.fecFailureTotal.Load(),
		FECFailureInSecond:  t.fecFailureInSecond.Load(),
		StaleFrameTotal:     t.staleFrameTotal.Load(),
	}
}

// ResetAll clears the map, latency scalars, counters, EMA, and re-bases the
// second boundary to now (spec.md §4.2 "reset_all").
func (t *Timeline) ResetAll() {
	t.mu.Lock()
	t.frames = make(map[uint64]*frameTimestamps, t.maxFrames)
	t.insertCounter = 0
	t.mu.Unlock()

	for i := range t.latency {
		t.latency[i].Store(0)
	}
	t.ema.Store(0)
	t.lastSubmit.Store(0)
	t.fpsBits.Store(0)
	t.packetsLostTotal.Store(0)
	t.packetsLostInSecond.Store(0)
	t.packetsLostPrev.Store(0)
	t.fecFailureTotal.Store(0)
	t.fecFailureInSecond.Store(0)
	t.fecFailurePrev.Store(0)
	t.staleFrameTotal.Store(0)
	t.statSecond.Store(NowWallSeconds())

	log.Debug().Msg("vrstream: timeline reset")
}

// frameCount reports the current number of tracked frame records; used by
// tests to assert the MAX_FRAMES bound (spec.md testable property 7).
func (t *Timeline) frameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}
