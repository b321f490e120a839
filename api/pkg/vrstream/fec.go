package vrstream

import (
	"github.com/klauspost/reedsolomon"
	"github.com/rs/zerolog/log"
)

// maxRSShards is the largest total shard count klauspost/reedsolomon can
// address with its default 8-bit Galois field (spec.md §9 open question:
// "implementations should document their supported maximum").
const maxRSShards = 255

// ReassembledFrame is the contiguous byte buffer produced by the FEC engine
// once a frame is complete (spec.md §3 "Reassembled frame").
type ReassembledFrame struct {
	TrackingFrameIndex uint64
	VideoFrameIndex    uint64
	Buffer             []byte
}

// frameSet is the per-frame reassembly state the engine builds up as shards
// arrive (spec.md §4.4 "State per engine").
type frameSet struct {
	trackingFrameIndex uint64
	videoFrameIndex    uint64
	frameByteSize      uint32
	fecPercentage      uint32

	shardSize         int
	totalDataShards   int
	totalParityShards int
	totalShards       int

	present      []bool
	dataBuf      []byte
	parityShards [][]byte

	receivedDataShards   int
	receivedParityShards int
	geometryBroken       bool
}

func newFrameSet(h VideoFrameHeader, shardSize int) *frameSet {
	fs := &frameSet{
		trackingFrameIndex: h.TrackingFrameIndex,
		videoFrameIndex:    h.VideoFrameIndex,
		frameByteSize:      h.FrameByteSize,
		fecPercentage:      h.FECPercentage,
		shardSize:          shardSize,
	}
	fs.totalDataShards = int(ceilDiv(uint64(h.FrameByteSize), uint64(shardSize)))
	if fs.totalDataShards < 1 {
		fs.totalDataShards = 1
	}
	fs.totalParityShards = parityShardCount(fs.totalDataShards, h.FECPercentage)
	fs.totalShards = fs.totalDataShards + fs.totalParityShards
	if fs.totalShards > maxRSShards {
		// Clamp to the codec's field size and fall back to as much parity
		// as still fits (SPEC_FULL.md open-question decision).
		fs.totalParityShards = maxRSShards - fs.totalDataShards
		if fs.totalParityShards < 0 {
			fs.totalParityShards = 0
		}
		fs.totalShards = fs.totalDataShards + fs.totalParityShards
		log.Warn().
			Int("total_data_shards", fs.totalDataShards).
			Int("clamped_total_parity_shards", fs.totalParityShards).
			Msg("vrstream: fec geometry exceeds codec field size, clamping parity shards")
	}

	fs.present = make([]bool, fs.totalShards)
	fs.dataBuf = make([]byte, fs.totalDataShards*shardSize)
	fs.parityShards = make([][]byte, fs.totalParityShards)
	return fs
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// parityShardCount derives total_parity_shards from total_data_shards and
// fec_percentage (spec.md §4.4). fec_percentage >= 100 has no well-defined
// ratio (division by zero in the source formula); it is treated as "as much
// parity as the field size allows" per SPEC_FULL.md's open-question
// decision.
func parityShardCount(dataShards int, fecPercentage uint32) int {
	if fecPercentage >= 100 {
		if dataShards >= maxRSShards {
			return 0
		}
		return maxRSShards - dataShards
	}
	num := uint64(dataShards) * uint64(fecPercentage)
	den := uint64(100 - fecPercentage)
	return int(ceilDiv(num, den))
}

// dataShard returns the slice backing data shard i within the frame buffer.
func (fs *frameSet) dataShard(i int) []byte {
	return fs.dataBuf[i*fs.shardSize : (i+1)*fs.shardSize]
}

// addShard writes a shard's payload into the frame set. It returns
// ErrShardGeometryMismatch if the shard index or size is inconsistent with
// the geometry established by the frame's first shard.
func (fs *frameSet) addShard(index int, payload []byte) error {
	if index < 0 || index >= fs.totalShards {
		fs.geometryBroken = true
		return ErrShardGeometryMismatch
	}
	if fs.present[index] {
		return nil // duplicate, ignore
	}

	if index < fs.totalDataShards {
		isLast := index == fs.totalDataShards-1
		expected := fs.shardSize
		if isLast {
			expected = int(fs.frameByteSize) - index*fs.shardSize
		}
		if len(payload) != expected {
			fs.geometryBroken = true
			return ErrShardGeometryMismatch
		}
		copy(fs.dataShard(index), payload)
		fs.present[index] = true
		fs.receivedDataShards++
		return nil
	}

	if len(payload) != fs.shardSize {
		fs.geometryBroken = true
		return ErrShardGeometryMismatch
	}
	parityIdx := index - fs.totalDataShards
	buf := make([]byte, fs.shardSize)
	copy(buf, payload)
	fs.parityShards[parityIdx] = buf
	fs.present[index] = true
	fs.receivedParityShards++
	return nil
}

// trivialComplete reports whether every data shard has arrived, in which
// case reconstruction needs no Reed-Solomon work (spec.md §4.4 step 3).
func (fs *frameSet) trivialComplete() bool {
	return fs.receivedDataShards == fs.totalDataShards
}

// recoverable reports whether enough shards (of either kind) have arrived to
// attempt Reed-Solomon recovery (spec.md §4.4 step 4).
func (fs *frameSet) recoverable() bool {
	return fs.receivedDataShards+fs.receivedParityShards >= fs.totalDataShards
}

// buffer returns the frame's data region trimmed to frame_byte_size (spec.md
// §3 invariant: length == frame_byte_size).
func (fs *frameSet) buffer() []byte {
	return fs.dataBuf[:fs.frameByteSize]
}

// Engine is the FEC reassembly engine (C4). It buffers shards of a frame and
// invokes Reed-Solomon recovery when enough shards have arrived, yielding a
// contiguous reassembled frame buffer. Because a next-frame shard implies
// the previous frame will not receive more data shards, the engine holds
// exactly one "building" frame set and finalizes it only when a shard of the
// next frame clearly arrives (spec.md §4.4).
type Engine struct {
	shardSize int
	building  *frameSet
	timeline  *Timeline

	// highestVideoFrameIndex is the largest video_frame_index seen so far,
	// independent of whatever frame is currently building. It is what
	// distinguishes a legitimately next frame (spec.md §4.4 boundary
	// transition) from a stale, reordered shard belonging to a frame older
	// than the one in progress (spec.md §9 open question).
	highestVideoFrameIndex uint64
	haveHighest            bool

	fecFailure bool

	// codecCache avoids re-allocating a Reed-Solomon codec for every frame
	// when consecutive frames share the same (data, parity) geometry.
	codecCache  reedsolomon.Encoder
	codecCacheD int
	codecCacheP int
}

// NewEngine constructs an FEC engine. shardSize is the configured shard
// size; when the first packet seen for a frame is shard 0, the frame's shard
// size is taken from that packet's payload instead, per spec.md §4.4's
// "shard size is derived from the first packet of a frame". timeline receives StaleFrame counts
// for shards belonging to an already-superseded frame; it may be nil in
// tests that don't need that accounting.
func NewEngine(shardSize int, timeline *Timeline) *Engine {
	return &Engine{shardSize: shardSize, timeline: timeline}
}

// FECFailure reports the sticky failure flag: true from the moment a frame
// fails recovery until ClearFECFailure is called (spec.md testable property
// 3).
func (e *Engine) FECFailure() bool {
	return e.fecFailure
}

// ClearFECFailure clears the sticky failure flag.
func (e *Engine) ClearFECFailure() {
	e.fecFailure = false
}

// AddResult reports what happened to the engine's building frame set after
// AddPacket processed one wire packet.
type AddResult struct {
	// Complete is set when a frame finished reassembling on this call
	// (either trivially, or via Reed-Solomon recovery at a frame-boundary
	// transition).
	Complete *ReassembledFrame
	// FailedTrackingFrameIndex is the tracking_frame_index of a frame that
	// was dropped because recovery failed at a frame-boundary transition;
	// Failed is set and Complete is nil in that case.
	FailedTrackingFrameIndex uint64
	Failed                   bool
}

// AddPacket processes one inbound VIDEO_FRAME packet's shard (spec.md
// §4.4). It returns the result of the transition, if any: at most one frame
// is finalized per call. A frame completes trivially on the call that
// delivers its last missing data shard; otherwise it is finalized (completed
// via recovery, or failed and dropped) when a shard belonging to a newer
// video_frame_index than the one currently building arrives.
func (e *Engine) AddPacket(h VideoFrameHeader, shardPayload []byte) AddResult {
	if e.building == nil && e.haveHighest && h.VideoFrameIndex <= e.highestVideoFrameIndex {
		// The newest frame already completed and was handed off: a further
		// shard of it (e.g. a late parity shard) or of an older frame has
		// nothing left to join.
		if h.VideoFrameIndex < e.highestVideoFrameIndex && e.timeline != nil {
			e.timeline.StaleFrame()
		}
		return AddResult{}
	}

	shardSize := e.shardSize
	if e.building == nil {
		// Shard size is derived from the frame's first packet when it is
		// shard 0.
		if len(shardPayload) > 0 && h.FECIndex == 0 {
			shardSize = len(shardPayload)
		}
		e.building = newFrameSet(h, shardSize)
		e.highestVideoFrameIndex = h.VideoFrameIndex
		e.haveHighest = true
	}

	if e.haveHighest && h.VideoFrameIndex < e.highestVideoFrameIndex {
		// A shard of a frame older than any we've already started
		// reassembling: a reordered/retransmitted packet, not the start of
		// the next frame. Drop it rather than treating it as a boundary
		// transition, which would wrongly finalize (and likely fail) the
		// frame actually in progress.
		if e.timeline != nil {
			e.timeline.StaleFrame()
		}
		log.Warn().Uint64("video_frame_index", h.VideoFrameIndex).
			Uint64("highest_video_frame_index", e.highestVideoFrameIndex).
			Msg("vrstream: dropping shard for stale video frame index")
		return AddResult{}
	}

	if h.VideoFrameIndex != e.building.videoFrameIndex {
		result := e.finalizeBoundary()
		if len(shardPayload) > 0 && h.FECIndex == 0 {
			shardSize = len(shardPayload)
		}
		e.building = newFrameSet(h, shardSize)
		e.highestVideoFrameIndex = h.VideoFrameIndex
		if err := e.building.addShard(int(h.FECIndex), shardPayload); err != nil {
			log.Warn().Err(err).Uint64("video_frame_index", h.VideoFrameIndex).
				Msg("vrstream: shard geometry mismatch on new frame's first shard")
		}
		return result
	}

	if err := e.building.addShard(int(h.FECIndex), shardPayload); err != nil {
		log.Warn().Err(err).Uint64("video_frame_index", h.VideoFrameIndex).
			Msg("vrstream: shard geometry mismatch")
		return AddResult{}
	}

	if e.building.trivialComplete() {
		frame := &ReassembledFrame{
			TrackingFrameIndex: e.building.trackingFrameIndex,
			VideoFrameIndex:    e.building.videoFrameIndex,
			Buffer:             e.building.buffer(),
		}
		e.building = nil
		return AddResult{Complete: frame}
	}

	return AddResult{}
}

// finalizeBoundary attempts Reed-Solomon recovery on the current building
// frame set because a shard of the next frame has arrived, meaning no more
// data shards for this one are coming (spec.md §4.4 step 4). It is a no-op
// if there is no building frame set.
func (e *Engine) finalizeBoundary() AddResult {
	fs := e.building
	if fs == nil {
		return AddResult{}
	}
	if fs.trivialComplete() {
		// Already complete; nothing to recover. (Can happen if the frame's
		// completion was already reported by a previous call but the
		// engine still held the slot — defensive, not expected in normal
		// operation since AddPacket clears building on trivial completion.)
		return AddResult{}
	}
	if fs.geometryBroken || !fs.recoverable() {
		e.fecFailure = true
		log.Warn().
			Uint64("tracking_frame_index", fs.trackingFrameIndex).
			Uint64("video_frame_index", fs.videoFrameIndex).
			Int("received_data_shards", fs.receivedDataShards).
			Int("received_parity_shards", fs.receivedParityShards).
			Msg("vrstream: fec recovery not attempted, insufficient shards")
		return AddResult{Failed: true, FailedTrackingFrameIndex: fs.trackingFrameIndex}
	}

	codec, err := e.codecFor(fs.totalDataShards, fs.totalParityShards)
	if err != nil {
		e.fecFailure = true
		log.Warn().Err(err).Msg("vrstream: fec codec unsupported for frame geometry")
		return AddResult{Failed: true, FailedTrackingFrameIndex: fs.trackingFrameIndex}
	}

	shards := make([][]byte, fs.totalShards)
	for i := 0; i < fs.totalDataShards; i++ {
		if fs.present[i] {
			shards[i] = fs.dataShard(i)
		}
	}
	for i := 0; i < fs.totalParityShards; i++ {
		if fs.present[fs.totalDataShards+i] {
			shards[fs.totalDataShards+i] = fs.parityShards[i]
		}
	}

	if err := codec.ReconstructData(shards); err != nil {
		e.fecFailure = true
		log.Warn().Err(err).
			Uint64("tracking_frame_index", fs.trackingFrameIndex).
			Msg("vrstream: fec reconstruction failed")
		return AddResult{Failed: true, FailedTrackingFrameIndex: fs.trackingFrameIndex}
	}

	frame := &ReassembledFrame{
		TrackingFrameIndex: fs.trackingFrameIndex,
		VideoFrameIndex:    fs.videoFrameIndex,
		Buffer:             fs.buffer(),
	}
	return AddResult{Complete: frame}
}

// codecFor returns a cached Reed-Solomon encoder for the given geometry,
// constructing a new one only when the geometry changes between frames.
func (e *Engine) codecFor(dataShards, parityShards int) (reedsolomon.Encoder, error) {
	if e.codecCache != nil && e.codecCacheD == dataShards && e.codecCacheP == parityShards {
		return e.codecCache, nil
	}
	codec, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	e.codecCache = codec
	e.codecCacheD = dataShards
	e.codecCacheP = parityShards
	return codec, nil
}
