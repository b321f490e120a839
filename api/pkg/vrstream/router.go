package vrstream

import (
	"github.com/rs/zerolog/log"
)

// ReassembledFrameSink receives completed frames for handoff to the decoder
// input queue (C6).
type ReassembledFrameSink interface {
	Enqueue(trackingFrameIndex uint64, buf []byte) error
}

// ControlSink receives packet types the router does not handle itself
// (haptics, battery, and anything else the collaborator wants dispatched).
type ControlSink interface {
	OnHaptics(HapticsPacket)
	OnBattery(buf []byte)
}

// Router is the packet-intake state machine (C5). It is single-threaded:
// callers must serialize calls to Route from one intake goroutine, matching
// spec.md §5's "intake domain ... single-threaded within itself".
type Router struct {
	timeline *Timeline
	clock    *ClockOffsetEstimator
	fec      *Engine
	sink     ReassembledFrameSink
	control  ControlSink

	enableFEC bool

	lastReceivedTrackingFrameIndex uint64
	haveLastReceived               bool

	sendVideoErr func()
}

// RouterOption configures optional router behavior at construction.
type RouterOption func(*Router)

// WithFECDisabled bypasses C4 entirely: a VIDEO_FRAME packet's payload
// becomes the frame directly, with fec_index/fec_percentage ignored
// (spec.md §6 "enable_fec: bool").
func WithFECDisabled() RouterOption {
	return func(r *Router) { r.enableFEC = false }
}

// WithVideoErrorReport registers the callback invoked once per FEC failure
// (spec.md §7 error kind 2, "C5 triggers send_video_error_report").
func WithVideoErrorReport(fn func()) RouterOption {
	return func(r *Router) { r.sendVideoErr = fn }
}

// NewRouter constructs a packet router wired to the given collaborators.
func NewRouter(timeline *Timeline, clock *ClockOffsetEstimator, fec *Engine, sink ReassembledFrameSink, control ControlSink, opts ...RouterOption) *Router {
	r := &Router{
		timeline:  timeline,
		clock:     clock,
		fec:       fec,
		sink:      sink,
		control:   control,
		enableFEC: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route dispatches one inbound wire packet (spec.md §4.5).
func (r *Router) Route(buf []byte) error {
	if len(buf) < 4 {
		return ErrPacketTooShort
	}
	// All packet headers lead with the same 4-byte little-endian tag; peek
	// it without committing to a specific header layout.
	tag := PacketType(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)

	switch tag {
	case PacketTypeVideoFrame:
		return r.routeVideoFrame(buf)
	case PacketTypeTimeSync:
		p, err := ParseTimeSyncPacket(buf)
		if err != nil {
			return err
		}
		r.clock.Process(p)
		return nil
	case PacketTypeHaptics:
		if r.control == nil {
			return nil
		}
		h, err := ParseHapticsPacket(buf)
		if err != nil {
			return err
		}
		r.control.OnHaptics(h)
		return nil
	case PacketTypeBattery:
		if r.control != nil {
			r.control.OnBattery(buf)
		}
		return nil
	default:
		return ErrUnknownPacketType
	}
}

func (r *Router) routeVideoFrame(buf []byte) error {
	h, shardPayload, err := ParseVideoFrameHeader(buf)
	if err != nil {
		return err
	}

	// received_first and the estimated-sent stamp describe the frame's
	// first shard only; a later shard of the same frame must not overwrite
	// them (ALVR LatencyManager::OnPreVideoPacketRecieved gates this block
	// with "lastFrameIndex != header.trackingFrameIndex").
	if !r.haveLastReceived || r.lastReceivedTrackingFrameIndex != h.TrackingFrameIndex {
		r.timeline.ReceivedFirst(h.TrackingFrameIndex)

		now := NowMicros()
		estimated := r.clock.EstimateSentUs(h.SentTimeUs, now)
		r.timeline.EstimatedSent(h.TrackingFrameIndex, uint64(estimated))

		r.lastReceivedTrackingFrameIndex = h.TrackingFrameIndex
		r.haveLastReceived = true
	}

	if lost := r.clock.ProcessVideoSequence(h.PacketCounter); lost > 0 {
		r.timeline.PacketLoss(lost)
	}

	if !r.enableFEC {
		r.timeline.ReceivedLast(h.TrackingFrameIndex)
		return r.sink.Enqueue(h.TrackingFrameIndex, shardPayload)
	}

	result := r.fec.AddPacket(h, shardPayload)
	if result.Complete != nil {
		r.timeline.ReceivedLast(result.Complete.TrackingFrameIndex)
		return r.sink.Enqueue(result.Complete.TrackingFrameIndex, result.Complete.Buffer)
	}
	if result.Failed {
		r.timeline.FECFailure()
		if r.sendVideoErr != nil {
			r.sendVideoErr()
		}
		log.Warn().
			Uint64("tracking_frame_index", result.FailedTrackingFrameIndex).
			Msg("vrstream: dropping frame after fec recovery failure")
	}
	return nil
}
