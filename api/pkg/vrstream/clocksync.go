package vrstream

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ClockOffsetEstimator (C3) uses time-sync round-trips to estimate the
// server-minus-client clock skew and the one-way packet travel time
// (spec.md §4.3).
type ClockOffsetEstimator struct {
	timeline *Timeline

	serverMinusClientUs atomic.Int64
	lastRTTUs           atomic.Int64
	prevVideoPacketSeq  atomic.Uint32

	// sendTimeSync, if set, is invoked with the mode-2 echo reply.
	sendTimeSync func(TimeSyncPacket)
}

// NewClockOffsetEstimator constructs an estimator backed by the given
// timeline (for EMA updates and received-round-trip notifications) and an
// optional outbound send hook for mode-2 echo replies.
func NewClockOffsetEstimator(timeline *Timeline, sendTimeSync func(TimeSyncPacket)) *ClockOffsetEstimator {
	return &ClockOffsetEstimator{timeline: timeline, sendTimeSync: sendTimeSync}
}

// Offset returns the current server-minus-client clock offset in
// microseconds. It is 0 until the first mode-1 time-sync reply is
// processed.
func (c *ClockOffsetEstimator) Offset() int64 {
	return c.serverMinusClientUs.Load()
}

// LastRTT returns the most recently observed round-trip time in
// microseconds.
func (c *ClockOffsetEstimator) LastRTT() int64 {
	return c.lastRTTUs.Load()
}

// Process handles an inbound TIME_SYNC packet (spec.md §4.3). Modes other
// than 1 and 3 are ignored.
func (c *ClockOffsetEstimator) Process(p TimeSyncPacket) {
	switch p.Mode {
	case TimeSyncModeRequest: // mode 1: server -> client, requesting reply
		c.timeline.UpdateServerTotalLatency(p.ServerTotalLatencyUs)

		now := NowMicros()
		rtt := int64(now) - int64(p.ClientTimeUs)
		offset := (int64(p.ServerTimeUs) + rtt/2) - int64(now)

		c.lastRTTUs.Store(rtt)
		c.serverMinusClientUs.Store(offset)

		if c.sendTimeSync != nil {
			reply := p
			reply.Mode = TimeSyncModeReply
			reply.ClientTimeUs = now
			c.sendTimeSync(reply)
		}

	case TimeSyncModeTrackingAck: // mode 3: server ack for our tracking packet
		c.timeline.Received(p.TrackingRecvFrameIndex)

	default:
		log.Debug().Uint32("mode", uint32(p.Mode)).Msg("vrstream: ignoring time-sync mode")
	}
}

// EstimateSentUs translates a server-clock send timestamp into client time
// using the current offset estimate, per LatencyManager::OnPreVideoPacketRecieved
// in the ALVR original, and returns that client-time send stamp minus nowUs
// (zero or negative). If the translated send time would be in the future
// relative to now, the result is clamped to 0.
func (c *ClockOffsetEstimator) EstimateSentUs(serverSentUs uint64, nowUs uint64) int64 {
	diff := int64(serverSentUs) - c.serverMinusClientUs.Load()
	if diff > int64(nowUs) {
		return 0
	}
	return diff - int64(nowUs)
}

// ProcessVideoSequence tracks the monotonic video-packet sequence counter
// and returns the number of packets detected lost since the previous call
// (spec.md §4.5, grounded on LatencyManager::ProcessVideoSeq).
func (c *ClockOffsetEstimator) ProcessVideoSequence(packetCounter uint32) uint64 {
	prev := c.prevVideoPacketSeq.Load()
	next := prev + 1
	lost := prev != 0 && next != packetCounter
	c.prevVideoPacketSeq.Store(packetCounter)
	if !lost {
		return 0
	}
	diff := int32(packetCounter - next)
	if diff < 0 {
		diff = -diff
	}
	return uint64(diff)
}

// Reset clears round-trip state, used on SetStreamConfig (full reset).
func (c *ClockOffsetEstimator) Reset() {
	c.serverMinusClientUs.Store(0)
	c.lastRTTUs.Store(0)
	c.prevVideoPacketSeq.Store(0)
}
