package vrstream

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	frames []FrameItem
}

func (s *fakeSink) Enqueue(trackingFrameIndex uint64, buf []byte) error {
	s.frames = append(s.frames, FrameItem{TrackingFrameIndex: trackingFrameIndex, Buffer: buf})
	return nil
}

type fakeControl struct {
	haptics []HapticsPacket
	battery int
}

func (c *fakeControl) OnHaptics(h HapticsPacket) { c.haptics = append(c.haptics, h) }
func (c *fakeControl) OnBattery(buf []byte)      { c.battery++ }

func encodeVideoFrameHeader(h VideoFrameHeader) []byte {
	buf := make([]byte, videoFrameHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.PacketType))
	binary.LittleEndian.PutUint32(buf[4:8], h.PacketCounter)
	binary.LittleEndian.PutUint64(buf[8:16], h.TrackingFrameIndex)
	binary.LittleEndian.PutUint64(buf[16:24], h.VideoFrameIndex)
	binary.LittleEndian.PutUint64(buf[24:32], h.SentTimeUs)
	binary.LittleEndian.PutUint32(buf[32:36], h.FrameByteSize)
	binary.LittleEndian.PutUint32(buf[36:40], h.FECIndex)
	binary.LittleEndian.PutUint32(buf[40:44], h.FECPercentage)
	return buf
}

func TestRouter_FECDisabledEnqueuesPayloadDirectly(t *testing.T) {
	tl := NewTimeline(16)
	clock := NewClockOffsetEstimator(tl, nil)
	sink := &fakeSink{}
	r := NewRouter(tl, clock, NewEngine(1024, tl), sink, &fakeControl{}, WithFECDisabled())

	payload := []byte("raw-frame-bytes")
	h := VideoFrameHeader{PacketType: PacketTypeVideoFrame, PacketCounter: 1, TrackingFrameIndex: 7, FrameByteSize: uint32(len(payload))}
	buf := append(encodeVideoFrameHeader(h), payload...)

	require.NoError(t, r.Route(buf))
	require.Len(t, sink.frames, 1)
	assert.Equal(t, uint64(7), sink.frames[0].TrackingFrameIndex)
	assert.Equal(t, payload, sink.frames[0].Buffer)
}

func TestRouter_UnknownPacketType(t *testing.T) {
	tl := NewTimeline(16)
	clock := NewClockOffsetEstimator(tl, nil)
	r := NewRouter(tl, clock, NewEngine(1024, tl), &fakeSink{}, &fakeControl{})

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 999)
	assert.ErrorIs(t, r.Route(buf), ErrUnknownPacketType)
}

func TestRouter_HapticsDispatchedToControlSink(t *testing.T) {
	tl := NewTimeline(16)
	clock := NewClockOffsetEstimator(tl, nil)
	control := &fakeControl{}
	r := NewRouter(tl, clock, NewEngine(1024, tl), &fakeSink{}, control)

	buf := make([]byte, hapticsPacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(PacketTypeHaptics))
	require.NoError(t, r.Route(buf))
	assert.Len(t, control.haptics, 1)
}

func TestRouter_CountsSequenceLoss(t *testing.T) {
	tl := NewTimeline(16)
	clock := NewClockOffsetEstimator(tl, nil)
	sink := &fakeSink{}
	r := NewRouter(tl, clock, NewEngine(1024, tl), sink, &fakeControl{}, WithFECDisabled())

	send := func(seq uint32) {
		h := VideoFrameHeader{PacketType: PacketTypeVideoFrame, PacketCounter: seq, TrackingFrameIndex: uint64(seq)}
		require.NoError(t, r.Route(append(encodeVideoFrameHeader(h), []byte("x")...)))
	}

	send(1)
	send(2)
	send(5) // expected next was 3, got 5: 2 packets (3, 4) missing

	snap := tl.Snapshot()
	assert.Equal(t, uint64(2), snap.PacketsLostTotal)
}

// A multi-shard frame must only stamp received_first/estimated_sent once,
// on its first shard; later shards of the same tracking_frame_index must
// not overwrite the stamp with a later arrival time.
func TestRouter_ReceivedFirstGatedToFramesFirstShard(t *testing.T) {
	tl := NewTimeline(16)
	clock := NewClockOffsetEstimator(tl, nil)
	sink := &fakeSink{}
	r := NewRouter(tl, clock, NewEngine(testShardSize, tl), sink, &fakeControl{}, WithFECDisabled())

	h0 := VideoFrameHeader{PacketType: PacketTypeVideoFrame, PacketCounter: 1, TrackingFrameIndex: 42, VideoFrameIndex: 7, FrameByteSize: testShardSize, FECIndex: 0}
	require.NoError(t, r.Route(append(encodeVideoFrameHeader(h0), make([]byte, testShardSize)...)))

	tl.mu.Lock()
	firstStamp := tl.frames[42].receivedFirst
	tl.mu.Unlock()
	require.NotZero(t, firstStamp)

	// A later shard of the same frame must not move received_first forward.
	h1 := VideoFrameHeader{PacketType: PacketTypeVideoFrame, PacketCounter: 2, TrackingFrameIndex: 42, VideoFrameIndex: 7, FrameByteSize: testShardSize, FECIndex: 1}
	require.NoError(t, r.Route(append(encodeVideoFrameHeader(h1), make([]byte, testShardSize)...)))

	tl.mu.Lock()
	secondStamp := tl.frames[42].receivedFirst
	tl.mu.Unlock()
	assert.Equal(t, firstStamp, secondStamp)
}

func TestRouter_VideoErrorReportCalledOnFecFailure(t *testing.T) {
	tl := NewTimeline(16)
	clock := NewClockOffsetEstimator(tl, nil)
	sink := &fakeSink{}
	errReports := 0
	r := NewRouter(tl, clock, NewEngine(testShardSize, tl), sink, &fakeControl{}, WithVideoErrorReport(func() { errReports++ }))

	frameByteSize := uint32(4 * testShardSize)
	h1 := VideoFrameHeader{PacketType: PacketTypeVideoFrame, PacketCounter: 1, TrackingFrameIndex: 1, VideoFrameIndex: 100, FrameByteSize: frameByteSize, FECPercentage: 33, FECIndex: 0}
	require.NoError(t, r.Route(append(encodeVideoFrameHeader(h1), make([]byte, testShardSize)...)))

	h2 := VideoFrameHeader{PacketType: PacketTypeVideoFrame, PacketCounter: 2, TrackingFrameIndex: 2, VideoFrameIndex: 101, FrameByteSize: frameByteSize, FECPercentage: 33, FECIndex: 0}
	require.NoError(t, r.Route(append(encodeVideoFrameHeader(h2), make([]byte, testShardSize)...)))

	assert.Equal(t, 1, errReports)
}
