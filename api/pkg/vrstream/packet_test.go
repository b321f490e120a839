package vrstream

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVideoFrameHeader(t *testing.T) {
	buf := make([]byte, videoFrameHeaderSize+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(PacketTypeVideoFrame))
	binary.LittleEndian.PutUint32(buf[4:8], 42)
	binary.LittleEndian.PutUint64(buf[8:16], 100)
	binary.LittleEndian.PutUint64(buf[16:24], 200)
	binary.LittleEndian.PutUint64(buf[24:32], 55555)
	binary.LittleEndian.PutUint32(buf[32:36], 4096)
	binary.LittleEndian.PutUint32(buf[36:40], 1)
	binary.LittleEndian.PutUint32(buf[40:44], 33)
	copy(buf[44:], []byte("shardbyt"))

	h, payload, err := ParseVideoFrameHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, PacketTypeVideoFrame, h.PacketType)
	assert.Equal(t, uint32(42), h.PacketCounter)
	assert.Equal(t, uint64(100), h.TrackingFrameIndex)
	assert.Equal(t, uint64(200), h.VideoFrameIndex)
	assert.Equal(t, uint64(55555), h.SentTimeUs)
	assert.Equal(t, uint32(4096), h.FrameByteSize)
	assert.Equal(t, uint32(1), h.FECIndex)
	assert.Equal(t, uint32(33), h.FECPercentage)
	assert.Equal(t, "shardbyt", string(payload))
}

func TestParseVideoFrameHeaderTooShort(t *testing.T) {
	_, _, err := ParseVideoFrameHeader(make([]byte, 10))
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestTimeSyncPacketRoundTrip(t *testing.T) {
	p := TimeSyncPacket{
		Type:                    PacketTypeTimeSync,
		Mode:                    TimeSyncModeReport,
		Sequence:                9,
		ClientTimeUs:            1000,
		ServerTimeUs:            2000,
		ServerTotalLatencyUs:    1500,
		PacketCounter:           7,
		TrackingRecvFrameIndex:  55,
		PacketsLostTotal:        3,
		PacketsLostInSecond:     1,
		AverageTotalLatencyUs:   500,
		AverageSendLatencyUs:    100,
		AverageTransportLatency: 200,
		AverageDecodeLatencyUs:  300,
		IdleTimeUs:              50,
		FECFailure:              true,
		FECFailureInSecond:      2,
		FECFailureTotal:         6,
		FPS:                     72.5,
	}

	buf := EncodeTimeSyncPacket(p)
	assert.Len(t, buf, timeSyncPacketSize)

	got, err := ParseTimeSyncPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, p.Type, got.Type)
	assert.Equal(t, p.Mode, got.Mode)
	assert.Equal(t, p.Sequence, got.Sequence)
	assert.Equal(t, p.ClientTimeUs, got.ClientTimeUs)
	assert.Equal(t, p.ServerTimeUs, got.ServerTimeUs)
	assert.Equal(t, p.ServerTotalLatencyUs, got.ServerTotalLatencyUs)
	assert.Equal(t, p.PacketCounter, got.PacketCounter)
	assert.Equal(t, p.TrackingRecvFrameIndex, got.TrackingRecvFrameIndex)
}

func TestParseHapticsPacket(t *testing.T) {
	buf := make([]byte, hapticsPacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(PacketTypeHaptics))
	binary.LittleEndian.PutUint64(buf[4:12], 0xdeadbeef)
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(120))

	h, err := ParseHapticsPacket(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), h.DevicePathHash)
	assert.InDelta(t, 0.5, h.Amplitude, 0.0001)
	assert.InDelta(t, 0.25, h.Duration, 0.0001)
	assert.InDelta(t, 120, h.Frequency, 0.0001)
}
