package vrstream

import (
	"encoding/binary"
	"math"
)

// PacketType is the 32-bit little-endian tag every inbound/outbound wire
// packet leads with (spec.md §6).
type PacketType uint32

const (
	PacketTypeVideoFrame PacketType = 1
	PacketTypeTimeSync   PacketType = 2
	PacketTypeHaptics    PacketType = 3
	PacketTypeTracking   PacketType = 4
	PacketTypeVideoError PacketType = 5
	PacketTypeBattery    PacketType = 6
)

// videoFrameHeaderSize is the fixed-size prefix of a VIDEO_FRAME packet,
// immediately followed by shard bytes (spec.md §3).
const videoFrameHeaderSize = 4 + 4 + 8 + 8 + 8 + 4 + 4 + 4

// VideoFrameHeader is the fixed-size prefix of a VIDEO_FRAME wire packet.
// FECIndex is the shard's index within its frame (0..total_shards); the
// payload bytes following the header are that shard's data.
type VideoFrameHeader struct {
	PacketType         PacketType
	PacketCounter      uint32
	TrackingFrameIndex uint64
	VideoFrameIndex    uint64
	SentTimeUs         uint64
	FrameByteSize      uint32
	FECIndex           uint32
	FECPercentage      uint32
}

// ParseVideoFrameHeader parses the fixed header and returns the remaining
// shard payload bytes.
func ParseVideoFrameHeader(buf []byte) (VideoFrameHeader, []byte, error) {
	if len(buf) < videoFrameHeaderSize {
		return VideoFrameHeader{}, nil, ErrPacketTooShort
	}
	h := VideoFrameHeader{
		PacketType:         PacketType(binary.LittleEndian.Uint32(buf[0:4])),
		PacketCounter:      binary.LittleEndian.Uint32(buf[4:8]),
		TrackingFrameIndex: binary.LittleEndian.Uint64(buf[8:16]),
		VideoFrameIndex:    binary.LittleEndian.Uint64(buf[16:24]),
		SentTimeUs:         binary.LittleEndian.Uint64(buf[24:32]),
		FrameByteSize:      binary.LittleEndian.Uint32(buf[32:36]),
		FECIndex:           binary.LittleEndian.Uint32(buf[36:40]),
		FECPercentage:      binary.LittleEndian.Uint32(buf[40:44]),
	}
	return h, buf[videoFrameHeaderSize:], nil
}

// timeSyncPacketSize is the fixed wire size of a TIME_SYNC packet.
const timeSyncPacketSize = 4 + 4 + 8 + 8 + 8 + 4 + 4 + 8 +
	8 + 8 + 4 + 4 + 4 + 8 + 4 + 1 + 8 + 8 + 4

// TimeSyncMode enumerates the three recognized time-sync modes (spec.md
// §4.3).
type TimeSyncMode uint32

const (
	// TimeSyncModeReport is the client->server statistics snapshot (C10).
	TimeSyncModeReport TimeSyncMode = 0
	// TimeSyncModeRequest is sent server->client, requesting a reply.
	TimeSyncModeRequest TimeSyncMode = 1
	// TimeSyncModeReply echoes a mode-1 packet back with the client's
	// local reply time.
	TimeSyncModeReply TimeSyncMode = 2
	// TimeSyncModeTrackingAck is the server's ack for a tracking packet.
	TimeSyncModeTrackingAck TimeSyncMode = 3
)

// TimeSyncPacket carries both the inbound fields (mode, sequence, the two
// clocks, the server-reported latency echo) and the outbound statistics
// snapshot fields produced by C10. Unused fields are zero on the wire
// direction that does not populate them.
type TimeSyncPacket struct {
	Type                   PacketType
	Mode                   TimeSyncMode
	Sequence               uint64
	ClientTimeUs           uint64
	ServerTimeUs           uint64
	ServerTotalLatencyUs   uint32
	PacketCounter          uint32
	TrackingRecvFrameIndex uint64

	// Outbound-only statistics snapshot, filled in mode-0 reports (spec.md
	// §4.10); mode-2 replies echo the parsed inbound packet, so these are
	// zero there.
	PacketsLostTotal        uint64
	PacketsLostInSecond     uint64
	AverageTotalLatencyUs   uint32
	AverageSendLatencyUs    uint32
	AverageTransportLatency uint32
	AverageDecodeLatencyUs  uint64
	IdleTimeUs              uint32
	FECFailure              bool
	FECFailureInSecond      uint64
	FECFailureTotal         uint64
	FPS                     float32
}

// ParseTimeSyncPacket parses the inbound fields of a TIME_SYNC packet. The
// outbound-only statistics fields are left zero; callers that need them use
// EncodeTimeSyncPacket on a TimeSyncPacket they constructed themselves.
func ParseTimeSyncPacket(buf []byte) (TimeSyncPacket, error) {
	if len(buf) < timeSyncPacketSize {
		return TimeSyncPacket{}, ErrPacketTooShort
	}
	return TimeSyncPacket{
		Type:                   PacketType(binary.LittleEndian.Uint32(buf[0:4])),
		Mode:                   TimeSyncMode(binary.LittleEndian.Uint32(buf[4:8])),
		Sequence:               binary.LittleEndian.Uint64(buf[8:16]),
		ClientTimeUs:           binary.LittleEndian.Uint64(buf[16:24]),
		ServerTimeUs:           binary.LittleEndian.Uint64(buf[24:32]),
		ServerTotalLatencyUs:   binary.LittleEndian.Uint32(buf[32:36]),
		PacketCounter:          binary.LittleEndian.Uint32(buf[36:40]),
		TrackingRecvFrameIndex: binary.LittleEndian.Uint64(buf[40:48]),
	}, nil
}

// EncodeTimeSyncPacket serializes a TimeSyncPacket to its wire form.
func EncodeTimeSyncPacket(p TimeSyncPacket) []byte {
	buf := make([]byte, timeSyncPacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Mode))
	binary.LittleEndian.PutUint64(buf[8:16], p.Sequence)
	binary.LittleEndian.PutUint64(buf[16:24], p.ClientTimeUs)
	binary.LittleEndian.PutUint64(buf[24:32], p.ServerTimeUs)
	binary.LittleEndian.PutUint32(buf[32:36], p.ServerTotalLatencyUs)
	binary.LittleEndian.PutUint32(buf[36:40], p.PacketCounter)
	binary.LittleEndian.PutUint64(buf[40:48], p.TrackingRecvFrameIndex)
	binary.LittleEndian.PutUint64(buf[48:56], p.PacketsLostTotal)
	binary.LittleEndian.PutUint64(buf[56:64], p.PacketsLostInSecond)
	binary.LittleEndian.PutUint32(buf[64:68], p.AverageTotalLatencyUs)
	binary.LittleEndian.PutUint32(buf[68:72], p.AverageSendLatencyUs)
	binary.LittleEndian.PutUint32(buf[72:76], p.AverageTransportLatency)
	binary.LittleEndian.PutUint64(buf[76:84], p.AverageDecodeLatencyUs)
	binary.LittleEndian.PutUint32(buf[84:88], p.IdleTimeUs)
	if p.FECFailure {
		buf[88] = 1
	}
	binary.LittleEndian.PutUint64(buf[89:97], p.FECFailureInSecond)
	binary.LittleEndian.PutUint64(buf[97:105], p.FECFailureTotal)
	binary.LittleEndian.PutUint32(buf[105:109], math.Float32bits(p.FPS))
	return buf
}

// HapticsPacket is an opaque device-path hash plus a haptic pulse
// description (spec.md §6).
type HapticsPacket struct {
	Type           PacketType
	DevicePathHash uint64
	Amplitude      float32
	Duration       float32
	Frequency      float32
}

const hapticsPacketSize = 4 + 8 + 4 + 4 + 4

// ParseHapticsPacket parses a HAPTICS packet.
func ParseHapticsPacket(buf []byte) (HapticsPacket, error) {
	if len(buf) < hapticsPacketSize {
		return HapticsPacket{}, ErrPacketTooShort
	}
	return HapticsPacket{
		Type:           PacketType(binary.LittleEndian.Uint32(buf[0:4])),
		DevicePathHash: binary.LittleEndian.Uint64(buf[4:12]),
		Amplitude:      math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16])),
		Duration:       math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20])),
		Frequency:      math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24])),
	}, nil
}
