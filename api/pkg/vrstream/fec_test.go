package vrstream

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/klauspost/reedsolomon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testShardSize = 1024

func buildShards(t *testing.T, dataShards, parityShards int, frameByteSize uint32) [][]byte {
	t.Helper()
	codec, err := reedsolomon.New(dataShards, parityShards)
	require.NoError(t, err)

	shards := make([][]byte, dataShards+parityShards)
	for i := 0; i < dataShards; i++ {
		shards[i] = make([]byte, testShardSize)
		_, err := rand.New(rand.NewSource(int64(i) + 1)).Read(shards[i])
		require.NoError(t, err)
	}
	for i := dataShards; i < dataShards+parityShards; i++ {
		shards[i] = make([]byte, testShardSize)
	}
	require.NoError(t, codec.Encode(shards))
	return shards
}

func videoHeader(tfi, vfi uint64, frameByteSize uint32, fecPercentage uint32, fecIndex uint32) VideoFrameHeader {
	return VideoFrameHeader{
		PacketType:         PacketTypeVideoFrame,
		TrackingFrameIndex: tfi,
		VideoFrameIndex:    vfi,
		FrameByteSize:      frameByteSize,
		FECPercentage:      fecPercentage,
		FECIndex:           fecIndex,
	}
}

// S1: deliver all data shards in order; expect trivial reconstruction.
func TestEngine_S1_TrivialComplete(t *testing.T) {
	const dataShards, parityShards = 4, 2
	frameByteSize := uint32(dataShards * testShardSize)
	shards := buildShards(t, dataShards, parityShards, frameByteSize)

	e := NewEngine(testShardSize, nil)
	var completed *ReassembledFrame
	for i := 0; i < dataShards; i++ {
		h := videoHeader(1, 100, frameByteSize, 33, uint32(i))
		result := e.AddPacket(h, shards[i])
		if result.Complete != nil {
			completed = result.Complete
		}
	}

	require.NotNil(t, completed)
	assert.Equal(t, uint64(1), completed.TrackingFrameIndex)
	assert.Equal(t, int(frameByteSize), len(completed.Buffer))
	assert.False(t, e.FECFailure())

	want := bytes.Join([][]byte{shards[0], shards[1], shards[2], shards[3]}, nil)
	assert.Equal(t, want, completed.Buffer)
}

// S2: deliver {0,2,3,parity_0,parity_1}; expect byte-equal recovery at the
// next frame's boundary.
func TestEngine_S2_RecoveryOnBoundary(t *testing.T) {
	const dataShards, parityShards = 4, 2
	frameByteSize := uint32(dataShards * testShardSize)
	shards := buildShards(t, dataShards, parityShards, frameByteSize)

	e := NewEngine(testShardSize, nil)
	order := []int{0, 2, 3, 4, 5} // data shards 0,2,3 then both parity shards
	for _, idx := range order {
		h := videoHeader(1, 100, frameByteSize, 33, uint32(idx))
		result := e.AddPacket(h, shards[idx])
		assert.Nil(t, result.Complete, "frame should not complete before the boundary shard arrives")
	}

	// Next frame's first shard triggers finalization of frame 100.
	nextHeader := videoHeader(2, 101, frameByteSize, 33, 0)
	result := e.AddPacket(nextHeader, shards[0])

	require.NotNil(t, result.Complete)
	assert.Equal(t, uint64(1), result.Complete.TrackingFrameIndex)
	want := bytes.Join([][]byte{shards[0], shards[1], shards[2], shards[3]}, nil)
	assert.Equal(t, want, result.Complete.Buffer)
	assert.False(t, e.FECFailure())
}

// S3: deliver only {0,1}; on the next frame's first shard, expect
// fec_failure=true and the frame dropped.
func TestEngine_S3_FailureOnInsufficientShards(t *testing.T) {
	const dataShards, parityShards = 4, 2
	frameByteSize := uint32(dataShards * testShardSize)
	shards := buildShards(t, dataShards, parityShards, frameByteSize)

	e := NewEngine(testShardSize, nil)
	for _, idx := range []int{0, 1} {
		h := videoHeader(1, 100, frameByteSize, 33, uint32(idx))
		e.AddPacket(h, shards[idx])
	}

	nextHeader := videoHeader(2, 101, frameByteSize, 33, 0)
	result := e.AddPacket(nextHeader, shards[0])

	assert.Nil(t, result.Complete)
	assert.True(t, result.Failed)
	assert.Equal(t, uint64(1), result.FailedTrackingFrameIndex)
	assert.True(t, e.FECFailure())

	e.ClearFECFailure()
	assert.False(t, e.FECFailure())
}

func TestEngine_ShardGeometryMismatchMarksFailure(t *testing.T) {
	const dataShards, parityShards = 4, 2
	frameByteSize := uint32(dataShards * testShardSize)
	shards := buildShards(t, dataShards, parityShards, frameByteSize)

	e := NewEngine(testShardSize, nil)
	h := videoHeader(1, 100, frameByteSize, 33, 0)
	e.AddPacket(h, shards[0])

	// Wrong-sized payload for a data shard index.
	badHeader := videoHeader(1, 100, frameByteSize, 33, 1)
	result := e.AddPacket(badHeader, shards[0][:10])
	assert.Nil(t, result.Complete)
	assert.False(t, result.Failed) // mismatch is reported only at the boundary, not per-packet
	assert.True(t, e.building.geometryBroken, "the building frame is marked for failure at its boundary")
}

// A shard belonging to a frame older than the one already in progress (a
// reordered or retransmitted packet) must not be treated as "the next frame
// arrived": it should be dropped and counted as stale, leaving the frame
// actually in progress untouched.
func TestEngine_StaleShardDroppedNotTreatedAsBoundary(t *testing.T) {
	const dataShards, parityShards = 4, 2
	frameByteSize := uint32(dataShards * testShardSize)
	shards := buildShards(t, dataShards, parityShards, frameByteSize)

	tl := NewTimeline(16)
	e := NewEngine(testShardSize, tl)

	// Start frame 101 (video_frame_index), deliver its first shard.
	h := videoHeader(2, 101, frameByteSize, 33, 0)
	result := e.AddPacket(h, shards[0])
	assert.Nil(t, result.Complete)

	// A stale shard for an older frame (100) arrives late.
	staleHeader := videoHeader(1, 100, frameByteSize, 33, 1)
	result = e.AddPacket(staleHeader, shards[1])
	assert.Nil(t, result.Complete, "a stale shard must not finalize the frame in progress")
	assert.False(t, result.Failed, "a stale shard must not fail the frame in progress")
	assert.Equal(t, uint64(1), tl.Snapshot().StaleFrameTotal)

	// The in-progress frame (101) must still be able to complete normally.
	for _, idx := range []int{1, 2, 3} {
		h := videoHeader(2, 101, frameByteSize, 33, uint32(idx))
		result = e.AddPacket(h, shards[idx])
	}
	require.NotNil(t, result.Complete)
	assert.Equal(t, uint64(2), result.Complete.TrackingFrameIndex)
}

func TestParityShardCount(t *testing.T) {
	tests := []struct {
		name          string
		dataShards    int
		fecPercentage uint32
		want          int
	}{
		{"typical 33pct of 4", 4, 33, 2},
		{"zero percent", 10, 0, 0},
		{"fifty percent", 4, 50, 4},
		{"overflow clamps to field size", 250, 100, maxRSShards - 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parityShardCount(tt.dataShards, tt.fecPercentage)
			assert.Equal(t, tt.want, got)
		})
	}
}
