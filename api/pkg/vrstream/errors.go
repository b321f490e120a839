package vrstream

import "errors"

// Sentinel errors callers branch on. Every other failure is wrapped with
// fmt.Errorf("...: %w", err) at the point it occurs.
var (
	// ErrQueueClosed is returned by Push on the decoder input queue (C6) once
	// Close has been called.
	ErrQueueClosed = errors.New("vrstream: queue closed")

	// ErrShardGeometryMismatch is returned when a shard's declared index or
	// size is inconsistent with the geometry derived from the first shard
	// of the frame (spec.md §4.4 step 1).
	ErrShardGeometryMismatch = errors.New("vrstream: shard geometry mismatch")

	// ErrUnknownPacketType is returned by the packet router for a tag it
	// does not recognize and has no configured sink for.
	ErrUnknownPacketType = errors.New("vrstream: unknown packet type")

	// ErrPacketTooShort is returned when a wire packet is smaller than its
	// fixed-size header.
	ErrPacketTooShort = errors.New("vrstream: packet too short")
)
