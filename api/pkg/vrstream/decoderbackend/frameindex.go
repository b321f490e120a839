// Package decoderbackend implements the decoder driver (C7), the
// frame-index correlation map (C8), and the pluggable video decoder
// backends that sit behind them.
package decoderbackend

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// EmptySentinel is the ring-table value meaning "no tracking frame index
// occupies this slot" (spec.md §3 "Frame-index map").
const EmptySentinel = ^uint64(0)

// DefaultRingSize is the ring table's slot count, chosen to exceed the
// decoder's maximum in-flight reorder window (spec.md §3 "ring_size ≈
// 4096").
const DefaultRingSize = 4096

// FrameIndexMap is a fixed-size ring table of atomic 64-bit cells mapping a
// backend-assigned presentation timestamp to the tracking_frame_index that
// originated it (C8). It is lock-free: Set stores by index, Exchange reads
// and clears atomically so a stale read is never returned twice (spec.md
// §4.8).
type FrameIndexMap struct {
	slots []atomic.Uint64
	size  uint64
}

// NewFrameIndexMap constructs a ring table of the given size (<= 0 selects
// DefaultRingSize). All slots start at EmptySentinel.
func NewFrameIndexMap(size int) *FrameIndexMap {
	if size <= 0 {
		size = DefaultRingSize
	}
	m := &FrameIndexMap{
		slots: make([]atomic.Uint64, size),
		size:  uint64(size),
	}
	for i := range m.slots {
		m.slots[i].Store(EmptySentinel)
	}
	return m
}

func (m *FrameIndexMap) index(pts uint64) uint64 {
	return pts % m.size
}

// Set records tracking_frame_index at the slot for pts, overwriting
// whatever was previously there (spec.md §4.8 "collision policy: overwrite
// on set").
func (m *FrameIndexMap) Set(pts uint64, trackingFrameIndex uint64) {
	m.slots[m.index(pts)].Store(trackingFrameIndex)
}

// Exchange atomically reads and clears the slot for pts, returning the
// tracking_frame_index and whether the slot held a real value (as opposed to
// EmptySentinel). A false result is logged by the caller, not here, so the
// map stays free of pipeline-stage knowledge.
func (m *FrameIndexMap) Exchange(pts uint64) (uint64, bool) {
	v := m.slots[m.index(pts)].Swap(EmptySentinel)
	if v == EmptySentinel {
		return 0, false
	}
	return v, true
}

// ExchangeLogged is a convenience wrapper used by the decoder driver's
// backend-completion callback: it exchanges the slot and warns (without
// failing the pipeline) when the slot was empty, per spec.md §4.8 "a
// returned EMPTY is reported to logs but does not fail the pipeline".
func (m *FrameIndexMap) ExchangeLogged(pts uint64) (uint64, bool) {
	v, ok := m.Exchange(pts)
	if !ok {
		log.Warn().Uint64("pts", pts).Msg("vrstream: frame-index map slot was empty on backend completion")
	}
	return v, ok
}
