package vrstream

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// RenderSurface is the render-loop-facing view of a decoded surface: an
// opaque index/handle plus the release callback. The concrete surface type
// (decoderbackend.DecodedSurface) is kept out of this package to avoid a
// dependency cycle; callers wire the two together in the pipeline layer.
type RenderSurface struct {
	Handle             any
	TrackingFrameIndex uint64
	Release            func()
}

// SurfacePolicy selects begin_video_view's draining behavior (spec.md
// §4.9).
type SurfacePolicy struct {
	// NoFrameSkip, if true, returns exactly one surface at a time in
	// arrival order instead of draining to the most recent.
	NoFrameSkip bool
	// NoServerFramerateLock, if true, never blocks waiting for a surface;
	// BeginVideoView returns ok=false immediately if none is ready.
	NoServerFramerateLock bool
}

// SurfaceExchange is the single-producer/single-consumer handoff of decoded
// surfaces to the render loop (C9). The decoder-completion domain produces
// via Publish; the render domain consumes via BeginVideoView/EndVideoView.
type SurfaceExchange struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []RenderSurface
	current *RenderSurface
	policy  SurfacePolicy
	closed  bool

	// outstanding tracks every surface the render loop currently holds
	// (between BeginVideoView and EndVideoView), keyed by
	// TrackingFrameIndex, purely so Close can release a surface that is
	// checked out rather than merely pending (spec.md §5 shutdown
	// protocol).
	outstanding *xsync.MapOf[uint64, RenderSurface]
}

// NewSurfaceExchange constructs a surface exchange with the given policy.
func NewSurfaceExchange(policy SurfacePolicy) *SurfaceExchange {
	s := &SurfaceExchange{policy: policy, outstanding: xsync.NewMapOf[uint64, RenderSurface]()}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Publish hands a freshly decoded surface to the exchange (backend
// completion domain). If a surface is already pending and the policy drops
// old frames, the dropped surface's Release is invoked immediately.
func (s *SurfaceExchange) Publish(surface RenderSurface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if surface.Release != nil {
			surface.Release()
		}
		return
	}
	if s.policy.NoFrameSkip {
		s.pending = append(s.pending, surface)
	} else {
		// Drop-old: only the most recent surface is kept pending.
		if len(s.pending) > 0 {
			for _, dropped := range s.pending {
				if dropped.Release != nil {
					dropped.Release()
				}
			}
		}
		s.pending = []RenderSurface{surface}
	}
	s.cond.Signal()
}

// BeginVideoView is called by the render loop to obtain the surface to draw
// this frame (spec.md §4.9). Per the configured policy, it either drains all
// but the newest queued surface (default), returns exactly one in order
// (NoFrameSkip), or returns immediately without blocking
// (NoServerFramerateLock). ok is false when no surface is available.
func (s *SurfaceExchange) BeginVideoView() (RenderSurface, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 && !s.closed {
		if s.policy.NoServerFramerateLock {
			return RenderSurface{}, false
		}
		s.cond.Wait()
	}
	if s.closed && len(s.pending) == 0 {
		return RenderSurface{}, false
	}

	var next RenderSurface
	if s.policy.NoFrameSkip {
		next = s.pending[0]
		s.pending = s.pending[1:]
	} else {
		// Drain all but the last, releasing the skipped ones.
		last := len(s.pending) - 1
		for i := 0; i < last; i++ {
			if s.pending[i].Release != nil {
				s.pending[i].Release()
			}
		}
		next = s.pending[last]
		s.pending = nil
	}

	s.current = &next
	s.outstanding.Store(next.TrackingFrameIndex, next)
	return next, true
}

// EndVideoView releases the surface most recently returned by
// BeginVideoView back to the backend.
func (s *SurfaceExchange) EndVideoView() {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur != nil {
		s.outstanding.Delete(cur.TrackingFrameIndex)
		if cur.Release != nil {
			cur.Release()
		}
	}
}

// Close unblocks any waiting BeginVideoView call and releases every queued
// surface (spec.md §5 shutdown protocol: "drop C9 remaining surfaces").
func (s *SurfaceExchange) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, surface := range pending {
		if surface.Release != nil {
			surface.Release()
		}
	}
	s.outstanding.Range(func(tfi uint64, surface RenderSurface) bool {
		if surface.Release != nil {
			surface.Release()
		}
		s.outstanding.Delete(tfi)
		return true
	})
	s.cond.Broadcast()
}
