package decoderbackend

import "time"

// DecodedSurface is a backend-owned decoded video surface handed to C9. The
// concrete backing texture/buffer is opaque to the core; Release must be
// called exactly once, by whichever domain holds it last (spec.md §3
// "Ownership").
type DecodedSurface struct {
	PTS       uint64
	Width     int
	Height    int
	Timestamp time.Time

	// Release returns the surface to the backend. Nil for backends with no
	// pooled-resource lifecycle (e.g. the dummy backend).
	Release func()
}

// CompletionFunc is invoked by a backend on its own thread when a decoded
// surface becomes available. Per spec.md §9 "Cross-thread callbacks from the
// decoder", implementations must keep this callback short, must not call
// back into the decoder, and must not block.
type CompletionFunc func(surface DecodedSurface)

// Backend abstracts a concrete video decoder (hardware, software, or
// dummy). It is a non-goal of the core per spec.md §1; this interface is the
// seam the core depends on.
type Backend interface {
	// Configure is called once per stream (or on SetStreamConfig reset)
	// with the codec-config NAL units (SPS/PPS for H.264) that must be
	// seen before any frame NAL units are submitted.
	Configure(configNALUs []byte) error

	// Submit pushes one frame's NAL units into the backend, tagged with the
	// synthetic presentation timestamp C7 assigned it. The backend invokes
	// the registered CompletionFunc asynchronously once decoding finishes.
	Submit(pts uint64, frameNALUs []byte, isIDR bool) error

	// RequestIDR asks the backend (and transitively, via the outbound
	// callback, the server) to produce/send a fresh keyframe.
	RequestIDR()

	// SetCompletionFunc registers the callback invoked on decode
	// completion. Called once during driver setup.
	SetCompletionFunc(fn CompletionFunc)

	// Close releases all backend resources. Safe to call once.
	Close() error
}
