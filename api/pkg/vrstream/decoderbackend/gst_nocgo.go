//go:build !cgo

package decoderbackend

import "errors"

// ErrCGORequired is returned when the GStreamer-backed decoder backend is
// requested without CGO support.
var ErrCGORequired = errors.New("vrstream: gstreamer decoder backend requires cgo")

// GstBackend stub: the real implementation in gst.go requires CGO for the
// go-gst bindings.
type GstBackend struct{}

// NewGstBackend returns an error when CGO is disabled.
func NewGstBackend(pipelineStr string, requestIDR func()) (*GstBackend, error) {
	return nil, ErrCGORequired
}

func (b *GstBackend) Configure(configNALUs []byte) error { return ErrCGORequired }

func (b *GstBackend) Submit(pts uint64, frameNALUs []byte, isIDR bool) error {
	return ErrCGORequired
}

func (b *GstBackend) RequestIDR() {}

func (b *GstBackend) SetCompletionFunc(fn CompletionFunc) {}

func (b *GstBackend) Close() error { return nil }
