package decoderbackend

import "time"

// DummyBackend is a Backend that immediately "decodes" every submitted
// frame by invoking the completion callback synchronously with a
// placeholder surface of the configured dimensions. Useful for pipeline
// tests and for running the intake/decoder-feeder/surface-exchange stages
// without a real decoder attached.
type DummyBackend struct {
	completion CompletionFunc
	width      int
	height     int
}

// NewDummyBackend constructs a backend that reports the given surface
// dimensions on every completion.
func NewDummyBackend(width, height int) *DummyBackend {
	return &DummyBackend{width: width, height: height}
}

func (b *DummyBackend) Configure(configNALUs []byte) error { return nil }

func (b *DummyBackend) Submit(pts uint64, frameNALUs []byte, isIDR bool) error {
	if b.completion != nil {
		b.completion(DecodedSurface{
			PTS:       pts,
			Width:     b.width,
			Height:    b.height,
			Timestamp: time.Now(),
		})
	}
	return nil
}

func (b *DummyBackend) RequestIDR() {}

func (b *DummyBackend) SetCompletionFunc(fn CompletionFunc) { b.completion = fn }

func (b *DummyBackend) Close() error { return nil }
