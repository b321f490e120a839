package decoderbackend

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	"github.com/nexavr/vrstream/api/pkg/vrstream"
)

// Driver is the decoder driver (C7): a single worker goroutine dequeuing
// reassembled frames from the decoder input queue, pushing them into a
// Backend, and correlating decoded output back to tracking_frame_index via
// the frame-index map (C8).
type Driver struct {
	queue    *vrstream.DecodeQueue
	timeline *vrstream.Timeline
	backend  Backend
	index    *FrameIndexMap
	publish  func(DecodedSurface, uint64)

	running        atomic.Bool
	configured     atomic.Bool
	waitingForIDR  atomic.Bool
	decodeFailures atomic.Uint64

	done chan struct{}
}

// NewDriver constructs a decoder driver. publish is invoked with the
// decoded surface and its resolved tracking_frame_index once C8 correlation
// succeeds; it is expected to hand the surface to the surface exchange (C9).
func NewDriver(queue *vrstream.DecodeQueue, timeline *vrstream.Timeline, backend Backend, ringSize int, publish func(DecodedSurface, uint64)) *Driver {
	d := &Driver{
		queue:    queue,
		timeline: timeline,
		backend:  backend,
		index:    NewFrameIndexMap(ringSize),
		publish:  publish,
		done:     make(chan struct{}),
	}
	d.waitingForIDR.Store(true)
	backend.SetCompletionFunc(d.onBackendCompletion)
	return d
}

// Run is the C7 worker loop. It returns once Stop is called and the queue
// has been drained past its pop timeout (spec.md §4.7, §5 shutdown
// protocol).
func (d *Driver) Run() {
	d.running.Store(true)
	defer close(d.done)

	for d.running.Load() {
		item, ok := d.queue.Pop()
		if !ok {
			continue // timed out; re-check d.running
		}
		d.runProtected(item)
	}
}

// runProtected isolates processItem (and, transitively, any backend
// callback it triggers synchronously) behind a panics.Catcher so a
// misbehaving backend cannot take the decoder worker loop down with it.
func (d *Driver) runProtected(item vrstream.FrameItem) {
	var catcher panics.Catcher
	catcher.Try(func() { d.processItem(item) })
	if r := catcher.Recovered(); r != nil {
		log.Warn().Interface("panic", r.Value).
			Uint64("tracking_frame_index", item.TrackingFrameIndex).
			Msg("vrstream: decoder backend panicked, frame dropped")
	}
}

func (d *Driver) processItem(item vrstream.FrameItem) {
	d.timeline.DecoderInput(item.TrackingFrameIndex)

	buf := item.Buffer
	isIDR := false

	if !d.configured.Load() {
		configNALUs, frameNALUs, idr := splitConfigAndFrameNALUs(buf)
		if len(configNALUs) > 0 {
			if err := d.backend.Configure(configNALUs); err != nil {
				log.Warn().Err(err).Msg("vrstream: decoder backend configure failed")
				d.decodeFailures.Add(1)
				d.timeline.FECFailure()
				return
			}
			d.configured.Store(true)
		}
		buf = frameNALUs
		isIDR = idr
	} else if d.waitingForIDR.Load() {
		_, frameNALUs, idr := splitConfigAndFrameNALUs(buf)
		if !idr {
			// Still waiting for a keyframe; drop the delta frame rather
			// than feed a decoder that has no reference picture.
			return
		}
		buf = frameNALUs
		isIDR = true
	}

	pts := vrstream.NowMicros()
	d.index.Set(pts, item.TrackingFrameIndex)

	if err := d.backend.Submit(pts, buf, isIDR); err != nil {
		log.Warn().Err(err).Uint64("tracking_frame_index", item.TrackingFrameIndex).
			Msg("vrstream: decoder submit failed")
		d.decodeFailures.Add(1)
		d.timeline.FECFailure()
		if n := d.decodeFailures.Load(); n%8 == 0 {
			d.backend.RequestIDR()
			d.waitingForIDR.Store(true)
		}
		return
	}

	if isIDR {
		d.waitingForIDR.Store(false)
	}
}

// onBackendCompletion is the backend-completion-domain callback (spec.md
// §5): short, non-blocking, performs only C8 lookup and C9 publish.
func (d *Driver) onBackendCompletion(surface DecodedSurface) {
	tfi, ok := d.index.ExchangeLogged(surface.PTS)
	if !ok {
		return
	}
	d.timeline.DecoderOutput(tfi)
	if d.publish != nil {
		d.publish(surface, tfi)
	}
}

// RequestIDR asks the backend for a fresh keyframe and marks the driver as
// waiting for one, dropping subsequent delta frames until it arrives.
func (d *Driver) RequestIDR() {
	d.waitingForIDR.Store(true)
	d.backend.RequestIDR()
}

// Stop signals the worker to exit after its current pop timeout and waits
// for it to do so.
func (d *Driver) Stop() {
	d.running.Store(false)
	<-d.done
}
