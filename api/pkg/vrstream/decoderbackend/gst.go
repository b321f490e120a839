//go:build cgo

package decoderbackend

import (
	"context"
	"fmt"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// GstBackend decodes H.264/H.265 Annex-B NAL units through a GStreamer
// pipeline (appsrc -> parse -> hardware/software decode -> appsink),
// adapted from the teacher's appsink-based capture pipeline to run as a
// decode sink rather than a capture source.
type GstBackend struct {
	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink

	mu         sync.Mutex
	completion CompletionFunc
	requestIDR func()
}

// NewGstBackend builds a decode pipeline from a GStreamer launch string. The
// string must contain an appsrc named "videosrc" feeding the decoder chain,
// terminating in an appsink named "videosink" that yields decoded frames.
//
// Example: "appsrc name=videosrc ! h264parse ! nvh264dec ! videoconvert ! appsink name=videosink"
func NewGstBackend(pipelineStr string, requestIDR func()) (*GstBackend, error) {
	initGStreamer()

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("vrstream: failed to parse decode pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("videosrc")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("vrstream: failed to get videosrc element: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("videosink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("vrstream: failed to get videosink element: %w", err)
	}

	appsrc := app.SrcFromElement(srcElem)
	appsink := app.SinkFromElement(sinkElem)
	if appsrc == nil || appsink == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("vrstream: videosrc/videosink are not app elements")
	}

	b := &GstBackend{
		pipeline:   pipeline,
		appsrc:     appsrc,
		appsink:    appsink,
		requestIDR: requestIDR,
	}

	appsink.SetProperty("emit-signals", true)
	appsink.SetProperty("max-buffers", uint(2))
	appsink.SetProperty("drop", true)
	appsink.SetProperty("sync", false)
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: b.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("vrstream: failed to start decode pipeline: %w", err)
	}

	return b, nil
}

func (b *GstBackend) Configure(configNALUs []byte) error {
	return b.pushBuffer(configNALUs, 0)
}

func (b *GstBackend) Submit(pts uint64, frameNALUs []byte, isIDR bool) error {
	return b.pushBuffer(frameNALUs, pts)
}

// pushBuffer retries transient push failures (the pipeline briefly returns
// FlowFlushing while transitioning state across a SetStreamConfig reset)
// rather than failing the frame on the first flushed push.
func (b *GstBackend) pushBuffer(data []byte, pts uint64) error {
	if len(data) == 0 {
		return nil
	}
	buf := gst.NewBufferFromBytes(data)
	buf.SetPresentationTimestamp(gst.ClockTime(pts) * gst.ClockTime(time.Microsecond))

	return retry.Do(
		func() error {
			if ret := b.appsrc.PushBuffer(buf); ret != gst.FlowOK {
				return fmt.Errorf("vrstream: appsrc push-buffer returned %v", ret)
			}
			return nil
		},
		retry.Context(context.Background()),
		retry.Attempts(3),
		retry.Delay(2*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

func (b *GstBackend) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	ptsDur := buffer.PresentationTimestamp().AsDuration()
	var pts uint64
	if ptsDur != nil {
		pts = uint64(ptsDur.Microseconds())
	}

	b.mu.Lock()
	fn := b.completion
	b.mu.Unlock()
	if fn != nil {
		fn(DecodedSurface{
			PTS:       pts,
			Timestamp: time.Now(),
		})
	}
	return gst.FlowOK
}

func (b *GstBackend) RequestIDR() {
	if b.requestIDR != nil {
		b.requestIDR()
	}
}

func (b *GstBackend) SetCompletionFunc(fn CompletionFunc) {
	b.mu.Lock()
	b.completion = fn
	b.mu.Unlock()
}

func (b *GstBackend) Close() error {
	if b.pipeline != nil {
		b.pipeline.SetState(gst.StateNull)
	}
	return nil
}
