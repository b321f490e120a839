// Package pipeline wires the client-side streaming pipeline components
// (vrstream and decoderbackend) into one "pipeline context" value, replacing
// the process-wide singletons of the source design with an explicit,
// session-scoped object (spec.md §9 "Process-wide singletons").
package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexavr/vrstream/api/pkg/vrstream"
	"github.com/nexavr/vrstream/api/pkg/vrstream/decoderbackend"
)

// Callbacks are the outbound collaborator hooks supplied at Init (spec.md
// §6 "Process inputs"). Every field must be non-nil; set_waiting_next_idr
// and request_idr are both invoked each time the decoder driver is started,
// by Init and by SetStreamConfig.
type Callbacks struct {
	SendTracking         func([]byte)
	SendTimeSync         func(vrstream.TimeSyncPacket)
	SendVideoErrorReport func()
	SendBattery          func([]byte)
	RequestIDR           func()
	SetWaitingNextIDR    func(bool)
}

// Options mirrors spec.md §6's core-relevant configuration subset.
type Options struct {
	Codec                 vrstream.Codec
	EnableFEC             bool
	RefreshRate           uint32
	CPUThreadCount        uint32
	RealtimePriority      bool
	NoServerFramerateLock bool
	NoFrameSkip           bool
	ShardSize             int
	MaxTimelineFrames     int
	DecodeQueueDepth      int
	FrameIndexRingSize    int
	FoveatedDecodeParams  any
}

type transportAdapter struct {
	cb *Callbacks
}

func (t transportAdapter) SendTimeSync(p vrstream.TimeSyncPacket)    { t.cb.SendTimeSync(p) }
func (t transportAdapter) SendVideoErrorReport()                     { t.cb.SendVideoErrorReport() }

type controlAdapter struct {
	cb *Callbacks
}

func (c controlAdapter) OnHaptics(h vrstream.HapticsPacket) {
	// Haptics playback is the XR runtime's responsibility (spec.md §1
	// non-goals); the pipeline only parses and logs it as a diagnostic
	// trace point.
	log.Debug().Float32("amplitude", h.Amplitude).Float32("duration", h.Duration).
		Msg("vrstream: haptics packet received")
}

func (c controlAdapter) OnBattery(buf []byte) {
	if c.cb.SendBattery != nil {
		c.cb.SendBattery(buf)
	}
}

type decodeSink struct {
	queue *vrstream.DecodeQueue
}

func (d decodeSink) Enqueue(trackingFrameIndex uint64, buf []byte) error {
	return d.queue.Push(vrstream.FrameItem{TrackingFrameIndex: trackingFrameIndex, Buffer: buf})
}

// Context is the pipeline's single wiring object: one per streaming
// session, constructed by Init and torn down by Shutdown.
type Context struct {
	mu sync.Mutex

	// sessionID identifies one streaming session across a reconfigure
	// (spec.md §9 "process-wide singletons" becomes one session-scoped
	// object); attached to the session-start log line and to OnReceive's
	// dropped-packet log line.
	sessionID uuid.UUID

	cb   Callbacks
	opts Options

	timeline *vrstream.Timeline
	clock    *vrstream.ClockOffsetEstimator
	fec      *vrstream.Engine
	router   *vrstream.Router
	queue    *vrstream.DecodeQueue
	surfaces *vrstream.SurfaceExchange
	report   *vrstream.ReportGenerator

	backend decoderbackend.Backend
	driver  *decoderbackend.Driver

	paused atomic.Bool
	lastSurfaceTFI atomic.Uint64
}

// Init constructs a pipeline context from callbacks and options, wiring
// every component named in spec.md §2 (spec.md §6 "init(callbacks,
// options)"). backend is supplied by the caller since the concrete decoder
// is a non-goal of the core (spec.md §1).
func Init(cb Callbacks, opts Options, backend decoderbackend.Backend) *Context {
	if opts.MaxTimelineFrames <= 0 {
		opts.MaxTimelineFrames = 1024
	}

	c := &Context{sessionID: uuid.New(), cb: cb, opts: opts, backend: backend}
	log.Info().Str("session_id", c.sessionID.String()).Msg("vrstream: pipeline session starting")
	c.build()
	return c
}

func (c *Context) build() {
	c.timeline = vrstream.NewTimeline(c.opts.MaxTimelineFrames)
	c.clock = vrstream.NewClockOffsetEstimator(c.timeline, func(reply vrstream.TimeSyncPacket) {
		c.cb.SendTimeSync(reply)
	})
	c.fec = vrstream.NewEngine(c.opts.ShardSize, c.timeline)
	c.queue = vrstream.NewDecodeQueue(c.opts.DecodeQueueDepth, c.timeline)
	c.surfaces = vrstream.NewSurfaceExchange(vrstream.SurfacePolicy{
		NoFrameSkip:           c.opts.NoFrameSkip,
		NoServerFramerateLock: c.opts.NoServerFramerateLock,
	})
	c.report = vrstream.NewReportGenerator(c.timeline, c.clock, transportAdapter{cb: &c.cb})

	var routerOpts []vrstream.RouterOption
	if !c.opts.EnableFEC {
		routerOpts = append(routerOpts, vrstream.WithFECDisabled())
	}
	routerOpts = append(routerOpts, vrstream.WithVideoErrorReport(func() {
		c.report.EmitVideoErrorReport()
	}))
	c.router = vrstream.NewRouter(c.timeline, c.clock, c.fec, decodeSink{queue: c.queue}, controlAdapter{cb: &c.cb}, routerOpts...)

	c.driver = decoderbackend.NewDriver(c.queue, c.timeline, c.backend, c.opts.FrameIndexRingSize, c.publishSurface)
	go c.driver.Run()

	// Mirrors the original decoder thread's Start(), which always requests
	// a fresh keyframe before it begins consuming packets (SPEC_FULL.md §5
	// "IDR-request-on-reconnect").
	if c.cb.SetWaitingNextIDR != nil {
		c.cb.SetWaitingNextIDR(true)
	}
	if c.cb.RequestIDR != nil {
		c.cb.RequestIDR()
	}
}

func (c *Context) publishSurface(surface decoderbackend.DecodedSurface, trackingFrameIndex uint64) {
	c.lastSurfaceTFI.Store(trackingFrameIndex)
	c.surfaces.Publish(vrstream.RenderSurface{
		Handle:             surface,
		TrackingFrameIndex: trackingFrameIndex,
		Release:            surface.Release,
	})
}

// OnTrackingSample records the client-side pose sample that drives a future
// server-rendered frame and forwards its wire bytes to the transport
// (spec.md §6 callback send_tracking; glossary "tracking frame index": the
// index is assigned by the client at the moment it samples the pose).
// This is C2's foundational stamp: LatencyTotal is measured from this
// instant, so every trackingFrameIndex that will eventually reach Submit
// must pass through here first.
func (c *Context) OnTrackingSample(trackingFrameIndex uint64, trackingBytes []byte) {
	c.timeline.Tracking(trackingFrameIndex)
	if c.cb.SendTracking != nil {
		c.cb.SendTracking(trackingBytes)
	}
}

// OnReceive routes one inbound wire packet (spec.md §6 "on_receive").
func (c *Context) OnReceive(packetBytes []byte) {
	if err := c.router.Route(packetBytes); err != nil {
		log.Debug().Err(err).Str("session_id", c.sessionID.String()).Msg("vrstream: dropped inbound packet")
	}
}

// OnFrameRenderBegin marks the start of this frame's render composition
// (spec.md §6 "on_frame_render_begin"). trackingFrameIndex correlates to the
// surface obtained from BeginVideoView.
func (c *Context) OnFrameRenderBegin(trackingFrameIndex uint64) {
	c.timeline.Rendered1(trackingFrameIndex)
}

// OnFrameRenderEnd finalizes the frame: stamps rendered2 and submit, and
// emits the per-frame statistics report (spec.md §6 "on_frame_render_end").
func (c *Context) OnFrameRenderEnd(trackingFrameIndex uint64) {
	c.timeline.Rendered2(trackingFrameIndex)
	c.timeline.Submit(trackingFrameIndex)
	c.report.EmitSubmitReport()
}

// OnRerender is called when the render loop repeats the previously
// submitted frame instead of consuming a new surface (spec.md §4.10).
func (c *Context) OnRerender() {
	c.report.EmitRerenderReport()
}

// BeginVideoView exposes C9 to the render loop.
func (c *Context) BeginVideoView() (vrstream.RenderSurface, bool) {
	return c.surfaces.BeginVideoView()
}

// EndVideoView exposes C9 to the render loop.
func (c *Context) EndVideoView() {
	c.surfaces.EndVideoView()
}

// OnPause records that the session is paused (spec.md §6 "on_pause"). The
// pipeline is not torn down and keeps running: intake, decoding and reporting
// do not consult the paused flag.
func (c *Context) OnPause() {
	c.paused.Store(true)
}

// OnResume clears the paused flag set by OnPause (spec.md §6 "on_resume").
func (c *Context) OnResume() {
	c.paused.Store(false)
}

// SetStreamConfig triggers a full decoder + FEC reset (spec.md §6
// "set_stream_config(config) triggers a full decoder + FEC reset").
func (c *Context) SetStreamConfig(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.driver.Stop()
	c.queue.Close()
	c.surfaces.Close()
	c.timeline.ResetAll()
	c.clock.Reset()

	c.opts = opts
	c.fec = vrstream.NewEngine(opts.ShardSize, c.timeline)
	c.queue = vrstream.NewDecodeQueue(opts.DecodeQueueDepth, c.timeline)
	c.surfaces = vrstream.NewSurfaceExchange(vrstream.SurfacePolicy{
		NoFrameSkip:           opts.NoFrameSkip,
		NoServerFramerateLock: opts.NoServerFramerateLock,
	})

	var routerOpts []vrstream.RouterOption
	if !opts.EnableFEC {
		routerOpts = append(routerOpts, vrstream.WithFECDisabled())
	}
	routerOpts = append(routerOpts, vrstream.WithVideoErrorReport(func() {
		c.report.EmitVideoErrorReport()
	}))
	c.router = vrstream.NewRouter(c.timeline, c.clock, c.fec, decodeSink{queue: c.queue}, controlAdapter{cb: &c.cb}, routerOpts...)

	c.driver = decoderbackend.NewDriver(c.queue, c.timeline, c.backend, opts.FrameIndexRingSize, c.publishSurface)
	go c.driver.Run()

	if c.cb.SetWaitingNextIDR != nil {
		c.cb.SetWaitingNextIDR(true)
	}
	if c.cb.RequestIDR != nil {
		c.cb.RequestIDR()
	}
}

// Shutdown tears the pipeline down cooperatively (spec.md §5 shutdown
// protocol).
func (c *Context) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Close()
	c.driver.Stop()
	c.surfaces.Close()
	if err := c.backend.Close(); err != nil {
		log.Warn().Err(err).Msg("vrstream: decoder backend close failed")
	}
}
