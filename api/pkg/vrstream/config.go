package vrstream

import "github.com/kelseyhightower/envconfig"

// Codec selects the decoder mime/codec the decoder backend should configure.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// PipelineConfig is the core-relevant subset of the session configuration
// (spec.md §6 "Configuration options"), plus the sizing constants the spec
// leaves implementation-defined. It is loaded the way api/pkg/config loads
// ServerConfig: via envconfig, so every field can be overridden without code
// changes, and the defaults match the values spec.md names.
type PipelineConfig struct {
	Codec        Codec  `envconfig:"VR_CODEC" default:"h264"`
	EnableFEC    bool   `envconfig:"VR_ENABLE_FEC" default:"true"`
	RefreshRate  uint32 `envconfig:"VR_REFRESH_RATE" default:"72"`
	CPUThreads   uint32 `envconfig:"VR_CPU_THREAD_COUNT" default:"4"`
	RealtimePrio bool   `envconfig:"VR_REALTIME_PRIORITY" default:"false"`

	// NoServerFramerateLock and NoFrameSkip select the C9 surface-exchange
	// policy described in spec.md §4.9.
	NoServerFramerateLock bool `envconfig:"VR_NO_SERVER_FRAMERATE_LOCK" default:"false"`
	NoFrameSkip           bool `envconfig:"VR_NO_FRAME_SKIP" default:"false"`

	// FoveatedDecodeParams is opaque to the core; it is only threaded
	// through to the renderer.
	FoveatedDecodeParams string `envconfig:"VR_FOVEATED_DECODE_PARAMS"`

	// Sizing constants spec.md gives approximate values for (§3, §4.6, §4.8).
	ShardSize          int `envconfig:"VR_SHARD_SIZE" default:"1400"`
	MaxTimelineFrames  int `envconfig:"VR_MAX_TIMELINE_FRAMES" default:"1024"`
	DecodeQueueDepth   int `envconfig:"VR_DECODE_QUEUE_DEPTH" default:"360"`
	FrameIndexRingSize int `envconfig:"VR_FRAME_INDEX_RING_SIZE" default:"4096"`
}

// LoadPipelineConfig reads a PipelineConfig from the process environment,
// applying spec-named defaults for anything unset.
func LoadPipelineConfig() (PipelineConfig, error) {
	var cfg PipelineConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}
