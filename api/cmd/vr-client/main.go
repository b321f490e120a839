// vr-client is a thin wiring harness for the client-side VR streaming
// pipeline: it constructs a pipeline.Context from environment configuration
// with a DummyBackend and callbacks that only log, with no transport and no
// XR runtime attached, then waits for SIGINT/SIGTERM and shuts the pipeline
// down. No packets are fed to the pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexavr/vrstream/api/pkg/vrstream"
	"github.com/nexavr/vrstream/api/pkg/vrstream/decoderbackend"
	"github.com/nexavr/vrstream/api/pkg/vrstream/pipeline"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := vrstream.LoadPipelineConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("vr-client: failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend := decoderbackend.NewDummyBackend(1920, 1080)

	callbacks := pipeline.Callbacks{
		SendTracking: func(buf []byte) {
			log.Debug().Int("bytes", len(buf)).Msg("vr-client: send_tracking (no transport attached)")
		},
		SendTimeSync: func(p vrstream.TimeSyncPacket) {
			log.Debug().Uint32("mode", uint32(p.Mode)).Msg("vr-client: send_time_sync (no transport attached)")
		},
		SendVideoErrorReport: func() {
			log.Warn().Msg("vr-client: video error report")
		},
		SendBattery: func(buf []byte) {},
		RequestIDR: func() {
			log.Info().Msg("vr-client: idr requested")
		},
		SetWaitingNextIDR: func(waiting bool) {},
	}

	opts := pipeline.Options{
		Codec:                 cfg.Codec,
		EnableFEC:             cfg.EnableFEC,
		RefreshRate:           cfg.RefreshRate,
		CPUThreadCount:        cfg.CPUThreads,
		RealtimePriority:      cfg.RealtimePrio,
		NoServerFramerateLock: cfg.NoServerFramerateLock,
		NoFrameSkip:           cfg.NoFrameSkip,
		ShardSize:             cfg.ShardSize,
		MaxTimelineFrames:     cfg.MaxTimelineFrames,
		DecodeQueueDepth:      cfg.DecodeQueueDepth,
		FrameIndexRingSize:    cfg.FrameIndexRingSize,
	}

	pc := pipeline.Init(callbacks, opts, backend)
	log.Info().Msg("vr-client: pipeline initialized, awaiting packets")

	<-ctx.Done()
	log.Info().Msg("vr-client: shutting down")
	pc.Shutdown()
}
