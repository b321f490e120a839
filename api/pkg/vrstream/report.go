package vrstream

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ReportTransport is the outbound collaborator the report generator hands
// finished packets to (spec.md §6 "Process inputs", callback
// send_time_sync).
type ReportTransport interface {
	SendTimeSync(TimeSyncPacket)
	SendVideoErrorReport()
}

// ReportGenerator is the return-path report generator (C10). It reads the
// latest C2/C3 snapshot on every frame submit (or on an explicit trigger)
// and hands a TIME_SYNC report packet to the outbound transport (spec.md
// §4.10).
type ReportGenerator struct {
	timeline  *Timeline
	clock     *ClockOffsetEstimator
	transport ReportTransport

	sequence atomic.Uint64
}

// NewReportGenerator constructs a report generator reading from timeline and
// clock, writing to transport.
func NewReportGenerator(timeline *Timeline, clock *ClockOffsetEstimator, transport ReportTransport) *ReportGenerator {
	return &ReportGenerator{timeline: timeline, clock: clock, transport: transport}
}

// EmitSubmitReport builds and sends a full statistics snapshot, called on
// every frame submit (spec.md §4.10).
func (r *ReportGenerator) EmitSubmitReport() {
	r.transport.SendTimeSync(r.buildReport(false))
}

// EmitRerenderReport emits a report with zero latencies but current error
// counts, used when the render loop repeats the last frame instead of
// advancing to a freshly decoded one (spec.md §4.10 "re-render path").
func (r *ReportGenerator) EmitRerenderReport() {
	report := r.buildReport(true)
	r.transport.SendTimeSync(report)
}

// EmitVideoErrorReport notifies the transport of an unrecoverable FEC
// failure (spec.md §7 error kind 2, §6 "VIDEO_ERROR_REPORT").
func (r *ReportGenerator) EmitVideoErrorReport() {
	r.transport.SendVideoErrorReport()
}

func (r *ReportGenerator) buildReport(zeroLatencies bool) TimeSyncPacket {
	counters := r.timeline.Snapshot()

	p := TimeSyncPacket{
		Type:                PacketTypeTimeSync,
		Mode:                TimeSyncModeReport,
		Sequence:            r.sequence.Add(1),
		ClientTimeUs:        NowMicros(),
		PacketsLostTotal:    counters.PacketsLostTotal,
		PacketsLostInSecond: counters.PacketsLostInSecond,
		FECFailure:          counters.FECFailureInSecond > 0,
		FECFailureInSecond:  counters.FECFailureInSecond,
		FECFailureTotal:     counters.FECFailureTotal,
	}

	if !zeroLatencies {
		p.AverageTotalLatencyUs = uint32(r.timeline.Latency(LatencyTotal))
		p.AverageSendLatencyUs = uint32(r.timeline.Latency(LatencySendOneWay))
		p.AverageTransportLatency = uint32(r.timeline.Latency(LatencyTransport))
		p.AverageDecodeLatencyUs = r.timeline.Latency(LatencyDecode)
		p.IdleTimeUs = uint32(r.timeline.Latency(LatencyRenderIdle))
		p.FPS = float32(r.timeline.FPS())
	}

	if p.FECFailure {
		log.Debug().Int64("last_rtt_us", r.clock.LastRTT()).Msg("vrstream: reporting fec failure alongside current rtt")
	}

	return p
}
