// Package vrstream implements the client-side streaming pipeline of a remote
// VR rendering session: FEC shard reassembly, decoder feeding, frame-index
// correlation, latency timelines and clock-offset estimation, and the
// return-path report generator. The XR runtime, the concrete decoder
// backend, graphics texture upload, input polling, and the server are all
// external collaborators reached only through the interfaces this package
// defines.
package vrstream

import (
	"sync/atomic"
	"time"
)

// epoch anchors the monotonic microsecond clock to process start. It is
// kept as a *time.Time (not nanoseconds since the Unix epoch) specifically
// so the reading carries Go's monotonic clock component: time.Time.Sub
// between two values that both carry a monotonic reading uses it instead of
// wall-clock arithmetic, so NowMicros cannot step backward on an NTP
// correction (spec.md §4.1 "must be strictly non-decreasing within a
// process").
var epoch atomic.Pointer[time.Time]

func init() {
	now := time.Now()
	epoch.Store(&now)
}

// NowMicros returns microseconds since an implementation-defined monotonic
// epoch. It is strictly non-decreasing within a process; every component in
// this package must read the clock through this function, never through
// time.Now() directly, so that EMA filters and per-second windows never see
// a wall-clock jump.
func NowMicros() uint64 {
	return uint64(time.Since(*epoch.Load()) / time.Microsecond)
}

// NowWallSeconds returns the current wall-clock time truncated to whole
// seconds, used only for bucketing per-second statistics. Unlike NowMicros
// this is allowed to jump with the system clock; it never feeds a latency
// computation.
func NowWallSeconds() int64 {
	return time.Now().Unix()
}

// resetEpoch re-bases the monotonic clock to now. It exists for tests that
// construct multiple pipeline sessions in one process and want timestamps
// that start near zero; production callers never need it.
func resetEpoch() {
	now := time.Now()
	epoch.Store(&now)
}

// shiftEpoch moves the epoch by d, used only by tests that need NowMicros
// to read a specific value deterministically. time.Time.Add shifts both the
// wall and monotonic components together, so the result still carries a
// monotonic reading.
func shiftEpoch(d time.Duration) {
	shifted := epoch.Load().Add(d)
	epoch.Store(&shifted)
}
