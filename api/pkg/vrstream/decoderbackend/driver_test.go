package decoderbackend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexavr/vrstream/api/pkg/vrstream"
)

func TestDriver_RoundTripsTrackingFrameIndex(t *testing.T) {
	queue := vrstream.NewDecodeQueue(4, nil)
	timeline := vrstream.NewTimeline(16)
	backend := NewDummyBackend(64, 64)

	var published []uint64
	done := make(chan struct{}, 4)
	driver := NewDriver(queue, timeline, backend, 64, func(surface DecodedSurface, tfi uint64) {
		published = append(published, tfi)
		done <- struct{}{}
	})

	go driver.Run()
	defer driver.Stop()

	sps := annexB([]byte{0x67, 0x01})
	pps := annexB([]byte{0x68, 0x01})
	idr := annexB([]byte{0x65, 0x01})

	require.NoError(t, queue.Push(vrstream.FrameItem{TrackingFrameIndex: 100, Buffer: append(append(sps, pps...), idr...)}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decode completion")
	}

	require.Len(t, published, 1)
	assert.Equal(t, uint64(100), published[0])
}

func TestDriver_DropsDeltaFrameWhileWaitingForIDR(t *testing.T) {
	queue := vrstream.NewDecodeQueue(4, nil)
	timeline := vrstream.NewTimeline(16)
	backend := NewDummyBackend(64, 64)

	var published []uint64
	driver := NewDriver(queue, timeline, backend, 64, func(surface DecodedSurface, tfi uint64) {
		published = append(published, tfi)
	})

	go driver.Run()
	defer driver.Stop()

	// First frame carries config + IDR, configuring the backend.
	sps := annexB([]byte{0x67, 0x01})
	pps := annexB([]byte{0x68, 0x01})
	idr := annexB([]byte{0x65, 0x01})
	require.NoError(t, queue.Push(vrstream.FrameItem{TrackingFrameIndex: 1, Buffer: append(append(sps, pps...), idr...)}))
	time.Sleep(50 * time.Millisecond)

	// Simulate an explicit IDR request, which re-arms waitingForIDR; a
	// subsequent delta frame must be dropped rather than submitted.
	driver.waitingForIDR.Store(true)
	delta := annexB([]byte{0x61, 0x02})
	require.NoError(t, queue.Push(vrstream.FrameItem{TrackingFrameIndex: 2, Buffer: delta}))
	time.Sleep(50 * time.Millisecond)

	require.Len(t, published, 1, "the dropped delta frame must not produce a second completion")
	assert.Equal(t, uint64(1), published[0])
}
