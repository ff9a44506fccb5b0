package virtual

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uvcam/uvcam/pkg/capture"
)

func greyFormat() capture.Format {
	return capture.Negotiate(
		capture.Format{Width: 160, Height: 120, FourCC: capture.FourccGREY},
		[]uint32{capture.FourccGREY}, capture.FourccGREY,
	)
}

func TestOpen(t *testing.T) {
	s, err := Open("virtual:?fourcc=MJPG&fps=60&card=Door")
	require.NoError(t, err)

	caps := s.Capability()
	require.Equal(t, "uvcam-virtual", caps.Driver)
	require.Equal(t, "Door", caps.Card)
	require.Equal(t, uint32(capture.FourccMJPG), caps.Formats[0])
	require.Len(t, caps.Formats, 4)

	_, err = Open("virtual:?fps=0")
	require.Error(t, err)

	_, err = Open("virtual:?fourcc=BAD")
	require.Error(t, err)
}

func TestStreamChunks(t *testing.T) {
	s, err := Open("virtual:?fourcc=GREY&fps=100&chunks=3")
	require.NoError(t, err)

	f := greyFormat()
	chunks := make(chan capture.Chunk, 256)
	require.NoError(t, s.Stream(f, func(c capture.Chunk) {
		chunks <- c // payloads are handed off, keeping them is fine
	}))
	defer s.Stop()

	// reassemble one complete frame
	var total int
	var started bool
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-chunks:
			require.NoError(t, c.Err)
			if c.Start {
				started = true
				total = 0
			}
			if !started {
				continue // tail of a frame we joined mid-flight
			}
			total += len(c.Data)
			if c.End {
				require.Equal(t, int(f.ImageSize), total)
				return
			}
		case <-deadline:
			t.Fatal("no frame in time")
		}
	}
}

// a delivered payload belongs to the consumer for good, later frames
// must never repaint it while it waits in the engine's handoff queue
func TestChunkPayloadStability(t *testing.T) {
	s, err := Open("virtual:?fourcc=GREY&fps=200&chunks=4")
	require.NoError(t, err)

	var mu sync.Mutex
	var retained []byte // first delivered chunk, held like a queued one
	var want []byte
	var frames int

	require.NoError(t, s.Stream(greyFormat(), func(c capture.Chunk) {
		mu.Lock()
		defer mu.Unlock()
		if retained == nil {
			retained = c.Data
			want = append([]byte(nil), c.Data...)
		}
		if c.End {
			frames++
		}
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return frames >= 8
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	require.Equal(t, want, retained)
}

func TestStopQuiesces(t *testing.T) {
	s, err := Open("virtual:?fourcc=GREY&fps=100")
	require.NoError(t, err)

	var count int
	var last time.Time
	require.NoError(t, s.Stream(greyFormat(), func(capture.Chunk) {
		count++
		last = time.Now()
	}))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())
	stopped := time.Now()

	require.Positive(t, count)
	require.False(t, last.After(stopped)) // nothing delivered past Stop

	// restartable after a stop
	require.NoError(t, s.Stream(greyFormat(), func(capture.Chunk) {}))
	require.NoError(t, s.Stop())
}

func TestFaultInjection(t *testing.T) {
	s, err := Open("virtual:?fourcc=GREY&fps=100&faults=1")
	require.NoError(t, err)

	errs := make(chan error, 16)
	require.NoError(t, s.Stream(greyFormat(), func(c capture.Chunk) {
		if c.Err != nil {
			errs <- c.Err
		}
	}))
	defer s.Stop()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, capture.ErrTransfer)
	case <-time.After(2 * time.Second):
		t.Fatal("no injected fault")
	}
}

func TestResetFailures(t *testing.T) {
	s, err := Open("virtual:?resets=2")
	require.NoError(t, err)

	require.Error(t, s.Reset())
	require.Error(t, s.Reset())
	require.NoError(t, s.Reset())
}

// end to end through the capture engine
func TestCaptureIntegration(t *testing.T) {
	s, err := Open("virtual:?fourcc=GREY&fps=100")
	require.NoError(t, err)

	dev, err := capture.Attach("virt", s, nil)
	require.NoError(t, err)
	defer dev.Close()

	f, err := dev.SetFormat(capture.Format{Width: 160, Height: 120, FourCC: capture.FourccGREY})
	require.NoError(t, err)
	require.NoError(t, dev.StartStreaming())

	b, err := dev.DequeueBuffer(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, f.ImageSize, b.Length)

	require.NoError(t, dev.QueueBuffer(b.ID))
	require.NoError(t, dev.StopStreaming())

	stats := dev.Statistics()
	require.Positive(t, stats.FramesReceived)
	require.Zero(t, stats.ErrorCount)
}

func TestCorruptFramesDropped(t *testing.T) {
	s, err := Open("virtual:?fourcc=GREY&fps=100&corrupt=1")
	require.NoError(t, err)

	dev, err := capture.Attach("virt", s, nil)
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.SetFormat(capture.Format{Width: 160, Height: 120, FourCC: capture.FourccGREY})
	require.NoError(t, err)
	require.NoError(t, dev.StartStreaming())

	// every frame overflows, none may be delivered
	require.Eventually(t, func() bool {
		return dev.Statistics().FramesDropped >= 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, dev.Statistics().FramesReceived)

	_, err = dev.DequeueBuffer(0)
	require.ErrorIs(t, err, capture.ErrWouldBlock)
}
