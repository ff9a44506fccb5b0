package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseOp(t *testing.T) {
	op, err := ParseOp("stream_on")
	require.NoError(t, err)
	require.Equal(t, OpStreamOn, op)
	require.Equal(t, "stream_on", op.String())

	_, err = ParseOp("reboot")
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestControlDispatch(t *testing.T) {
	tr := newFakeTransport()
	d := greyDevice(t, tr)

	res, err := d.Control(Request{Op: OpQueryCap})
	require.NoError(t, err)
	require.Equal(t, "fake", res.(Capability).Driver)

	res, err = d.Control(Request{Op: OpEnumFormats})
	require.NoError(t, err)
	require.Equal(t, []string{"YUYV", "GREY", "MJPG"}, res)

	res, err = d.Control(Request{
		Op:     OpSetFormat,
		Format: Format{Width: 320, Height: 240, FourCC: FourccGREY},
	})
	require.NoError(t, err)
	require.Equal(t, uint32(320), res.(Format).Width)

	res, err = d.Control(Request{Op: OpRequestBuffers, Count: 3})
	require.NoError(t, err)
	require.Equal(t, 3, res)

	_, err = d.Control(Request{Op: OpQueueBuffer, Buffer: 0})
	require.NoError(t, err)

	_, err = d.Control(Request{Op: OpStreamOn})
	require.NoError(t, err)

	payload := make([]byte, d.GetFormat().ImageSize)
	tr.frame(payload, 2)

	res, err = d.Control(Request{Op: OpDequeueBuffer, Timeout: time.Second})
	require.NoError(t, err)
	require.Equal(t, d.GetFormat().ImageSize, res.(*Buffer).Length)

	res, err = d.Control(Request{Op: OpMapBuffer, Buffer: 0})
	require.NoError(t, err)
	require.Len(t, res.([]byte), int(d.GetFormat().ImageSize))

	require.Eventually(t, func() bool {
		res, err = d.Control(Request{Op: OpStatistics})
		return err == nil && res.(Statistics).FramesReceived == 1
	}, time.Second, 5*time.Millisecond)

	_, err = d.Control(Request{Op: OpStreamOff})
	require.NoError(t, err)

	_, err = d.Control(Request{Op: 99})
	require.ErrorIs(t, err, ErrInvalidParam)
}
