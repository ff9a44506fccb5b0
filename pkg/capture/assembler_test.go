package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func greyFormat(t *testing.T) Format {
	t.Helper()
	f := Negotiate(
		Format{Width: 160, Height: 120, FourCC: FourccGREY},
		[]uint32{FourccGREY}, FourccGREY,
	)
	require.Equal(t, uint32(19200), f.ImageSize)
	return f
}

func armedAssembler(t *testing.T, f Format) (*assembler, *pool) {
	t.Helper()
	p, err := newPool(MinBuffers, f.ImageSize)
	require.NoError(t, err)
	for i := 0; i < p.count(); i++ {
		require.NoError(t, p.queue(i))
	}
	return &assembler{pool: p, format: f}, p
}

func TestAssemblerMultiChunkFrame(t *testing.T) {
	f := greyFormat(t)
	asm, p := armedAssembler(t, f)

	payload := make([]byte, f.ImageSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	done, drops := asm.push(Chunk{Data: payload[:10000], Start: true}, time.Now())
	require.False(t, done)
	require.Zero(t, drops)

	done, drops = asm.push(Chunk{Data: payload[10000:], End: true}, time.Now())
	require.True(t, done)
	require.Zero(t, drops)

	b, err := p.dequeue(0)
	require.NoError(t, err)
	require.Equal(t, f.ImageSize, b.Length)
	require.Equal(t, payload, b.Data[:b.Length])
}

func TestAssemblerSingleChunkFrame(t *testing.T) {
	f := Negotiate(
		Format{Width: 160, Height: 120, FourCC: FourccMJPG},
		[]uint32{FourccMJPG}, FourccMJPG,
	)
	asm, p := armedAssembler(t, f)

	done, drops := asm.push(Chunk{Data: []byte("jpegdata"), Start: true, End: true}, time.Now())
	require.True(t, done)
	require.Zero(t, drops)

	b, err := p.dequeue(0)
	require.NoError(t, err)
	require.Equal(t, uint32(8), b.Length)
}

func TestAssemblerDoubleStartDropsFirst(t *testing.T) {
	f := greyFormat(t)
	asm, p := armedAssembler(t, f)

	done, drops := asm.push(Chunk{Data: make([]byte, 100), Start: true}, time.Now())
	require.False(t, done)
	require.Zero(t, drops)

	// a new start before the end flag voids the half-built frame
	done, drops = asm.push(Chunk{Data: make([]byte, f.ImageSize), Start: true, End: true}, time.Now())
	require.True(t, done)
	require.Equal(t, 1, drops)

	b, err := p.dequeue(0)
	require.NoError(t, err)
	require.Equal(t, f.ImageSize, b.Length)
}

func TestAssemblerShortFrameDropped(t *testing.T) {
	f := greyFormat(t)
	asm, _ := armedAssembler(t, f)

	done, drops := asm.push(Chunk{Data: make([]byte, 100), Start: true, End: true}, time.Now())
	require.False(t, done)
	require.Equal(t, 1, drops)
}

func TestAssemblerOverflowDropped(t *testing.T) {
	f := greyFormat(t)
	asm, p := armedAssembler(t, f)

	oversize := make([]byte, f.ImageSize+10)
	done, drops := asm.push(Chunk{Data: oversize, Start: true, End: true}, time.Now())
	require.False(t, done)
	require.Equal(t, 1, drops)

	_, err := p.dequeue(0)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestAssemblerErrorVoidsFrame(t *testing.T) {
	f := greyFormat(t)
	asm, _ := armedAssembler(t, f)

	done, drops := asm.push(Chunk{Data: make([]byte, 100), Start: true}, time.Now())
	require.False(t, done)
	require.Zero(t, drops)

	done, drops = asm.push(Chunk{Err: ErrTransfer}, time.Now())
	require.False(t, done)
	require.Equal(t, 1, drops)

	// leftovers of the voided frame are ignored
	done, drops = asm.push(Chunk{Data: make([]byte, 100), End: true}, time.Now())
	require.False(t, done)
	require.Zero(t, drops)

	// next complete frame lands fine
	done, drops = asm.push(Chunk{Data: make([]byte, f.ImageSize), Start: true, End: true}, time.Now())
	require.True(t, done)
	require.Zero(t, drops)
}

func TestAssemblerNoArmedBuffer(t *testing.T) {
	f := greyFormat(t)
	p, err := newPool(MinBuffers, f.ImageSize)
	require.NoError(t, err)
	asm := &assembler{pool: p, format: f}

	// nothing armed, the frame is counted lost once at its start
	done, drops := asm.push(Chunk{Data: make([]byte, 100), Start: true}, time.Now())
	require.False(t, done)
	require.Equal(t, 1, drops)

	done, drops = asm.push(Chunk{Data: make([]byte, 100), End: true}, time.Now())
	require.False(t, done)
	require.Zero(t, drops)
}

func TestAssemblerCompressedEmptyDropped(t *testing.T) {
	f := Negotiate(
		Format{Width: 160, Height: 120, FourCC: FourccMJPG},
		[]uint32{FourccMJPG}, FourccMJPG,
	)
	asm, _ := armedAssembler(t, f)

	done, drops := asm.push(Chunk{Start: true, End: true}, time.Now())
	require.False(t, done)
	require.Equal(t, 1, drops)
}
