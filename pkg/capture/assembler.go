package capture

import "time"

// assembler rebuilds frames from chunk sequences into pool buffers. It
// runs only on the device capture goroutine, so it needs no locking of
// its own. A frame opens on a start flag, accumulates into the head of
// the armed queue and commits on an end flag. Anything that breaks that
// shape voids the frame in flight, a partial image is never delivered.
type assembler struct {
	pool   *pool
	format Format

	open    bool
	id      int
	dst     []byte
	written uint32
	spoiled bool
}

// push consumes one chunk. done reports a committed frame, drops is the
// number of frames abandoned while handling the chunk.
func (a *assembler) push(c Chunk, now time.Time) (done bool, drops int) {
	if c.Err != nil {
		if a.open {
			a.open = false
			drops++
		}
		return
	}

	if c.Start {
		if a.open {
			// previous frame never closed, the device skipped its end
			a.open = false
			drops++
		}
		b, ok := a.pool.target()
		if !ok {
			// no buffer armed, the frame has nowhere to land
			return false, drops + 1
		}
		a.open = true
		a.id = b.ID
		a.dst = b.Data
		a.written = 0
		a.spoiled = false
	}

	if !a.open {
		// tail of a frame we already gave up on
		return
	}

	n := copy(a.dst[a.written:], c.Data)
	a.written += uint32(n)
	if n < len(c.Data) {
		// device sent more than the negotiated size, keep collecting
		// boundaries but the frame is lost
		a.spoiled = true
	}

	if c.End {
		a.open = false
		if a.spoiled || !a.sizeOK() {
			return false, drops + 1
		}
		if a.pool.complete(a.id, a.written, now) != nil {
			return false, drops + 1
		}
		done = true
	}
	return
}

// sizeOK checks the committed payload against the negotiated format.
// Packed frames must match the image size exactly, compressed payloads
// only have to be non-empty.
func (a *assembler) sizeOK() bool {
	if Compressed(a.format.FourCC) {
		return a.written > 0
	}
	return a.written == a.format.ImageSize
}

// abort drops the frame in flight, if any. Used when streaming stops
// with a frame half assembled.
func (a *assembler) abort() (dropped bool) {
	dropped = a.open
	a.open = false
	return
}
