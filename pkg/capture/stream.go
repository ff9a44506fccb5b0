package capture

import "time"

// deliver builds the callback handed to the transport for one session.
// It runs on the producer context: no locks the consumer can hold, no
// allocation, no blocking. A full handoff queue voids the chunk and is
// accounted as a transfer error, the capture goroutine spoils the frame
// in flight when it notices.
func (d *Device) deliver(s *session) func(Chunk) {
	return func(c Chunk) {
		if d.epoch.Load() != s.epoch {
			return // stale transport session
		}
		select {
		case s.ch <- c:
		default:
			s.lost.Add(1)
			d.noteError(errnoEIO)
		}
	}
}

// captureLoop owns the assembler for one session. It is the only writer
// of armed buffer payloads, which is what makes the pool's lock-free
// payload access sound.
func (d *Device) captureLoop(s *session, p *pool, f Format) {
	defer close(s.dead)

	asm := assembler{pool: p, format: f}
	var lost uint32

	for {
		select {
		case c := <-s.ch:
			if d.epoch.Load() != s.epoch {
				return // stopped while this chunk sat in the queue
			}
			if n := s.lost.Load(); n != lost {
				lost = n
				if asm.abort() {
					d.stats.dropped.Add(1)
				}
			}
			d.consume(&asm, c)

		case <-s.quit:
			if asm.abort() {
				d.stats.dropped.Add(1)
			}
			return
		}
	}
}

// consume feeds one chunk through the assembler and keeps the counters
// honest. Chunk errors are absorbed here, the producer never sees them.
func (d *Device) consume(asm *assembler, c Chunk) {
	if c.Err != nil {
		d.noteError(Errno(c.Err))
	} else {
		d.stats.bytes.Add(uint64(len(c.Data)))
	}

	done, drops := asm.push(c, time.Now())
	if done {
		d.stats.frames.Add(1)
	}
	if drops > 0 {
		d.stats.dropped.Add(uint64(drops))
	}
}
