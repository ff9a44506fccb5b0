package capture

import (
	"encoding/json"
	"sync"
	"time"
)

// BufferState tracks who owns a buffer. Every buffer is in exactly one
// state, transitions happen under the pool mutex, payload access happens
// outside it because each state has a single owner.
type BufferState uint8

const (
	BufferFree     BufferState = iota // unowned, waiting to be queued
	BufferArmed                       // queued for capture, producer owns it
	BufferReady                       // filled frame, waiting for dequeue
	BufferConsumed                    // dequeued, consumer owns it
	BufferFailed                      // abandoned by stop or a fatal error
)

func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferArmed:
		return "armed"
	case BufferReady:
		return "ready"
	case BufferConsumed:
		return "consumed"
	case BufferFailed:
		return "failed"
	}
	return "unknown"
}

// Pool size limits. Fewer than two buffers can't overlap capture with
// consumption, more than four just adds latency.
const (
	MinBuffers = 2
	MaxBuffers = 4
)

// Arena ceiling, prevents a bogus negotiated size from taking the
// process down on allocation.
const maxArenaBytes = 64 << 20

// Buffer is one fixed slot of the pool arena. Data capacity is set at
// allocation, Length is the payload size of the last completed frame.
type Buffer struct {
	ID        int
	Data      []byte
	Length    uint32
	State     BufferState
	Timestamp time.Time
}

func (b Buffer) MarshalJSON() ([]byte, error) {
	var v struct {
		ID        int       `json:"id"`
		State     string    `json:"state"`
		Length    uint32    `json:"length"`
		Capacity  int       `json:"capacity"`
		Timestamp time.Time `json:"timestamp"`
	}
	v.ID = b.ID
	v.State = b.State.String()
	v.Length = b.Length
	v.Capacity = cap(b.Data)
	v.Timestamp = b.Timestamp
	return json.Marshal(v)
}

// idFIFO is a fixed ring of buffer ids. The pool never outgrows
// MaxBuffers, so queue operations stay allocation free.
type idFIFO struct {
	ids  []int
	head int
	size int
}

func newFIFO(n int) idFIFO {
	return idFIFO{ids: make([]int, n)}
}

func (q *idFIFO) push(id int) {
	q.ids[(q.head+q.size)%len(q.ids)] = id
	q.size++
}

func (q *idFIFO) pop() int {
	id := q.ids[q.head]
	q.head = (q.head + 1) % len(q.ids)
	q.size--
	return id
}

func (q *idFIFO) peek() int {
	return q.ids[q.head]
}

// pool owns the buffer arena and the two ownership queues. The mutex is
// held only for O(1) bookkeeping, payload bytes are read and written by
// whoever owns the buffer at the time.
type pool struct {
	mu    sync.Mutex
	bufs  []Buffer
	armed idFIFO // capture order
	ready idFIFO // completion order

	wake chan struct{} // pulsed when a frame becomes ready
	done chan struct{} // closed on release, fails every waiter
	why  error         // what to tell waiters, set before done closes
	once sync.Once
}

// newPool allocates count buffers of size bytes as one arena. The count
// is clamped to [MinBuffers, MaxBuffers].
func newPool(count int, size uint32) (*pool, error) {
	if size == 0 {
		return nil, ErrInvalidParam
	}
	if count < MinBuffers {
		count = MinBuffers
	} else if count > MaxBuffers {
		count = MaxBuffers
	}
	if uint64(size)*uint64(count) > maxArenaBytes {
		return nil, ErrNoMemory
	}

	arena := make([]byte, int(size)*count)
	p := &pool{
		bufs:  make([]Buffer, count),
		armed: newFIFO(count),
		ready: newFIFO(count),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for i := range p.bufs {
		p.bufs[i] = Buffer{ID: i, Data: arena[i*int(size) : (i+1)*int(size)]}
	}
	return p, nil
}

func (p *pool) count() int {
	return len(p.bufs)
}

func (p *pool) size() uint32 {
	if len(p.bufs) == 0 {
		return 0
	}
	return uint32(cap(p.bufs[0].Data))
}

// queue hands a buffer back to the capture side. Unknown ids are an
// argument error, queueing a buffer the pool still owns is a conflict.
func (p *pool) queue(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.bufs) {
		return ErrInvalidParam
	}
	switch p.bufs[id].State {
	case BufferFree, BufferConsumed, BufferFailed:
	default:
		return ErrBusy
	}

	p.bufs[id].State = BufferArmed
	p.bufs[id].Length = 0
	p.armed.push(id)
	return nil
}

// target returns the buffer the next frame is assembled into. The
// caller owns the payload until it calls complete or the buffer is
// drained, so touching Data after return is safe without the lock.
func (p *pool) target() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.armed.size == 0 {
		return nil, false
	}
	return &p.bufs[p.armed.peek()], true
}

// complete commits the head of the capture queue as a ready frame.
// Completion out of capture order means the assembler lost track, treat
// it as an argument error rather than corrupting the queues.
func (p *pool) complete(id int, length uint32, ts time.Time) error {
	p.mu.Lock()

	if p.armed.size == 0 || p.armed.peek() != id {
		p.mu.Unlock()
		return ErrInvalidParam
	}
	b := &p.bufs[id]
	if length > uint32(cap(b.Data)) {
		p.mu.Unlock()
		return ErrBufferTooSmall
	}

	p.armed.pop()
	b.State = BufferReady
	b.Length = length
	b.Timestamp = ts
	p.ready.push(id)
	p.mu.Unlock()

	p.signal()
	return nil
}

// dequeue takes the oldest ready frame. Zero timeout polls, positive
// timeout blocks until a frame, the deadline or a release. Release wins
// over a ready frame because the arena is going away.
func (p *pool) dequeue(timeout time.Duration) (*Buffer, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-p.done:
			return nil, p.why
		default:
		}

		p.mu.Lock()
		if p.ready.size > 0 {
			id := p.ready.pop()
			b := &p.bufs[id]
			b.State = BufferConsumed
			more := p.ready.size > 0
			p.mu.Unlock()

			if more {
				p.signal() // keep the next waiter moving
			}
			return b, nil
		}
		p.mu.Unlock()

		if timeout == 0 {
			return nil, ErrWouldBlock
		}

		select {
		case <-p.wake:
		case <-deadline:
			return nil, ErrWouldBlock
		case <-p.done:
			return nil, p.why
		}
	}
}

// mapping exposes the payload region of a buffer. Valid in any state,
// reading a region the producer is writing is the caller's race to lose.
func (p *pool) mapping(id int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.bufs) {
		return nil, ErrInvalidParam
	}
	return p.bufs[id].Data, nil
}

// drain abandons every armed buffer, used when streaming stops.
func (p *pool) drain(to BufferState) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for p.armed.size > 0 {
		p.bufs[p.armed.pop()].State = to
		n++
	}
	return n
}

// flushReady abandons completed frames nobody consumed, so a dequeue
// after stop can't return a stale image.
func (p *pool) flushReady(to BufferState) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for p.ready.size > 0 {
		p.bufs[p.ready.pop()].State = to
		n++
	}
	return n
}

// release fails every current and future dequeue with reason. Called on
// detach and when the pool is replaced under a waiter.
func (p *pool) release(reason error) {
	p.once.Do(func() {
		p.why = reason
		close(p.done)
	})
}

// held counts buffers the consumer side still owns.
func (p *pool) held() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for i := range p.bufs {
		if p.bufs[i].State == BufferConsumed {
			n++
		}
	}
	return n
}

func (p *pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// snapshot copies buffer metadata without payloads. Walking the arena is
// also the ownership audit: every buffer shows up exactly once.
func (p *pool) snapshot() []Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Buffer, len(p.bufs))
	for i, b := range p.bufs {
		b.Data = b.Data[:0:cap(b.Data)]
		out[i] = b
	}
	return out
}
