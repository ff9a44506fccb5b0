package capture

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State of the device lifecycle.
type State uint8

const (
	StateDisconnected State = iota
	StateConnected
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Defaults for Options zero fields.
const (
	DefaultErrorThreshold = 8
	DefaultErrorWindow    = 10 * time.Second
	DefaultQuiesceTimeout = time.Second
	DefaultChunkQueue     = 64
)

// Options tunes device behavior. The zero value picks the defaults.
type Options struct {
	// ErrorThreshold streaming errors within ErrorWindow put the device
	// into the error state and schedule a transport reset.
	ErrorThreshold int
	ErrorWindow    time.Duration

	// QuiesceTimeout bounds how long stop waits for the capture
	// goroutine to exit.
	QuiesceTimeout time.Duration

	// ChunkQueue is the depth of the producer to capture goroutine
	// handoff. Overflow counts as a transfer error.
	ChunkQueue int

	// OnState is called after every state transition, never from the
	// producer path. It must not call back into the device.
	OnState func(State)
}

// session is one streaming run. A new session gets a new epoch, chunks
// carrying an old epoch are discarded instead of cancelled in place.
type session struct {
	epoch uint32
	ch    chan Chunk
	quit  chan struct{}
	dead  chan struct{}
	lost  atomic.Uint32 // chunks dropped on handoff overflow
}

// Device is the streaming engine for one camera. All control operations
// are safe for concurrent use and serialized by the control mutex, the
// producer path never takes it.
type Device struct {
	Name string

	tr   Transport
	caps Capability
	opts Options

	ctrl sync.Mutex // control surface, consumer context only

	mu     sync.Mutex // cheap shared fields, O(1) hold from both contexts
	state  State
	format Format
	pool   *pool
	sess   *session
	errAt  []int64 // ring of recent error times, unix nanos
	errIdx int
	retry  int
	timer  *time.Timer

	epoch   atomic.Uint32
	failing atomic.Bool
	stats   stats
}

// Attach binds a transport and returns a device handle in the connected
// state. The initial format is the preferred fourcc at VGA.
func Attach(name string, tr Transport, opts *Options) (*Device, error) {
	if name == "" || tr == nil {
		return nil, ErrInvalidParam
	}
	caps := tr.Capability()
	if len(caps.Formats) == 0 {
		return nil, fmt.Errorf("%w: transport reports no formats", ErrInvalidParam)
	}

	d := &Device{Name: name, tr: tr, caps: caps, state: StateConnected}
	if opts != nil {
		d.opts = *opts
	}
	if d.opts.ErrorThreshold <= 0 {
		d.opts.ErrorThreshold = DefaultErrorThreshold
	}
	if d.opts.ErrorWindow <= 0 {
		d.opts.ErrorWindow = DefaultErrorWindow
	}
	if d.opts.QuiesceTimeout <= 0 {
		d.opts.QuiesceTimeout = DefaultQuiesceTimeout
	}
	if d.opts.ChunkQueue <= 0 {
		d.opts.ChunkQueue = DefaultChunkQueue
	}
	d.errAt = make([]int64, d.opts.ErrorThreshold)

	d.format = Negotiate(
		Format{Width: DefaultWidth, Height: DefaultHeight, FourCC: caps.Formats[0]},
		caps.Formats, caps.Formats[0],
	)
	return d, nil
}

func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()

	if d.opts.OnState != nil {
		d.opts.OnState(s)
	}
}

// Capability reports what the transport advertised at attach time.
func (d *Device) Capability() Capability {
	return d.caps
}

// EnumFormats lists supported fourcc codes, preferred first.
func (d *Device) EnumFormats() []uint32 {
	return append([]uint32(nil), d.caps.Formats...)
}

func (d *Device) GetFormat() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// SetFormat negotiates and applies a frame layout. While streaming only
// the current format is accepted, so a concurrent re-apply stays
// harmless. Changing the layout drops the buffer pool, which requires
// the consumer to hold no buffers.
func (d *Device) SetFormat(req Format) (Format, error) {
	d.ctrl.Lock()
	defer d.ctrl.Unlock()

	if d.State() == StateDisconnected {
		return Format{}, ErrDisconnected
	}

	f := Negotiate(req, d.caps.Formats, d.caps.Formats[0])

	d.mu.Lock()
	same := f == d.format
	streaming := d.state == StateStreaming
	p := d.pool
	d.mu.Unlock()

	if same {
		return f, nil
	}
	if streaming {
		return Format{}, fmt.Errorf("%w: streaming with %s", ErrBusy, d.format)
	}
	if p != nil {
		if p.held() > 0 {
			return Format{}, fmt.Errorf("%w: consumer holds buffers", ErrBusy)
		}
		p.release(ErrInvalidState)
	}

	d.mu.Lock()
	d.format = f
	d.pool = nil
	d.mu.Unlock()
	return f, nil
}

// RequestBuffers sizes the pool for the current format and returns the
// actual count, clamped to [MinBuffers, MaxBuffers]. Zero releases the
// pool. The old pool must have no consumer-held buffers.
func (d *Device) RequestBuffers(count int) (int, error) {
	d.ctrl.Lock()
	defer d.ctrl.Unlock()

	switch d.State() {
	case StateDisconnected:
		return 0, ErrDisconnected
	case StateStreaming:
		return 0, fmt.Errorf("%w: streaming", ErrBusy)
	}
	if count < 0 {
		return 0, ErrInvalidParam
	}

	old := d.getPool()
	if old != nil && old.held() > 0 {
		return 0, fmt.Errorf("%w: consumer holds buffers", ErrBusy)
	}

	var p *pool
	if count > 0 {
		var err error
		if p, err = newPool(count, d.GetFormat().ImageSize); err != nil {
			return 0, err
		}
	}

	if old != nil {
		old.release(ErrInvalidState)
	}
	d.mu.Lock()
	d.pool = p
	d.mu.Unlock()

	if p == nil {
		return 0, nil
	}
	return p.count(), nil
}

// QueueBuffer arms a buffer for capture.
func (d *Device) QueueBuffer(id int) error {
	p, err := d.usablePool()
	if err != nil {
		return err
	}
	return p.queue(id)
}

// DequeueBuffer waits up to timeout for a completed frame. Zero timeout
// polls. A detach fails the wait immediately with ErrDisconnected.
func (d *Device) DequeueBuffer(timeout time.Duration) (*Buffer, error) {
	p, err := d.usablePool()
	if err != nil {
		return nil, err
	}
	return p.dequeue(timeout)
}

// MapBuffer exposes the payload region of a buffer. The slice stays
// readable until the pool is released.
func (d *Device) MapBuffer(id int) ([]byte, error) {
	p, err := d.usablePool()
	if err != nil {
		return nil, err
	}
	return p.mapping(id)
}

func (d *Device) usablePool() (*pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateDisconnected {
		return nil, ErrDisconnected
	}
	if d.pool == nil {
		return nil, fmt.Errorf("%w: no buffers requested", ErrInvalidState)
	}
	return d.pool, nil
}

// Statistics snapshots the streaming counters.
func (d *Device) Statistics() Statistics {
	return d.stats.snapshot()
}

// Buffers snapshots buffer metadata for inspection.
func (d *Device) Buffers() []Buffer {
	if p := d.getPool(); p != nil {
		return p.snapshot()
	}
	return nil
}

func (d *Device) getPool() *pool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pool
}

// StartStreaming begins frame delivery. A pool is created on demand at
// the maximum count, free and failed buffers are armed automatically,
// buffers the consumer holds stay out. Counters reset here so a session
// starts clean. Starting while streaming is a conflict and changes
// nothing.
func (d *Device) StartStreaming() error {
	d.ctrl.Lock()
	defer d.ctrl.Unlock()

	switch d.State() {
	case StateConnected:
	case StateStreaming:
		return ErrBusy
	case StateError:
		return fmt.Errorf("%w: recovering", ErrInvalidState)
	default:
		return ErrDisconnected
	}

	created := false
	p := d.getPool()
	if p == nil {
		var err error
		if p, err = newPool(MaxBuffers, d.GetFormat().ImageSize); err != nil {
			return err
		}
		created = true
	}

	for _, b := range p.snapshot() {
		if b.State == BufferFree || b.State == BufferFailed {
			_ = p.queue(b.ID)
		}
	}

	d.stats.reset()
	s := &session{
		epoch: d.epoch.Add(1),
		ch:    make(chan Chunk, d.opts.ChunkQueue),
		quit:  make(chan struct{}),
		dead:  make(chan struct{}),
	}

	d.mu.Lock()
	d.pool = p
	d.sess = s
	d.errIdx = 0
	d.mu.Unlock()

	format := d.GetFormat()
	go d.captureLoop(s, p, format)

	if err := d.tr.Stream(format, d.deliver(s)); err != nil {
		close(s.quit)
		<-s.dead

		d.mu.Lock()
		d.sess = nil
		if created {
			d.pool = nil
		}
		d.mu.Unlock()

		if created {
			p.release(ErrInvalidState)
		} else {
			// nothing of the aborted session may linger in the kept pool
			p.drain(BufferFailed)
			p.flushReady(BufferFailed)
		}

		d.stats.lastErr.Store(errnoEIO)
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	d.setState(StateStreaming)
	return nil
}

// StopStreaming halts delivery and drains in-flight buffers to the
// failed state, including completed frames nobody dequeued. The pool
// itself survives for the next session.
func (d *Device) StopStreaming() error {
	d.ctrl.Lock()
	defer d.ctrl.Unlock()

	if d.State() != StateStreaming {
		return fmt.Errorf("%w: not streaming", ErrInvalidState)
	}
	d.shutdown()
	d.setState(StateConnected)
	return nil
}

// shutdown quiesces the transport and the capture goroutine, then
// abandons every in-flight buffer. Callers hold the control mutex.
func (d *Device) shutdown() {
	d.epoch.Add(1) // stale deliveries turn into no-ops first

	_ = d.tr.Stop()

	d.mu.Lock()
	s := d.sess
	d.sess = nil
	d.mu.Unlock()

	if s != nil {
		close(s.quit)
		select {
		case <-s.dead:
		case <-time.After(d.opts.QuiesceTimeout):
		}
	}

	if p := d.getPool(); p != nil {
		p.drain(BufferFailed)
		p.flushReady(BufferFailed)
	}
}

// Close detaches the device. Blocked dequeues fail immediately, every
// later operation returns ErrDisconnected. Closing twice is a no-op.
func (d *Device) Close() error {
	d.ctrl.Lock()
	defer d.ctrl.Unlock()

	switch d.State() {
	case StateDisconnected:
		return nil
	case StateStreaming:
		d.shutdown()
	}

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	p := d.pool
	d.pool = nil
	d.mu.Unlock()

	if p != nil {
		p.release(ErrDisconnected)
	}
	d.stats.lastErr.Store(errnoENODEV)
	d.setState(StateDisconnected)
	return nil
}

func (d *Device) MarshalJSON() ([]byte, error) {
	var v struct {
		Name   string     `json:"name"`
		State  string     `json:"state"`
		Driver string     `json:"driver"`
		Card   string     `json:"card"`
		Format Format     `json:"format"`
		Stats  Statistics `json:"stats"`
	}
	v.Name = d.Name
	v.State = d.State().String()
	v.Driver = d.caps.Driver
	v.Card = d.caps.Card
	v.Format = d.GetFormat()
	v.Stats = d.Statistics()
	return json.Marshal(v)
}
