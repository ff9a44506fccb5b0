package capture

import "sync/atomic"

// stats is the write side: plain atomics so the producer path increments
// without locks and readers never stall the stream.
type stats struct {
	frames  atomic.Uint64
	dropped atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
	lastErr atomic.Int32
}

func (s *stats) reset() {
	s.frames.Store(0)
	s.dropped.Store(0)
	s.bytes.Store(0)
	s.errors.Store(0)
	s.lastErr.Store(errnoOK)
}

func (s *stats) snapshot() Statistics {
	return Statistics{
		FramesReceived: s.frames.Load(),
		FramesDropped:  s.dropped.Load(),
		BytesReceived:  s.bytes.Load(),
		ErrorCount:     s.errors.Load(),
		LastError:      s.lastErr.Load(),
	}
}

// Statistics is a consistent-enough snapshot of the streaming counters.
// Counters reset when streaming starts, not when it stops, so the last
// session stays inspectable.
type Statistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesDropped  uint64 `json:"frames_dropped"`
	BytesReceived  uint64 `json:"bytes_received"`
	ErrorCount     uint64 `json:"error_count"`
	LastError      int32  `json:"last_error"`
}
