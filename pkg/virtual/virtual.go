// Package virtual is a synthetic camera transport. It produces a moving
// test pattern at a fixed rate and can inject the faults a flaky USB
// link would produce, which makes it the reference device for tests and
// demos.
package virtual

import (
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/uvcam/uvcam/pkg/capture"
)

type Source struct {
	card   string
	fourcc uint32
	fps    int
	chunks int

	corrupt int // every Nth frame overflows the negotiated size
	noeof   int // every Nth frame loses its end flag
	faults  int // every Nth frame becomes a transfer error
	resets  int // first N resets fail

	mu     sync.Mutex
	quit   chan struct{}
	done   chan struct{}
	resetN int
}

// Open parses a source URL.
//
// Example:
//
//	virtual:?fourcc=MJPG&fps=30&chunks=4&card=Front+Door
//
// Fault injection: faults=N, corrupt=N and noeof=N trip every Nth
// frame, resets=N makes the first N transport resets fail.
func Open(rawURL string) (*Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	query := u.Query()

	s := &Source{
		card:   "Virtual Camera",
		fourcc: capture.FourccYUYV,
		fps:    30,
		chunks: 4,
	}

	if v := query.Get("card"); v != "" {
		s.card = v
	}
	if v := query.Get("fourcc"); v != "" {
		if s.fourcc, err = capture.ParseFourcc(v); err != nil {
			return nil, err
		}
	}
	if v := query.Get("fps"); v != "" {
		if s.fps, _ = strconv.Atoi(v); s.fps < 1 || s.fps > 240 {
			return nil, errors.New("virtual: bad fps: " + v)
		}
	}
	if v := query.Get("chunks"); v != "" {
		if s.chunks, _ = strconv.Atoi(v); s.chunks < 1 {
			return nil, errors.New("virtual: bad chunks: " + v)
		}
	}

	s.corrupt, _ = strconv.Atoi(query.Get("corrupt"))
	s.noeof, _ = strconv.Atoi(query.Get("noeof"))
	s.faults, _ = strconv.Atoi(query.Get("faults"))
	s.resets, _ = strconv.Atoi(query.Get("resets"))

	return s, nil
}

func (s *Source) Capability() capture.Capability {
	formats := []uint32{s.fourcc}
	for _, item := range []uint32{
		capture.FourccYUYV, capture.FourccMJPG, capture.FourccGREY, capture.FourccRGB3,
	} {
		if item != s.fourcc {
			formats = append(formats, item)
		}
	}
	return capture.Capability{
		Driver:   "uvcam-virtual",
		Card:     s.card,
		Features: []string{"video_capture", "streaming"},
		Formats:  formats,
	}
}

func (s *Source) Stream(f capture.Format, deliver func(capture.Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quit != nil {
		return errors.New("virtual: already streaming")
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	s.quit, s.done = quit, done

	go s.run(f, deliver, quit, done)
	return nil
}

func (s *Source) Stop() error {
	s.mu.Lock()
	quit, done := s.quit, s.done
	s.quit, s.done = nil, nil
	s.mu.Unlock()

	if quit != nil {
		close(quit)
		<-done // no delivery can happen after return
	}
	return nil
}

func (s *Source) Reset() error {
	_ = s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetN++
	if s.resetN <= s.resets {
		return errors.New("virtual: reset failed")
	}
	return nil
}

func (s *Source) run(f capture.Format, deliver func(capture.Chunk), quit, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	var seq uint64

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}

		seq++

		if s.faults > 0 && seq%uint64(s.faults) == 0 {
			deliver(capture.Chunk{Err: capture.ErrTransfer})
			continue
		}

		// a fresh buffer per frame, its chunks belong to the engine
		// after delivery and must never be repainted. Spare tail so
		// corrupt frames can overflow the negotiated size.
		frame := make([]byte, int(f.ImageSize)+16)
		n := s.fill(frame, f, seq)
		if s.corrupt > 0 && seq%uint64(s.corrupt) == 0 {
			n = len(frame)
		}
		eof := s.noeof == 0 || seq%uint64(s.noeof) != 0

		step := (n + s.chunks - 1) / s.chunks
		for i := 0; i < n; i += step {
			j := i + step
			if j > n {
				j = n
			}
			deliver(capture.Chunk{
				Data:  frame[i:j],
				Start: i == 0,
				End:   j == n && eof,
			})
		}
	}
}

// fill paints a rolling pattern so every frame differs. Compressed
// frames get SOI/EOI framing and a length that wobbles with the
// sequence, the body is noise rather than a decodable image.
func (s *Source) fill(dst []byte, f capture.Format, seq uint64) int {
	if capture.Compressed(f.FourCC) {
		n := int(f.ImageSize)/4 + int(seq%8)*int(f.ImageSize)/64
		if n < 16 {
			n = 16
		}
		dst[0], dst[1] = 0xFF, 0xD8
		for i := 2; i < n-2; i++ {
			dst[i] = byte(uint64(i) * seq)
		}
		dst[n-2], dst[n-1] = 0xFF, 0xD9
		return n
	}

	n := int(f.ImageSize)
	for i := 0; i < n; i++ {
		dst[i] = byte(uint64(i) + seq)
	}
	return n
}
