// Package rtpcam adapts a raw RTP/UDP feed into a capture transport.
// One packet payload becomes one chunk, a timestamp change opens a
// frame, the marker bit closes it and a sequence gap voids whatever is
// in flight. Payloads are moved as opaque bytes, depacketization beyond
// framing is not this package's business.
package rtpcam

import (
	"errors"
	"net"
	"net/url"
	"sync"

	"github.com/pion/rtp"

	"github.com/uvcam/uvcam/pkg/capture"
)

type Source struct {
	addr   string
	card   string
	fourcc uint32

	mu   sync.Mutex
	conn *net.UDPConn
	done chan struct{}
}

// Open parses a source URL.
//
// Example:
//
//	rtp://:5004?fourcc=MJPG&card=Hall
func Open(rawURL string) (*Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	query := u.Query()

	s := &Source{
		addr:   u.Host,
		card:   "RTP Camera",
		fourcc: capture.FourccMJPG,
	}
	if s.addr == "" {
		s.addr = ":5004"
	}
	if v := query.Get("card"); v != "" {
		s.card = v
	}
	if v := query.Get("fourcc"); v != "" {
		if s.fourcc, err = capture.ParseFourcc(v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Addr reports the bound listen address, useful with port 0.
func (s *Source) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return s.addr
	}
	return s.conn.LocalAddr().String()
}

func (s *Source) Capability() capture.Capability {
	return capture.Capability{
		Driver:   "uvcam-rtp",
		Card:     s.card,
		Features: []string{"video_capture", "streaming"},
		Formats:  []uint32{s.fourcc},
	}
}

func (s *Source) Stream(_ capture.Format, deliver func(capture.Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.New("rtpcam: already streaming")
	}

	addr, err := net.ResolveUDPAddr("udp4", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s.conn, s.done = conn, done

	go s.read(conn, deliver, done)
	return nil
}

func (s *Source) Stop() error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		<-done // no delivery can happen after return
	}
	return nil
}

// Reset drops the socket, the next Stream rebinds it.
func (s *Source) Reset() error {
	return s.Stop()
}

func (s *Source) read(conn *net.UDPConn, deliver func(capture.Chunk), done chan struct{}) {
	defer close(done)

	var f framer
	var pkt rtp.Packet

	for {
		// Unmarshal aliases the read buffer and the engine consumes
		// chunks asynchronously, so every packet reads into a fresh
		// buffer that delivery hands off for good.
		buf := make([]byte, 2048)
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed by Stop
		}
		if err = pkt.Unmarshal(buf[:n]); err != nil {
			deliver(capture.Chunk{Err: capture.ErrTransfer})
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		for _, c := range f.chunks(&pkt) {
			deliver(c)
		}
	}
}

// framer turns the RTP sequence into chunk boundary flags. It reuses a
// fixed output array, callers must consume the slice before the next
// call.
type framer struct {
	synced  bool
	lastSeq uint16
	lastTS  uint32
	out     [2]capture.Chunk
}

func (f *framer) chunks(pkt *rtp.Packet) []capture.Chunk {
	n := 0
	if f.synced && pkt.SequenceNumber != f.lastSeq+1 {
		// lost packets void the frame in flight
		f.out[n] = capture.Chunk{Err: capture.ErrTransfer}
		n++
	}

	start := !f.synced || pkt.Timestamp != f.lastTS
	f.synced = true
	f.lastSeq = pkt.SequenceNumber
	f.lastTS = pkt.Timestamp

	f.out[n] = capture.Chunk{Data: pkt.Payload, Start: start, End: pkt.Marker}
	n++
	return f.out[:n]
}
