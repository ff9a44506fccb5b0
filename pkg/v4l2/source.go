//go:build linux && (386 || arm || amd64 || arm64)

package v4l2

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/uvcam/uvcam/pkg/capture"
	"github.com/uvcam/uvcam/pkg/ioctl"
)

// driverBuffers is the mmap ring shared with the driver. Two is enough
// because every frame is copied off before the buffer is armed again.
const driverBuffers = 2

type Source struct {
	path string
	fps  int

	mu   sync.Mutex
	dev  *device
	quit chan struct{}
	done chan struct{}

	driver   string
	card     string
	bus      string
	version  string
	features []string
	formats  []uint32
}

// Open parses a source URL and probes the device behind it.
//
// Example:
//
//	v4l2:///dev/video0?fps=30
func Open(rawURL string) (*Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	s := &Source{path: u.Path}
	if s.path == "" {
		return nil, errors.New("v4l2: missing device path")
	}
	if v := u.Query().Get("fps"); v != "" {
		if s.fps, _ = strconv.Atoi(v); s.fps < 1 || s.fps > 240 {
			return nil, errors.New("v4l2: bad fps: " + v)
		}
	}

	if err = s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// open probes the device and caches its identity. Reset runs it again
// on a fresh descriptor.
func (s *Source) open() error {
	dev, err := openDevice(s.path)
	if err != nil {
		return err
	}

	c, err := dev.querycap()
	if err != nil {
		_ = dev.close()
		return err
	}
	caps := deviceCaps(c)
	if caps&V4L2_CAP_VIDEO_CAPTURE == 0 || caps&V4L2_CAP_STREAMING == 0 {
		_ = dev.close()
		return fmt.Errorf("v4l2: %s is not a streaming capture device", s.path)
	}

	formats, err := dev.listFormats()
	if err != nil {
		_ = dev.close()
		return err
	}

	// keep only formats the engine knows how to size
	var supported []uint32
	for _, fc := range formats {
		if capture.BytesPerPixel(fc) > 0 || fc == capture.FourccMJPG {
			supported = append(supported, fc)
		}
	}
	if len(supported) == 0 {
		_ = dev.close()
		return fmt.Errorf("v4l2: %s offers no usable pixel format", s.path)
	}

	s.mu.Lock()
	s.dev = dev
	s.driver = ioctl.Str(c.driver[:])
	s.card = ioctl.Str(c.card[:])
	s.bus = ioctl.Str(c.bus_info[:])
	s.version = fmt.Sprintf("%d.%d.%d", byte(c.version>>16), byte(c.version>>8), byte(c.version))
	s.features = featureList(caps)
	s.formats = supported
	s.mu.Unlock()
	return nil
}

func (s *Source) Capability() capture.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return capture.Capability{
		Driver:   s.driver,
		Card:     s.card,
		Bus:      s.bus,
		Version:  s.version,
		Features: s.features,
		Formats:  s.formats,
	}
}

func (s *Source) Stream(f capture.Format, deliver func(capture.Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quit != nil {
		return errors.New("v4l2: already streaming")
	}
	if s.dev == nil {
		return errors.New("v4l2: device is closed")
	}

	pix, err := s.dev.setFormat(f.Width, f.Height, f.FourCC)
	if err != nil {
		return err
	}
	// the driver can counter with its own geometry, frames would never
	// fit the negotiated pool then
	if pix.width != f.Width || pix.height != f.Height || pix.pixelformat != f.FourCC ||
		(f.Stride != 0 && pix.bytesperline != f.Stride) {
		return fmt.Errorf("v4l2: driver countered %s with %dx%d/%s stride %d",
			f, pix.width, pix.height, capture.FourccString(pix.pixelformat), pix.bytesperline)
	}

	if s.fps > 0 {
		if err = s.dev.setRate(uint32(s.fps)); err != nil {
			return err
		}
	}

	if err = s.dev.streamOn(driverBuffers); err != nil {
		_ = s.dev.releaseBuffers()
		return err
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	s.quit, s.done = quit, done

	go s.run(s.dev, deliver, quit, done)
	return nil
}

func (s *Source) Stop() error {
	s.mu.Lock()
	quit, done := s.quit, s.done
	s.quit, s.done = nil, nil
	dev := s.dev
	s.mu.Unlock()

	if quit == nil {
		return nil
	}
	close(quit)

	// streamoff wakes the dequeue blocked in the kernel
	err := dev.streamOff()
	<-done // no delivery can happen after return
	return errors.Join(err, dev.releaseBuffers())
}

// Reset reopens the descriptor, which is the closest thing USB video
// has to a power cycle. Streaming has to be restarted afterwards.
func (s *Source) Reset() error {
	_ = s.Stop()

	s.mu.Lock()
	if s.dev != nil {
		_ = s.dev.close()
		s.dev = nil
	}
	s.mu.Unlock()

	return s.open()
}

// Close releases the descriptor for good.
func (s *Source) Close() error {
	_ = s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	err := s.dev.close()
	s.dev = nil
	return err
}

// run pumps the driver ring. Every frame is copied off its mmap page
// into a fresh buffer before the driver buffer is armed again, the
// copy belongs to the engine after delivery.
func (s *Source) run(dev *device, deliver func(capture.Chunk), quit, done chan struct{}) {
	defer close(done)

	for {
		index, size, err := dev.dequeue()
		if err != nil {
			select {
			case <-quit:
				return
			default:
			}
			deliver(capture.Chunk{Err: capture.ErrTransfer})
			// dead descriptors fail instantly, pace the retry
			select {
			case <-quit:
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if size == 0 { // some drivers complete empty buffers on error
			_ = dev.queue(index)
			continue
		}

		b := make([]byte, size)
		copy(b, dev.bufs[index][:size])

		if err = dev.queue(index); err != nil {
			deliver(capture.Chunk{Err: capture.ErrTransfer})
			continue
		}

		deliver(capture.Chunk{Data: b, Start: true, End: true})
	}
}

// deviceCaps picks the capability word for this node, the top level one
// covers the whole card.
func deviceCaps(c *v4l2_capability) uint32 {
	if c.capabilities&V4L2_CAP_DEVICE_CAPS != 0 {
		return c.device_caps
	}
	return c.capabilities
}

func featureList(caps uint32) []string {
	var items []string
	if caps&V4L2_CAP_VIDEO_CAPTURE != 0 {
		items = append(items, "video_capture")
	}
	if caps&V4L2_CAP_STREAMING != 0 {
		items = append(items, "streaming")
	}
	if caps&V4L2_CAP_READWRITE != 0 {
		items = append(items, "read_write")
	}
	return items
}

// Scan enumerates local capture devices with everything their drivers
// will admit to, ready to attach as cameras.
func Scan() []Info {
	files, err := os.ReadDir("/dev")
	if err != nil {
		return nil
	}

	var items []Info

	for _, file := range files {
		if !strings.HasPrefix(file.Name(), "video") {
			continue
		}
		path := "/dev/" + file.Name()

		dev, err := openDevice(path)
		if err != nil {
			continue
		}

		c, err := dev.querycap()
		if err != nil {
			_ = dev.close()
			continue
		}
		if caps := deviceCaps(c); caps&V4L2_CAP_VIDEO_CAPTURE == 0 || caps&V4L2_CAP_STREAMING == 0 {
			_ = dev.close() // metadata and output nodes are not cameras
			continue
		}

		item := Info{
			Path:   path,
			Driver: ioctl.Str(c.driver[:]),
			Card:   ioctl.Str(c.card[:]),
			Source: "v4l2://" + path,
		}

		formats, _ := dev.listFormats()
		for _, fc := range formats {
			pf := PixFormat{FourCC: capture.FourccString(fc)}
			sizes, _ := dev.listSizes(fc)
			for _, wh := range sizes {
				size := Size{Width: wh[0], Height: wh[1]}
				size.Rates, _ = dev.listRates(fc, wh[0], wh[1])
				pf.Sizes = append(pf.Sizes, size)
			}
			item.Formats = append(item.Formats, pf)
		}

		items = append(items, item)
		_ = dev.close()
	}

	return items
}
