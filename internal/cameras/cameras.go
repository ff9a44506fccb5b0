package cameras

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvcam/uvcam/internal/api"
	"github.com/uvcam/uvcam/internal/api/ws"
	"github.com/uvcam/uvcam/internal/app"
	"github.com/uvcam/uvcam/pkg/capture"
	"github.com/uvcam/uvcam/pkg/rtpcam"
	"github.com/uvcam/uvcam/pkg/v4l2"
	"github.com/uvcam/uvcam/pkg/virtual"
)

func Init() {
	var cfg struct {
		Cameras map[string]string `yaml:"cameras"`
		Mod     struct {
			ErrorThreshold int `yaml:"error_threshold"`
			ErrorWindow    int `yaml:"error_window"` // seconds
		} `yaml:"capture"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("cameras")

	opts.ErrorThreshold = cfg.Mod.ErrorThreshold
	opts.ErrorWindow = time.Duration(cfg.Mod.ErrorWindow) * time.Second

	HandleFunc("virtual", func(source string) (capture.Transport, error) {
		return virtual.Open(source)
	})
	HandleFunc("rtp", func(source string) (capture.Transport, error) {
		return rtpcam.Open(source)
	})
	HandleFunc("v4l2", func(source string) (capture.Transport, error) {
		return v4l2.Open(source)
	})

	for name, source := range cfg.Cameras {
		if _, err := New(name, source); err != nil {
			log.Warn().Err(err).Msgf("[cameras] attach name=%s", name)
		}
	}

	api.HandleFunc("api/cameras", apiCameras)
	api.HandleFunc("api/cameras/ctrl", apiControl)
	api.HandleFunc("api/cameras/buffers", apiBuffers)
	api.HandleFunc("api/frame.bin", apiFrameBin)
	api.HandleFunc("api/frame.jpeg", apiFrameJPEG)
	api.HandleFunc("api/stream.mjpeg", apiStreamMJPEG)
	api.HandleFunc("api/v4l2", apiV4L2)

	ws.HandleFunc("frames", handlerWS)
}

const cameraNotFound = "camera not found"

// frameTimeout bounds one dequeue wait in the delivery handlers, long
// enough to ride out a transport reset.
const frameTimeout = 5 * time.Second

var log zerolog.Logger
var opts capture.Options

// Handler opens a transport for a source URL scheme.
type Handler func(source string) (capture.Transport, error)

func HandleFunc(scheme string, handler Handler) {
	handlers[scheme] = handler
}

var handlers = map[string]Handler{}

// Camera owns one attached device plus the reader accounting that
// starts and stops delivery on demand.
type Camera struct {
	ID     string
	Source string

	dev *capture.Device
	tr  capture.Transport

	mu      sync.Mutex
	readers int
	started bool // delivery started by readers, stops with the last one
}

func (c *Camera) Device() *capture.Device {
	return c.dev
}

// acquire registers a reader, starting delivery for the first one. A
// device already streaming via the control API is left as is.
func (c *Camera) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readers == 0 {
		switch err := c.dev.StartStreaming(); {
		case err == nil:
			c.started = true
		case errors.Is(err, capture.ErrBusy):
		default:
			return err
		}
	}
	c.readers++
	return nil
}

func (c *Camera) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readers--; c.readers > 0 || !c.started {
		return
	}
	c.started = false
	if err := c.dev.StopStreaming(); err != nil {
		log.Debug().Err(err).Msgf("[cameras] stop name=%s", c.dev.Name)
	}
}

// ensure restarts delivery after error recovery parked the device in
// the connected state while readers were still waiting.
func (c *Camera) ensure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readers > 0 && c.dev.State() == capture.StateConnected {
		if c.dev.StartStreaming() == nil {
			c.started = true
		}
	}
}

// Frame dequeues one finished frame and re-arms its buffer. The payload
// is copied out so the buffer can go straight back to capture.
func (c *Camera) Frame(timeout time.Duration) ([]byte, error) {
	b, err := c.dev.DequeueBuffer(timeout)
	if err != nil {
		return nil, err
	}
	data, err := c.dev.MapBuffer(b.ID)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, b.Length)
	copy(frame, data)
	return frame, c.dev.QueueBuffer(b.ID)
}

func (c *Camera) MarshalJSON() ([]byte, error) {
	var v struct {
		ID     string          `json:"id"`
		Source string          `json:"source"`
		Device *capture.Device `json:"device"`
	}
	v.ID = c.ID
	v.Source = c.Source
	v.Device = c.dev
	return json.Marshal(v)
}

func Get(name string) *Camera {
	camerasMu.Lock()
	defer camerasMu.Unlock()
	return cameras[name]
}

// New attaches a camera under a unique name. The source scheme picks
// the transport.
func New(name, source string) (*Camera, error) {
	tr, err := openTransport(source)
	if err != nil {
		return nil, err
	}

	o := opts
	o.OnState = func(s capture.State) {
		log.Debug().Msgf("[cameras] state name=%s state=%s", name, s)
	}

	dev, err := capture.Attach(name, tr, &o)
	if err != nil {
		closeTransport(tr)
		return nil, err
	}

	cam := &Camera{ID: uuid.NewString(), Source: source, dev: dev, tr: tr}

	camerasMu.Lock()
	if _, ok := cameras[name]; ok {
		camerasMu.Unlock()
		_ = dev.Close()
		closeTransport(tr)
		return nil, fmt.Errorf("cameras: duplicate name %q", name)
	}
	cameras[name] = cam
	camerasMu.Unlock()

	log.Info().Msgf("[cameras] attach name=%s source=%s", name, source)
	return cam, nil
}

// GetOrNew looks the src query param up by name, attaching on the fly
// when it carries a source URL instead.
func GetOrNew(query url.Values) *Camera {
	src := query.Get("src")
	if src == "" {
		return nil
	}

	if cam := Get(src); cam != nil {
		return cam
	}

	if !strings.Contains(src, ":") {
		return nil
	}

	cam, err := New(src, src)
	if err != nil {
		log.Warn().Err(err).Msgf("[cameras] attach source=%s", src)
		return Get(src) // may have lost an attach race
	}
	return cam
}

// Delete detaches a camera. Blocked dequeues fail over immediately.
func Delete(name string) error {
	camerasMu.Lock()
	cam := cameras[name]
	delete(cameras, name)
	camerasMu.Unlock()

	if cam == nil {
		return errors.New(cameraNotFound)
	}
	err := cam.dev.Close()
	closeTransport(cam.tr)
	return err
}

func openTransport(source string) (capture.Transport, error) {
	i := strings.IndexByte(source, ':')
	if i <= 0 {
		return nil, fmt.Errorf("cameras: invalid source %q", source)
	}
	if handler := handlers[source[:i]]; handler != nil {
		return handler(source)
	}
	return nil, fmt.Errorf("cameras: unsupported scheme %q", source[:i])
}

// closeTransport releases transports that hold descriptors or sockets
// beyond the streaming session.
func closeTransport(tr capture.Transport) {
	if c, ok := tr.(io.Closer); ok {
		_ = c.Close()
	}
}

var cameras = map[string]*Camera{}
var camerasMu sync.Mutex
