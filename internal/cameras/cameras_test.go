package cameras

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uvcam/uvcam/internal/api/ws"
	"github.com/uvcam/uvcam/pkg/capture"
	"github.com/uvcam/uvcam/pkg/rtpcam"
	"github.com/uvcam/uvcam/pkg/virtual"
)

func newTestCamera(t *testing.T, source string) *Camera {
	t.Helper()

	HandleFunc("virtual", func(source string) (capture.Transport, error) {
		return virtual.Open(source)
	})

	cam, err := New(t.Name(), source)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Delete(t.Name()) })
	return cam
}

func TestOpenTransport(t *testing.T) {
	HandleFunc("virtual", func(source string) (capture.Transport, error) {
		return virtual.Open(source)
	})
	HandleFunc("rtp", func(source string) (capture.Transport, error) {
		return rtpcam.Open(source)
	})

	tr, err := openTransport("virtual:?fourcc=YUYV")
	require.NoError(t, err)
	require.NotNil(t, tr)

	tr, err = openTransport("rtp://:0?fourcc=GREY")
	require.NoError(t, err)
	require.NoError(t, tr.Stop())

	_, err = openTransport("gopher://nope")
	require.Error(t, err)

	_, err = openTransport("no-scheme-here")
	require.Error(t, err)
}

func TestAPIV4L2(t *testing.T) {
	w := httptest.NewRecorder()
	apiV4L2(w, httptest.NewRequest("GET", "/api/v4l2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "["))
}

func TestCameraFrame(t *testing.T) {
	cam := newTestCamera(t, "virtual:?fourcc=MJPG&fps=60")

	require.NoError(t, cam.acquire())
	require.Equal(t, capture.StateStreaming, cam.dev.State())

	frame, err := cam.Frame(2 * time.Second)
	require.NoError(t, err)
	require.Greater(t, len(frame), 4)
	require.Equal(t, []byte{0xFF, 0xD8}, frame[:2])
	require.Equal(t, []byte{0xFF, 0xD9}, frame[len(frame)-2:])

	// buffer went straight back to capture, the stream keeps flowing
	_, err = cam.Frame(2 * time.Second)
	require.NoError(t, err)

	cam.release()
	require.Equal(t, capture.StateConnected, cam.dev.State())
}

func TestAPICameras(t *testing.T) {
	HandleFunc("virtual", func(source string) (capture.Transport, error) {
		return virtual.Open(source)
	})

	q := url.Values{"src": {"virtual:?fourcc=YUYV&fps=60"}, "name": {"crud"}}
	r := httptest.NewRequest("POST", "/api/cameras?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	apiCameras(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var made struct {
		ID     string `json:"id"`
		Source string `json:"source"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &made))
	require.NotEmpty(t, made.ID)
	require.Equal(t, "virtual:?fourcc=YUYV&fps=60", made.Source)

	// duplicate name is rejected
	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("POST", "/api/cameras?"+q.Encode(), nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	// list contains the camera
	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("GET", "/api/cameras", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"crud"`)

	// single camera view
	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("GET", "/api/cameras?src=crud", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"connected"`)

	// detach
	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("DELETE", "/api/cameras?src=crud", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, Get("crud"))

	// detach again is a 404
	w = httptest.NewRecorder()
	apiCameras(w, httptest.NewRequest("DELETE", "/api/cameras?src=crud", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIControl(t *testing.T) {
	newTestCamera(t, "virtual:?fourcc=MJPG&fps=60")

	ctrl := func(query string) *httptest.ResponseRecorder {
		q := "src=" + url.QueryEscape(t.Name()) + "&" + query
		w := httptest.NewRecorder()
		apiControl(w, httptest.NewRequest("POST", "/api/cameras/ctrl?"+q, nil))
		return w
	}

	w := ctrl("op=capability")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "uvcam-virtual")

	w = ctrl("op=formats")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "MJPG")

	w = ctrl("op=set_format&width=800&height=600")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"width":800`)

	w = ctrl("op=request_buffers&count=3")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "3\n", w.Body.String())

	w = ctrl("op=stream_on")
	require.Equal(t, http.StatusOK, w.Code)

	w = ctrl("op=dequeue_buffer&timeout=2000")
	require.Equal(t, http.StatusOK, w.Code)
	var buf struct {
		ID     int    `json:"id"`
		State  string `json:"state"`
		Length uint32 `json:"length"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buf))
	require.Equal(t, "consumed", buf.State)
	require.NotZero(t, buf.Length)

	w = ctrl("op=map_buffer&buffer=" + strconv.Itoa(buf.ID))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	require.Equal(t, byte(0xFF), w.Body.Bytes()[0])

	w = ctrl("op=queue_buffer&buffer=" + strconv.Itoa(buf.ID))
	require.Equal(t, http.StatusOK, w.Code)

	w = ctrl("op=stats")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"frames_received"`)

	w = ctrl("op=stream_off")
	require.Equal(t, http.StatusOK, w.Code)

	// not streaming anymore is a conflict
	w = ctrl("op=stream_off")
	require.Equal(t, http.StatusConflict, w.Code)

	w = ctrl("op=bogus")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIBuffers(t *testing.T) {
	newTestCamera(t, "virtual:?fourcc=GREY&fps=60")

	q := "src=" + url.QueryEscape(t.Name()) + "&op=request_buffers&count=2"
	w := httptest.NewRecorder()
	apiControl(w, httptest.NewRequest("POST", "/api/cameras/ctrl?"+q, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/cameras/buffers?src="+url.QueryEscape(t.Name()), nil)
	apiBuffers(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var bufs []struct {
		ID       int    `json:"id"`
		State    string `json:"state"`
		Capacity int    `json:"capacity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bufs))
	require.Len(t, bufs, 2)
	require.Equal(t, "free", bufs[0].State)
	require.Equal(t, 640*480, bufs[0].Capacity)
}

func TestAPIFrameBin(t *testing.T) {
	newTestCamera(t, "virtual:?fourcc=GREY&fps=60")

	r := httptest.NewRequest("GET", "/api/frame.bin?src="+url.QueryEscape(t.Name()), nil)
	w := httptest.NewRecorder()
	apiFrameBin(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "GREY", w.Header().Get("X-Video-FourCC"))
	require.Equal(t, "640", w.Header().Get("X-Video-Width"))
	require.Equal(t, "480", w.Header().Get("X-Video-Height"))
	require.Equal(t, 640*480, w.Body.Len())
}

func TestAPIFrameJPEG(t *testing.T) {
	newTestCamera(t, "virtual:?fourcc=MJPG&fps=60")

	r := httptest.NewRequest("GET", "/api/frame.jpeg?src="+url.QueryEscape(t.Name()), nil)
	w := httptest.NewRecorder()
	apiFrameJPEG(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	body := w.Body.Bytes()
	require.Equal(t, []byte{0xFF, 0xD8}, body[:2])
}

func TestAPIFrameJPEGWrongFormat(t *testing.T) {
	newTestCamera(t, "virtual:?fourcc=YUYV&fps=60")

	r := httptest.NewRequest("GET", "/api/frame.jpeg?src="+url.QueryEscape(t.Name()), nil)
	w := httptest.NewRecorder()
	apiFrameJPEG(w, r)

	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestAPIStreamMJPEG(t *testing.T) {
	cam := newTestCamera(t, "virtual:?fourcc=MJPG&fps=60")

	server := httptest.NewServer(http.HandlerFunc(apiStreamMJPEG))
	defer server.Close()

	res, err := http.Get(server.URL + "?src=" + url.QueryEscape(t.Name()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.Header.Get("Content-Type"), "multipart/x-mixed-replace")

	// two parts prove the push loop runs
	rd := bufio.NewReader(res.Body)
	for part := 0; part < 2; part++ {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "--frame\r\n", line)

		var length int
		for {
			if line, err = rd.ReadString('\n'); err != nil || line == "\r\n" {
				break
			}
			if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
				length, _ = strconv.Atoi(strings.TrimSpace(v))
			}
		}
		require.NoError(t, err)
		require.NotZero(t, length)

		// payload plus the part's closing CRLF
		body := make([]byte, length+2)
		_, err = io.ReadFull(rd, body)
		require.NoError(t, err)
		require.Equal(t, []byte{0xFF, 0xD8}, body[:2])
	}

	_ = res.Body.Close()
	require.Eventually(t, func() bool {
		return cam.dev.State() == capture.StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerWS(t *testing.T) {
	cam := newTestCamera(t, "virtual:?fourcc=MJPG&fps=60")

	frames := make(chan []byte, 8)
	tr := &ws.Transport{
		Request: httptest.NewRequest("GET", "/api/ws?src="+url.QueryEscape(t.Name()), nil),
	}
	tr.OnWrite(func(msg any) error {
		if data, ok := msg.([]byte); ok {
			select {
			case frames <- append([]byte(nil), data...):
			default:
			}
		}
		return nil
	})

	require.NoError(t, handlerWS(tr, &ws.Message{Type: "frames"}))

	for i := 0; i < 2; i++ {
		select {
		case frame := <-frames:
			require.Equal(t, []byte{0xFF, 0xD8}, frame[:2])
		case <-time.After(2 * time.Second):
			t.Fatal("no frame delivered")
		}
	}

	tr.Close()
	require.Eventually(t, func() bool {
		return cam.dev.State() == capture.StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}
