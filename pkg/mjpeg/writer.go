// Package mjpeg streams JPEG frames over HTTP as multipart/x-mixed-replace,
// the classic camera push format every browser renders natively.
package mjpeg

import (
	"io"
	"net/http"
	"strconv"
)

const boundary = "frame"

const partHeader = "--" + boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: "

// NewWriter sets the multipart content type and returns a writer where
// every Write sends one complete JPEG image.
func NewWriter(w http.ResponseWriter) io.Writer {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	return &writer{wr: w, buf: []byte(partHeader)}
}

type writer struct {
	wr  http.ResponseWriter
	buf []byte
}

// Write sends the part header and payload in a single call, flushing
// after each frame so the client renders it right away.
func (w *writer) Write(p []byte) (n int, err error) {
	w.buf = w.buf[:len(partHeader)]
	w.buf = append(w.buf, strconv.Itoa(len(p))...)
	w.buf = append(w.buf, "\r\n\r\n"...)
	w.buf = append(w.buf, p...)
	w.buf = append(w.buf, "\r\n"...)

	if _, err = w.wr.Write(w.buf); err != nil {
		return 0, err
	}

	if f, ok := w.wr.(http.Flusher); ok {
		f.Flush()
	}

	return len(p), nil
}
