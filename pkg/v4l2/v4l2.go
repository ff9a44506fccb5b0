// Package v4l2 attaches Video4Linux capture devices as camera
// transports. Frames come out of the kernel's mmap ring, are copied off
// and delivered whole, so a USB webcam plugs into the engine like any
// other source. Only Linux talks to hardware, other platforms build a
// stub that fails to open.
package v4l2

// Info describes one capture device found by Scan. Source is ready to
// be attached as a camera.
type Info struct {
	Path    string      `json:"path"`
	Driver  string      `json:"driver"`
	Card    string      `json:"card"`
	Source  string      `json:"source"`
	Formats []PixFormat `json:"formats,omitempty"`
}

// PixFormat is one pixel format a device offers, with the discrete
// frame sizes and rates its driver enumerates.
type PixFormat struct {
	FourCC string `json:"fourcc"`
	Sizes  []Size `json:"sizes,omitempty"`
}

type Size struct {
	Width  uint32   `json:"width"`
	Height uint32   `json:"height"`
	Rates  []uint32 `json:"rates,omitempty"`
}
