package capture

import (
	"encoding/json"
	"errors"
	"strconv"
)

// V4L2-compatible pixel format codes. The engine negotiates formats and
// moves payloads, it never decodes them.
const (
	FourccYUYV = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24 // packed YUV 4:2:2, 2 bytes/px
	FourccRGB3 = 'R' | 'G'<<8 | 'B'<<16 | '3'<<24 // packed RGB24, 3 bytes/px
	FourccGREY = 'G' | 'R'<<8 | 'E'<<16 | 'Y'<<24 // 8-bit greyscale, 1 byte/px
	FourccMJPG = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24 // compressed Motion-JPEG
)

// Frame dimension limits. Width keeps 16 byte line alignment for DMA,
// height stays even for interleaved colorspaces.
const (
	MinWidth  = 160
	MaxWidth  = 1280
	MinHeight = 120
	MaxHeight = 720

	alignWidth  = 16
	alignHeight = 2
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Format describes one negotiated frame layout. Stride and ImageSize are
// computed, never set by callers. For compressed formats Stride is zero
// and ImageSize is only a capacity upper bound, not the payload size.
type Format struct {
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	FourCC    uint32 `json:"-"`
	Stride    uint32 `json:"stride,omitempty"`
	ImageSize uint32 `json:"image_size"`
}

func (f Format) String() string {
	return strconv.Itoa(int(f.Width)) + "x" + strconv.Itoa(int(f.Height)) +
		"/" + FourccString(f.FourCC)
}

func (f Format) MarshalJSON() ([]byte, error) {
	var v struct {
		Width     uint32 `json:"width"`
		Height    uint32 `json:"height"`
		FourCC    string `json:"fourcc"`
		Stride    uint32 `json:"stride,omitempty"`
		ImageSize uint32 `json:"image_size"`
	}
	v.Width = f.Width
	v.Height = f.Height
	v.FourCC = FourccString(f.FourCC)
	v.Stride = f.Stride
	v.ImageSize = f.ImageSize
	return json.Marshal(v)
}

// BytesPerPixel returns zero for compressed formats.
func BytesPerPixel(fourcc uint32) uint32 {
	switch fourcc {
	case FourccYUYV:
		return 2
	case FourccRGB3:
		return 3
	case FourccGREY:
		return 1
	}
	return 0
}

func Compressed(fourcc uint32) bool {
	return BytesPerPixel(fourcc) == 0
}

// Fourcc packs four ASCII characters into a pixel format code,
// little-endian like the kernel's v4l2_fourcc macro.
func Fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

func FourccString(fourcc uint32) string {
	return string([]byte{
		byte(fourcc), byte(fourcc >> 8), byte(fourcc >> 16), byte(fourcc >> 24),
	})
}

func ParseFourcc(s string) (uint32, error) {
	if len(s) != 4 {
		return 0, errors.New("fourcc: need exactly four characters: " + s)
	}
	return Fourcc(s[0], s[1], s[2], s[3]), nil
}

// Negotiate clamps a requested format to what the device supports.
// Pure and idempotent: unsupported fourcc falls back to preferred,
// dimensions are clamped then rounded up to alignment. The bounds are
// themselves aligned, so rounding never leaves the valid range.
func Negotiate(req Format, supported []uint32, preferred uint32) Format {
	fourcc := preferred
	for _, item := range supported {
		if item == req.FourCC {
			fourcc = item
			break
		}
	}

	f := Format{
		Width:  alignUp(clampU32(req.Width, MinWidth, MaxWidth), alignWidth),
		Height: alignUp(clampU32(req.Height, MinHeight, MaxHeight), alignHeight),
		FourCC: fourcc,
	}

	if bpp := BytesPerPixel(fourcc); bpp > 0 {
		f.Stride = f.Width * bpp
		f.ImageSize = f.Stride * f.Height
	} else {
		f.ImageSize = f.Width * f.Height
	}

	return f
}

func clampU32(v, min, max uint32) uint32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func alignUp(v, n uint32) uint32 {
	return (v + n - 1) / n * n
}
