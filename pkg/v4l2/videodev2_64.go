//go:build linux && (amd64 || arm64)

package v4l2

// 64-bit layouts: the format union is pointer aligned and the buffer
// timestamp is a 16 byte timeval.

type v4l2_format struct {
	typ uint32          // 0
	_   [4]byte         // 4
	pix v4l2_pix_format // 8
}

type v4l2_buffer struct {
	index     uint32        // 0
	typ       uint32        // 4
	bytesused uint32        // 8
	flags     uint32        // 12
	field     uint32        // 16
	_         [4]byte       // 20
	timestamp [16]byte      // 24
	timecode  v4l2_timecode // 40
	sequence  uint32        // 56
	memory    uint32        // 60
	offset    uint32        // 64, mmap member of the m union
	_         [4]byte       // 68, rest of the union
	length    uint32        // 72
	_         [12]byte      // 76
}
