//go:build linux && (386 || arm)

package v4l2

// 32-bit layouts: the format union packs tight and the buffer timestamp
// is an 8 byte timeval.

type v4l2_format struct {
	typ uint32          // 0
	pix v4l2_pix_format // 4
}

type v4l2_buffer struct {
	index     uint32        // 0
	typ       uint32        // 4
	bytesused uint32        // 8
	flags     uint32        // 12
	field     uint32        // 16
	timestamp [8]byte       // 20
	timecode  v4l2_timecode // 28
	sequence  uint32        // 44
	memory    uint32        // 48
	offset    uint32        // 52, mmap member of the m union
	length    uint32        // 56
	_         [8]byte       // 60
}
