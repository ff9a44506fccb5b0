package capture

import (
	"fmt"
	"time"
)

// Op is the closed set of control operations. Dispatch goes through one
// table, so an unknown operation cannot exist past parse time and every
// op validates its own arguments.
type Op uint32

const (
	OpQueryCap Op = iota + 1
	OpEnumFormats
	OpGetFormat
	OpSetFormat
	OpRequestBuffers
	OpQueueBuffer
	OpDequeueBuffer
	OpMapBuffer
	OpStreamOn
	OpStreamOff
	OpStatistics
)

var opNames = map[string]Op{
	"capability":      OpQueryCap,
	"formats":         OpEnumFormats,
	"get_format":      OpGetFormat,
	"set_format":      OpSetFormat,
	"request_buffers": OpRequestBuffers,
	"queue_buffer":    OpQueueBuffer,
	"dequeue_buffer":  OpDequeueBuffer,
	"map_buffer":      OpMapBuffer,
	"stream_on":       OpStreamOn,
	"stream_off":      OpStreamOff,
	"stats":           OpStatistics,
}

func (op Op) String() string {
	for name, item := range opNames {
		if item == op {
			return name
		}
	}
	return "op(" + fmt.Sprint(uint32(op)) + ")"
}

// ParseOp resolves an operation name from the control API.
func ParseOp(s string) (Op, error) {
	if op, ok := opNames[s]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: unknown op %q", ErrInvalidParam, s)
}

// Request carries the arguments for one control operation. Every op
// reads only its own fields and ignores the rest.
type Request struct {
	Op      Op
	Format  Format
	Count   int
	Buffer  int
	Timeout time.Duration
}

// Control dispatches one operation. The result depends on the op:
// capability and format queries return their structs, buffer ops return
// the affected buffer or mapping, counters return a snapshot, state
// changes return nil.
func (d *Device) Control(r Request) (any, error) {
	switch r.Op {
	case OpQueryCap:
		return d.Capability(), nil

	case OpEnumFormats:
		codes := d.EnumFormats()
		names := make([]string, len(codes))
		for i, code := range codes {
			names[i] = FourccString(code)
		}
		return names, nil

	case OpGetFormat:
		return d.GetFormat(), nil

	case OpSetFormat:
		f, err := d.SetFormat(r.Format)
		if err != nil {
			return nil, err
		}
		return f, nil

	case OpRequestBuffers:
		n, err := d.RequestBuffers(r.Count)
		if err != nil {
			return nil, err
		}
		return n, nil

	case OpQueueBuffer:
		return nil, d.QueueBuffer(r.Buffer)

	case OpDequeueBuffer:
		b, err := d.DequeueBuffer(r.Timeout)
		if err != nil {
			return nil, err
		}
		return b, nil

	case OpMapBuffer:
		data, err := d.MapBuffer(r.Buffer)
		if err != nil {
			return nil, err
		}
		return data, nil

	case OpStreamOn:
		return nil, d.StartStreaming()

	case OpStreamOff:
		return nil, d.StopStreaming()

	case OpStatistics:
		return d.Statistics(), nil
	}

	return nil, fmt.Errorf("%w: unknown op %d", ErrInvalidParam, r.Op)
}
