package capture

import "errors"

// Error taxonomy of the control and streaming surface. Everything the
// engine returns wraps one of these sentinels, so callers can classify
// with errors.Is instead of string matching.
var (
	ErrInvalidParam   = errors.New("capture: invalid parameter")
	ErrBusy           = errors.New("capture: resource busy")
	ErrInvalidState   = errors.New("capture: wrong device state")
	ErrWouldBlock     = errors.New("capture: no frame ready")
	ErrBufferTooSmall = errors.New("capture: buffer too small")
	ErrTransfer       = errors.New("capture: transfer failed")
	ErrDisconnected   = errors.New("capture: device disconnected")
	ErrNoMemory       = errors.New("capture: out of memory")
)

// POSIX-style codes for the last_error statistic. InvalidState shares
// EINVAL with InvalidParam, same as V4L2 reports both.
const (
	errnoOK       = 0
	errnoEIO      = 5
	errnoEAGAIN   = 11
	errnoENOMEM   = 12
	errnoEBUSY    = 16
	errnoENODEV   = 19
	errnoEINVAL   = 22
	errnoEOVERFLO = 75
)

// Errno maps a taxonomy error to its stable numeric code.
func Errno(err error) int32 {
	switch {
	case err == nil:
		return errnoOK
	case errors.Is(err, ErrWouldBlock):
		return errnoEAGAIN
	case errors.Is(err, ErrNoMemory):
		return errnoENOMEM
	case errors.Is(err, ErrBusy):
		return errnoEBUSY
	case errors.Is(err, ErrDisconnected):
		return errnoENODEV
	case errors.Is(err, ErrInvalidParam), errors.Is(err, ErrInvalidState):
		return errnoEINVAL
	case errors.Is(err, ErrBufferTooSmall):
		return errnoEOVERFLO
	}
	return errnoEIO
}
