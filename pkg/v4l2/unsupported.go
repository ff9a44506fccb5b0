//go:build !(linux && (386 || arm || amd64 || arm64))

package v4l2

import (
	"errors"

	"github.com/uvcam/uvcam/pkg/capture"
)

var errUnsupported = errors.New("v4l2: not supported on this platform")

// Source is a stub, only Linux can talk to capture hardware.
type Source struct{}

func Open(string) (*Source, error) { return nil, errUnsupported }

func Scan() []Info { return nil }

func (s *Source) Capability() capture.Capability { return capture.Capability{} }

func (s *Source) Stream(capture.Format, func(capture.Chunk)) error { return errUnsupported }

func (s *Source) Stop() error { return nil }

func (s *Source) Reset() error { return errUnsupported }

func (s *Source) Close() error { return nil }
