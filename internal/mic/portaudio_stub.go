//go:build !portaudio

package mic

import (
	"fmt"

	"telescribe/internal/capture"
)

var errNoBackend = fmt.Errorf("%w: build with -tags portaudio to enable microphone capture", capture.ErrNoInputDevice)

func openBackend(Config, func([]float32)) (stream, int, string, error) {
	return nil, 0, "", errNoBackend
}

func ListDevices() ([]Device, error) { return nil, errNoBackend }

func Available() bool { return false }
