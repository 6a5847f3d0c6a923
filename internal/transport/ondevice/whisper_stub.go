//go:build !whisper

package ondevice

import (
	"fmt"

	"telescribe/internal/transport"
)

func loadEngine(cfg Config) (engine, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, errNoModel)
	}
	return nil, fmt.Errorf("%w: build with -tags whisper for on-device recognition", transport.ErrUnavailable)
}
