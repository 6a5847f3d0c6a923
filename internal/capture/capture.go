// Package capture defines audio sources feeding the transcriber and the
// process-wide microphone claim.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoInputDevice    = errors.New("no input device found")
	ErrBusy             = errors.New("microphone already in use")
)

// Frame is one chunk of mono float samples in [-1, 1].
type Frame struct {
	PCM        []float32
	SampleRate int
	At         time.Time
}

// Source produces frames until closed. The channel returned by Open is closed
// when the source ends or Close is called.
type Source interface {
	Open(ctx context.Context) (<-chan Frame, error)
	// SetEnabled gates delivery; a disabled source drops captured frames.
	SetEnabled(enabled bool)
	Active() bool
	Close() error
}

var claim struct {
	mu   sync.Mutex
	held bool
}

// Claim takes the process-wide microphone. A second Claim fails fast with
// ErrBusy until Release is called.
func Claim() error {
	claim.mu.Lock()
	defer claim.mu.Unlock()
	if claim.held {
		return ErrBusy
	}
	claim.held = true
	return nil
}

// Release gives the microphone back. Releasing an unclaimed microphone is a no-op.
func Release() {
	claim.mu.Lock()
	claim.held = false
	claim.mu.Unlock()
}
