// Package mic captures the default (or configured) input device as a
// capture.Source.
package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"telescribe/internal/capture"

	"github.com/sirupsen/logrus"
)

// Config selects the input device.
type Config struct {
	// DeviceName is matched case-insensitively as a substring; empty picks
	// the system default.
	DeviceName string
	// SampleRate of 0 uses the device default.
	SampleRate int
	Frame      time.Duration
}

// Device describes one input device.
type Device struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Channels  int     `json:"channels"`
	Rate      float64 `json:"default_rate"`
	LatencyMs float64 `json:"latency_ms"`
	Default   bool    `json:"default"`
}

type stream interface {
	Stop() error
	Close() error
}

// openFunc starts capture and calls deliver with each mono buffer.
type openFunc func(cfg Config, deliver func([]float32)) (s stream, rate int, name string, err error)

// Microphone is a capture.Source backed by the audio backend.
type Microphone struct {
	cfg    Config
	logger logrus.FieldLogger
	open   openFunc

	enabled atomic.Bool
	active  atomic.Bool
	dropped atomic.Int64

	mu     sync.Mutex
	stream stream
	out    chan capture.Frame
	done   chan struct{}
}

func New(cfg Config, logger logrus.FieldLogger) *Microphone {
	if cfg.Frame <= 0 {
		cfg.Frame = 100 * time.Millisecond
	}
	m := &Microphone{cfg: cfg, logger: logger, open: openBackend}
	m.enabled.Store(true)
	return m
}

// Open claims the microphone and starts capture. The frame channel closes
// when Close is called or ctx ends.
func (m *Microphone) Open(ctx context.Context) (<-chan capture.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil, capture.ErrBusy
	}
	if err := capture.Claim(); err != nil {
		return nil, err
	}

	out := make(chan capture.Frame, 32)
	var rate atomic.Int64
	deliver := func(in []float32) {
		// rate is unknown until the backend has reported it.
		if !m.enabled.Load() || rate.Load() == 0 {
			return
		}
		pcm := make([]float32, len(in))
		copy(pcm, in)
		select {
		case out <- capture.Frame{PCM: pcm, SampleRate: int(rate.Load()), At: time.Now()}:
		default:
			if m.dropped.Add(1)%50 == 1 {
				m.logger.Warn("audio frame queue full, dropping frames")
			}
		}
	}
	s, r, name, err := m.open(m.cfg, deliver)
	if err != nil {
		capture.Release()
		return nil, err
	}
	rate.Store(int64(r))

	m.stream, m.out, m.done = s, out, make(chan struct{})
	m.active.Store(true)
	m.logger.Infof("listening on mic: %s @ %d Hz", name, r)

	go func(done chan struct{}) {
		select {
		case <-ctx.Done():
			_ = m.closeSession(done)
		case <-done:
		}
	}(m.done)
	return out, nil
}

func (m *Microphone) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

func (m *Microphone) Active() bool { return m.active.Load() && m.enabled.Load() }

// Dropped counts frames lost to a slow consumer.
func (m *Microphone) Dropped() int64 { return m.dropped.Load() }

// Close stops capture and releases the microphone. It is idempotent.
func (m *Microphone) Close() error {
	return m.closeSession(nil)
}

// closeSession closes the current stream. A non-nil done limits it to the
// session that owns done, so a late context watcher cannot close a stream
// opened after it.
func (m *Microphone) closeSession(done chan struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || (done != nil && m.done != done) {
		return nil
	}
	var errs []error
	if err := m.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := m.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	// Stop waits for the callback, so nothing writes to out past this point.
	close(m.out)
	close(m.done)
	m.stream, m.out, m.done = nil, nil, nil
	m.active.Store(false)
	capture.Release()
	return errors.Join(errs...)
}
