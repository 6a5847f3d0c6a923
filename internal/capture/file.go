package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"telescribe/internal/audio"
)

// FileSource replays a WAV file as a frame stream. Frame timestamps are
// derived from the sample offset, so segmentation does not depend on how
// fast frames are consumed. Trailing silence is appended so a final
// utterance is closed before the stream ends.
type FileSource struct {
	path     string
	frame    time.Duration
	padding  time.Duration
	realtime bool

	enabled atomic.Bool
	active  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewFileSource reads path in frames of frameDur. padding of zeros is
// appended after the last frame; realtime paces delivery at wall-clock rate.
func NewFileSource(path string, frameDur, padding time.Duration, realtime bool) *FileSource {
	s := &FileSource{path: path, frame: frameDur, padding: padding, realtime: realtime}
	s.enabled.Store(true)
	return s
}

func (s *FileSource) Open(ctx context.Context) (<-chan Frame, error) {
	samples, rate, err := audio.ReadWAV(s.path)
	if err != nil {
		return nil, err
	}
	samples = append(samples, audio.Silence(int(s.padding.Seconds()*float64(rate)))...)
	per := int(s.frame.Seconds() * float64(rate))
	if per <= 0 {
		per = rate / 10
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.active.Store(true)
	out := make(chan Frame, 16)
	start := time.Now()

	go func() {
		defer close(s.done)
		defer close(out)
		defer s.active.Store(false)
		var tick *time.Ticker
		if s.realtime {
			tick = time.NewTicker(s.frame)
			defer tick.Stop()
		}
		for off := 0; off < len(samples); off += per {
			end := min(off+per, len(samples))
			f := Frame{
				PCM:        samples[off:end],
				SampleRate: rate,
				At:         start.Add(time.Duration(off) * time.Second / time.Duration(rate)),
			}
			if tick != nil {
				select {
				case <-runCtx.Done():
					return
				case <-tick.C:
				}
			}
			if !s.enabled.Load() {
				continue
			}
			select {
			case out <- f:
			case <-runCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *FileSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *FileSource) Active() bool { return s.active.Load() }

func (s *FileSource) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
	return nil
}
