// Package ondevice runs speech recognition locally with whisper.cpp. It is a
// session-style transport: it sees every frame, cuts its own utterances,
// emits interim results while speech continues and a final at the pause.
package ondevice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"telescribe/internal/transport"
	"telescribe/internal/vad"

	"github.com/sirupsen/logrus"
)

const (
	sampleRate     = 16000
	jobQueueSize   = 4
	maxEngineFails = 3
)

// Config holds the local model settings.
type Config struct {
	ModelPath string
	Language  string
	Silence   time.Duration
	// Partial is the interval between interim results; 0 disables them.
	Partial time.Duration
}

type engine interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
	Close() error
}

type job struct {
	pcm   []float32
	final bool
}

// Recognizer is the on-device transport.
type Recognizer struct {
	cfg        Config
	classifier vad.Classifier
	logger     logrus.FieldLogger
	load       func(Config) (engine, error)

	mu          sync.Mutex
	eng         engine
	sink        transport.Sink
	seg         *vad.Segmenter
	running     bool
	lastPartial time.Time
	jobs        chan job
	cancel      context.CancelFunc
	done        chan struct{}
}

// New returns a recognizer; the model is loaded on first Open.
func New(cfg Config, classifier vad.Classifier, logger logrus.FieldLogger) *Recognizer {
	return &Recognizer{
		cfg:        cfg,
		classifier: classifier,
		logger:     logger.WithField("transport", transport.KindOnDevice.String()),
		load:       loadEngine,
	}
}

func (r *Recognizer) Kind() transport.Kind { return transport.KindOnDevice }
func (r *Recognizer) Mode() transport.Mode { return transport.Streaming }
func (r *Recognizer) SampleRate() int      { return sampleRate }

func (r *Recognizer) Open(ctx context.Context, sink transport.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.stopLocked()
	}
	if r.eng == nil {
		eng, err := r.load(r.cfg)
		if err != nil {
			return err
		}
		r.eng = eng
	}
	r.sink = sink
	r.seg = vad.NewSegmenter(r.classifier, sampleRate, r.cfg.Silence, 0)
	r.lastPartial = time.Time{}
	r.jobs = make(chan job, jobQueueSize)
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.worker(workCtx, r.eng, sink, r.jobs, r.done)
	r.logger.Infof("on-device recognizer running (%s)", r.cfg.ModelPath)
	return nil
}

func (r *Recognizer) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// SendAudio feeds one 16 kHz frame into the local segmenter.
func (r *Recognizer) SendAudio(_ context.Context, pcm []float32, at time.Time) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return transport.ErrNotConnected
	}
	utt, ok := r.seg.Push(pcm, at)
	var partial []float32
	if !ok && r.cfg.Partial > 0 && r.seg.Active() &&
		r.seg.Since(at) >= r.cfg.Partial && at.Sub(r.lastPartial) >= r.cfg.Partial {
		partial = r.seg.Snapshot()
		r.lastPartial = at
	}
	if ok {
		r.lastPartial = time.Time{}
		// Pause goes out before the job so it precedes the final text.
		r.sink.VADPause()
		r.enqueueLocked(job{pcm: utt, final: true})
	} else if partial != nil {
		r.enqueueLocked(job{pcm: partial})
	}
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) enqueueLocked(j job) {
	select {
	case r.jobs <- j:
	default:
		r.logger.Warn("recognizer queue full, dropping segment")
	}
}

// Pause stops the recognizer while muted; buffered speech is discarded.
func (r *Recognizer) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.stopLocked()
		r.logger.Debug("recognizer paused")
	}
	return nil
}

// Resume restarts a paused recognizer with the last sink.
func (r *Recognizer) Resume(ctx context.Context) error {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return fmt.Errorf("resume before open: %w", transport.ErrNotConnected)
	}
	return r.Open(ctx, sink)
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.stopLocked()
	}
	if r.eng == nil {
		return nil
	}
	err := r.eng.Close()
	r.eng = nil
	return err
}

// stopLocked ends the worker. The worker never takes r.mu, so waiting here
// cannot deadlock.
func (r *Recognizer) stopLocked() {
	r.running = false
	r.cancel()
	<-r.done
	r.seg.Reset()
}

func (r *Recognizer) worker(ctx context.Context, eng engine, sink transport.Sink, jobs <-chan job, done chan<- struct{}) {
	defer close(done)
	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			text, err := eng.Transcribe(ctx, j.pcm)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fails++
				r.logger.Warnf("transcribe: %v", err)
				if fails >= maxEngineFails {
					go r.fail(eng, fmt.Errorf("recognizer stopped after %d failures: %w", fails, err))
					return
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fails = 0
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			sink.Transcript(text, j.final)
		}
	}
}

// fail tears down a recognizer whose engine keeps failing and reports the
// session as lost so the transcriber can reopen it.
func (r *Recognizer) fail(eng engine, err error) {
	r.mu.Lock()
	if !r.running || r.eng != eng {
		r.mu.Unlock()
		return
	}
	r.stopLocked()
	_ = r.eng.Close()
	r.eng = nil
	sink := r.sink
	r.mu.Unlock()
	sink.Closed(err)
}

var errNoModel = errors.New("ondevice.model_path not set")
