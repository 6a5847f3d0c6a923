// Package transcriber runs one live transcription session: it pulls frames
// from a capture source, feeds the first transport that opens, and turns
// adapter output into events. Lost sessions are reopened with exponential
// backoff.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"telescribe/internal/audio"
	"telescribe/internal/capture"
	"telescribe/internal/logging"
	"telescribe/internal/transport"
	"telescribe/internal/vad"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoTransport means every configured adapter refused to open.
	ErrNoTransport = errors.New("no transcription transport available")
	// ErrReconnectExhausted is carried by the fatal event after the last retry.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrNotStarted is returned by Drain without a running session.
	ErrNotStarted = errors.New("transcription not started")
)

const (
	defaultEventBuffer = 64
	keepAliveFrame     = 80 * time.Millisecond
)

// Options configures a Transcriber.
type Options struct {
	Source capture.Source
	// Transports are tried in order on Start.
	Transports []transport.Adapter
	// Classifier drives the segmenter for buffered transports.
	Classifier  vad.Classifier
	Silence     time.Duration
	MaxSegment  time.Duration
	Backoff     Backoff
	EventBuffer int
	// DumpDir, when set, receives a WAV of every dispatched utterance.
	DumpDir string
	Logger  logrus.FieldLogger
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateRunning
)

// Transcriber is safe for concurrent use.
type Transcriber struct {
	opts   Options
	logger logrus.FieldLogger
	events chan Event

	mu         sync.Mutex
	state      state
	gen        uint64
	sessionID  string
	muted      bool
	active     transport.Adapter
	kind       transport.Kind
	mode       transport.Mode
	rate       int
	status     Status
	seg        *vad.Segmenter
	attempts   int
	timer      *time.Timer
	runCtx     context.Context
	cancel     context.CancelFunc
	sourceDone chan struct{}

	// loops tracks the pump, keep-alive and reconnect goroutines.
	loops sync.WaitGroup
	// inflight tracks buffered recognition requests.
	inflight sync.WaitGroup
}

// New builds an idle Transcriber.
func New(opts Options) *Transcriber {
	if opts.Classifier == nil {
		opts.Classifier = vad.Amplitude{Threshold: 0.02}
	}
	if opts.Silence <= 0 {
		opts.Silence = 800 * time.Millisecond
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	opts.Backoff = normalizeBackoff(opts.Backoff)
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transcriber{
		opts:   opts,
		logger: logger,
		events: make(chan Event, opts.EventBuffer),
	}
}

// Events delivers transcripts, pauses, connection changes and fatal errors.
// Events are dropped with a warning when the consumer falls behind.
func (t *Transcriber) Events() <-chan Event { return t.events }

// Start opens the source and the first available transport. Calling Start on
// a running session logs and returns nil.
func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != stateIdle {
		t.mu.Unlock()
		t.logger.Info("transcription already started")
		return nil
	}
	t.state = stateStarting
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	frames, err := t.opts.Source.Open(runCtx)
	if err != nil {
		cancel()
		err = fmt.Errorf("open audio source: %w", err)
		t.abortStart(gen, err)
		return err
	}

	sink := &sessionSink{t: t, gen: gen}
	var chosen transport.Adapter
	for _, a := range t.opts.Transports {
		if err := a.Open(runCtx, sink); err != nil {
			t.logger.WithField("transport", a.Kind()).Infof("transport unavailable: %v", err)
			continue
		}
		chosen = a
		break
	}
	if chosen == nil {
		cancel()
		if err := t.opts.Source.Close(); err != nil {
			t.logger.Warnf("close audio source: %v", err)
		}
		t.abortStart(gen, ErrNoTransport)
		return ErrNoTransport
	}
	kind, mode, rate := chosen.Kind(), chosen.Mode(), chosen.SampleRate()
	keepAlive := time.Duration(0)
	if ka, ok := chosen.(transport.KeepAliver); ok {
		keepAlive = ka.KeepAliveInterval()
	}

	t.mu.Lock()
	if t.gen != gen {
		// Stop ran while we were opening.
		t.mu.Unlock()
		cancel()
		_ = chosen.Close()
		_ = t.opts.Source.Close()
		return nil
	}
	t.state = stateRunning
	t.sessionID = uuid.NewString()
	t.active = chosen
	t.kind, t.mode, t.rate = kind, mode, rate
	t.status = StatusConnected
	t.attempts = 0
	t.runCtx, t.cancel = runCtx, cancel
	t.seg = vad.NewSegmenter(t.opts.Classifier, rate, t.opts.Silence, t.opts.MaxSegment)
	t.sourceDone = make(chan struct{})
	muted := t.muted
	t.loops.Add(1)
	go t.pump(runCtx, gen, frames, t.sourceDone)
	if keepAlive > 0 {
		t.loops.Add(1)
		go t.keepAlive(runCtx, gen, chosen, rate, keepAlive)
	}
	t.emitLocked(Event{Type: EventConnection, Connection: t.infoLocked()})
	sessionID := t.sessionID
	t.mu.Unlock()

	t.opts.Source.SetEnabled(!muted)
	if muted {
		if p, ok := chosen.(transport.Pauser); ok {
			if err := p.Pause(); err != nil {
				t.logger.Warnf("pause %s: %v", kind, err)
			}
		}
	}
	logging.Session(t.logger, sessionID, kind).Info("transcription started")
	return nil
}

func (t *Transcriber) abortStart(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return
	}
	t.state = stateIdle
	t.status = StatusDisconnected
	t.emitLocked(Event{Type: EventFatal, Err: err})
	t.logger.Errorf("transcription failed to start: %v", err)
}

// Stop tears the session down. It is safe to call repeatedly. The mute state
// survives a stop/start cycle.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	if t.state == stateIdle {
		t.mu.Unlock()
		return
	}
	wasRunning := t.state == stateRunning
	t.state = stateIdle
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.seg != nil {
		t.seg.Reset()
	}
	cancel, a, kind := t.cancel, t.active, t.kind
	t.cancel, t.active, t.runCtx = nil, nil, nil
	t.kind = transport.KindNone
	t.attempts = 0
	t.status = StatusDisconnected
	t.mu.Unlock()
	if !wasRunning {
		// Start notices the generation change and cleans up after itself.
		return
	}

	cancel()
	if err := a.Close(); err != nil {
		t.logger.Warnf("close %s: %v", kind, err)
	}
	if err := t.opts.Source.Close(); err != nil {
		t.logger.Warnf("close audio source: %v", err)
	}
	t.loops.Wait()
	t.inflight.Wait()

	t.mu.Lock()
	t.emitLocked(Event{Type: EventConnection, Connection: ConnectionInfo{
		Transport: kind,
		Status:    StatusDisconnected,
		Muted:     t.muted,
		SessionID: t.sessionID,
	}})
	t.mu.Unlock()
	t.logger.Info("transcription stopped")
}

// Drain waits until the source has ended and every buffered request has
// finished. It is meant for finite sources such as files.
func (t *Transcriber) Drain(ctx context.Context) error {
	t.mu.Lock()
	done := t.sourceDone
	running := t.state == stateRunning
	t.mu.Unlock()
	if !running || done == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	flushed := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mute stops delivering audio and discards buffered speech.
func (t *Transcriber) Mute() {
	t.mu.Lock()
	if t.muted {
		t.mu.Unlock()
		return
	}
	t.muted = true
	if t.seg != nil {
		t.seg.Reset()
	}
	a, running := t.active, t.state == stateRunning
	t.mu.Unlock()

	t.opts.Source.SetEnabled(false)
	if running {
		if p, ok := a.(transport.Pauser); ok {
			if err := p.Pause(); err != nil {
				t.logger.Warnf("pause %s: %v", a.Kind(), err)
			}
		}
	}
	t.logger.Info("microphone muted")
}

// Unmute resumes audio delivery.
func (t *Transcriber) Unmute() {
	t.mu.Lock()
	if !t.muted {
		t.mu.Unlock()
		return
	}
	t.muted = false
	a, running, gen, ctx := t.active, t.state == stateRunning, t.gen, t.runCtx
	t.mu.Unlock()

	t.opts.Source.SetEnabled(true)
	t.logger.Info("microphone unmuted")
	if !running {
		return
	}
	p, ok := a.(transport.Pauser)
	if !ok {
		return
	}
	if err := p.Resume(ctx); err != nil {
		t.logger.Warnf("resume %s: %v", a.Kind(), err)
		t.onClosed(gen, err)
		return
	}
	t.mu.Lock()
	if t.gen == gen && t.state == stateRunning && t.status != StatusConnected {
		t.attempts = 0
		t.status = StatusConnected
		t.emitLocked(Event{Type: EventConnection, Connection: t.infoLocked()})
	}
	t.mu.Unlock()
}

// IsConnected reports whether audio is flowing to a live transport.
func (t *Transcriber) IsConnected() bool {
	t.mu.Lock()
	a, running := t.active, t.state == stateRunning
	t.mu.Unlock()
	return running && a != nil && t.opts.Source.Active() && a.Connected()
}

// ConnectionInfo snapshots the current transport and status.
func (t *Transcriber) ConnectionInfo() ConnectionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.infoLocked()
}

func (t *Transcriber) infoLocked() ConnectionInfo {
	return ConnectionInfo{
		Transport: t.kind,
		Status:    t.status,
		Muted:     t.muted,
		Attempts:  t.attempts,
		SessionID: t.sessionID,
	}
}

func (t *Transcriber) emitLocked(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.SessionID = t.sessionID
	select {
	case t.events <- ev:
	default:
		t.logger.Warnf("event queue full, dropping %s event", ev.Type)
	}
}

func (t *Transcriber) pump(ctx context.Context, gen uint64, frames <-chan capture.Frame, done chan struct{}) {
	defer t.loops.Done()
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				t.logger.Debug("audio source ended")
				return
			}
			t.handleFrame(ctx, gen, f)
		}
	}
}

func (t *Transcriber) handleFrame(ctx context.Context, gen uint64, f capture.Frame) {
	t.mu.Lock()
	if t.gen != gen || t.state != stateRunning || t.muted {
		t.mu.Unlock()
		return
	}
	a, rate := t.active, t.rate
	if t.mode == transport.Buffered {
		pcm := audio.Resample(f.PCM, f.SampleRate, rate)
		utt, ok := t.seg.Push(pcm, f.At)
		if ok {
			t.emitLocked(Event{Type: EventVADPause})
			t.inflight.Add(1)
		}
		sessionID := t.sessionID
		t.mu.Unlock()
		if ok {
			go t.dispatch(ctx, a, utt, rate, f.At, sessionID)
		}
		return
	}
	t.mu.Unlock()

	if !a.Connected() {
		return
	}
	pcm := audio.Resample(f.PCM, f.SampleRate, rate)
	if err := a.SendAudio(ctx, pcm, f.At); err != nil {
		t.logger.Debugf("send audio: %v", err)
	}
}

func (t *Transcriber) dispatch(ctx context.Context, a transport.Adapter, utt []float32, rate int, at time.Time, sessionID string) {
	defer t.inflight.Done()
	if t.opts.DumpDir != "" {
		t.dump(utt, rate, at, sessionID)
	}
	if err := a.SendAudio(ctx, utt, at); err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.WithField("samples", len(utt)).Warnf("recognition failed: %v", err)
	}
}

func (t *Transcriber) dump(utt []float32, rate int, at time.Time, sessionID string) {
	if err := os.MkdirAll(t.opts.DumpDir, 0o755); err != nil {
		t.logger.Warnf("vad dump dir: %v", err)
		return
	}
	name := fmt.Sprintf("%s-%d.wav", sessionID, at.UnixMilli())
	if err := audio.WriteWAV(filepath.Join(t.opts.DumpDir, name), utt, rate); err != nil {
		t.logger.Warnf("vad dump: %v", err)
	}
}

func (t *Transcriber) keepAlive(ctx context.Context, gen uint64, a transport.Adapter, rate int, interval time.Duration) {
	defer t.loops.Done()
	silence := audio.Silence(rate * int(keepAliveFrame/time.Millisecond) / 1000)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		t.mu.Lock()
		live := t.gen == gen && t.state == stateRunning
		t.mu.Unlock()
		if !live {
			return
		}
		if !a.Connected() {
			continue
		}
		if err := a.SendAudio(ctx, silence, time.Now()); err != nil {
			t.logger.Debugf("keep-alive: %v", err)
		}
	}
}
