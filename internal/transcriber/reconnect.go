package transcriber

import (
	"fmt"
	"time"

	"telescribe/internal/logging"
	"telescribe/internal/transport"
)

// sessionSink binds adapter callbacks to the generation that opened them so
// output from a torn-down session is dropped.
type sessionSink struct {
	t   *Transcriber
	gen uint64
}

func (s *sessionSink) Transcript(text string, final bool) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != s.gen || t.state == stateIdle {
		return
	}
	t.emitLocked(Event{Type: EventTranscription, Result: TranscriptionResult{
		Text:      text,
		Final:     final,
		Timestamp: time.Now(),
	}})
}

func (s *sessionSink) VADPause() {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != s.gen || t.state == stateIdle {
		return
	}
	t.emitLocked(Event{Type: EventVADPause})
}

func (s *sessionSink) Closed(err error) { s.t.onClosed(s.gen, err) }

func (t *Transcriber) onClosed(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.state != stateRunning {
		return
	}
	if err == nil {
		t.status = StatusDisconnected
		t.emitLocked(Event{Type: EventConnection, Connection: t.infoLocked()})
		t.logger.WithField("transport", t.kind).Info("session closed by remote")
		return
	}
	if t.status == StatusReconnecting && t.timer != nil {
		// A retry is already pending.
		return
	}
	t.logger.WithField("transport", t.kind).Warnf("session lost: %v", err)
	t.status = StatusReconnecting
	t.emitLocked(Event{Type: EventConnection, Connection: t.infoLocked()})
	t.scheduleReconnectLocked(gen)
}

func (t *Transcriber) scheduleReconnectLocked(gen uint64) {
	t.timer = nil
	if t.attempts >= t.opts.Backoff.MaxAttempts {
		t.status = StatusError
		t.emitLocked(Event{Type: EventConnection, Connection: t.infoLocked()})
		t.emitLocked(Event{Type: EventFatal, Err: fmt.Errorf("%s: %w after %d attempts", t.kind, ErrReconnectExhausted, t.attempts)})
		t.logger.Errorf("giving up on %s after %d reconnect attempts", t.kind, t.attempts)
		return
	}
	t.attempts++
	delay := t.opts.Backoff.Delay(t.attempts)
	t.logger.Infof("reconnecting in %s (attempt %d/%d)", delay, t.attempts, t.opts.Backoff.MaxAttempts)
	t.timer = time.AfterFunc(delay, func() { t.reconnect(gen) })
}

func (t *Transcriber) reconnect(gen uint64) {
	t.mu.Lock()
	if t.gen != gen || t.state != stateRunning {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	a, ctx, muted := t.active, t.runCtx, t.muted
	t.loops.Add(1)
	t.mu.Unlock()
	defer t.loops.Done()

	if _, ok := a.(transport.Pauser); ok && muted {
		// Unmute resumes the session.
		t.mu.Lock()
		if t.gen == gen && t.state == stateRunning {
			t.attempts = 0
			t.status = StatusDisconnected
			t.emitLocked(Event{Type: EventConnection, Connection: t.infoLocked()})
		}
		t.mu.Unlock()
		return
	}

	err := a.Open(ctx, &sessionSink{t: t, gen: gen})

	t.mu.Lock()
	if t.gen != gen || t.state != stateRunning {
		t.mu.Unlock()
		if err == nil {
			_ = a.Close()
		}
		return
	}
	defer t.mu.Unlock()
	if err != nil {
		t.logger.Warnf("reconnect attempt %d failed: %v", t.attempts, err)
		t.scheduleReconnectLocked(gen)
		return
	}
	t.attempts = 0
	t.status = StatusConnected
	t.emitLocked(Event{Type: EventConnection, Connection: t.infoLocked()})
	logging.Session(t.logger, t.sessionID, t.kind).Info("reconnected")
}
