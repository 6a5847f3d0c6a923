package mic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telescribe/internal/capture"
	"telescribe/internal/logging"
)

type fakeStream struct {
	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func newFakeMic(t *testing.T) (*Microphone, *func([]float32), *fakeStream) {
	t.Helper()
	m := New(Config{Frame: 100 * time.Millisecond}, logging.NewTestLogger())
	var deliver func([]float32)
	fs := &fakeStream{}
	m.open = func(cfg Config, d func([]float32)) (stream, int, string, error) {
		deliver = d
		return fs, 48000, "fake mic", nil
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, &deliver, fs
}

func TestOpenDeliversFrames(t *testing.T) {
	m, deliver, _ := newFakeMic(t)
	frames, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !m.Active() {
		t.Fatalf("open mic should be active")
	}
	buf := []float32{0.1, 0.2, 0.3}
	(*deliver)(buf)
	buf[0] = 9 // the backend reuses its buffer

	select {
	case f := <-frames:
		if f.SampleRate != 48000 || len(f.PCM) != 3 || f.PCM[0] != 0.1 {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("no frame delivered")
	}
}

func TestDisabledMicDropsFrames(t *testing.T) {
	m, deliver, _ := newFakeMic(t)
	frames, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m.SetEnabled(false)
	if m.Active() {
		t.Fatalf("disabled mic reports active")
	}
	(*deliver)([]float32{0.5})
	select {
	case f := <-frames:
		t.Fatalf("unexpected frame while disabled: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMicrophoneIsExclusive(t *testing.T) {
	m1, _, _ := newFakeMic(t)
	m2, _, _ := newFakeMic(t)
	if _, err := m1.Open(context.Background()); err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, err := m2.Open(context.Background()); !errors.Is(err, capture.ErrBusy) {
		t.Fatalf("second open err = %v, want ErrBusy", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m2.Open(context.Background()); err != nil {
		t.Fatalf("open after release: %v", err)
	}
}

func TestCloseEndsStreamAndIsIdempotent(t *testing.T) {
	m, _, fs := newFakeMic(t)
	frames, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := <-frames; ok {
		t.Fatalf("frame channel still open")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.stopped || !fs.closed {
		t.Fatalf("backend stream not stopped/closed")
	}
}

func TestContextCancelClosesMic(t *testing.T) {
	m, _, _ := newFakeMic(t)
	ctx, cancel := context.WithCancel(context.Background())
	frames, err := m.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cancel()
	select {
	case _, ok := <-frames:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("cancel did not close the mic")
	}
}

func TestOpenFailureReleasesClaim(t *testing.T) {
	m := New(Config{}, logging.NewTestLogger())
	m.open = func(Config, func([]float32)) (stream, int, string, error) {
		return nil, 0, "", capture.ErrPermissionDenied
	}
	if _, err := m.Open(context.Background()); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("open err = %v", err)
	}
	if err := capture.Claim(); err != nil {
		t.Fatalf("claim still held after failed open: %v", err)
	}
	capture.Release()
}

func TestStaleContextWatcherKeepsNewSession(t *testing.T) {
	m, _, _ := newFakeMic(t)
	if _, err := m.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	m.mu.Lock()
	first := m.done
	m.mu.Unlock()
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	frames, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	// The first session's watcher firing late must not touch the second.
	if err := m.closeSession(first); err != nil {
		t.Fatalf("close stale session: %v", err)
	}
	if !m.Active() {
		t.Fatalf("new session closed by stale watcher")
	}
	select {
	case _, ok := <-frames:
		if !ok {
			t.Fatalf("new frame channel closed by stale watcher")
		}
	default:
	}
}
