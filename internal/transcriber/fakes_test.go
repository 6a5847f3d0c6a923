package transcriber

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telescribe/internal/capture"
	"telescribe/internal/transport"
)

type fakeSource struct {
	openErr error

	mu      sync.Mutex
	ch      chan capture.Frame
	opens   int
	closes  int
	enabled atomic.Bool
}

func newFakeSource() *fakeSource { return &fakeSource{} }

func (s *fakeSource) Open(context.Context) (<-chan capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opens++
	s.ch = make(chan capture.Frame)
	s.enabled.Store(true)
	return s.ch, nil
}

func (s *fakeSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *fakeSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil && s.enabled.Load()
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	return nil
}

// push blocks until the pump takes the frame; a muted source drops it.
func (s *fakeSource) push(t *testing.T, f capture.Frame) {
	t.Helper()
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		t.Fatalf("push on closed source")
	}
	if !s.enabled.Load() {
		return
	}
	select {
	case ch <- f:
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not take frame")
	}
}

func (s *fakeSource) counts() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

type fakeAdapter struct {
	kind transport.Kind
	mode transport.Mode
	rate int
	// openErrs is consumed one per Open; once exhausted, openErr applies.
	openErrs []error
	openErr  error
	// reply is sent to the sink as a final transcript on each SendAudio.
	reply string

	mu        sync.Mutex
	opens     int
	closes    int
	connected bool
	sink      transport.Sink
	sent      [][]float32
}

func (a *fakeAdapter) Kind() transport.Kind { return a.kind }
func (a *fakeAdapter) Mode() transport.Mode { return a.mode }
func (a *fakeAdapter) SampleRate() int      { return a.rate }

func (a *fakeAdapter) Open(_ context.Context, sink transport.Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opens++
	err := a.openErr
	if len(a.openErrs) > 0 {
		err = a.openErrs[0]
		a.openErrs = a.openErrs[1:]
	}
	if err != nil {
		return err
	}
	a.sink = sink
	a.connected = true
	return nil
}

func (a *fakeAdapter) SendAudio(_ context.Context, pcm []float32, _ time.Time) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return transport.ErrNotConnected
	}
	a.sent = append(a.sent, append([]float32(nil), pcm...))
	sink, reply := a.sink, a.reply
	a.mu.Unlock()
	if reply != "" {
		sink.Transcript(reply, true)
	}
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	a.connected = false
	return nil
}

func (a *fakeAdapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// drop simulates the remote side going away.
func (a *fakeAdapter) drop(err error) {
	a.mu.Lock()
	a.connected = false
	sink := a.sink
	a.mu.Unlock()
	sink.Closed(err)
}

func (a *fakeAdapter) stats() (opens int, sent [][]float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens, append([][]float32(nil), a.sent...)
}

func (a *fakeAdapter) currentSink() transport.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

type keepAliveAdapter struct {
	*fakeAdapter
	interval time.Duration
}

func (a *keepAliveAdapter) KeepAliveInterval() time.Duration { return a.interval }

type pauseAdapter struct {
	*fakeAdapter
	pauses  atomic.Int32
	resumes atomic.Int32
}

func (a *pauseAdapter) Pause() error {
	a.pauses.Add(1)
	return a.fakeAdapter.Close()
}

func (a *pauseAdapter) Resume(ctx context.Context) error {
	a.resumes.Add(1)
	return a.fakeAdapter.Open(ctx, a.currentSink())
}

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp
	}
	return out
}

func nextEvent(t *testing.T, tr *Transcriber, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-tr.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func nextConnection(t *testing.T, tr *Transcriber, status Status) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-tr.Events():
			if ev.Type == EventConnection && ev.Connection.Status == status {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s connection event", status)
			return Event{}
		}
	}
}

// noEvent asserts nothing of the given type shows up within d.
func noEvent(t *testing.T, tr *Transcriber, typ EventType, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-tr.Events():
			if ev.Type == typ {
				t.Fatalf("unexpected %s event: %+v", typ, ev)
			}
		case <-deadline:
			return
		}
	}
}
