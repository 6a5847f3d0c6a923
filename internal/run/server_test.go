package run

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"telescribe/internal/capture"
	"telescribe/internal/config"
	"telescribe/internal/control"
	"telescribe/internal/forward"
	"telescribe/internal/logging"
	"telescribe/internal/transcriber"
)

type idleSource struct{ enabled atomic.Bool }

func (s *idleSource) Open(context.Context) (<-chan capture.Frame, error) {
	return make(chan capture.Frame), nil
}
func (s *idleSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }
func (s *idleSource) Active() bool            { return false }
func (s *idleSource) Close() error            { return nil }

func newTestServer(t *testing.T) (*Server, *idleSource) {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	dir := t.TempDir()
	cfg.Paths.TranscriptPath = filepath.Join(dir, "transcripts.log")
	cfg.Paths.SocketPath = filepath.Join(dir, "ctl.sock")
	cfg.Forward.Command = "/bin/echo"
	cfg.Forward.QueueSize = 1
	cfg.UI.StatusTail = 2

	src := &idleSource{}
	tr := transcriber.New(transcriber.Options{Source: src, Logger: logging.NewTestLogger()})
	return newServer(cfg, logging.NewTestLogger(), tr, nil), src
}

func final(text string) transcriber.Event {
	return transcriber.Event{
		Type:      transcriber.EventTranscription,
		SessionID: "s1",
		Result:    transcriber.TranscriptionResult{Text: text, Final: true, Timestamp: time.Now()},
	}
}

func TestFinalTranscriptIsRecordedAndForwarded(t *testing.T) {
	s, _ := newTestServer(t)
	s.handleEvent(context.Background(), final("  turn it up  "))

	if got := s.copyTranscripts(); len(got) != 1 || got[0].Text != "turn it up" {
		t.Fatalf("transcripts = %+v", got)
	}
	data, err := os.ReadFile(s.cfg.Paths.TranscriptPath)
	if err != nil || !strings.Contains(string(data), "\tturn it up\n") {
		t.Fatalf("transcript log = %q (%v)", data, err)
	}
	select {
	case job := <-s.forwardCh:
		if job.Text != "turn it up" || job.SessionID != "s1" {
			t.Fatalf("job = %+v", job)
		}
	default:
		t.Fatalf("no forward job queued")
	}
	if s.metrics.heard.Load() != 1 {
		t.Fatalf("heard = %d", s.metrics.heard.Load())
	}
}

func TestInterimIsNotRecorded(t *testing.T) {
	s, _ := newTestServer(t)
	ev := final("partial words")
	ev.Result.Final = false
	s.handleEvent(context.Background(), ev)
	if len(s.copyTranscripts()) != 0 || len(s.forwardCh) != 0 {
		t.Fatalf("interim result was treated as final")
	}
	if s.metrics.interim.Load() != 1 {
		t.Fatalf("interim = %d", s.metrics.interim.Load())
	}
}

func TestTranscriptTailIsBounded(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.Forward.Command = ""
	for _, txt := range []string{"one", "two", "three"} {
		s.handleEvent(context.Background(), final(txt))
	}
	got := s.copyTranscripts()
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("tail = %+v", got)
	}
}

func TestForwardGating(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.Forward.MinChars = 5
	s.handleEvent(context.Background(), final("hey"))
	if len(s.forwardCh) != 0 {
		t.Fatalf("short transcript forwarded")
	}

	s.handleEvent(context.Background(), final("first long one"))
	s.handleEvent(context.Background(), final("second long one"))
	if s.metrics.dropped.Load() != 1 {
		t.Fatalf("dropped = %d, want 1 with a full queue", s.metrics.dropped.Load())
	}

	<-s.forwardCh
	s.cfg.Forward.CooldownSec = 60
	if err := s.forward.Run(context.Background(), forward.Job{Text: "ran", Timestamp: time.Now()}); err != nil {
		t.Fatalf("forward run: %v", err)
	}
	s.handleEvent(context.Background(), final("inside cooldown"))
	if s.metrics.skipped.Load() != 1 || len(s.forwardCh) != 0 {
		t.Fatalf("cooldown did not skip: skipped=%d queued=%d", s.metrics.skipped.Load(), len(s.forwardCh))
	}
}

func TestConnectionAndFatalEventsCount(t *testing.T) {
	s, _ := newTestServer(t)
	s.handleEvent(context.Background(), transcriber.Event{Type: transcriber.EventConnection,
		Connection: transcriber.ConnectionInfo{Status: transcriber.StatusReconnecting}})
	s.handleEvent(context.Background(), transcriber.Event{Type: transcriber.EventVADPause})
	s.handleEvent(context.Background(), transcriber.Event{Type: transcriber.EventFatal, Err: transcriber.ErrReconnectExhausted})
	if s.metrics.reconnects.Load() != 1 || s.metrics.pauses.Load() != 1 || s.metrics.fatal.Load() != 1 {
		t.Fatalf("counters reconnects=%d pauses=%d fatal=%d",
			s.metrics.reconnects.Load(), s.metrics.pauses.Load(), s.metrics.fatal.Load())
	}
}

func TestControlSocketOps(t *testing.T) {
	s, src := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.controlLoop(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()
	waitForSocket(t, s.cfg.Paths.SocketPath)

	s.handleEvent(ctx, final("status check"))
	var st control.Status
	if err := control.Call(s.cfg.Paths.SocketPath, control.OpStatus, &st); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Running || st.Connection.Status != "disconnected" || len(st.Transcripts) != 1 || st.LastHeard == nil {
		t.Fatalf("status = %+v", st)
	}

	var resp control.SimpleResponse
	if err := control.Call(s.cfg.Paths.SocketPath, control.OpMute, &resp); err != nil || !resp.OK {
		t.Fatalf("mute: %+v %v", resp, err)
	}
	if !s.tr.ConnectionInfo().Muted || src.enabled.Load() {
		t.Fatalf("mute op did not mute the transcriber")
	}
	var info control.Info
	if err := control.Call(s.cfg.Paths.SocketPath, control.OpInfo, &info); err != nil || !info.Muted {
		t.Fatalf("info: %+v %v", info, err)
	}
	if err := control.Call(s.cfg.Paths.SocketPath, control.OpUnmute, &resp); err != nil || !resp.OK {
		t.Fatalf("unmute: %+v %v", resp, err)
	}
	if s.tr.ConnectionInfo().Muted || !src.enabled.Load() {
		t.Fatalf("unmute op did not unmute")
	}
	if err := control.Call(s.cfg.Paths.SocketPath, "bogus", &resp); err != nil || resp.OK {
		t.Fatalf("unknown op: %+v %v", resp, err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.handleEvent(context.Background(), final("count me"))
	rec := httptest.NewRecorder()
	s.metricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"telescribe_heard_total 1\n", "telescribe_connected 0\n", "telescribe_forward_dropped_total 0\n"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

type droppingSource struct{ n int64 }

func (d droppingSource) Dropped() int64 { return d.n }

func TestMetricsReportDroppedAudioFrames(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.metricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), "telescribe_audio_frames_dropped_total") {
		t.Fatalf("dropped-frame gauge reported without a capture source")
	}

	s.audio = droppingSource{n: 7}
	rec = httptest.NewRecorder()
	s.metricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "telescribe_audio_frames_dropped_total 7\n") {
		t.Fatalf("metrics missing dropped frames:\n%s", rec.Body.String())
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("control socket %s never appeared", path)
}
