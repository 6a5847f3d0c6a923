package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"telescribe/internal/config"
	"telescribe/internal/control"
	"telescribe/internal/forward"
	"telescribe/internal/mic"
	"telescribe/internal/pipeline"
	"telescribe/internal/publish"
	"telescribe/internal/transcriber"

	"github.com/sirupsen/logrus"
)

// Server owns one transcriber and fans its events out to the transcript
// log, the forward command, Redis and the control socket.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	tr        *transcriber.Transcriber
	forward   *forward.Runner
	pub       *publish.Publisher
	startedAt time.Time
	lastHeard atomic.Int64

	transcriptsMu sync.Mutex
	transcripts   []control.Transcript

	metrics   metrics
	forwardCh chan forward.Job

	// audio reports capture-side frame loss; nil when the source has none.
	audio frameDropper

	wg sync.WaitGroup
}

type frameDropper interface {
	Dropped() int64
}

func newServer(cfg *config.Config, logger *logrus.Logger, tr *transcriber.Transcriber, pub *publish.Publisher) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		tr:          tr,
		forward:     forward.NewRunner(cfg, logger),
		pub:         pub,
		startedAt:   time.Now(),
		transcripts: make([]control.Transcript, 0, cfg.UI.StatusTail),
		forwardCh:   make(chan forward.Job, max(1, cfg.Forward.QueueSize)),
	}
	s.metrics.reset()
	return s
}

// Serve runs the daemon until interrupted.
func Serve(cfg *config.Config, logger *logrus.Logger) error {
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Paths.PidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Paths.PidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("remove pid file: %v", err)
		}
	}()
	if err := os.Remove(cfg.Paths.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debugf("remove stale socket: %v", err)
	}

	src := mic.New(mic.Config{
		DeviceName: cfg.Audio.DeviceName,
		SampleRate: cfg.Audio.SampleRate,
		Frame:      time.Duration(cfg.Audio.FrameMS) * time.Millisecond,
	}, logger)
	tr, err := pipeline.New(cfg, src, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pub *publish.Publisher
	if cfg.Publish.Enabled {
		pub = publish.New(cfg, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := pub.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Warnf("event publishing disabled: %v", err)
			_ = pub.Close()
			pub = nil
		} else {
			defer func() { _ = pub.Close() }()
		}
	}

	srv := newServer(cfg, logger, tr, pub)
	srv.audio = src
	srv.startLoops(ctx)

	if err := tr.Start(ctx); err != nil {
		// The daemon stays up so status shows the failure and reconnect can retry.
		logger.Errorf("transcription not running: %v", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-sigCh:
		logger.Infof("received signal %s, shutting down", s)
	case <-ctx.Done():
	}
	tr.Stop()
	cancel()
	srv.wg.Wait()
	return nil
}

func (s *Server) startLoops(ctx context.Context) {
	s.wg.Add(3)
	go s.controlLoop(ctx)
	go s.forwardWorker(ctx)
	go s.eventLoop(ctx)
	if s.cfg.Metrics.Enabled {
		s.wg.Add(1)
		go s.metricsServe(ctx, s.cfg.Metrics.Addr)
	}
}

func (s *Server) eventLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.tr.Events():
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, ev transcriber.Event) {
	if s.pub != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := s.pub.Publish(pubCtx, ev); err != nil {
			s.metrics.incPublishErrors()
			s.logger.Debugf("publish: %v", err)
		}
		cancel()
	}
	switch ev.Type {
	case transcriber.EventTranscription:
		s.handleTranscript(ev)
	case transcriber.EventVADPause:
		s.metrics.incPauses()
		s.logger.Debug("speech pause")
	case transcriber.EventConnection:
		info := ev.Connection
		if info.Status == transcriber.StatusReconnecting {
			s.metrics.incReconnects()
		}
		s.logger.WithFields(logrus.Fields{"transport": info.Transport, "session": ev.SessionID}).
			Infof("connection %s", info.Status)
	case transcriber.EventFatal:
		s.metrics.incFatal()
		s.logger.Errorf("transcription stopped: %v", ev.Err)
	}
}

func (s *Server) handleTranscript(ev transcriber.Event) {
	text := strings.TrimSpace(ev.Result.Text)
	if text == "" {
		return
	}
	if !ev.Result.Final {
		s.metrics.incInterim()
		s.logger.Debugf("interim: %q", text)
		return
	}
	s.lastHeard.Store(time.Now().UnixNano())
	s.metrics.incHeard()
	s.logger.Infof("heard: %q", text)
	s.recordTranscript(text, ev.Result.Timestamp)

	if !s.forward.Enabled() || !s.forward.Accepts(text) {
		return
	}
	if !s.forward.ShouldRun() {
		s.logger.Debug("forward skipped (cooldown)")
		s.metrics.incSkipped()
		return
	}
	job := forward.Job{Text: text, Timestamp: ev.Result.Timestamp, SessionID: ev.SessionID}
	select {
	case s.forwardCh <- job:
	default:
		s.metrics.incDropped()
		s.logger.Warn("forward queue full, dropping job")
	}
}

func (s *Server) recordTranscript(text string, at time.Time) {
	if !s.cfg.Transcripts.Enabled {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	entry := control.Transcript{Text: text, Timestamp: at}
	s.transcriptsMu.Lock()
	defer s.transcriptsMu.Unlock()
	s.transcripts = append(s.transcripts, entry)
	if len(s.transcripts) > s.cfg.UI.StatusTail {
		s.transcripts = s.transcripts[len(s.transcripts)-s.cfg.UI.StatusTail:]
	}
	f, err := os.OpenFile(s.cfg.Paths.TranscriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warnf("open transcript log: %v", err)
		return
	}
	if _, err := fmt.Fprintf(f, "%s\t%s\n", entry.Timestamp.Format(time.RFC3339), entry.Text); err != nil {
		s.logger.Warnf("write transcript: %v", err)
	}
	_ = f.Close()
}

func (s *Server) controlLoop(ctx context.Context) {
	defer s.wg.Done()
	ln, err := net.Listen("unix", s.cfg.Paths.SocketPath)
	if err != nil {
		s.logger.Errorf("control listen: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			s.logger.Warnf("control connection close: %v", err)
		}
	}()
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	var req control.Request
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		_ = json.NewEncoder(conn).Encode(control.SimpleResponse{Message: "bad request"})
		return
	}
	_ = json.NewEncoder(conn).Encode(s.handleRequest(ctx, req))
}

func (s *Server) handleRequest(ctx context.Context, req control.Request) any {
	switch req.Op {
	case control.OpStatus:
		st := control.Status{
			Running:     true,
			UptimeSec:   time.Since(s.startedAt).Seconds(),
			Connection:  s.info(),
			Transcripts: s.copyTranscripts(),
		}
		if ns := s.lastHeard.Load(); ns > 0 {
			t := time.Unix(0, ns)
			st.LastHeard = &t
		}
		return st
	case control.OpInfo:
		return s.info()
	case control.OpHealth:
		info := s.info()
		return control.SimpleResponse{OK: info.Status != transcriber.StatusError.String(), Message: info.Status}
	case control.OpMute:
		s.tr.Mute()
		return control.SimpleResponse{OK: true, Message: "muted"}
	case control.OpUnmute:
		s.tr.Unmute()
		return control.SimpleResponse{OK: true, Message: "unmuted"}
	case control.OpReconnect:
		s.tr.Stop()
		if err := s.tr.Start(ctx); err != nil {
			return control.SimpleResponse{Message: err.Error()}
		}
		return control.SimpleResponse{OK: true, Message: s.info().Transport}
	default:
		return control.SimpleResponse{Message: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func (s *Server) info() control.Info {
	ci := s.tr.ConnectionInfo()
	return control.Info{
		Transport: ci.Transport.String(),
		Status:    ci.Status.String(),
		Connected: s.tr.IsConnected(),
		Muted:     ci.Muted,
		Attempts:  ci.Attempts,
		SessionID: ci.SessionID,
	}
}

func (s *Server) copyTranscripts() []control.Transcript {
	s.transcriptsMu.Lock()
	defer s.transcriptsMu.Unlock()
	out := make([]control.Transcript, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}
