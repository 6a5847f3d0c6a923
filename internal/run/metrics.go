package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

type metrics struct {
	heard         atomic.Int64
	interim       atomic.Int64
	pauses        atomic.Int64
	reconnects    atomic.Int64
	fatal         atomic.Int64
	sent          atomic.Int64
	skipped       atomic.Int64
	dropped       atomic.Int64
	forwardFailed atomic.Int64
	publishErrors atomic.Int64
}

func (m *metrics) reset() {
	for _, c := range m.counters() {
		c.v.Store(0)
	}
}

func (m *metrics) incHeard()         { m.heard.Add(1) }
func (m *metrics) incInterim()       { m.interim.Add(1) }
func (m *metrics) incPauses()        { m.pauses.Add(1) }
func (m *metrics) incReconnects()    { m.reconnects.Add(1) }
func (m *metrics) incFatal()         { m.fatal.Add(1) }
func (m *metrics) incSent()          { m.sent.Add(1) }
func (m *metrics) incSkipped()       { m.skipped.Add(1) }
func (m *metrics) incDropped()       { m.dropped.Add(1) }
func (m *metrics) incForwardFailed() { m.forwardFailed.Add(1) }
func (m *metrics) incPublishErrors() { m.publishErrors.Add(1) }

type counter struct {
	name string
	v    *atomic.Int64
}

func (m *metrics) counters() []counter {
	return []counter{
		{"telescribe_heard_total", &m.heard},
		{"telescribe_interim_total", &m.interim},
		{"telescribe_vad_pauses_total", &m.pauses},
		{"telescribe_reconnects_total", &m.reconnects},
		{"telescribe_fatal_total", &m.fatal},
		{"telescribe_forward_sent_total", &m.sent},
		{"telescribe_forward_skipped_total", &m.skipped},
		{"telescribe_forward_dropped_total", &m.dropped},
		{"telescribe_forward_failed_total", &m.forwardFailed},
		{"telescribe_publish_errors_total", &m.publishErrors},
	}
}

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		for _, c := range s.metrics.counters() {
			fmt.Fprintf(w, "%s %d\n", c.name, c.v.Load())
		}
		if s.audio != nil {
			fmt.Fprintf(w, "telescribe_audio_frames_dropped_total %d\n", s.audio.Dropped())
		}
		connected := 0
		if s.tr.IsConnected() {
			connected = 1
		}
		fmt.Fprintf(w, "telescribe_connected %d\n", connected)
		fmt.Fprintf(w, "telescribe_uptime_seconds %.0f\n", time.Since(s.startedAt).Seconds())
	})
	return mux
}

func (s *Server) metricsServe(ctx context.Context, addr string) {
	defer s.wg.Done()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	s.logger.Infof("metrics listening on http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warnf("metrics server: %v", err)
	}
}
