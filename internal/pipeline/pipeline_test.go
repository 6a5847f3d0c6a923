package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"telescribe/internal/audio"
	"telescribe/internal/capture"
	"telescribe/internal/config"
	"telescribe/internal/logging"
	"telescribe/internal/transcriber"
	"telescribe/internal/transport"
	"telescribe/internal/vad"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	return cfg
}

func writeUtterance(t *testing.T, speech, silence time.Duration) string {
	t.Helper()
	const rate = 16000
	n := int(speech.Seconds() * rate)
	samples := make([]float32, n+int(silence.Seconds()*rate))
	for i := 0; i < n; i++ {
		samples[i] = 0.2
	}
	path := filepath.Join(t.TempDir(), "utterance.wav")
	if err := audio.WriteWAV(path, samples, rate); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestCloudPipelineTranscribesOneUtterance(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"alternatives": []map[string]any{{"transcript": "turn on the lights", "confidence": 0.9}},
			}},
		})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Transports.Order = []string{config.TransportCloud}
	cfg.Cloud.ProjectID = "demo-project"
	cfg.Cloud.APIKey = "key123"
	cfg.Cloud.Endpoint = srv.URL

	src := capture.NewFileSource(writeUtterance(t, 2*time.Second, time.Second), 100*time.Millisecond, 0, false)
	tr, err := New(cfg, src, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()
	if got := tr.ConnectionInfo().Transport; got != transport.KindCloudREST {
		t.Fatalf("transport = %s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	var pauses, finals int
	for done := false; !done; {
		select {
		case ev := <-tr.Events():
			switch ev.Type {
			case transcriber.EventVADPause:
				pauses++
			case transcriber.EventTranscription:
				if ev.Result.Final && ev.Result.Text == "turn on the lights" {
					finals++
				}
			}
		default:
			done = true
		}
	}
	if requests.Load() != 1 || pauses != 1 || finals != 1 {
		t.Fatalf("requests=%d pauses=%d finals=%d, want 1 each", requests.Load(), pauses, finals)
	}
}

func TestPipelineWithoutUsableTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transports.Order = []string{config.TransportCloud, config.TransportOnDevice}
	cfg.Cloud.ProjectID = "fallback"
	cfg.OnDevice.ModelPath = filepath.Join(t.TempDir(), "missing.bin")

	src := capture.NewFileSource(writeUtterance(t, 0, 100*time.Millisecond), 100*time.Millisecond, 0, false)
	tr, err := New(cfg, src, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if err := tr.Start(context.Background()); !errors.Is(err, transcriber.ErrNoTransport) {
		t.Fatalf("start err = %v, want ErrNoTransport", err)
	}
}

func TestTransportsFollowOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transports.Order = []string{config.TransportStream, config.TransportOnDevice, config.TransportCloud}
	adapters, err := Transports(cfg, vad.Amplitude{Threshold: 0.02}, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("transports: %v", err)
	}
	want := []transport.Kind{transport.KindStream, transport.KindOnDevice, transport.KindCloudREST}
	if len(adapters) != len(want) {
		t.Fatalf("got %d adapters", len(adapters))
	}
	for i, a := range adapters {
		if a.Kind() != want[i] {
			t.Fatalf("adapter %d = %s, want %s", i, a.Kind(), want[i])
		}
	}

	cfg.OnDevice.Enabled = false
	adapters, _ = Transports(cfg, vad.Amplitude{Threshold: 0.02}, logging.NewTestLogger())
	if len(adapters) != 2 {
		t.Fatalf("disabled on-device still built: %d adapters", len(adapters))
	}

	cfg.Transports.Order = []string{"carrier-pigeon"}
	if _, err := Transports(cfg, nil, logging.NewTestLogger()); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}

func TestClassifierSelection(t *testing.T) {
	cfg := testConfig(t)
	c, err := Classifier(cfg)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	if _, ok := c.(vad.Amplitude); !ok {
		t.Fatalf("default classifier = %T", c)
	}
	cfg.VAD.Engine = "psychic"
	if _, err := Classifier(cfg); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}

func TestBackoffFromConfig(t *testing.T) {
	cfg := testConfig(t)
	b := Backoff(cfg)
	if b.Initial != time.Second || b.Max != 10*time.Second || b.MaxAttempts != 5 {
		t.Fatalf("backoff = %+v", b)
	}
}
