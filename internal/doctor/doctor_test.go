package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"telescribe/internal/config"

	"github.com/alicebob/miniredis/v2"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	dir := t.TempDir()
	cfg.Paths.ConfigPath = filepath.Join(dir, "config.toml")
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg.OnDevice.ModelPath = filepath.Join(dir, "missing.bin")
	return cfg
}

func byName(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.Name] = r
	}
	return out
}

func TestRunReportsConfiguredPieces(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cloud.ProjectID = "proj"
	cfg.Cloud.APIKey = "key"
	cfg.Stream.Endpoint = "https://asr.example.com"

	got := byName(Run(context.Background(), cfg))
	if r := got["config"]; !r.Pass {
		t.Fatalf("config = %+v", r)
	}
	if r := got["transports"]; !r.Pass || r.Detail != "cloud -> ondevice -> stream" {
		t.Fatalf("transports = %+v", r)
	}
	if r := got["cloud"]; !r.Pass {
		t.Fatalf("cloud = %+v", r)
	}
	if r := got["stream"]; !r.Pass || r.Detail != "wss://asr.example.com/api/asr-streaming?auth_id=" {
		t.Fatalf("stream = %+v", r)
	}
	if r := got["ondevice"]; r.Pass || !r.Optional {
		t.Fatalf("ondevice with missing model = %+v", r)
	}
	if r := got["publish"]; !r.Optional || r.Detail != "disabled" {
		t.Fatalf("publish = %+v", r)
	}
}

func TestPlaceholderCloudProjectIsOptionalFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cloud.ProjectID = "fallback"
	cfg.Cloud.APIKey = "key"
	r := checkCloud(cfg)
	if r.Pass || !r.Optional {
		t.Fatalf("cloud = %+v", r)
	}
}

func TestPublishPingsRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Publish.Enabled = true
	cfg.Publish.Addr = srv.Addr()
	if r := checkPublish(context.Background(), cfg); !r.Pass {
		t.Fatalf("publish = %+v", r)
	}
	srv.Close()
	if r := checkPublish(context.Background(), cfg); r.Pass || r.Optional {
		t.Fatalf("publish against closed server = %+v", r)
	}
}

func TestForwardCommandChecks(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "send.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := checkForward(script); r.Pass {
		t.Fatalf("non-executable script passed: %+v", r)
	}
	if err := os.Chmod(script, 0o755); err != nil {
		t.Fatal(err)
	}
	if r := checkForward(script); !r.Pass {
		t.Fatalf("executable script failed: %+v", r)
	}
	if r := checkForward(dir); r.Pass {
		t.Fatalf("directory passed: %+v", r)
	}
	if r := checkForward(""); r.Pass || !r.Optional {
		t.Fatalf("unset forward = %+v", r)
	}
}
