package config

import (
	"os"
	"strings"
	"testing"
)

func TestEnvOverrides(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = "/tmp/config" // avoid creation

	t.Setenv("TELESCRIBE_METRICS_ADDR", "1.2.3.4:9999")
	t.Setenv("TELESCRIBE_LOG_LEVEL", "debug")
	t.Setenv("TELESCRIBE_LOG_FORMAT", "json")
	t.Setenv("TELESCRIBE_CLOUD_API_KEY", "AIzaTestKey123")
	t.Setenv("TELESCRIBE_CLOUD_PROJECT_ID", "clinic-prod")
	t.Setenv("TELESCRIBE_REDIS_ADDR", "10.0.0.2:6379")
	t.Setenv("TELESCRIBE_REDACT_PII", "false")
	t.Setenv("TELESCRIBE_TRANSPORTS", "stream, cloud")

	applyEnvOverrides(cfg)

	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "1.2.3.4:9999" {
		t.Fatalf("metrics override failed: %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging overrides failed: %+v", cfg.Logging)
	}
	if cfg.Cloud.APIKey != "AIzaTestKey123" || cfg.Cloud.ProjectID != "clinic-prod" {
		t.Fatalf("cloud credential overrides failed: %+v", cfg.Cloud)
	}
	if !cfg.Publish.Enabled || cfg.Publish.Addr != "10.0.0.2:6379" {
		t.Fatalf("publish override failed: %+v", cfg.Publish)
	}
	if cfg.Forward.RedactPII {
		t.Fatalf("redact_pii should be disabled via env")
	}
	if len(cfg.Transports.Order) != 2 || cfg.Transports.Order[0] != TransportStream || cfg.Transports.Order[1] != TransportCloud {
		t.Fatalf("transports override failed: %v", cfg.Transports.Order)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"

	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = path
	cfg.Forward.Command = "/bin/echo"
	cfg.VAD.Threshold = 0.05
	cfg.Transports.Order = []string{TransportStream, TransportCloud}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Forward.Command != "/bin/echo" {
		t.Fatalf("expected forward command to persist")
	}
	if loaded.VAD.Threshold != 0.05 {
		t.Fatalf("threshold not persisted: %v", loaded.VAD.Threshold)
	}
	if strings.Join(loaded.Transports.Order, ",") != "stream,cloud" {
		t.Fatalf("transport order not persisted: %v", loaded.Transports.Order)
	}
}

func TestLoadWritesTemplateWhenMissing(t *testing.T) {
	path := t.TempDir() + "/nested/config.toml"
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.ConfigPath != path {
		t.Fatalf("config path = %q", cfg.Paths.ConfigPath)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if cfg.VAD.SilenceMS != 800 || cfg.VAD.Threshold != 0.02 {
		t.Fatalf("unexpected vad defaults: %+v", cfg.VAD)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad engine", func(c *Config) { c.VAD.Engine = "neural" }, false},
		{"zero threshold", func(c *Config) { c.VAD.Threshold = 0 }, false},
		{"unknown transport", func(c *Config) { c.Transports.Order = []string{"carrier-pigeon"} }, false},
		{"empty order", func(c *Config) { c.Transports.Order = nil }, false},
		{"max below initial", func(c *Config) { c.Reconnect.MaxMS = 10 }, false},
		{"webrtc aggressiveness", func(c *Config) { c.VAD.Engine = "webrtc"; c.VAD.Aggressiveness = 7 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, _ := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
