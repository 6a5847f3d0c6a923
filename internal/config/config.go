package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultThreshold     = 0.02
	defaultSilenceMS     = 800
	defaultMinChars      = 2
	defaultCooldown      = 0.0
	defaultStatusTail    = 10
	defaultStateDirLinux = ".local/state/telescribe"
	defaultConfigDir     = ".config/telescribe"

	// Transport names accepted in Transports.Order.
	TransportCloud    = "cloud"
	TransportOnDevice = "ondevice"
	TransportStream   = "stream"
)

// Config holds user configuration loaded from TOML.
type Config struct {
	Audio struct {
		DeviceName string `toml:"device_name"`
		SampleRate int    `toml:"sample_rate"` // 0 = device default
		FrameMS    int    `toml:"frame_ms"`
	} `toml:"audio"`

	VAD struct {
		Engine         string  `toml:"engine"` // amplitude, webrtc
		Threshold      float64 `toml:"threshold"`
		SilenceMS      int     `toml:"silence_ms"`
		Aggressiveness int     `toml:"aggressiveness"`
		MaxSegmentMS   int     `toml:"max_segment_ms"`
		DumpDir        string  `toml:"dump_dir"`
	} `toml:"vad"`

	Transports struct {
		Order []string `toml:"order"`
	} `toml:"transports"`

	Cloud struct {
		ProjectID   string  `toml:"project_id"`
		APIKey      string  `toml:"api_key"`
		Endpoint    string  `toml:"endpoint"`
		Model       string  `toml:"model"`
		Language    string  `toml:"language"`
		Punctuation bool    `toml:"punctuation"`
		TimeoutSec  float64 `toml:"timeout_sec"`
	} `toml:"cloud"`

	OnDevice struct {
		Enabled   bool   `toml:"enabled"`
		ModelPath string `toml:"model_path"`
		Language  string `toml:"language"`
		PartialMS int    `toml:"partial_ms"`
	} `toml:"ondevice"`

	Stream struct {
		Endpoint       string  `toml:"endpoint"`
		AuthID         string  `toml:"auth_id"`
		SampleRate     int     `toml:"sample_rate"`
		KeepAliveMS    int     `toml:"keepalive_ms"`
		PauseIndex     int     `toml:"pause_index"`
		PauseThreshold float64 `toml:"pause_threshold"`
		DialTimeoutSec float64 `toml:"dial_timeout_sec"`
	} `toml:"stream"`

	Reconnect struct {
		InitialMS   int `toml:"initial_ms"`
		MaxMS       int `toml:"max_ms"`
		MaxAttempts int `toml:"max_attempts"`
	} `toml:"reconnect"`

	Forward struct {
		Command     string            `toml:"command"`
		Args        []string          `toml:"args"`
		ArgsLine    string            `toml:"args_line"`
		Prefix      string            `toml:"prefix"`
		CooldownSec float64           `toml:"cooldown_sec"`
		MinChars    int               `toml:"min_chars"`
		QueueSize   int               `toml:"queue_size"`
		TimeoutSec  float64           `toml:"timeout_sec"`
		Env         map[string]string `toml:"env"`
		RedactPII   bool              `toml:"redact_pii"`
	} `toml:"forward"`

	Publish struct {
		Enabled  bool   `toml:"enabled"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Channel  string `toml:"channel"`
		Interim  bool   `toml:"interim"`
	} `toml:"publish"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir       string `toml:"state_dir"`
		LogPath        string `toml:"log_path"`
		TranscriptPath string `toml:"transcript_path"`
		SocketPath     string `toml:"socket_path"`
		PidPath        string `toml:"pid_path"`
		ModelDir       string `toml:"model_dir"`
		ConfigPath     string `toml:"-"`
	} `toml:"paths"`

	UI struct {
		StatusTail int `toml:"status_tail"`
	} `toml:"ui"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Transcripts struct {
		Enabled bool `toml:"enabled"`
	} `toml:"transcripts"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	// macOS prefers ~/Library/Application Support/telescribe for state/logs
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "telescribe")
	}

	cfg := &Config{}

	cfg.Audio.SampleRate = 0
	cfg.Audio.FrameMS = 100

	cfg.VAD.Engine = "amplitude"
	cfg.VAD.Threshold = defaultThreshold
	cfg.VAD.SilenceMS = defaultSilenceMS
	cfg.VAD.Aggressiveness = 2

	cfg.Transports.Order = []string{TransportCloud, TransportOnDevice, TransportStream}

	cfg.Cloud.Endpoint = "https://speech.googleapis.com"
	cfg.Cloud.Model = "latest_long"
	cfg.Cloud.Language = "en-US"
	cfg.Cloud.Punctuation = true
	cfg.Cloud.TimeoutSec = 30

	cfg.OnDevice.Enabled = true
	cfg.OnDevice.ModelPath = filepath.Join(stateDir, "models", "ggml-small-q5_1.bin")
	cfg.OnDevice.Language = "en"
	cfg.OnDevice.PartialMS = 2000

	cfg.Stream.SampleRate = 24000
	cfg.Stream.KeepAliveMS = 1000
	cfg.Stream.PauseIndex = 2
	cfg.Stream.PauseThreshold = 0.5
	cfg.Stream.DialTimeoutSec = 10

	cfg.Reconnect.InitialMS = 1000
	cfg.Reconnect.MaxMS = 10000
	cfg.Reconnect.MaxAttempts = 5

	cfg.Forward.Prefix = ""
	cfg.Forward.CooldownSec = defaultCooldown
	cfg.Forward.MinChars = defaultMinChars
	cfg.Forward.QueueSize = 16
	cfg.Forward.TimeoutSec = 5
	cfg.Forward.Env = map[string]string{}
	cfg.Forward.RedactPII = true

	cfg.Publish.Addr = "127.0.0.1:6379"
	cfg.Publish.Channel = "telescribe:events"
	cfg.Publish.Interim = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "telescribe.log")
	cfg.Paths.TranscriptPath = filepath.Join(stateDir, "transcripts.log")
	cfg.Paths.SocketPath = filepath.Join(stateDir, "telescribe.sock")
	cfg.Paths.PidPath = filepath.Join(stateDir, "telescribe.pid")
	cfg.Paths.ModelDir = filepath.Join(stateDir, "models")

	cfg.UI.StatusTail = defaultStatusTail

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9327"

	cfg.Transcripts.Enabled = true

	return cfg, nil
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path. Credentials are written as configured; keep the
// file mode restrictive.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Audio.FrameMS <= 0 {
		return fmt.Errorf("audio.frame_ms must be positive (got %d)", c.Audio.FrameMS)
	}
	switch strings.ToLower(c.VAD.Engine) {
	case "", "amplitude":
	case "webrtc":
		if c.VAD.Aggressiveness < 0 || c.VAD.Aggressiveness > 3 {
			return fmt.Errorf("vad.aggressiveness must be 0-3 (got %d)", c.VAD.Aggressiveness)
		}
	default:
		return fmt.Errorf("vad.engine must be amplitude or webrtc (got %q)", c.VAD.Engine)
	}
	if c.VAD.Threshold <= 0 || c.VAD.Threshold >= 1 {
		return fmt.Errorf("vad.threshold must be in (0, 1) (got %v)", c.VAD.Threshold)
	}
	if c.VAD.SilenceMS <= 0 {
		return fmt.Errorf("vad.silence_ms must be positive (got %d)", c.VAD.SilenceMS)
	}
	if len(c.Transports.Order) == 0 {
		return errors.New("transports.order must name at least one transport")
	}
	for _, name := range c.Transports.Order {
		switch name {
		case TransportCloud, TransportOnDevice, TransportStream:
		default:
			return fmt.Errorf("transports.order: unknown transport %q", name)
		}
	}
	if c.Stream.SampleRate <= 0 {
		return fmt.Errorf("stream.sample_rate must be positive (got %d)", c.Stream.SampleRate)
	}
	if c.Reconnect.InitialMS <= 0 || c.Reconnect.MaxMS < c.Reconnect.InitialMS {
		return fmt.Errorf("reconnect: need 0 < initial_ms <= max_ms (got %d, %d)", c.Reconnect.InitialMS, c.Reconnect.MaxMS)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be positive (got %d)", c.Reconnect.MaxAttempts)
	}
	return nil
}

// SilenceDuration is vad.silence_ms as a duration.
func (c *Config) SilenceDuration() time.Duration {
	return time.Duration(c.VAD.SilenceMS) * time.Millisecond
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.TranscriptPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELESCRIBE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("TELESCRIBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TELESCRIBE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TELESCRIBE_CLOUD_API_KEY"); v != "" {
		cfg.Cloud.APIKey = v
	}
	if v := os.Getenv("TELESCRIBE_CLOUD_PROJECT_ID"); v != "" {
		cfg.Cloud.ProjectID = v
	}
	if v := os.Getenv("TELESCRIBE_STREAM_ENDPOINT"); v != "" {
		cfg.Stream.Endpoint = v
	}
	if v := os.Getenv("TELESCRIBE_STREAM_AUTH_ID"); v != "" {
		cfg.Stream.AuthID = v
	}
	if v := os.Getenv("TELESCRIBE_TRANSPORTS"); v != "" {
		var order []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				order = append(order, name)
			}
		}
		cfg.Transports.Order = order
	}
	if v := os.Getenv("TELESCRIBE_REDIS_ADDR"); v != "" {
		cfg.Publish.Addr = v
		cfg.Publish.Enabled = true
	}
	if v := os.Getenv("TELESCRIBE_TRANSCRIPTS_ENABLED"); v != "" {
		cfg.Transcripts.Enabled = envBool(v)
	}
	if v := os.Getenv("TELESCRIBE_REDACT_PII"); v != "" {
		cfg.Forward.RedactPII = envBool(v)
	}
}

func envBool(v string) bool {
	return v != "0" && strings.ToLower(v) != "false"
}
