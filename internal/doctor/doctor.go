package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"telescribe/internal/config"
	"telescribe/internal/logging"
	"telescribe/internal/mic"
	"telescribe/internal/pipeline"
	"telescribe/internal/publish"
	"telescribe/internal/transport/cloud"
	"telescribe/internal/transport/stream"
)

// Result represents a diagnostic check. Optional failures do not make the
// overall run fail; they cover transports and sinks the user may not use.
type Result struct {
	Name     string
	Pass     bool
	Detail   string
	Optional bool
}

// Run executes doctor checks.
func Run(ctx context.Context, cfg *config.Config) []Result {
	results := []Result{
		checkFile("config", cfg.Paths.ConfigPath),
		checkTransports(cfg),
		checkCloud(cfg),
		checkModel(cfg),
		checkStream(cfg),
		checkForward(cfg.Forward.Command),
		checkPublish(ctx, cfg),
		checkPortAudioPkgConfig(),
		checkMicrophone(),
	}
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

// checkTransports verifies the order names known transports and that at
// least one has a plausible configuration.
func checkTransports(cfg *config.Config) Result {
	r := Result{Name: "transports", Detail: strings.Join(cfg.Transports.Order, " -> ")}
	if err := cfg.Validate(); err != nil {
		r.Detail = err.Error()
		return r
	}
	classifier, err := pipeline.Classifier(cfg)
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	adapters, err := pipeline.Transports(cfg, classifier, logging.NewTestLogger())
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	if len(adapters) == 0 {
		r.Detail = "no enabled transport in transports.order"
		return r
	}
	r.Pass = true
	return r
}

func checkCloud(cfg *config.Config) Result {
	r := Result{Name: "cloud", Optional: true}
	if cloud.CredentialsLookValid(cfg.Cloud.ProjectID, cfg.Cloud.APIKey) {
		r.Pass = true
		r.Detail = fmt.Sprintf("project %s, model %s", cfg.Cloud.ProjectID, cfg.Cloud.Model)
		return r
	}
	r.Detail = "no usable project_id/api_key (set TELESCRIBE_CLOUD_API_KEY)"
	return r
}

func checkModel(cfg *config.Config) Result {
	if !cfg.OnDevice.Enabled {
		return Result{Name: "ondevice", Optional: true, Detail: "disabled"}
	}
	r := checkFile("ondevice", cfg.OnDevice.ModelPath)
	r.Optional = true
	if !r.Pass {
		r.Detail += " (run: telescribe setup)"
	}
	return r
}

func checkStream(cfg *config.Config) Result {
	r := Result{Name: "stream", Optional: true}
	u, err := stream.New(pipeline.StreamConfig(cfg), logging.NewTestLogger()).URL()
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	r.Pass = true
	r.Detail = u
	return r
}

func checkForward(cmd string) Result {
	label := "forward"
	if cmd == "" {
		return Result{Name: label, Optional: true, Detail: "not set"}
	}
	path := os.ExpandEnv(cmd)
	if strings.ContainsAny(path, `/\`) {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; set forward.command to an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkPublish(ctx context.Context, cfg *config.Config) Result {
	if !cfg.Publish.Enabled {
		return Result{Name: "publish", Optional: true, Detail: "disabled"}
	}
	pub := publish.New(cfg, logging.NewTestLogger())
	defer func() { _ = pub.Close() }()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pub.Ping(ctx); err != nil {
		return Result{Name: "publish", Detail: fmt.Sprintf("redis %s: %v", cfg.Publish.Addr, err)}
	}
	return Result{Name: "publish", Pass: true, Detail: fmt.Sprintf("redis %s channel %s", cfg.Publish.Addr, cfg.Publish.Channel)}
}

func checkPortAudioPkgConfig() Result {
	pkg, err := exec.LookPath("pkg-config")
	if err != nil {
		return Result{Name: "pkg-config", Optional: true, Detail: "pkg-config not found"}
	}
	if err := exec.Command(pkg, "--exists", "portaudio-2.0").Run(); err != nil {
		return Result{Name: "pkg-config", Optional: true, Detail: "portaudio-2.0 not found (brew install portaudio / apt install portaudio19-dev)"}
	}
	if out, err := exec.Command(pkg, "--modversion", "portaudio-2.0").Output(); err == nil {
		return Result{Name: "pkg-config", Pass: true, Detail: "portaudio " + strings.TrimSpace(string(out))}
	}
	return Result{Name: "pkg-config", Pass: true, Detail: "portaudio found"}
}

func checkMicrophone() Result {
	if !mic.Available() {
		return Result{Name: "microphone", Detail: "built without -tags portaudio"}
	}
	devs, err := mic.ListDevices()
	if err != nil {
		return Result{Name: "microphone", Detail: err.Error()}
	}
	for _, d := range devs {
		if d.Default {
			return Result{Name: "microphone", Pass: true, Detail: d.Name}
		}
	}
	if len(devs) == 0 {
		return Result{Name: "microphone", Detail: "no input devices"}
	}
	return Result{Name: "microphone", Pass: true, Detail: devs[0].Name}
}
