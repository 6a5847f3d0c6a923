// Package service writes per-user service definitions: a launchd agent on
// macOS and a systemd user unit elsewhere.
package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"text/template"
)

// Label names the agent in launchd and the unit in systemd.
const Label = "dev.telescribe.agent"

const launchdTemplate = `<?xml version='1.0' encoding='UTF-8'?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{.Label}}</string>
  <key>ProgramArguments</key>
  <array>
    <string>{{.Binary}}</string>
    <string>serve</string>
    <string>--config</string>
    <string>{{.Config}}</string>
  </array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><dict><key>SuccessfulExit</key><false/></dict>
  <key>StandardOutPath</key><string>{{.Log}}</string>
  <key>StandardErrorPath</key><string>{{.Log}}</string>
  {{- if .Env }}
  <key>EnvironmentVariables</key>
  <dict>
    {{- range $k, $v := .Env }}
    <key>{{$k}}</key><string>{{$v}}</string>
    {{- end }}
  </dict>
  {{- end }}
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=telescribe transcription daemon
After=sound.target network-online.target

[Service]
ExecStart={{.Binary}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5
{{- range $k, $v := .Env }}
Environment={{$k}}={{$v}}
{{- end }}

[Install]
WantedBy=default.target
`

var (
	launchdTpl = template.Must(template.New("launchd").Parse(launchdTemplate))
	systemdTpl = template.Must(template.New("systemd").Parse(systemdTemplate))
)

// Params describes the installed daemon.
type Params struct {
	Label  string
	Binary string
	Config string
	Log    string
	Env    map[string]string
}

// Launchd reports whether this platform uses launchd agents.
func Launchd() bool { return runtime.GOOS == "darwin" }

// Path returns where the service file for label lives under home.
func Path(home, label string) string {
	if Launchd() {
		return filepath.Join(home, "Library", "LaunchAgents", label+".plist")
	}
	return filepath.Join(home, ".config", "systemd", "user", label+".service")
}

// Render writes the platform's service definition to w.
func Render(w io.Writer, p Params) error {
	if Launchd() {
		return launchdTpl.Execute(w, p)
	}
	return systemdTpl.Execute(w, p)
}

// Install writes the service file under home and returns its path.
func Install(home string, p Params) (string, error) {
	if p.Label == "" {
		p.Label = Label
	}
	if p.Binary == "" || p.Config == "" {
		return "", fmt.Errorf("service: binary and config are required")
	}
	path := Path(home, p.Label)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Render(f, p); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

// Uninstall removes the service file; a missing file is not an error.
func Uninstall(home, label string) (string, error) {
	path := Path(home, label)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return path, err
	}
	return path, nil
}

// Status returns the service file path and whether it exists.
func Status(home, label string) (string, bool) {
	path := Path(home, label)
	_, err := os.Stat(path)
	return path, err == nil
}
