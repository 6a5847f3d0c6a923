// Package forward hands final transcripts to an external command.
package forward

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"telescribe/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// ErrNoCommand is returned when forward.command is empty.
var ErrNoCommand = errors.New("no forward.command configured")

// Job is one transcript to forward.
type Job struct {
	Text      string
	Timestamp time.Time
	SessionID string
}

// Runner executes the forward command with cooldown and prefix handling.
type Runner struct {
	cfg      *config.Config
	logger   logrus.FieldLogger
	hostname string

	mu      sync.Mutex
	lastRun time.Time
}

func NewRunner(cfg *config.Config, logger logrus.FieldLogger) *Runner {
	host, _ := os.Hostname()
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		hostname: host,
	}
}

// Enabled reports whether a command is configured.
func (r *Runner) Enabled() bool {
	return strings.TrimSpace(r.cfg.Forward.Command) != ""
}

// Accepts applies the min_chars filter.
func (r *Runner) Accepts(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= r.cfg.Forward.MinChars
}

// ShouldRun returns whether cooldown allows a new run.
func (r *Runner) ShouldRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Forward.CooldownSec <= 0 {
		return true
	}
	return time.Since(r.lastRun).Seconds() >= r.cfg.Forward.CooldownSec
}

// Payload is the final argument passed to the command.
func (r *Runner) Payload(text string) string {
	if r.cfg.Forward.RedactPII {
		text = RedactPII(text)
	}
	return strings.TrimSpace(r.prefix() + text)
}

func (r *Runner) prefix() string {
	return strings.ReplaceAll(r.cfg.Forward.Prefix, "${hostname}", r.hostname)
}

// Run executes the configured command with the transcript appended as the
// last argument.
func (r *Runner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	cmdStr := r.cfg.Forward.Command
	if cmdStr == "" {
		return ErrNoCommand
	}
	args, err := r.args()
	if err != nil {
		return err
	}
	text := job.Text
	if r.cfg.Forward.RedactPII {
		text = RedactPII(text)
	}
	args = append(args, r.Payload(job.Text))

	runCtx := ctx
	if r.cfg.Forward.TimeoutSec > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(float64(time.Second)*r.cfg.Forward.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, cmdStr, args...)
	cmd.Env = os.Environ()
	for k, v := range r.cfg.Forward.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		"TELESCRIBE_TEXT="+text,
		"TELESCRIBE_PREFIX="+r.prefix(),
		"TELESCRIBE_SESSION="+job.SessionID,
		"TELESCRIBE_TIMESTAMP="+job.Timestamp.Format(time.RFC3339),
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("forward output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("forward failed: %w", err)
	}
	return nil
}

func (r *Runner) args() ([]string, error) {
	args := append([]string{}, r.cfg.Forward.Args...)
	if strings.TrimSpace(r.cfg.Forward.ArgsLine) != "" {
		extra, err := ParseArgs(r.cfg.Forward.ArgsLine)
		if err != nil {
			return nil, fmt.Errorf("forward.args_line: %w", err)
		}
		args = append(args, extra...)
	}
	return args, nil
}

// ParseArgs splits a shell-style argument line.
func ParseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return shlex.Split(raw)
}

var (
	emailRE = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{6,}\d`)
)

// RedactPII masks email addresses and phone numbers.
func RedactPII(s string) string {
	s = emailRE.ReplaceAllString(s, "[redacted-email]")
	s = phoneRE.ReplaceAllString(s, "[redacted-phone]")
	return s
}
