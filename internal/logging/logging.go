package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"telescribe/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Configure builds the daemon logger: logging.format and logging.level
// from cfg, written to a rotated paths.log_path and optionally stdout.
func Configure(cfg *config.Config) (*logrus.Logger, error) {
	if err := config.MustStatePaths(cfg); err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging.Format, cfg.Logging.Level, true)
	rotator := &lumberjack.Logger{
		Filename:   cfg.Paths.LogPath,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     30,
	}
	if cfg.Logging.Stdout {
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	} else {
		logger.SetOutput(rotator)
	}
	return logger, nil
}

// NewConsole returns a logger writing to stderr, for one-shot CLI commands.
func NewConsole(level string) *logrus.Logger {
	logger := newLogger("text", level, false)
	logger.SetOutput(os.Stderr)
	return logger
}

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// Session scopes logger to one transcription session on one transport.
func Session(logger logrus.FieldLogger, sessionID string, transport fmt.Stringer) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"session": sessionID, "transport": transport.String()})
}

func newLogger(format, level string, timestamps bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(formatter(format, timestamps))
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func formatter(format string, timestamps bool) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{DisableTimestamp: !timestamps}
	}
	return &logrus.TextFormatter{FullTimestamp: timestamps, DisableTimestamp: !timestamps}
}
