// Package pipeline assembles a Transcriber from configuration.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"telescribe/internal/capture"
	"telescribe/internal/config"
	"telescribe/internal/transcriber"
	"telescribe/internal/transport"
	"telescribe/internal/transport/cloud"
	"telescribe/internal/transport/ondevice"
	"telescribe/internal/transport/stream"
	"telescribe/internal/vad"

	"github.com/sirupsen/logrus"
)

// Classifier returns the voice detector selected by vad.engine.
func Classifier(cfg *config.Config) (vad.Classifier, error) {
	switch strings.ToLower(cfg.VAD.Engine) {
	case "webrtc":
		return vad.NewWebRTC(cfg.VAD.Aggressiveness)
	case "", "amplitude":
		return vad.Amplitude{Threshold: cfg.VAD.Threshold}, nil
	default:
		return nil, fmt.Errorf("unknown vad engine %q", cfg.VAD.Engine)
	}
}

// Transports builds adapters in transports.order. Disabled entries are
// skipped; adapters lacking credentials are still included and refuse to
// open, which keeps the fallback visible in logs.
func Transports(cfg *config.Config, classifier vad.Classifier, logger logrus.FieldLogger) ([]transport.Adapter, error) {
	var out []transport.Adapter
	for _, name := range cfg.Transports.Order {
		switch name {
		case config.TransportCloud:
			out = append(out, cloud.New(CloudConfig(cfg), logger))
		case config.TransportOnDevice:
			if !cfg.OnDevice.Enabled {
				logger.Debug("on-device transport disabled")
				continue
			}
			out = append(out, ondevice.New(ondevice.Config{
				ModelPath: cfg.OnDevice.ModelPath,
				Language:  cfg.OnDevice.Language,
				Silence:   cfg.SilenceDuration(),
				Partial:   time.Duration(cfg.OnDevice.PartialMS) * time.Millisecond,
			}, classifier, logger))
		case config.TransportStream:
			out = append(out, stream.New(StreamConfig(cfg), logger))
		default:
			return nil, fmt.Errorf("transports.order: unknown transport %q", name)
		}
	}
	return out, nil
}

func CloudConfig(cfg *config.Config) cloud.Config {
	return cloud.Config{
		ProjectID:   cfg.Cloud.ProjectID,
		APIKey:      cfg.Cloud.APIKey,
		Endpoint:    cfg.Cloud.Endpoint,
		Model:       cfg.Cloud.Model,
		Language:    cfg.Cloud.Language,
		Punctuation: cfg.Cloud.Punctuation,
		Timeout:     seconds(cfg.Cloud.TimeoutSec),
	}
}

func StreamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		Endpoint:       cfg.Stream.Endpoint,
		AuthID:         cfg.Stream.AuthID,
		SampleRate:     cfg.Stream.SampleRate,
		KeepAlive:      time.Duration(cfg.Stream.KeepAliveMS) * time.Millisecond,
		PauseIndex:     cfg.Stream.PauseIndex,
		PauseThreshold: cfg.Stream.PauseThreshold,
		DialTimeout:    seconds(cfg.Stream.DialTimeoutSec),
	}
}

// Backoff maps the reconnect section.
func Backoff(cfg *config.Config) transcriber.Backoff {
	return transcriber.Backoff{
		Initial:     time.Duration(cfg.Reconnect.InitialMS) * time.Millisecond,
		Max:         time.Duration(cfg.Reconnect.MaxMS) * time.Millisecond,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
}

// New wires src through the configured transports.
func New(cfg *config.Config, src capture.Source, logger logrus.FieldLogger) (*transcriber.Transcriber, error) {
	classifier, err := Classifier(cfg)
	if err != nil {
		return nil, err
	}
	adapters, err := Transports(cfg, classifier, logger)
	if err != nil {
		return nil, err
	}
	return transcriber.New(transcriber.Options{
		Source:     src,
		Transports: adapters,
		Classifier: classifier,
		Silence:    cfg.SilenceDuration(),
		MaxSegment: time.Duration(cfg.VAD.MaxSegmentMS) * time.Millisecond,
		Backoff:    Backoff(cfg),
		DumpDir:    cfg.VAD.DumpDir,
		Logger:     logger,
	}), nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
