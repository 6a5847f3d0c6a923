//go:build whisper

package ondevice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"telescribe/internal/transport"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperEngine serializes access to one loaded model.
type whisperEngine struct {
	mu       sync.Mutex
	model    whisper.Model
	language string
}

func loadEngine(cfg Config) (engine, error) {
	path := os.ExpandEnv(cfg.ModelPath)
	if path == "" {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, errNoModel)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: model: %v", transport.ErrUnavailable, err)
	}
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", path, err)
	}
	return &whisperEngine{model: model, language: strings.TrimSpace(cfg.Language)}, nil
}

func (e *whisperEngine) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if e.language != "" {
		if err := wctx.SetLanguage(e.language); err != nil {
			return "", fmt.Errorf("set language %q: %w", e.language, err)
		}
	}
	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}
	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(seg.Text))
	}
	return strings.Join(parts, " "), nil
}

func (e *whisperEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Close()
}
