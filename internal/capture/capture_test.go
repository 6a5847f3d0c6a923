package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"telescribe/internal/audio"
)

func TestClaimIsExclusive(t *testing.T) {
	if err := Claim(); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	defer Release()
	if err := Claim(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second claim err = %v, want ErrBusy", err)
	}
	Release()
	if err := Claim(); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
}

func TestFileSourceFramesAndPadding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := audio.WriteWAV(path, make([]float32, 16000), 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	src := NewFileSource(path, 100*time.Millisecond, 500*time.Millisecond, false)
	frames, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = src.Close() }()

	var (
		count int
		first time.Time
		last  time.Time
	)
	for f := range frames {
		if count == 0 {
			first = f.At
		}
		last = f.At
		if f.SampleRate != 16000 || len(f.PCM) != 1600 {
			t.Fatalf("frame %d: rate=%d len=%d", count, f.SampleRate, len(f.PCM))
		}
		count++
	}
	if count != 15 {
		t.Fatalf("frames = %d want 15", count)
	}
	if got := last.Sub(first); got != 1400*time.Millisecond {
		t.Fatalf("timestamp span = %v", got)
	}
	if src.Active() {
		t.Fatalf("source should be inactive after the stream ends")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.wav"), 100*time.Millisecond, 0, false)
	if _, err := src.Open(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
