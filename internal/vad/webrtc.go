package vad

import (
	"fmt"
	"sync"

	"telescribe/internal/audio"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTC classifies frames with the WebRTC voice detector. The frame is cut
// into 20 ms windows; it counts as speech when at least half of them do.
type WebRTC struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

// NewWebRTC builds a detector with the given aggressiveness (0-3).
func NewWebRTC(mode int) (*WebRTC, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("vad mode: %w", err)
	}
	return &WebRTC{vad: v}, nil
}

// SupportsRate reports whether the detector can run at sampleRate.
func SupportsRate(sampleRate int) bool {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

// window is the 20 ms analysis length in samples, or 0 when the detector
// rejects sampleRate.
func (w *WebRTC) window(sampleRate int) int {
	if !SupportsRate(sampleRate) {
		return 0
	}
	n := sampleRate / 50
	// The length is counted in samples, not in bytes of PCM16.
	if !w.vad.ValidRateAndFrameLength(sampleRate, n) {
		return 0
	}
	return n
}

func (w *WebRTC) IsSpeech(frame []float32, sampleRate int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	window := w.window(sampleRate)
	if window == 0 {
		return false
	}
	pcm := audio.LittleEndianPCM16(frame)

	voiced, total := 0, 0
	for off := 0; off+window <= len(frame); off += window {
		chunk := pcm[off*2 : (off+window)*2]
		active, err := w.vad.Process(sampleRate, chunk)
		if err != nil {
			return false
		}
		total++
		if active {
			voiced++
		}
	}
	return total > 0 && voiced*2 >= total
}
