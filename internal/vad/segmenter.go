// Package vad splits a frame stream into utterances using a speech
// classifier and a trailing-silence timer.
package vad

import (
	"time"

	"telescribe/internal/audio"
)

// Classifier reports whether a frame contains speech.
type Classifier interface {
	IsSpeech(frame []float32, sampleRate int) bool
}

// Amplitude classifies frames by mean absolute amplitude.
type Amplitude struct {
	Threshold float64
}

func (a Amplitude) IsSpeech(frame []float32, _ int) bool {
	return audio.MeanAbs(frame) > a.Threshold
}

// Segmenter accumulates frames from the first speech frame until silence has
// lasted at least the configured duration, then yields the merged utterance.
// It is not safe for concurrent use.
type Segmenter struct {
	classifier Classifier
	sampleRate int
	silence    time.Duration
	maxSegment time.Duration

	frames     [][]float32
	samples    int
	active     bool
	began      time.Time
	lastSpeech time.Time
}

// NewSegmenter returns a segmenter; maxSegment <= 0 disables the forced flush.
func NewSegmenter(c Classifier, sampleRate int, silence, maxSegment time.Duration) *Segmenter {
	return &Segmenter{
		classifier: c,
		sampleRate: sampleRate,
		silence:    silence,
		maxSegment: maxSegment,
	}
}

// Push feeds one frame captured at at. When the frame closes an utterance the
// merged audio is returned with ok set; the closing frame itself is dropped.
func (s *Segmenter) Push(frame []float32, at time.Time) (utterance []float32, ok bool) {
	if s.classifier.IsSpeech(frame, s.sampleRate) {
		if !s.active {
			s.active = true
			s.began = at
		}
		s.append(frame)
		s.lastSpeech = at
		if s.maxSegment > 0 && at.Sub(s.began) >= s.maxSegment {
			return s.flush()
		}
		return nil, false
	}
	if !s.active {
		return nil, false
	}
	if at.Sub(s.lastSpeech) < s.silence {
		s.append(frame)
		return nil, false
	}
	return s.flush()
}

// Reset discards buffered audio without yielding it.
func (s *Segmenter) Reset() {
	s.frames = nil
	s.samples = 0
	s.active = false
}

// Active reports whether an utterance is in progress.
func (s *Segmenter) Active() bool { return s.active }

// Buffered is the number of samples held for the current utterance.
func (s *Segmenter) Buffered() int { return s.samples }

// Snapshot returns a copy of the audio buffered so far.
func (s *Segmenter) Snapshot() []float32 { return audio.Concat(s.frames) }

// Since is how long the current utterance has been running at at.
func (s *Segmenter) Since(at time.Time) time.Duration {
	if !s.active {
		return 0
	}
	return at.Sub(s.began)
}

func (s *Segmenter) append(frame []float32) {
	cp := make([]float32, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	s.samples += len(cp)
}

func (s *Segmenter) flush() ([]float32, bool) {
	s.active = false
	if len(s.frames) == 0 {
		return nil, false
	}
	merged := audio.Concat(s.frames)
	s.frames = nil
	s.samples = 0
	return merged, true
}
