package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes a PCM WAV file into mono float samples at the file's rate.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, errors.New("wav file has no sample rate")
	}
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return Downmix(samples, buf.Format.NumChannels), buf.Format.SampleRate, nil
}

// WriteWAV writes mono float samples as a 16-bit PCM WAV file.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	pcm := Float32ToInt16(samples)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
