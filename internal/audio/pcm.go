// Package audio holds the sample-level helpers shared by capture, VAD and the
// transports: resampling, amplitude measurement and PCM conversions.
package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts samples between rates by nearest-neighbour decimation:
// output sample i takes input sample floor(i*ratio) where ratio = from/to.
// Output length is floor(len(input) * to / from).
func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return input
	}
	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Floor(float64(len(input)) / ratio))
	out := make([]float32, outLen)
	for i := range out {
		src := int(math.Floor(float64(i) * ratio))
		if src >= len(input) {
			src = len(input) - 1
		}
		out[i] = input[src]
	}
	return out
}

// MeanAbs is the mean absolute amplitude of a frame; 0 for an empty frame.
func MeanAbs(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(frame))
}

// Concat merges frames into one contiguous slice.
func Concat(frames [][]float32) []float32 {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]float32, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// Float32ToInt16 clamps to [-1, 1] and scales by 0x7fff.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * 0x7fff)
	}
	return out
}

// Int16ToFloat32 scales 16-bit PCM into [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// LittleEndianPCM16 encodes float samples as LINEAR16 little-endian bytes.
func LittleEndianPCM16(samples []float32) []byte {
	pcm := Float32ToInt16(samples)
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Silence returns n zero-valued samples.
func Silence(n int) []float32 {
	if n < 0 {
		n = 0
	}
	return make([]float32, n)
}

// Downmix averages interleaved channels into mono.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
