package audio

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
)

func TestResampleLength(t *testing.T) {
	cases := []struct {
		in, from, to, want int
	}{
		{48000, 48000, 16000, 16000},
		{16000, 48000, 16000, 5333},
		{4, 16000, 8000, 2},
		{4, 8000, 16000, 8},
		{480, 48000, 24000, 240},
		{100, 16000, 16000, 100},
	}
	for _, c := range cases {
		out := Resample(make([]float32, c.in), c.from, c.to)
		if len(out) != c.want {
			t.Fatalf("Resample(len=%d, %d->%d) len=%d want %d", c.in, c.from, c.to, len(out), c.want)
		}
	}
}

func TestResamplePicksNearestLowerSample(t *testing.T) {
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7, 8}
	out := Resample(in, 48000, 16000)
	want := []float32{0, 3, 6}
	if len(out) != len(want) {
		t.Fatalf("len=%d want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d]=%v want %v", i, out[i], want[i])
		}
	}
}

func TestMeanAbs(t *testing.T) {
	if got := MeanAbs(nil); got != 0 {
		t.Fatalf("empty frame amplitude = %v", got)
	}
	got := MeanAbs([]float32{0.5, -0.5, 0.25, -0.25})
	if math.Abs(got-0.375) > 1e-9 {
		t.Fatalf("MeanAbs = %v want 0.375", got)
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	out := Float32ToInt16([]float32{2, -2, 0, 0.5})
	if out[0] != 0x7fff || out[1] != -0x7fff || out[2] != 0 || out[3] != 16383 {
		t.Fatalf("unexpected conversion: %v", out)
	}
}

func TestLittleEndianPCM16(t *testing.T) {
	b := LittleEndianPCM16([]float32{1, -1})
	if len(b) != 4 {
		t.Fatalf("len=%d", len(b))
	}
	if v := int16(binary.LittleEndian.Uint16(b[0:])); v != 0x7fff {
		t.Fatalf("first sample %d", v)
	}
	if v := int16(binary.LittleEndian.Uint16(b[2:])); v != -0x7fff {
		t.Fatalf("second sample %d", v)
	}
}

func TestConcatAndDownmix(t *testing.T) {
	merged := Concat([][]float32{{1, 2}, {}, {3}})
	if len(merged) != 3 || merged[2] != 3 {
		t.Fatalf("concat = %v", merged)
	}
	mono := Downmix([]float32{1, 3, -1, -3}, 2)
	if len(mono) != 2 || mono[0] != 2 || mono[1] != -2 {
		t.Fatalf("downmix = %v", mono)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utt.wav")
	in := make([]float32, 1600)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 10))
	}
	if err := WriteWAV(path, in, 16000); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rate != 16000 || len(out) != len(in) {
		t.Fatalf("rate=%d len=%d", rate, len(out))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d: got %v want %v", i, out[i], in[i])
		}
	}
}
