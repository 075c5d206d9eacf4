package audio_test

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/lifelogger/pkg/audio"
)

func TestResample_Length(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n        int
		from, to uint32
		want     int
	}{
		{3, 2, 3, 5},
		{48000, 48000, 16000, 16000},
		{16000, 16000, 48000, 48000},
		{7, 44100, 48000, 8},
		{0, 8000, 48000, 0},
	}
	for _, tc := range tests {
		got := audio.Resample(make([]float32, tc.n), tc.from, tc.to)
		if len(got) != tc.want {
			t.Errorf("Resample(%d samples, %d->%d) length = %d, want %d", tc.n, tc.from, tc.to, len(got), tc.want)
		}
	}
}

func TestResample_SameRateIsIdentity(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2, 0.3}
	got := audio.Resample(in, 16000, 16000)
	if !slices.Equal(got, in) {
		t.Errorf("Resample same rate = %v, want %v", got, in)
	}
}

func TestResampleLinear_Downsample(t *testing.T) {
	t.Parallel()
	got := audio.ResampleLinear([]float32{0, 1, 2, 3, 4, 5}, 6, 3, 3)
	want := []float32{0, 2, 4}
	if !slices.Equal(got, want) {
		t.Errorf("ResampleLinear = %v, want %v", got, want)
	}
}

func TestResampleLinear_EmptySource(t *testing.T) {
	t.Parallel()
	got := audio.ResampleLinear(nil, 4, 8, 3)
	if !slices.Equal(got, []float32{0, 0, 0}) {
		t.Errorf("ResampleLinear(nil) = %v, want silence", got)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	stereo := []float32{0.5, -0.5, 1, 0, 0.2}
	got := audio.Downmix(stereo, 2)
	want := []float32{0, 0.5}
	if !slices.Equal(got, want) {
		t.Errorf("Downmix = %v, want %v", got, want)
	}
	mono := []float32{0.1}
	if got := audio.Downmix(mono, 1); &got[0] != &mono[0] {
		t.Error("Downmix of mono input copied the slice")
	}
}

func TestFloat32ToInt16_Clamps(t *testing.T) {
	t.Parallel()
	got := audio.Float32ToInt16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32767, 32767, -32767, 16383}
	if !slices.Equal(got, want) {
		t.Errorf("Float32ToInt16 = %v, want %v", got, want)
	}
}

func TestInt16RoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0, 0.25, -0.75, 0.999}
	got := audio.Int16ToFloat32(audio.BytesToInt16s(audio.Int16sToBytes(audio.Float32ToInt16(in))))
	for i := range in {
		if d := math.Abs(float64(got[i] - in[i])); d >= 1.0/32767 {
			t.Errorf("sample %d: got %v, want %v (diff %v)", i, got[i], in[i], d)
		}
	}
}

func TestInt16sToBytes_LittleEndian(t *testing.T) {
	t.Parallel()
	got := audio.Int16sToBytes([]int16{0x0102, -1})
	want := []byte{0x02, 0x01, 0xff, 0xff}
	if !slices.Equal(got, want) {
		t.Errorf("Int16sToBytes = %x, want %x", got, want)
	}
}

func TestFloat32sBytes(t *testing.T) {
	t.Parallel()
	in := []float32{0, 1.5, -0.25}
	b := audio.Float32sToBytes(in)
	if len(b) != 12 {
		t.Fatalf("len = %d, want 12", len(b))
	}
	out, err := audio.BytesToFloat32s(b)
	if err != nil {
		t.Fatalf("BytesToFloat32s: %v", err)
	}
	if !slices.Equal(out, in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
	if _, err := audio.BytesToFloat32s(b[:7]); err == nil {
		t.Error("BytesToFloat32s accepted 7 bytes")
	}
}

func TestBlock_MonoAt(t *testing.T) {
	t.Parallel()
	blk := audio.Block{
		Samples:    []float32{1, 0, 1, 0},
		Channels:   2,
		SampleRate: 2,
		Captured:   time.Now(),
	}
	if blk.Frames() != 2 {
		t.Errorf("Frames = %d, want 2", blk.Frames())
	}
	if blk.String() != "2Hz stereo" {
		t.Errorf("String = %q, want %q", blk.String(), "2Hz stereo")
	}
	got := blk.MonoAt(4)
	want := []float32{0.5, 0.5, 0.5, 0.5}
	if !slices.Equal(got, want) {
		t.Errorf("MonoAt(4) = %v, want %v", got, want)
	}
}
