package codec_test

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/lifelogger/pkg/codec"
	"github.com/MrWong99/lifelogger/pkg/codec/mock"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	a := &mock.Codec{NameValue: "wav"}
	b := &mock.Codec{NameValue: "Opus", KindValue: codec.Lossy}
	r := codec.NewRegistry(a, b)

	if got, want := r.Names(), []string{"opus", "wav"}; !slices.Equal(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
	if c, ok := r.Get("OPUS"); !ok || c != b {
		t.Errorf("Get(OPUS) = %v, %v", c, ok)
	}
	if _, ok := r.Get("flac"); ok {
		t.Error("Get(flac) found a codec")
	}
	_, err := r.Lookup("flac")
	if !errors.Is(err, codec.ErrUnknownCodec) {
		t.Errorf("Lookup(flac) error = %v, want ErrUnknownCodec", err)
	}

	repl := &mock.Codec{NameValue: "wav"}
	r.Register(repl)
	if c, _ := r.Lookup("wav"); c != repl {
		t.Error("Register did not replace existing codec")
	}
	if cs := r.Codecs(); len(cs) != 2 || cs[0] != b {
		t.Errorf("Codecs = %v", cs)
	}

	r.RegisterAs("WAV32", a)
	if c, ok := r.Get("wav32"); !ok || c != a {
		t.Errorf("Get(wav32) = %v, %v", c, ok)
	}
	entries := r.Entries()
	if len(entries) != 3 || entries[2].Name != "wav32" || entries[2].Codec.Name() != "wav" {
		t.Errorf("Entries = %+v", entries)
	}
}

func TestKind(t *testing.T) {
	t.Parallel()
	lossy := &mock.Codec{KindValue: codec.Lossy}
	lossless := &mock.Codec{}
	if !codec.IsLossy(lossy) || codec.IsLossless(lossy) {
		t.Error("lossy codec misreported")
	}
	if codec.IsLossy(lossless) || !codec.IsLossless(lossless) {
		t.Error("lossless codec misreported")
	}
	if codec.Lossy.String() != "lossy" || codec.Lossless.String() != "lossless" {
		t.Error("Kind.String mismatch")
	}
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()
	c := &mock.Codec{ExtensionValue: "flac"}
	if got, want := codec.ContentDisposition(c), `attachment; filename="audio.flac"`; got != want {
		t.Errorf("ContentDisposition = %q, want %q", got, want)
	}
}

func TestCompressionRatio(t *testing.T) {
	t.Parallel()
	c := &mock.Codec{EncodeResult: make([]byte, 10)}
	got, err := codec.CompressionRatio(c, make([]float32, 100), 8000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 40 {
		t.Errorf("CompressionRatio = %v, want 40", got)
	}

	c = &mock.Codec{EncodeErr: codec.ErrEncoding}
	if _, err := codec.CompressionRatio(c, nil, 8000); !errors.Is(err, codec.ErrEncoding) {
		t.Errorf("error = %v, want ErrEncoding", err)
	}
}

func TestMeasurePerformance(t *testing.T) {
	t.Parallel()
	c := &mock.Codec{}
	p, err := codec.MeasurePerformance(c, make([]float32, 8000), 8000)
	if err != nil {
		t.Fatal(err)
	}
	if p.CompressionRatio != 2 {
		t.Errorf("CompressionRatio = %v, want 2", p.CompressionRatio)
	}
	if p.EncodeSpeed <= 0 || p.DecodeSpeed <= 0 {
		t.Errorf("speeds must be positive: %+v", p)
	}
	if c.EncodeCallCount() != 1 || c.DecodeCalls != 1 {
		t.Errorf("calls: encode %d decode %d, want 1 each", c.EncodeCallCount(), c.DecodeCalls)
	}

	if _, err := codec.MeasurePerformance(c, nil, 0); !errors.Is(err, codec.ErrUnsupportedSampleRate) {
		t.Errorf("rate 0 error = %v, want ErrUnsupportedSampleRate", err)
	}
}

func TestCompareSignals(t *testing.T) {
	t.Parallel()
	orig := []float32{0.5, -0.5, 0.5, -0.5}
	dec := []float32{0.4, -0.4, 0.4, -0.4}
	q, err := codec.CompareSignals(orig, dec)
	if err != nil {
		t.Fatal(err)
	}
	// mse = 0.01, power = 0.25, peak = 0.5
	if math.Abs(q.MSE-0.01) > 1e-6 {
		t.Errorf("MSE = %v, want 0.01", q.MSE)
	}
	if math.Abs(q.SNR-10*math.Log10(25)) > 1e-4 {
		t.Errorf("SNR = %v, want %v", q.SNR, 10*math.Log10(25))
	}
	wantPSNR := 20*math.Log10(0.5) - 10*math.Log10(0.01)
	if math.Abs(q.PSNR-wantPSNR) > 1e-4 {
		t.Errorf("PSNR = %v, want %v", q.PSNR, wantPSNR)
	}

	if _, err := codec.CompareSignals(orig, dec[:3]); !errors.Is(err, codec.ErrInvalidData) {
		t.Errorf("length mismatch error = %v, want ErrInvalidData", err)
	}
}

func TestMeasureQuality_LengthMismatch(t *testing.T) {
	t.Parallel()
	c := &mock.Codec{NameValue: "short", KindValue: codec.Lossy, DecodeResult: []float32{0}}
	_, err := codec.MeasureQuality(c, []float32{0.1, 0.2}, 8000)
	var cerr *codec.Error
	if !errors.As(err, &cerr) || cerr.Codec != "short" {
		t.Errorf("error = %v, want *codec.Error for codec short", err)
	}
	if !errors.Is(err, codec.ErrInvalidData) {
		t.Errorf("error = %v, want ErrInvalidData", err)
	}
}

func TestError(t *testing.T) {
	t.Parallel()
	err := &codec.Error{Codec: "flac", Op: "encode", Err: codec.ErrExternalCommand}
	if !errors.Is(err, codec.ErrExternalCommand) {
		t.Error("Error does not unwrap")
	}
	if got, want := err.Error(), "flac encode: codec: external command failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
