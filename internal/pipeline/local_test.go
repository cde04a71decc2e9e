package pipeline

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
)

var pngMagic = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

func testLocal() *Local {
	return NewLocal("stable-diffusion-v1-5", "fp16", zerolog.Nop())
}

func localParams(seed int64) domain.GenerationParams {
	return domain.GenerationParams{
		Prompt:   "a red fox in the snow",
		Steps:    20,
		Guidance: 7.5,
		Width:    128,
		Height:   64,
		Seed:     seed,
	}
}

func TestLocalGenerateProducesValidPNG(t *testing.T) {
	res, err := testLocal().Generate(context.Background(), localParams(42), DeviceContext{Kind: DeviceCPU})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("image count = %d, want 1", len(res.Images))
	}
	data := res.Images[0]
	if !bytes.HasPrefix(data, pngMagic) {
		t.Fatal("output does not start with the PNG signature")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode returned error: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 128 || b.Dy() != 64 {
		t.Fatalf("decoded size = %dx%d, want 128x64", b.Dx(), b.Dy())
	}
	if res.Seed != 42 || res.Steps != 20 {
		t.Fatalf("Result = %+v, want seed 42 steps 20", res)
	}
}

func TestLocalGenerateIsDeterministic(t *testing.T) {
	l := testLocal()
	a, err := l.Generate(context.Background(), localParams(7), DeviceContext{Kind: DeviceCPU})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	b, err := l.Generate(context.Background(), localParams(7), DeviceContext{Kind: DeviceCPU, Ordinal: 1})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !bytes.Equal(a.Images[0], b.Images[0]) {
		t.Fatal("same prompt and seed produced different images")
	}

	c, err := l.Generate(context.Background(), localParams(8), DeviceContext{Kind: DeviceCPU})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if bytes.Equal(a.Images[0], c.Images[0]) {
		t.Fatal("different seeds produced identical images")
	}
}

func TestLocalGenerateHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testLocal().Generate(ctx, localParams(1), DeviceContext{Kind: DeviceCPU}); err == nil {
		t.Fatal("Generate returned no error for cancelled context")
	}
}

func TestLocalWarmup(t *testing.T) {
	if err := testLocal().Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup returned error: %v", err)
	}
}

func TestLocalInfo(t *testing.T) {
	info := testLocal().Info()
	if info.Model != "stable-diffusion-v1-5" || info.Backend != "local" || info.Precision != "fp16" {
		t.Fatalf("Info = %+v", info)
	}
}

func TestProbeDevicesCPU(t *testing.T) {
	devices := ProbeDevices("cpu", 3, zerolog.Nop())
	if len(devices) != 3 {
		t.Fatalf("device count = %d, want 3", len(devices))
	}
	for i, d := range devices {
		if d.Kind != DeviceCPU || d.Ordinal != i {
			t.Fatalf("device %d = %+v", i, d)
		}
	}
	if devices[1].String() != "cpu:1" {
		t.Fatalf("String() = %q, want %q", devices[1].String(), "cpu:1")
	}
}
