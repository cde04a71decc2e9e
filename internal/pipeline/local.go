package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
)

// Local renders deterministic placeholder images in-process: a gradient keyed
// on prompt hash and seed. It stands in for a diffusion model on hosts
// without one, so the full submission and scheduling path stays exercisable.
type Local struct {
	info   Info
	logger zerolog.Logger
}

// NewLocal builds the in-process backend. model and precision are reported in
// health and result metadata only.
func NewLocal(model, precision string, logger zerolog.Logger) *Local {
	return &Local{
		info:   Info{Model: model, Backend: "local", Precision: precision},
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Info implements Pipeline.
func (l *Local) Info() Info { return l.info }

// Warmup renders one small image to prime the code path.
func (l *Local) Warmup(ctx context.Context) error {
	params := domain.GenerationParams{Prompt: "warmup", Steps: 1, Guidance: 1, Width: 64, Height: 64}
	_, err := l.Generate(ctx, params, DeviceContext{Kind: DeviceCPU})
	return err
}

// Generate implements Pipeline. Output depends only on prompt, seed and
// dimensions.
func (l *Local) Generate(ctx context.Context, params domain.GenerationParams, device DeviceContext) (Result, error) {
	start := time.Now()
	img, err := renderGradient(ctx, params)
	if err != nil {
		return Result{}, err
	}
	elapsed := time.Since(start)
	l.logger.Debug().
		Str("device", device.String()).
		Int("width", params.Width).
		Int("height", params.Height).
		Dur("elapsed", elapsed).
		Msg("pipeline: render finished")
	return Result{
		Images:  [][]byte{img},
		Seed:    params.Seed,
		Steps:   params.Steps,
		Elapsed: elapsed,
	}, nil
}

// renderGradient maps x to red, y to green and a prompt/seed hash to blue,
// then encodes the frame as PNG. Cancellation is honored between rows.
func renderGradient(ctx context.Context, p domain.GenerationParams) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	blue := uint8(promptHash(p.Prompt) ^ uint64(p.Seed))
	for y := 0; y < p.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < p.Width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(float32(x) / float32(p.Width) * 255)
			img.Pix[i+1] = uint8(float32(y) / float32(p.Height) * 255)
			img.Pix[i+2] = blue
			img.Pix[i+3] = 0xff
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("pipeline: png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func promptHash(s string) uint64 {
	var h uint64
	for i := 0; i < len(s); i++ {
		h = h*31 + uint64(s[i])
	}
	return h
}
