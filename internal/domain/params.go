package domain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Limits holds the bounds and defaults applied while normalizing incoming
// requests. Values come from configuration and are fixed for the process
// lifetime.
type Limits struct {
	DefaultSteps    int
	DefaultGuidance float64
	DefaultWidth    int
	DefaultHeight   int
	MaxSteps        int
	MaxWidth        int
	MaxHeight       int
	MinImageSize    int
	SizeAlignment   int
}

// GenerationRequest is the wire-facing parameter set shared by both
// front-ends. Pointer fields tell an absent value apart from an explicit
// zero so validation can reject the latter.
type GenerationRequest struct {
	Prompt         string   `json:"prompt" msgpack:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty" msgpack:"negative_prompt,omitempty"`
	Steps          *int     `json:"steps,omitempty" msgpack:"steps,omitempty"`
	Guidance       *float64 `json:"guidance_scale,omitempty" msgpack:"guidance_scale,omitempty"`
	Width          *int     `json:"width,omitempty" msgpack:"width,omitempty"`
	Height         *int     `json:"height,omitempty" msgpack:"height,omitempty"`
	Seed           *int64   `json:"seed,omitempty" msgpack:"seed,omitempty"`
}

// GenerationParams is the normalized set recorded on a job. Every field is
// concrete; workers and pipelines never apply defaults themselves.
type GenerationParams struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	Guidance       float64
	Width          int
	Height         int
	Seed           int64
}

// NormalizeParams validates req against lim and fills defaults. When no seed
// was provided one is drawn from the system entropy source, so the submission
// response can report a value that reproduces the run. Violations wrap
// ErrInvalidParams.
func NormalizeParams(req GenerationRequest, lim Limits) (GenerationParams, error) {
	p := GenerationParams{
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		Steps:          lim.DefaultSteps,
		Guidance:       lim.DefaultGuidance,
		Width:          lim.DefaultWidth,
		Height:         lim.DefaultHeight,
	}

	if p.Prompt == "" {
		return GenerationParams{}, fmt.Errorf("%w: prompt is required", ErrInvalidParams)
	}

	if req.Steps != nil {
		if *req.Steps <= 0 {
			return GenerationParams{}, fmt.Errorf("%w: steps must be positive", ErrInvalidParams)
		}
		p.Steps = *req.Steps
	}
	if p.Steps > lim.MaxSteps {
		p.Steps = lim.MaxSteps
	}

	if req.Guidance != nil {
		g := *req.Guidance
		if math.IsNaN(g) || math.IsInf(g, 0) || g <= 0 {
			return GenerationParams{}, fmt.Errorf("%w: guidance scale must be a positive number", ErrInvalidParams)
		}
		p.Guidance = g
	}

	if req.Width != nil {
		p.Width = *req.Width
	}
	if req.Height != nil {
		p.Height = *req.Height
	}
	if err := checkDimension("width", p.Width, lim.MaxWidth, lim); err != nil {
		return GenerationParams{}, err
	}
	if err := checkDimension("height", p.Height, lim.MaxHeight, lim); err != nil {
		return GenerationParams{}, err
	}

	if req.Seed != nil {
		p.Seed = *req.Seed
	} else {
		p.Seed = RandomSeed()
	}

	return p, nil
}

func checkDimension(name string, v, max int, lim Limits) error {
	if v < lim.MinImageSize || v > max {
		return fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidParams, name, lim.MinImageSize, max)
	}
	if lim.SizeAlignment > 1 && v%lim.SizeAlignment != 0 {
		return fmt.Errorf("%w: %s must be a multiple of %d", ErrInvalidParams, name, lim.SizeAlignment)
	}
	return nil
}

// RandomSeed draws a non-negative seed from crypto/rand.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(buf[:]) &^ (1 << 63))
}
