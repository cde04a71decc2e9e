package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
)

// RemoteOptions configures the HTTP diffusion backend.
type RemoteOptions struct {
	BaseURL    string
	Model      string
	Precision  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Remote drives an sd-webui compatible diffusion service over HTTP. This
// process never touches the model weights; the remote one does.
type Remote struct {
	baseURL    string
	info       Info
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRemote validates opts and builds the backend.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("pipeline: remote base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 300 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Remote{
		baseURL:    baseURL,
		info:       Info{Model: opts.Model, Backend: "remote", Precision: opts.Precision},
		httpClient: client,
		logger:     opts.Logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Info implements Pipeline.
func (r *Remote) Info() Info { return r.info }

// txt2imgRequest mirrors the sd-webui generation API.
type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           int64   `json:"seed"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// Warmup verifies the remote service answers before the pool starts taking
// jobs.
func (r *Remote) Warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/sdapi/v1/options", nil)
	if err != nil {
		return fmt.Errorf("pipeline: create warmup request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline: remote backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("pipeline: remote backend warmup status %d", resp.StatusCode)
	}
	return nil
}

// Generate implements Pipeline.
func (r *Remote) Generate(ctx context.Context, params domain.GenerationParams, device DeviceContext) (Result, error) {
	start := time.Now()

	payload := txt2imgRequest{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Steps:          params.Steps,
		CFGScale:       params.Guidance,
		Width:          params.Width,
		Height:         params.Height,
		Seed:           params.Seed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/sdapi/v1/txt2img", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: invoke remote backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if len(data) > 0 {
			return Result{}, fmt.Errorf("pipeline: remote backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return Result{}, fmt.Errorf("pipeline: remote backend status %d", resp.StatusCode)
	}

	var out txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("pipeline: decode remote response: %w", err)
	}
	if len(out.Images) == 0 {
		return Result{}, fmt.Errorf("pipeline: remote backend returned no images")
	}

	images := make([][]byte, 0, len(out.Images))
	for i, enc := range out.Images {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: decode image %d: %w", i, err)
		}
		images = append(images, data)
	}

	elapsed := time.Since(start)
	r.logger.Debug().
		Str("device", device.String()).
		Int("images", len(images)).
		Dur("elapsed", elapsed).
		Msg("pipeline: remote generation finished")
	return Result{
		Images:  images,
		Seed:    params.Seed,
		Steps:   params.Steps,
		Elapsed: elapsed,
	}, nil
}
