package diffusion

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// RemoteConfig holds settings for the hosted text-to-image fallback.
type RemoteConfig struct {
	// APIKey is the OpenAI API key (required)
	APIKey string

	// BaseURL is the API endpoint (default: https://api.openai.com/v1)
	BaseURL string

	// Model is the image model to use (default: dall-e-3)
	Model string
}

// DefaultRemoteConfig returns sensible defaults for the hosted fallback.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL: "https://api.openai.com/v1",
		Model:   "dall-e-3",
	}
}

// RemotePipeline serves text-to-image through a hosted API when no
// local model file is configured. Only CapabilityTextToImage is
// supported; image-conditioned operations always need a local model.
//
// Thread safety: the underlying client handles connection pooling, so
// Invoke needs no serialization.
type RemotePipeline struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewRemotePipeline creates the hosted fallback pipeline.
func NewRemotePipeline(cfg RemoteConfig, logger *zap.Logger) (*RemotePipeline, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("diffusion: API key is required for remote generation")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "dall-e-3"
	}

	return &RemotePipeline{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger,
	}, nil
}

func (p *RemotePipeline) Capability() Capability { return CapabilityTextToImage }

// TargetSize matches the hosted API's square output.
func (p *RemotePipeline) TargetSize() int { return 1024 }

func (p *RemotePipeline) Describe() string {
	return fmt.Sprintf("remote/%s (%s)", CapabilityTextToImage, p.model)
}

// Invoke generates an image through the hosted API. Sampling
// parameters beyond the prompt are not under our control here; the
// echoed Parameters reflect what was requested so responses keep a
// uniform shape.
func (p *RemotePipeline) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	}

	apiReq := openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          p.model,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}
	if p.model == "dall-e-3" {
		apiReq.Style = openai.CreateImageStyleVivid
	}

	start := time.Now()
	response, err := p.client.CreateImage(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("%w: remote generation: %v", ErrGenerationFailed, err)
	}
	duration := time.Since(start)

	if len(response.Data) == 0 {
		return nil, fmt.Errorf("%w: remote API returned no images", ErrGenerationFailed)
	}
	if response.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: remote API returned empty image payload", ErrGenerationFailed)
	}

	data, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding remote payload: %v", ErrGenerationFailed, err)
	}

	p.logger.Debug("remote generation complete",
		zap.String("model", p.model),
		zap.Duration("duration", duration))

	seed := ResolveSeed(req.Seed)
	return &Result{
		PNG:      data,
		Width:    1024,
		Height:   1024,
		Seed:     seed,
		Duration: duration,
		Parameters: Parameters{
			NumInferenceSteps: req.Steps,
			GuidanceScale:     req.GuidanceScale,
			Width:             1024,
			Height:            1024,
			Seed:              seed,
		},
	}, nil
}

// Close is a no-op; the HTTP client holds no model resources.
func (p *RemotePipeline) Close() error { return nil }

var (
	_ Pipeline = (*LocalPipeline)(nil)
	_ Pipeline = (*RemotePipeline)(nil)
)
