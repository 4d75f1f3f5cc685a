package diffusion

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalPipeline serves one capability from a model loaded in process
// memory through the stable-diffusion.cpp bindings. A single GPU
// cannot run overlapping sampling calls for the same model, so Invoke
// serializes on a per-pipeline mutex; requests for different
// capabilities still run independently.
type LocalPipeline struct {
	capability Capability
	family     ModelFamily
	modelPath  string
	logger     *zap.Logger

	mu     sync.Mutex
	handle *ModelContext
	closed bool
}

// NewLocalPipeline loads the model at modelPath for the given
// capability. The returned pipeline owns the model handle and must be
// closed by the caller.
func NewLocalPipeline(capability Capability, family ModelFamily, modelPath string, logger *zap.Logger) (*LocalPipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	handle, err := LoadModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("diffusion: loading %s model from %s: %w",
			capability, modelPath, err)
	}

	logger.Info("model loaded",
		zap.String("capability", string(capability)),
		zap.String("model", filepath.Base(modelPath)),
		zap.String("family", string(family)),
		zap.String("backend", BackendInfo()),
		zap.Duration("load_time", time.Since(start)))

	return &LocalPipeline{
		capability: capability,
		family:     family,
		modelPath:  modelPath,
		logger:     logger,
		handle:     handle,
	}, nil
}

func (p *LocalPipeline) Capability() Capability { return p.capability }

func (p *LocalPipeline) TargetSize() int { return p.family.TargetSize() }

func (p *LocalPipeline) Describe() string {
	return fmt.Sprintf("local/%s (%s, %s)", p.capability, p.family, filepath.Base(p.modelPath))
}

// Invoke runs one sampling call. Calls are serialized per pipeline;
// a second request for the same capability waits for the first.
func (p *LocalPipeline) Invoke(ctx context.Context, req Request) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPipelineClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := ResolveSeed(req.Seed)
	params := SampleParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CFGScale:       req.GuidanceScale,
		Strength:       req.Strength,
		Seed:           seed,
	}
	if req.Image != nil {
		params.InitPixels = RGBAPixels(ResizeExact(req.Image, req.Width, req.Height))
	}
	if req.Mask != nil {
		params.MaskPixels = RGBAPixels(ResizeExact(req.Mask, req.Width, req.Height))
	}

	start := time.Now()
	var (
		raw *RawImage
		err error
	)
	if len(params.InitPixels) > 0 {
		raw, err = Img2Img(p.handle, params)
	} else {
		raw, err = Txt2Img(p.handle, params)
	}
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	img, err := PixelsToImage(raw.Pixels, raw.Width, raw.Height)
	if err != nil {
		return nil, err
	}
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("sampling complete",
		zap.String("capability", string(p.capability)),
		zap.Int("steps", req.Steps),
		zap.Int64("seed", raw.Seed),
		zap.Duration("duration", duration))

	return &Result{
		PNG:      data,
		Width:    raw.Width,
		Height:   raw.Height,
		Seed:     raw.Seed,
		Duration: duration,
		Parameters: Parameters{
			NumInferenceSteps: req.Steps,
			GuidanceScale:     req.GuidanceScale,
			Strength:          req.Strength,
			Width:             req.Width,
			Height:            req.Height,
			Seed:              raw.Seed,
		},
	}, nil
}

// Close frees the model handle. Idempotent.
func (p *LocalPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	FreeModel(p.handle)
	p.handle = nil
	return nil
}
