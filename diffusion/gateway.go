package diffusion

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"sd_backend/core"
)

// Gateway routes operations to the pipeline serving their capability.
// The pipeline set is fixed at construction; a capability whose model
// failed to load is simply absent and its operations fail fast with a
// model-not-ready error instead of crashing the process.
type Gateway struct {
	pipelines map[Capability]Pipeline
	logger    *zap.Logger
}

// NewGateway builds a gateway over an explicit pipeline set. Used
// directly by tests; production code goes through BuildGateway.
func NewGateway(pipelines []Pipeline, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[Capability]Pipeline, len(pipelines))
	for _, p := range pipelines {
		if p != nil {
			m[p.Capability()] = p
		}
	}
	return &Gateway{pipelines: m, logger: logger}
}

// BuildGateway loads every pipeline the configuration names. Load
// failures are logged and swallowed: the service starts with whatever
// subset loaded, and /health reports the rest as not loaded.
func BuildGateway(cfg *core.Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	family := ParseModelFamily(cfg.ModelFamily)

	var pipelines []Pipeline
	load := func(capability Capability, modelPath string) {
		if modelPath == "" {
			return
		}
		p, err := NewLocalPipeline(capability, family, modelPath, logger)
		if err != nil {
			logger.Error("model load failed, capability disabled",
				zap.String("capability", string(capability)),
				zap.String("model_path", modelPath),
				zap.Error(err))
			return
		}
		pipelines = append(pipelines, p)
	}

	load(CapabilityTextToImage, cfg.GenerateModelPath)
	load(CapabilityInpaint, cfg.InpaintModelPath)
	load(CapabilityImg2Img, cfg.SketchModelPath)

	// Hosted fallback for text-to-image when no local model loaded
	if _, ok := firstByCapability(pipelines, CapabilityTextToImage); !ok && cfg.OpenAIAPIKey != "" {
		remote, err := NewRemotePipeline(RemoteConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, logger)
		if err != nil {
			logger.Error("remote pipeline unavailable", zap.Error(err))
		} else {
			pipelines = append(pipelines, remote)
		}
	}

	return NewGateway(pipelines, logger)
}

func firstByCapability(pipelines []Pipeline, capability Capability) (Pipeline, bool) {
	for _, p := range pipelines {
		if p != nil && p.Capability() == capability {
			return p, true
		}
	}
	return nil, false
}

// Lookup returns the pipeline serving a capability.
func (g *Gateway) Lookup(capability Capability) (Pipeline, bool) {
	p, ok := g.pipelines[capability]
	return p, ok
}

// Ready reports whether an operation can currently be served.
func (g *Gateway) Ready(op Operation) bool {
	_, ok := g.pipelines[op.Capability()]
	return ok
}

// Capabilities returns the loaded capabilities in stable order.
func (g *Gateway) Capabilities() []Capability {
	out := make([]Capability, 0, len(g.pipelines))
	for c := range g.pipelines {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Status maps each loaded capability to its pipeline description.
func (g *Gateway) Status() map[Capability]string {
	out := make(map[Capability]string, len(g.pipelines))
	for c, p := range g.pipelines {
		out[c] = p.Describe()
	}
	return out
}

// Invoke validates the request, routes it to the pipeline for its
// operation's capability, and classifies errors into request errors
// the HTTP layer can translate to status codes.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Result, error) {
	p, ok := g.pipelines[req.Operation.Capability()]
	if !ok {
		return nil, core.NewModelNotReady(
			"model for " + string(req.Operation.Capability()) + " is not loaded")
	}

	if err := ValidateRequest(req); err != nil {
		return nil, core.NewInvalidInput(err.Error(), err)
	}

	result, err := p.Invoke(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// classify maps pipeline errors onto the request error taxonomy.
func classify(err error) error {
	var reqErr *core.RequestError
	if errors.As(err, &reqErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrInvalidPrompt),
		errors.Is(err, ErrInvalidParams),
		errors.Is(err, ErrMissingImage),
		errors.Is(err, ErrMissingMask),
		errors.Is(err, ErrNotAnImage),
		errors.Is(err, ErrImageEmpty),
		errors.Is(err, ErrDecodeFailed):
		return core.NewInvalidInput(err.Error(), err)
	case errors.Is(err, ErrPipelineClosed), errors.Is(err, ErrModelNotFound), errors.Is(err, ErrModelLoadFailed):
		return core.NewModelNotReady(err.Error())
	default:
		return core.NewInferenceFailure("generation failed", err)
	}
}

// Close releases every pipeline. Errors are aggregated.
func (g *Gateway) Close() error {
	var errs []error
	for capability, p := range g.pipelines {
		if err := p.Close(); err != nil {
			g.logger.Warn("pipeline close failed",
				zap.String("capability", string(capability)),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
