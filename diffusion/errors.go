package diffusion

import "errors"

// Sentinel errors for diffusion operations.
var (
	// Model-related errors
	ErrModelNotFound   = errors.New("diffusion: model file not found")
	ErrModelLoadFailed = errors.New("diffusion: failed to load model")

	// Generation errors
	ErrGenerationFailed = errors.New("diffusion: image generation failed")
	ErrOutOfVRAM        = errors.New("diffusion: out of VRAM")

	// Input validation errors
	ErrInvalidPrompt = errors.New("diffusion: invalid prompt")
	ErrInvalidParams = errors.New("diffusion: invalid generation parameters")
	ErrMissingImage  = errors.New("diffusion: required image input is missing")
	ErrMissingMask   = errors.New("diffusion: required mask input is missing")

	// Codec errors
	ErrNotAnImage    = errors.New("diffusion: content type is not an image")
	ErrImageEmpty    = errors.New("diffusion: image data is empty")
	ErrDecodeFailed  = errors.New("diffusion: failed to decode image")
	ErrEncodeFailed  = errors.New("diffusion: failed to encode image")
	ErrInvalidPixels = errors.New("diffusion: invalid pixel buffer dimensions")

	// Gateway errors
	ErrPipelineClosed = errors.New("diffusion: pipeline is closed")
)
