package diffusion

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Capability identifies what a loaded pipeline can do. At most one
// pipeline per capability exists per process.
type Capability string

const (
	// CapabilityTextToImage generates an image from a prompt alone
	CapabilityTextToImage Capability = "text-to-image"
	// CapabilityInpaint regenerates the masked region of an image
	CapabilityInpaint Capability = "inpaint"
	// CapabilityImg2Img transforms a full source image (sketch conversion)
	CapabilityImg2Img Capability = "img2img"
)

// Operation is the endpoint-level request kind. Several operations can
// share one capability: erase is inpainting with background-biased
// prompt composition.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpInpaint  Operation = "inpaint"
	OpErase    Operation = "erase"
	OpSketch   Operation = "sketch"
)

// Capability returns the pipeline capability serving this operation.
func (o Operation) Capability() Capability {
	switch o {
	case OpInpaint, OpErase:
		return CapabilityInpaint
	case OpSketch:
		return CapabilityImg2Img
	default:
		return CapabilityTextToImage
	}
}

// ModelFamily selects the fixed working resolution of a pipeline.
type ModelFamily string

const (
	// FamilySDXL works at 1024x1024
	FamilySDXL ModelFamily = "sdxl"
	// FamilySD2 works at 512x512
	FamilySD2 ModelFamily = "sd2"
)

// TargetSize returns the fixed square resolution for the family.
func (f ModelFamily) TargetSize() int {
	if f == FamilySD2 {
		return 512
	}
	return 1024
}

// ParseModelFamily converts a string to a ModelFamily, defaulting to SDXL.
func ParseModelFamily(s string) ModelFamily {
	if strings.EqualFold(strings.TrimSpace(s), string(FamilySD2)) {
		return FamilySD2
	}
	return FamilySDXL
}

// Request is the transient value object for one generation call.
// Created per HTTP request, consumed once, never persisted.
type Request struct {
	Operation      Operation
	Prompt         string      // final composed prompt
	NegativePrompt string      // final negative prompt
	Image          image.Image // decoded source image (image-conditioned ops)
	Mask           image.Image // decoded mask (inpaint/erase)
	Steps          int
	GuidanceScale  float64
	Strength       float64 // [0,1], image-conditioned ops only
	Width          int
	Height         int
	Seed           int64 // -1 requests a random seed
}

// Parameters echoes the resolved sampling parameters back to the caller.
type Parameters struct {
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Strength          float64 `json:"strength,omitempty"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Seed              int64   `json:"seed"`
}

// Result is the outcome of a successful invocation: the PNG-encoded
// image plus the parameters that actually produced it. Results are
// returned directly and never cached.
type Result struct {
	PNG        []byte
	Width      int
	Height     int
	Seed       int64
	Duration   time.Duration
	Parameters Parameters
}

// Validation bounds. Dimensions must be divisible by 8 for the latent
// space downsampling used by all supported model families.
const (
	MinImageSize      = 128
	MaxImageSize      = 2048
	ImageSizeMultiple = 8

	MinSteps = 1
	MaxSteps = 150

	MaxGuidanceScale = 30.0

	MaxPromptLength = 2000
)

// ValidatePrompt checks a prompt string. Pure function.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	}
	if strings.ContainsRune(prompt, '\x00') {
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidPrompt)
	}
	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d",
			ErrInvalidPrompt, len(prompt), MaxPromptLength)
	}
	return nil
}

// ValidateRequest checks a request for structural and range errors
// before it reaches a pipeline. Pure function.
func ValidateRequest(req Request) error {
	if err := ValidatePrompt(req.Prompt); err != nil {
		return err
	}

	if req.Width < MinImageSize || req.Width > MaxImageSize {
		return fmt.Errorf("%w: width %d must be between %d and %d",
			ErrInvalidParams, req.Width, MinImageSize, MaxImageSize)
	}
	if req.Width%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: width %d must be divisible by %d",
			ErrInvalidParams, req.Width, ImageSizeMultiple)
	}
	if req.Height < MinImageSize || req.Height > MaxImageSize {
		return fmt.Errorf("%w: height %d must be between %d and %d",
			ErrInvalidParams, req.Height, MinImageSize, MaxImageSize)
	}
	if req.Height%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: height %d must be divisible by %d",
			ErrInvalidParams, req.Height, ImageSizeMultiple)
	}

	if req.Steps < MinSteps || req.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, req.Steps, MinSteps, MaxSteps)
	}
	if req.GuidanceScale < 0 || req.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %.2f must be between 0 and %.1f",
			ErrInvalidParams, req.GuidanceScale, MaxGuidanceScale)
	}
	if req.Strength < 0 || req.Strength > 1 {
		return fmt.Errorf("%w: strength %.2f must be in [0,1]",
			ErrInvalidParams, req.Strength)
	}
	if len(req.NegativePrompt) > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt length %d exceeds maximum %d",
			ErrInvalidParams, len(req.NegativePrompt), MaxPromptLength)
	}

	switch req.Operation {
	case OpInpaint, OpErase:
		if req.Image == nil {
			return ErrMissingImage
		}
		if req.Mask == nil {
			return ErrMissingMask
		}
	case OpSketch:
		if req.Image == nil {
			return ErrMissingImage
		}
	}

	return nil
}
