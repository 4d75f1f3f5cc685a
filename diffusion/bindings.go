// CGo surface for stable-diffusion.cpp.
//
// The front functions in this file dispatch to build-tag selected
// implementations. When the shared library is not available the stub
// implementations are compiled in; generation calls then fail with
// ErrGenerationFailed but model bookkeeping still works, which keeps
// the HTTP layer testable on any machine.
//
// Build with the real library:
//
//	CGO_CFLAGS="-I/path/to/stable-diffusion.cpp" \
//	CGO_LDFLAGS="-L/path/to/stable-diffusion.cpp/build -lstable-diffusion" \
//	go build -tags sd
//
// Build without it (default):
//
//	go build

package diffusion

// ModelContext is an opaque handle to a loaded model. The real
// implementation wraps a C pointer to sd_ctx_t; the stub tracks an
// internal ID.
type ModelContext struct {
	id        uint64
	modelPath string
	valid     bool
}

// IsValid reports whether the context is usable.
func (c *ModelContext) IsValid() bool {
	return c != nil && c.valid
}

// ModelPath returns the path the context was loaded from.
func (c *ModelContext) ModelPath() string {
	if c == nil {
		return ""
	}
	return c.modelPath
}

// SampleParams carries the resolved parameters of one sampling call.
// InitPixels and MaskPixels are packed RGBA; both are nil for pure
// text-to-image sampling, MaskPixels alone is nil for img2img.
type SampleParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Strength       float64
	Seed           int64
	InitPixels     []byte
	MaskPixels     []byte
}

// RawImage is the decoded output of a sampling call: packed RGBA
// pixels plus the seed that actually produced them.
type RawImage struct {
	Pixels []byte
	Width  int
	Height int
	Seed   int64
}

// LoadModel loads a model file (.safetensors or .ckpt) and returns a
// context for sampling. The context must be released with FreeModel.
func LoadModel(modelPath string) (*ModelContext, error) {
	return loadModelImpl(modelPath)
}

// Txt2Img samples an image from text alone.
func Txt2Img(ctx *ModelContext, params SampleParams) (*RawImage, error) {
	return txt2imgImpl(ctx, params)
}

// Img2Img samples conditioned on init pixels, and on mask pixels when
// present (inpainting). params.InitPixels must be set.
func Img2Img(ctx *ModelContext, params SampleParams) (*RawImage, error) {
	return img2imgImpl(ctx, params)
}

// FreeModel releases a context. Safe on nil or already-freed contexts.
func FreeModel(ctx *ModelContext) {
	freeModelImpl(ctx)
}

// BackendInfo returns a human-readable description of the compute
// backend (CUDA, Metal, CPU, or stub).
func BackendInfo() string {
	return backendInfoImpl()
}

// CUDAAvailable reports whether the linked library was built with CUDA.
func CUDAAvailable() bool {
	return cudaAvailableImpl()
}

// ReleaseCachedMemory asks the backend to drop its allocator caches.
// Best effort; the stub does nothing.
func ReleaseCachedMemory() {
	releaseCachedMemoryImpl()
}
