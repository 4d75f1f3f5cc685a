//go:build !sd || stub

// Stub implementations for builds without stable-diffusion.cpp.

package diffusion

import (
	"fmt"
	"os"
	"sync/atomic"
)

var stubContextCounter uint64

func loadModelImpl(modelPath string) (*ModelContext, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
	} else if err != nil {
		return nil, fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, modelPath, err)
	}

	return &ModelContext{
		id:        atomic.AddUint64(&stubContextCounter, 1),
		modelPath: modelPath,
		valid:     true,
	}, nil
}

func txt2imgImpl(ctx *ModelContext, _ SampleParams) (*RawImage, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	return nil, fmt.Errorf("%w: stable-diffusion.cpp library not available (stub mode). "+
		"Build with CGO and the 'sd' tag to enable sampling", ErrGenerationFailed)
}

func img2imgImpl(ctx *ModelContext, _ SampleParams) (*RawImage, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	return nil, fmt.Errorf("%w: stable-diffusion.cpp library not available (stub mode). "+
		"Build with CGO and the 'sd' tag to enable sampling", ErrGenerationFailed)
}

func freeModelImpl(ctx *ModelContext) {
	if ctx == nil {
		return
	}
	ctx.valid = false
}

func backendInfoImpl() string {
	return "stub (no stable-diffusion.cpp library linked)"
}

func cudaAvailableImpl() bool {
	return false
}

func releaseCachedMemoryImpl() {}
