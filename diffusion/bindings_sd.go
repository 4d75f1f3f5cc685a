//go:build sd && cgo && !stub

// Real CGo implementations backed by stable-diffusion.cpp.
//
// Prerequisites:
//  1. stable-diffusion.cpp compiled as a shared library
//  2. CGO_CFLAGS pointing at the header directory
//  3. CGO_LDFLAGS linking -lstable-diffusion

package diffusion

/*
#cgo CFLAGS: -I${SRCDIR}/../vendor/stable-diffusion.cpp
#cgo LDFLAGS: -L${SRCDIR}/../vendor/stable-diffusion.cpp/build -lstable-diffusion

// NOTE: The actual header include is commented out until the library is
// wired into the build. When stable-diffusion.cpp is integrated,
// uncomment:
//
// #include <stable-diffusion.h>
// #include <stdlib.h>

#include <stdlib.h>
#include <stdint.h>

// Placeholder type definition. Replace with the real sd_ctx_t when the
// header is available.
typedef void* sd_ctx_t;

// Library entry points used below, declared by stable-diffusion.h:
//
// extern sd_ctx_t* sd_ctx_create(const char* model_path, int n_threads);
// extern void sd_ctx_free(sd_ctx_t* ctx);
// extern uint8_t* txt2img(sd_ctx_t* ctx, const char* prompt, const char* negative,
//                         int width, int height, int steps, float cfg_scale,
//                         int64_t seed, int* out_w, int* out_h);
// extern uint8_t* img2img(sd_ctx_t* ctx, const uint8_t* init, const uint8_t* mask,
//                         const char* prompt, const char* negative,
//                         int width, int height, int steps, float cfg_scale,
//                         float strength, int64_t seed, int* out_w, int* out_h);
// extern void sd_free_image(uint8_t* img);
// extern const char* sd_get_backend_info();
// extern int sd_cuda_available();
// extern void sd_release_cached_memory();
*/
import "C"

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"
)

var (
	sdContextCounter uint64
	contextMu        sync.Mutex
	contextMap       = make(map[uint64]*C.sd_ctx_t)
)

func loadModelImpl(modelPath string) (*ModelContext, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
	} else if err != nil {
		return nil, fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, modelPath, err)
	}

	cModelPath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cModelPath))

	// TODO: call C.sd_ctx_create once the header is integrated:
	// cCtx := C.sd_ctx_create(cModelPath, C.int(runtime.NumCPU()))
	// if cCtx == nil {
	//     return nil, fmt.Errorf("%w: library returned null context", ErrModelLoadFailed)
	// }
	// id := atomic.AddUint64(&sdContextCounter, 1)
	// contextMu.Lock()
	// contextMap[id] = &cCtx
	// contextMu.Unlock()
	// return &ModelContext{id: id, modelPath: modelPath, valid: true}, nil

	_ = atomic.LoadUint64(&sdContextCounter)
	return nil, fmt.Errorf("%w: stable-diffusion.cpp header integration pending", ErrModelLoadFailed)
}

func txt2imgImpl(ctx *ModelContext, params SampleParams) (*RawImage, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	contextMu.Lock()
	cCtx, ok := contextMap[ctx.id]
	contextMu.Unlock()
	if !ok || cCtx == nil {
		return nil, fmt.Errorf("%w: no C context for handle", ErrGenerationFailed)
	}

	cPrompt := C.CString(params.Prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cNegative := C.CString(params.NegativePrompt)
	defer C.free(unsafe.Pointer(cNegative))

	// TODO: call C.txt2img and copy the buffer into a RawImage, then
	// C.sd_free_image the C buffer.
	return nil, fmt.Errorf("%w: stable-diffusion.cpp header integration pending", ErrGenerationFailed)
}

func img2imgImpl(ctx *ModelContext, params SampleParams) (*RawImage, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	if len(params.InitPixels) == 0 {
		return nil, fmt.Errorf("%w: img2img requires init pixels", ErrGenerationFailed)
	}
	contextMu.Lock()
	cCtx, ok := contextMap[ctx.id]
	contextMu.Unlock()
	if !ok || cCtx == nil {
		return nil, fmt.Errorf("%w: no C context for handle", ErrGenerationFailed)
	}

	cPrompt := C.CString(params.Prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cNegative := C.CString(params.NegativePrompt)
	defer C.free(unsafe.Pointer(cNegative))

	// TODO: call C.img2img with init and optional mask buffers, copy
	// out, free the C buffer.
	return nil, fmt.Errorf("%w: stable-diffusion.cpp header integration pending", ErrGenerationFailed)
}

func freeModelImpl(ctx *ModelContext) {
	if ctx == nil || !ctx.valid {
		return
	}
	contextMu.Lock()
	cCtx, ok := contextMap[ctx.id]
	delete(contextMap, ctx.id)
	contextMu.Unlock()
	if ok && cCtx != nil {
		// TODO: C.sd_ctx_free(*cCtx)
		_ = cCtx
	}
	ctx.valid = false
}

func backendInfoImpl() string {
	// TODO: return C.GoString(C.sd_get_backend_info())
	return "stable-diffusion.cpp (header integration pending)"
}

func cudaAvailableImpl() bool {
	// TODO: return C.sd_cuda_available() != 0
	return false
}

func releaseCachedMemoryImpl() {
	// TODO: C.sd_release_cached_memory()
}
