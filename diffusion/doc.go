// Package diffusion is the inference gateway for the backend: it owns the
// long-lived pipeline handles, validates and routes generation requests,
// and delegates the sampling loop itself to an external implementation.
//
// The package is organized around a small set of pieces:
//
//   - Capability and Operation identify what a request needs and which
//     pipeline can serve it.
//   - Request and Result are the transient value objects flowing through
//     a single invocation.
//   - Pipeline is the handle interface; LocalPipeline wraps the CGo
//     bindings (build tag "sd"), RemotePipeline wraps the remote Images
//     API for text-to-image.
//   - Gateway is the immutable, process-scoped registry of pipelines,
//     built once at startup. Load failures leave the capability slot
//     empty instead of aborting startup; invocations against an empty
//     slot fail with a model-not-ready error.
//
// Image decoding/resizing and prompt composition live here too because
// every pipeline shares them: see codec.go and prompt.go.
package diffusion
