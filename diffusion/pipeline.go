package diffusion

import "context"

// Pipeline is a loaded model capable of serving one capability.
// Implementations must be safe for concurrent Invoke calls.
type Pipeline interface {
	// Capability reports what this pipeline can do.
	Capability() Capability

	// TargetSize returns the fixed square working resolution. Inputs
	// are resized to this before sampling.
	TargetSize() int

	// Invoke runs one generation. The request must already be
	// validated and resized. Blocking; honors ctx cancellation where
	// the backend allows it.
	Invoke(ctx context.Context, req Request) (*Result, error)

	// Describe returns a short human-readable identity for status
	// endpoints and logs.
	Describe() string

	// Close releases the underlying model. Invoke after Close returns
	// ErrPipelineClosed.
	Close() error
}
