package core

import "context"

// ShutdownFunc is the signature for cleanup handlers run during graceful
// shutdown. Implementations should respect the context deadline, return
// nil on success, and be safe to call more than once.
type ShutdownFunc func(ctx context.Context) error
