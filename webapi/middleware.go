package webapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sd_backend/core"
	"sd_backend/logging"
)

// MemorySampler is the monitor surface the lifecycle middleware needs.
// Implemented by monitor.ResourceMonitor.
type MemorySampler interface {
	Sample() core.MemorySnapshot
	ClearCaches()
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// CorrelationIDHeader carries the request correlation id in both
// directions; a client-supplied value is reused, otherwise one is minted.
const CorrelationIDHeader = "X-Request-ID"

// CorrelationIDFromContext returns the id the middleware attached, or
// an empty string when the request bypassed the middleware.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// LifecycleMiddleware wraps every request with a correlation id and a
// structured access log. Generation requests additionally get a memory
// snapshot before and after the handler and a cache sweep once the
// response is written, success or failure alike.
type LifecycleMiddleware struct {
	logger    *zap.Logger
	sampler   MemorySampler
	skipPaths map[string]bool
	heavy     map[string]bool
}

// LifecycleConfig configures the middleware.
type LifecycleConfig struct {
	// SkipPaths are not logged (health probes and similar chatter).
	SkipPaths []string
	// HeavyPaths get pre/post memory snapshots and post-request
	// cache clearing.
	HeavyPaths []string
}

// NewLifecycleMiddleware creates the middleware. The sampler may be nil,
// in which case memory bookkeeping is skipped entirely.
func NewLifecycleMiddleware(config LifecycleConfig, sampler MemorySampler, logger *zap.Logger) *LifecycleMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}
	heavy := make(map[string]bool, len(config.HeavyPaths))
	for _, p := range config.HeavyPaths {
		heavy[p] = true
	}
	return &LifecycleMiddleware{
		logger:    logger,
		sampler:   sampler,
		skipPaths: skip,
		heavy:     heavy,
	}
}

// Handler wraps next with the request lifecycle.
func (m *LifecycleMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, correlationID)
		r = r.WithContext(context.WithValue(r.Context(), correlationIDKey, correlationID))

		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := newResponseWriterWrapper(w)

		heavy := m.heavy[r.URL.Path] && m.sampler != nil
		var before core.MemorySnapshot
		if heavy {
			before = m.sampler.Sample()
		}

		defer func() {
			fields := append(
				logging.RequestFields(r.Method, r.URL.Path),
				logging.CorrelationID(correlationID),
				zap.String("client_ip", getClientIP(r)),
			)
			fields = append(fields, logging.CompletionFields(wrapped.statusCode, time.Since(start))...)

			if heavy {
				m.sampler.ClearCaches()
				after := m.sampler.Sample()
				fields = append(fields,
					logging.MemoryBefore(before),
					logging.MemoryAfter(after),
					logging.MemoryDelta(before, after),
				)
			}

			if wrapped.statusCode >= http.StatusInternalServerError {
				m.logger.Error("request failed", fields...)
			} else {
				m.logger.Info("request completed", fields...)
			}
		}()

		next.ServeHTTP(wrapped, r)
	})
}

// responseWriterWrapper captures the status code and bytes written so
// the deferred log sees the real outcome.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newResponseWriterWrapper(w http.ResponseWriter) *responseWriterWrapper {
	return &responseWriterWrapper{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Flush passes through so streaming responses keep working.
func (w *responseWriterWrapper) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// getClientIP resolves the client address, honoring proxy headers.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
