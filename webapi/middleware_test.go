package webapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"sd_backend/core"
)

type stubSampler struct {
	samples int
	clears  int
}

func (s *stubSampler) Sample() core.MemorySnapshot {
	s.samples++
	return core.MemorySnapshot{}
}

func (s *stubSampler) ClearCaches() {
	s.clears++
}

func TestLifecycleHeavyPathSamplesAndClears(t *testing.T) {
	sampler := &stubSampler{}
	mw := NewLifecycleMiddleware(LifecycleConfig{
		HeavyPaths: []string{"/generate"},
	}, sampler, zap.NewNop())

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/generate", nil))
	if sampler.samples != 2 {
		t.Errorf("samples = %d, want 2 (before and after)", sampler.samples)
	}
	if sampler.clears != 1 {
		t.Errorf("clears = %d, want 1", sampler.clears)
	}

	// A non-heavy path touches neither.
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if sampler.samples != 2 || sampler.clears != 1 {
		t.Errorf("non-heavy path touched the sampler: samples=%d clears=%d",
			sampler.samples, sampler.clears)
	}
}

func TestLifecycleClearsCachesOnPanicFreeFailure(t *testing.T) {
	sampler := &stubSampler{}
	mw := NewLifecycleMiddleware(LifecycleConfig{
		HeavyPaths: []string{"/generate"},
	}, sampler, zap.NewNop())

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if sampler.clears != 1 {
		t.Errorf("clears = %d, want 1 on the failure path too", sampler.clears)
	}
}

func TestResponseWriterWrapper(t *testing.T) {
	t.Run("default status is 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		w := newResponseWriterWrapper(rec)
		w.Write([]byte("ok"))
		if w.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want 200", w.statusCode)
		}
		if w.bytesWritten != 2 {
			t.Errorf("bytesWritten = %d, want 2", w.bytesWritten)
		}
	})

	t.Run("first WriteHeader wins", func(t *testing.T) {
		rec := httptest.NewRecorder()
		w := newResponseWriterWrapper(rec)
		w.WriteHeader(http.StatusBadRequest)
		w.WriteHeader(http.StatusOK)
		if w.statusCode != http.StatusBadRequest {
			t.Errorf("statusCode = %d, want 400", w.statusCode)
		}
	})
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "x-forwarded-for first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			remote:  "10.0.0.2:1234",
			want:    "203.0.113.7",
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			remote:  "10.0.0.2:1234",
			want:    "203.0.113.9",
		},
		{
			name:   "remote addr fallback",
			remote: "192.0.2.4:5678",
			want:   "192.0.2.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
