package webapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"sd_backend/core"
	"sd_backend/diffusion"
)

// stubGateway fabricates results without touching a model. It echoes
// the request parameters back so response assertions can check
// defaulting behavior.
type stubGateway struct {
	err          error
	calls        int
	lastRequest  diffusion.Request
	capabilities []diffusion.Capability
}

func (g *stubGateway) Invoke(_ context.Context, req diffusion.Request) (*diffusion.Result, error) {
	g.calls++
	g.lastRequest = req
	if g.err != nil {
		return nil, g.err
	}
	img := image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))
	data, err := diffusion.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return &diffusion.Result{
		PNG:      data,
		Width:    req.Width,
		Height:   req.Height,
		Seed:     1234,
		Duration: 50 * time.Millisecond,
		Parameters: diffusion.Parameters{
			NumInferenceSteps: req.Steps,
			GuidanceScale:     req.GuidanceScale,
			Strength:          req.Strength,
			Width:             req.Width,
			Height:            req.Height,
			Seed:              1234,
		},
	}, nil
}

func (g *stubGateway) Ready(op diffusion.Operation) bool {
	for _, c := range g.capabilities {
		if c == op.Capability() {
			return true
		}
	}
	return false
}

func (g *stubGateway) Capabilities() []diffusion.Capability {
	return g.capabilities
}

func (g *stubGateway) Status() map[diffusion.Capability]string {
	out := make(map[diffusion.Capability]string, len(g.capabilities))
	for _, c := range g.capabilities {
		out[c] = "stub"
	}
	return out
}

type captureRecorder struct {
	records []core.GenerationRecord
}

func (c *captureRecorder) Record(record core.GenerationRecord) bool {
	c.records = append(c.records, record)
	return true
}

func newTestServer(t *testing.T, gateway *stubGateway, mutate func(*ServerConfig)) (*Server, *captureRecorder) {
	t.Helper()
	config := DefaultServerConfig()
	config.TempDir = t.TempDir()
	if mutate != nil {
		mutate(&config)
	}
	recorder := &captureRecorder{}
	server, err := NewServer(config, gateway, nil, nil, recorder, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return server, recorder
}

func allCapabilities() []diffusion.Capability {
	return []diffusion.Capability{
		diffusion.CapabilityTextToImage,
		diffusion.CapabilityInpaint,
		diffusion.CapabilityImg2Img,
	}
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	data, err := diffusion.EncodePNG(image.NewRGBA(image.Rect(0, 0, width, height)))
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}
	return data
}

// multipartBody builds a multipart form with the given text fields and
// file parts. Each filePart carries an explicit content type.
type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files []filePart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("WriteField(%q) error = %v", name, err)
		}
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			`form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		header.Set("Content-Type", f.contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart(%q) error = %v", f.field, err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("writing part %q: %v", f.field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func doRequest(server *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGenerateDefaults(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, recorder := newTestServer(t, gateway, nil)

	form := url.Values{"prompt": {"a red fox in the snow"}}
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := doRequest(server, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp generationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if resp.Parameters.NumInferenceSteps != 25 {
		t.Errorf("NumInferenceSteps = %d, want 25", resp.Parameters.NumInferenceSteps)
	}
	if resp.Parameters.GuidanceScale != 7.0 {
		t.Errorf("GuidanceScale = %v, want 7.0", resp.Parameters.GuidanceScale)
	}
	if gateway.lastRequest.Width != 1024 || gateway.lastRequest.Height != 1024 {
		t.Errorf("dimensions = %dx%d, want 1024x1024",
			gateway.lastRequest.Width, gateway.lastRequest.Height)
	}

	wantPrompt := "a red fox in the snow, highly detailed, sharp focus, professional photography, 8k"
	if resp.Prompt != wantPrompt {
		t.Errorf("Prompt = %q, want %q", resp.Prompt, wantPrompt)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.ResultImage)
	if err != nil {
		t.Fatalf("result image is not valid base64: %v", err)
	}
	decoded, err := diffusion.DecodeImage(raw)
	if err != nil {
		t.Fatalf("result image is not a decodable PNG: %v", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() != 1024 || bounds.Dy() != 1024 {
		t.Errorf("decoded size = %dx%d, want 1024x1024", bounds.Dx(), bounds.Dy())
	}

	if len(recorder.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(recorder.records))
	}
	if recorder.records[0].Status != core.RecordStatusSuccess {
		t.Errorf("record status = %q, want success", recorder.records[0].Status)
	}
}

func TestGenerateMissingPrompt(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := doRequest(server, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if gateway.calls != 0 {
		t.Errorf("gateway called %d times, want 0", gateway.calls)
	}
}

func TestInpaintRejectsNonImageUpload(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	body, contentType := multipartBody(t,
		map[string]string{"prompt": "replace with a cat"},
		[]filePart{
			{field: "image", filename: "doc.txt", contentType: "text/plain", data: []byte("not an image")},
			{field: "mask", filename: "mask.png", contentType: "image/png", data: pngBytes(t, 8, 8)},
		})
	req := httptest.NewRequest(http.MethodPost, "/inpaint", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(server, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if gateway.calls != 0 {
		t.Errorf("gateway called %d times, want 0", gateway.calls)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if resp.Success {
		t.Error("Success = true in error response")
	}
	if resp.Detail == "" {
		t.Error("Detail is empty")
	}
}

func TestInpaintSuccess(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	body, contentType := multipartBody(t,
		map[string]string{"prompt": "replace with a cat"},
		[]filePart{
			{field: "image", filename: "image.png", contentType: "image/png", data: pngBytes(t, 16, 16)},
			{field: "mask", filename: "mask.png", contentType: "image/png", data: pngBytes(t, 16, 16)},
		})
	req := httptest.NewRequest(http.MethodPost, "/inpaint", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(server, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if gateway.lastRequest.Operation != diffusion.OpInpaint {
		t.Errorf("operation = %q, want inpaint", gateway.lastRequest.Operation)
	}
	if gateway.lastRequest.Steps != 20 {
		t.Errorf("steps = %d, want 20", gateway.lastRequest.Steps)
	}
	if gateway.lastRequest.GuidanceScale != 8.0 {
		t.Errorf("guidance = %v, want 8.0", gateway.lastRequest.GuidanceScale)
	}
	if gateway.lastRequest.Strength != 0.99 {
		t.Errorf("strength = %v, want 0.99", gateway.lastRequest.Strength)
	}
	wantNegative := "blurry, low quality, distorted, artifacts, bad anatomy"
	if gateway.lastRequest.NegativePrompt != wantNegative {
		t.Errorf("negative = %q, want %q", gateway.lastRequest.NegativePrompt, wantNegative)
	}
}

func TestEraseUsesBackgroundPrompt(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	body, contentType := multipartBody(t, nil,
		[]filePart{
			{field: "image", filename: "image.png", contentType: "image/png", data: pngBytes(t, 16, 16)},
			{field: "mask", filename: "mask.png", contentType: "image/png", data: pngBytes(t, 16, 16)},
		})
	req := httptest.NewRequest(http.MethodPost, "/erase", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(server, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gateway.lastRequest.Operation != diffusion.OpErase {
		t.Errorf("operation = %q, want erase", gateway.lastRequest.Operation)
	}
	// Empty background prompt leaves just the continuation suffix.
	want := "clean background, natural continuation of surroundings, photorealistic"
	if gateway.lastRequest.Prompt != want {
		t.Errorf("prompt = %q, want %q", gateway.lastRequest.Prompt, want)
	}
}

func TestModelNotReadySurfacesAsServerError(t *testing.T) {
	gateway := &stubGateway{
		capabilities: allCapabilities(),
		err:          core.NewModelNotReady("model for text-to-image is not loaded"),
	}
	server, recorder := newTestServer(t, gateway, nil)

	form := url.Values{"prompt": {"anything"}}
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := doRequest(server, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if len(recorder.records) != 1 || recorder.records[0].Status != core.RecordStatusError {
		t.Errorf("expected one error history record, got %+v", recorder.records)
	}
}

func TestInferenceFailureDetailKeepsCause(t *testing.T) {
	gateway := &stubGateway{
		capabilities: allCapabilities(),
		err: core.NewInferenceFailure("generation failed",
			errors.New("device out of memory at step 7")),
	}
	server, recorder := newTestServer(t, gateway, nil)

	form := url.Values{"prompt": {"anything"}}
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := doRequest(server, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if !strings.Contains(resp.Detail, "generation failed") {
		t.Errorf("Detail = %q, missing classification message", resp.Detail)
	}
	if !strings.Contains(resp.Detail, "device out of memory at step 7") {
		t.Errorf("Detail = %q, missing the underlying failure text", resp.Detail)
	}
	if last := recorder.records[len(recorder.records)-1]; !strings.Contains(last.ErrorMessage, "device out of memory at step 7") {
		t.Errorf("record ErrorMessage = %q, missing the underlying failure text", last.ErrorMessage)
	}
}

func TestSketchRemovesTempFiles(t *testing.T) {
	tempFilesIn := func(dir string) []string {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir(%q): %v", dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names
	}

	t.Run("success path", func(t *testing.T) {
		gateway := &stubGateway{capabilities: allCapabilities()}
		server, _ := newTestServer(t, gateway, nil)

		body, contentType := multipartBody(t,
			map[string]string{"prompt": "turn this into a landscape"},
			[]filePart{
				{field: "sketch_file", filename: "sketch.png", contentType: "image/png", data: pngBytes(t, 16, 16)},
			})
		req := httptest.NewRequest(http.MethodPost, "/sketch", body)
		req.Header.Set("Content-Type", contentType)

		rec := doRequest(server, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("Content-Type"); got != "image/png" {
			t.Errorf("Content-Type = %q, want image/png", got)
		}
		if _, err := diffusion.DecodeImage(rec.Body.Bytes()); err != nil {
			t.Errorf("response body is not a decodable image: %v", err)
		}
		if leftover := tempFilesIn(server.config.TempDir); len(leftover) != 0 {
			t.Errorf("temp files left behind: %v", leftover)
		}
	})

	t.Run("failure path", func(t *testing.T) {
		gateway := &stubGateway{
			capabilities: allCapabilities(),
			err:          core.NewInferenceFailure("generation failed", nil),
		}
		server, _ := newTestServer(t, gateway, nil)

		body, contentType := multipartBody(t,
			map[string]string{"prompt": "turn this into a landscape"},
			[]filePart{
				{field: "sketch_file", filename: "sketch.png", contentType: "image/png", data: pngBytes(t, 16, 16)},
			})
		req := httptest.NewRequest(http.MethodPost, "/sketch", body)
		req.Header.Set("Content-Type", contentType)

		rec := doRequest(server, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if leftover := tempFilesIn(server.config.TempDir); len(leftover) != 0 {
			t.Errorf("temp files left behind: %v", leftover)
		}
	})
}

func TestHealthReportsDegradedWithoutModels(t *testing.T) {
	gateway := &stubGateway{}
	server, _ := newTestServer(t, gateway, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := doRequest(server, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	if loaded, _ := resp["model_loaded"].(bool); loaded {
		t.Error("model_loaded = true, want false")
	}
}

func TestHealthReportsLoadedModels(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if loaded, _ := resp["model_loaded"].(bool); !loaded {
		t.Error("model_loaded = false, want true")
	}
}

func TestRootMessage(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "running") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGenerateRejectsGet(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, _ := newTestServer(t, gateway, nil)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/generate", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	server, recorder := newTestServer(t, gateway, nil)

	t.Run("minted when absent", func(t *testing.T) {
		rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Header().Get(CorrelationIDHeader) == "" {
			t.Error("no correlation id header on response")
		}
	})

	t.Run("echoed and recorded when present", func(t *testing.T) {
		form := url.Values{"prompt": {"a lighthouse"}}
		req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(CorrelationIDHeader, "req-abc-123")

		rec := doRequest(server, req)
		if got := rec.Header().Get(CorrelationIDHeader); got != "req-abc-123" {
			t.Errorf("correlation header = %q, want req-abc-123", got)
		}
		last := recorder.records[len(recorder.records)-1]
		if last.CorrelationID != "req-abc-123" {
			t.Errorf("record correlation id = %q, want req-abc-123", last.CorrelationID)
		}
	})
}

type stubHistory struct {
	records []core.GenerationRecord
	limit   int
}

func (h *stubHistory) Recent(_ context.Context, limit int) ([]core.GenerationRecord, error) {
	h.limit = limit
	return h.records, nil
}

func TestHistoryEndpoint(t *testing.T) {
	gateway := &stubGateway{capabilities: allCapabilities()}
	historyReader := &stubHistory{records: []core.GenerationRecord{
		{ID: 2, Operation: "generate", Status: core.RecordStatusSuccess},
		{ID: 1, Operation: "inpaint", Status: core.RecordStatusError},
	}}

	config := DefaultServerConfig()
	config.TempDir = t.TempDir()
	server, err := NewServer(config, gateway, nil, historyReader, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/history?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if historyReader.limit != 5 {
		t.Errorf("limit passed = %d, want 5", historyReader.limit)
	}

	var resp struct {
		Success bool                    `json:"success"`
		Count   int                     `json:"count"`
		Records []core.GenerationRecord `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 2 || len(resp.Records) != 2 {
		t.Errorf("count = %d, records = %d, want 2 and 2", resp.Count, len(resp.Records))
	}

	rec = doRequest(server, httptest.NewRequest(http.MethodGet, "/history?limit=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus limit: status = %d, want 400", rec.Code)
	}
}
