package webapi

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sd_backend/core"
	"sd_backend/diffusion"
	"sd_backend/logging"
	"sd_backend/shutdown"
)

// Sampling defaults per operation. Text-to-image uses more steps at a
// lower guidance; the image-conditioned operations trade steps for a
// stronger guidance and a near-total denoising strength.
const (
	defaultGenerateSteps    = 25
	defaultGenerateGuidance = 7.0
	defaultInpaintSteps     = 20
	defaultInpaintGuidance  = 8.0
	defaultInpaintStrength  = 0.99
	defaultSketchSteps      = 20
	defaultSketchGuidance   = 8.0
	defaultSketchStrength   = 0.75
)

// maxUploadBytes caps a single request body, uploads included.
const maxUploadBytes = 50 << 20

// multipartMemoryBytes is the in-memory threshold before multipart
// parts spill to disk.
const multipartMemoryBytes = 32 << 20

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{
		"message": "Stable Diffusion backend is running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	capabilities := s.gateway.Capabilities()
	models := make(map[string]string, len(capabilities))
	for capability, description := range s.gateway.Status() {
		models[string(capability)] = description
	}

	status := "ok"
	if len(capabilities) == 0 {
		status = "degraded"
	}

	names := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		names = append(names, string(c))
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"status":         status,
		"cuda_available": diffusion.CUDAAvailable(),
		"model_loaded":   s.gateway.Ready(diffusion.OpGenerate),
		"capabilities":   names,
		"models":         models,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"version":        s.config.Version,
	})
}

func (s *Server) handleGPUStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.sampler == nil {
		writeJSON(w, s.logger, http.StatusOK, map[string]any{
			"gpu_memory": gpuMemoryView{},
			"timestamp":  timestampNow(),
		})
		return
	}
	snapshot := s.sampler.Sample()
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"gpu_memory": newGPUMemoryView(snapshot),
		"snapshot":   snapshot,
		"timestamp":  timestampNow(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, s.logger, core.NewInvalidInput("limit must be a non-negative integer", err))
			return
		}
		limit = parsed
	}

	records := []core.GenerationRecord{}
	if s.history != nil {
		fetched, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("history query failed", zap.Error(err))
			writeError(w, s.logger, core.NewInferenceFailure("history unavailable", err))
			return
		}
		if fetched != nil {
			records = fetched
		}
	}

	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, s.logger, core.NewInvalidInput("malformed form body", err))
		return
	}

	prompt := r.FormValue("prompt")
	if err := diffusion.ValidatePrompt(prompt); err != nil {
		writeError(w, s.logger, core.NewInvalidInput(err.Error(), err))
		return
	}

	target := s.config.Family.TargetSize()
	req := diffusion.Request{
		Operation:      diffusion.OpGenerate,
		Prompt:         diffusion.ComposePrompt(diffusion.OpGenerate, prompt),
		NegativePrompt: diffusion.ComposeNegative(diffusion.OpGenerate, r.FormValue("negative_prompt")),
		Steps:          formInt(r, "num_inference_steps", defaultGenerateSteps),
		GuidanceScale:  formFloat(r, "guidance_scale", defaultGenerateGuidance),
		Width:          formInt(r, "width", target),
		Height:         formInt(r, "height", target),
		Seed:           formInt64(r, "seed", -1),
	}

	s.runGeneration(w, r, req)
}

func (s *Server) handleInpaint(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		writeError(w, s.logger, core.NewInvalidInput("expected multipart form with image and mask files", err))
		return
	}

	prompt := r.FormValue("prompt")
	if err := diffusion.ValidatePrompt(prompt); err != nil {
		writeError(w, s.logger, core.NewInvalidInput(err.Error(), err))
		return
	}

	img, err := s.readImageFile(r, "image")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	mask, err := s.readImageFile(r, "mask")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	target := s.config.Family.TargetSize()
	req := diffusion.Request{
		Operation:      diffusion.OpInpaint,
		Prompt:         diffusion.ComposePrompt(diffusion.OpInpaint, prompt),
		NegativePrompt: diffusion.ComposeNegative(diffusion.OpInpaint, r.FormValue("negative_prompt")),
		Image:          img,
		Mask:           mask,
		Steps:          formInt(r, "num_inference_steps", defaultInpaintSteps),
		GuidanceScale:  formFloat(r, "guidance_scale", defaultInpaintGuidance),
		Strength:       formFloat(r, "strength", defaultInpaintStrength),
		Width:          target,
		Height:         target,
		Seed:           formInt64(r, "seed", -1),
	}

	s.runGeneration(w, r, req)
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		writeError(w, s.logger, core.NewInvalidInput("expected multipart form with image and mask files", err))
		return
	}

	img, err := s.readImageFile(r, "image")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	mask, err := s.readImageFile(r, "mask")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	// background_prompt may be empty: erasure then relies on the bare
	// background-continuation suffix.
	target := s.config.Family.TargetSize()
	req := diffusion.Request{
		Operation:      diffusion.OpErase,
		Prompt:         diffusion.ComposePrompt(diffusion.OpErase, r.FormValue("background_prompt")),
		NegativePrompt: diffusion.ComposeNegative(diffusion.OpErase, r.FormValue("negative_prompt")),
		Image:          img,
		Mask:           mask,
		Steps:          formInt(r, "num_inference_steps", defaultInpaintSteps),
		GuidanceScale:  formFloat(r, "guidance_scale", defaultInpaintGuidance),
		Strength:       formFloat(r, "strength", defaultInpaintStrength),
		Width:          target,
		Height:         target,
		Seed:           formInt64(r, "seed", -1),
	}

	s.runGeneration(w, r, req)
}

func (s *Server) handleSketch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		writeError(w, s.logger, core.NewInvalidInput("expected multipart form with a sketch file", err))
		return
	}

	prompt := r.FormValue("prompt")
	if err := diffusion.ValidatePrompt(prompt); err != nil {
		writeError(w, s.logger, core.NewInvalidInput(err.Error(), err))
		return
	}

	// The sketch upload is spooled to a uuid-named temp file so partial
	// uploads never reach the pipeline; both it and the rendered output
	// are removed on every exit path.
	sketchPath, err := s.spoolSketchUpload(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer removeQuietly(s.logger, sketchPath)

	data, err := os.ReadFile(sketchPath)
	if err != nil {
		writeError(w, s.logger, core.NewInferenceFailure("sketch upload unreadable", err))
		return
	}
	img, err := diffusion.DecodeImage(data)
	if err != nil {
		writeError(w, s.logger, core.NewInvalidInput("sketch file is not a decodable image", err))
		return
	}

	target := s.config.Family.TargetSize()
	req := diffusion.Request{
		Operation:      diffusion.OpSketch,
		Prompt:         diffusion.ComposePrompt(diffusion.OpSketch, prompt),
		NegativePrompt: diffusion.ComposeNegative(diffusion.OpSketch, r.FormValue("negative_prompt")),
		Image:          img,
		Steps:          formInt(r, "num_inference_steps", defaultSketchSteps),
		GuidanceScale:  formFloat(r, "guidance_scale", defaultSketchGuidance),
		Strength:       formFloat(r, "strength", defaultSketchStrength),
		Width:          target,
		Height:         target,
		Seed:           formInt64(r, "seed", -1),
	}

	result, err := s.invokeAndRecord(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	outPath := filepath.Join(s.config.TempDir, "sketch_"+uuid.NewString()+"_out.png")
	if err := os.WriteFile(outPath, result.PNG, 0o644); err != nil {
		writeError(w, s.logger, core.NewInferenceFailure("result image could not be written", err))
		return
	}
	defer removeQuietly(s.logger, outPath)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="sketch_result.png"`)
	http.ServeFile(w, r, outPath)
}

// runGeneration invokes the pipeline and writes the standard JSON
// generation response.
func (s *Server) runGeneration(w http.ResponseWriter, r *http.Request, req diffusion.Request) {
	result, err := s.invokeAndRecord(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var memory gpuMemoryView
	if s.sampler != nil {
		memory = newGPUMemoryView(s.sampler.Sample())
	}

	writeJSON(w, s.logger, http.StatusOK, generationResponse{
		Success:     true,
		ResultImage: diffusion.Base64PNG(result.PNG),
		Prompt:      req.Prompt,
		Operation:   string(req.Operation),
		Parameters:  result.Parameters,
		GPUMemory:   memory,
		Timestamp:   timestampNow(),
	})
}

// invokeAndRecord runs one generation under shutdown tracking and
// pushes a history record for success and failure alike.
func (s *Server) invokeAndRecord(ctx context.Context, req diffusion.Request) (*diffusion.Result, error) {
	start := time.Now()

	var result *diffusion.Result
	err := s.guard.TrackOperation(ctx, string(req.Operation), func(ctx context.Context) error {
		var invokeErr error
		result, invokeErr = s.gateway.Invoke(ctx, req)
		return invokeErr
	})

	record := core.GenerationRecord{
		CorrelationID:  CorrelationIDFromContext(ctx),
		Operation:      string(req.Operation),
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Strength:       req.Strength,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
		DurationMS:     time.Since(start).Milliseconds(),
	}

	if err != nil {
		if errors.Is(err, shutdown.ErrTrackerClosed) {
			err = core.NewModelNotReady("server is shutting down")
		}
		record.Status = core.RecordStatusError
		record.ErrorMessage = detailForError(err)
		s.pushRecord(record)
		return nil, err
	}

	record.Status = core.RecordStatusSuccess
	record.Seed = result.Seed
	record.DurationMS = result.Duration.Milliseconds()
	s.pushRecord(record)
	return result, nil
}

func (s *Server) pushRecord(record core.GenerationRecord) {
	if s.recorder == nil {
		return
	}
	if !s.recorder.Record(record) {
		s.logger.Warn("history record dropped",
			zap.String("operation", record.Operation),
			logging.CorrelationID(record.CorrelationID))
	}
}

// readImageFile pulls one uploaded image out of the multipart form,
// enforcing an image/* content type before any decode work.
func (s *Server) readImageFile(r *http.Request, field string) (image.Image, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, core.NewInvalidInput(fmt.Sprintf("missing %q file field", field), err)
	}
	defer file.Close()

	if err := diffusion.ValidateImageContentType(header.Header.Get("Content-Type")); err != nil {
		return nil, core.NewInvalidInput(
			fmt.Sprintf("%q must be an image upload, got %q", field, header.Header.Get("Content-Type")), err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, core.NewInvalidInput(fmt.Sprintf("reading %q upload failed", field), err)
	}
	img, err := diffusion.DecodeImage(data)
	if err != nil {
		return nil, core.NewInvalidInput(fmt.Sprintf("%q is not a decodable image", field), err)
	}
	return img, nil
}

// spoolSketchUpload writes the sketch upload to a uuid-named temp file
// and returns its path. Callers own removal.
func (s *Server) spoolSketchUpload(r *http.Request) (string, error) {
	file, header, err := r.FormFile("sketch_file")
	if err != nil {
		return "", core.NewInvalidInput(`missing "sketch_file" file field`, err)
	}
	defer file.Close()

	if err := diffusion.ValidateImageContentType(header.Header.Get("Content-Type")); err != nil {
		return "", core.NewInvalidInput(
			fmt.Sprintf("sketch upload must be an image, got %q", header.Header.Get("Content-Type")), err)
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".png"
	}
	path := filepath.Join(s.config.TempDir, "sketch_"+uuid.NewString()+ext)

	out, err := os.Create(path)
	if err != nil {
		return "", core.NewInferenceFailure("temp file creation failed", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", core.NewInferenceFailure("spooling sketch upload failed", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", core.NewInferenceFailure("spooling sketch upload failed", err)
	}
	return path, nil
}

func removeQuietly(logger *zap.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("temp file removal failed",
			zap.String("path", path),
			zap.Error(err))
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func formInt(r *http.Request, field string, defaultValue int) int {
	raw := r.FormValue(field)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func formInt64(r *http.Request, field string, defaultValue int64) int64 {
	raw := r.FormValue(field)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func formFloat(r *http.Request, field string, defaultValue float64) float64 {
	raw := r.FormValue(field)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultValue
	}
	return v
}
