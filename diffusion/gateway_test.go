package diffusion

import (
	"context"
	"errors"
	"image"
	"testing"

	"sd_backend/core"
)

// mockPipeline records invocations and returns a canned result or error.
type mockPipeline struct {
	capability Capability
	size       int
	result     *Result
	err        error
	invoked    int
	lastReq    Request
	closed     bool
	closeErr   error
}

func (m *mockPipeline) Capability() Capability { return m.capability }
func (m *mockPipeline) TargetSize() int        { return m.size }
func (m *mockPipeline) Describe() string       { return "mock/" + string(m.capability) }
func (m *mockPipeline) Close() error {
	m.closed = true
	return m.closeErr
}

func (m *mockPipeline) Invoke(_ context.Context, req Request) (*Result, error) {
	m.invoked++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func newMockPipeline(capability Capability) *mockPipeline {
	return &mockPipeline{
		capability: capability,
		size:       1024,
		result:     &Result{PNG: []byte("png"), Width: 1024, Height: 1024, Seed: 7},
	}
}

func TestGatewayInvoke_RoutesByCapability(t *testing.T) {
	text := newMockPipeline(CapabilityTextToImage)
	paint := newMockPipeline(CapabilityInpaint)
	gw := NewGateway([]Pipeline{text, paint}, nil)

	req := validGenerateRequest()
	if _, err := gw.Invoke(context.Background(), req); err != nil {
		t.Fatalf("expected generate to succeed, got: %v", err)
	}
	if text.invoked != 1 || paint.invoked != 0 {
		t.Errorf("generate routed wrong: text=%d paint=%d", text.invoked, paint.invoked)
	}

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	req = validGenerateRequest()
	req.Operation = OpErase
	req.Strength = 0.99
	req.Image = img
	req.Mask = img
	if _, err := gw.Invoke(context.Background(), req); err != nil {
		t.Fatalf("expected erase to succeed, got: %v", err)
	}
	if paint.invoked != 1 {
		t.Error("erase must route to the inpaint pipeline")
	}
}

func TestGatewayInvoke_MissingCapability(t *testing.T) {
	gw := NewGateway(nil, nil)

	_, err := gw.Invoke(context.Background(), validGenerateRequest())
	if err == nil {
		t.Fatal("expected error for missing capability")
	}
	if core.KindOf(err) != core.KindModelNotReady {
		t.Errorf("expected KindModelNotReady, got: %v", core.KindOf(err))
	}
}

func TestGatewayInvoke_ValidationRejected(t *testing.T) {
	text := newMockPipeline(CapabilityTextToImage)
	gw := NewGateway([]Pipeline{text}, nil)

	req := validGenerateRequest()
	req.Prompt = ""
	_, err := gw.Invoke(context.Background(), req)
	if core.KindOf(err) != core.KindInvalidInput {
		t.Errorf("expected KindInvalidInput, got: %v", core.KindOf(err))
	}
	if text.invoked != 0 {
		t.Error("invalid request must not reach the pipeline")
	}
}

func TestGatewayInvoke_ClassifiesPipelineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.ErrorKind
	}{
		{"generation failure", ErrGenerationFailed, core.KindInferenceFailure},
		{"out of vram", ErrOutOfVRAM, core.KindInferenceFailure},
		{"closed pipeline", ErrPipelineClosed, core.KindModelNotReady},
		{"arbitrary error", errors.New("cuda exploded"), core.KindInferenceFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := newMockPipeline(CapabilityTextToImage)
			text.err = tt.err
			gw := NewGateway([]Pipeline{text}, nil)

			_, err := gw.Invoke(context.Background(), validGenerateRequest())
			if core.KindOf(err) != tt.want {
				t.Errorf("got kind %v, want %v", core.KindOf(err), tt.want)
			}
		})
	}
}

func TestGatewayReadyAndCapabilities(t *testing.T) {
	gw := NewGateway([]Pipeline{
		newMockPipeline(CapabilityInpaint),
		newMockPipeline(CapabilityImg2Img),
	}, nil)

	if gw.Ready(OpGenerate) {
		t.Error("generate should not be ready without a text-to-image pipeline")
	}
	for _, op := range []Operation{OpInpaint, OpErase, OpSketch} {
		if !gw.Ready(op) {
			t.Errorf("%s should be ready", op)
		}
	}

	caps := gw.Capabilities()
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(caps))
	}
	if caps[0] != CapabilityImg2Img || caps[1] != CapabilityInpaint {
		t.Errorf("capabilities not in stable order: %v", caps)
	}

	status := gw.Status()
	if status[CapabilityInpaint] != "mock/inpaint" {
		t.Errorf("unexpected status entry: %v", status)
	}
}

func TestGatewayClose(t *testing.T) {
	text := newMockPipeline(CapabilityTextToImage)
	paint := newMockPipeline(CapabilityInpaint)
	paint.closeErr = errors.New("free failed")
	gw := NewGateway([]Pipeline{text, paint}, nil)

	err := gw.Close()
	if !text.closed || !paint.closed {
		t.Error("Close must reach every pipeline")
	}
	if err == nil {
		t.Error("Close must surface pipeline close errors")
	}
}
