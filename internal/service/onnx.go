package service

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/pneumonia-screening-server/internal/domain"
)

// onnxRunner executes the serialized network through ONNX Runtime. The
// session is created once; Run builds per-call tensors, so concurrent calls
// share no mutable state.
type onnxRunner struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	channels   int
	edge       int
}

func newONNXRunner(cfg domain.ModelConfig, edge int, logger *logrus.Logger) (*onnxRunner, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: model path not configured", domain.ErrModelUnavailable)
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: initializing onnxruntime: %v", domain.ErrModelUnavailable, err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading model metadata: %v", domain.ErrModelUnavailable, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("%w: model must expose one input and one output, got %d/%d",
			domain.ErrModelUnavailable, len(inputs), len(outputs))
	}

	channels, err := validateInputShape(inputs[0].Dimensions, edge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	if err := validateOutputShape(outputs[0].Dimensions); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating session: %v", domain.ErrModelUnavailable, err)
	}

	logger.WithFields(logrus.Fields{
		"model":    cfg.Path,
		"input":    inputs[0].Name,
		"output":   outputs[0].Name,
		"channels": channels,
		"edge":     edge,
	}).Info("ONNX model loaded")

	return &onnxRunner{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		channels:   channels,
		edge:       edge,
	}, nil
}

// validateInputShape checks the batch×channel×edge×edge contract and
// returns the channel count. A dynamic (-1) batch dimension is accepted.
func validateInputShape(dims ort.Shape, edge int) (int, error) {
	if len(dims) != 4 {
		return 0, fmt.Errorf("input tensor rank %d, want 4 (batch, channel, height, width)", len(dims))
	}
	if dims[0] != 1 && dims[0] != -1 {
		return 0, fmt.Errorf("input batch dimension %d, want 1", dims[0])
	}
	if dims[1] != 1 && dims[1] != 3 {
		return 0, fmt.Errorf("input channel dimension %d, want 1 or 3", dims[1])
	}
	if dims[2] != int64(edge) || dims[3] != int64(edge) {
		return 0, fmt.Errorf("input spatial dimensions %dx%d, want %dx%d", dims[2], dims[3], edge, edge)
	}
	return int(dims[1]), nil
}

func validateOutputShape(dims ort.Shape) error {
	elements := int64(1)
	for _, d := range dims {
		if d == -1 {
			continue
		}
		elements *= d
	}
	if elements != 2 {
		return fmt.Errorf("output tensor has %d elements, want 2 (normal, pneumonia)", elements)
	}
	return nil
}

// Run tiles the grayscale plane across the model's channel count, executes
// the forward pass and returns the raw scores. Latency covers session.Run
// only, excluding tensor construction.
func (r *onnxRunner) Run(plane []float32) ([]float32, time.Duration, error) {
	if len(plane) != r.edge*r.edge {
		return nil, 0, fmt.Errorf("tensor plane has %d values, want %d", len(plane), r.edge*r.edge)
	}

	data := make([]float32, r.channels*len(plane))
	for c := 0; c < r.channels; c++ {
		copy(data[c*len(plane):(c+1)*len(plane)], plane)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(r.channels), int64(r.edge), int64(r.edge)), data)
	if err != nil {
		return nil, 0, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	start := time.Now()
	err = r.session.Run([]ort.Value{input}, outputs)
	latency := time.Since(start)
	if err != nil {
		return nil, 0, fmt.Errorf("onnxruntime run: %w", err)
	}

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	defer out.Destroy()

	raw := make([]float32, len(out.GetData()))
	copy(raw, out.GetData())
	return raw, latency, nil
}

func (r *onnxRunner) Close() error {
	return r.session.Destroy()
}
