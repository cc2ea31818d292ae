package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/pneumonia-screening-server/internal/domain"
	"github.com/pneumonia-screening-server/pkg/imaging"
)

// forwardRunner executes one synchronous forward pass over a grayscale
// tensor plane. Implementations must be safe for concurrent use.
type forwardRunner interface {
	// Run returns the raw (pre-sigmoid) class scores and the wall-clock
	// duration of the forward pass only.
	Run(plane []float32) (raw []float32, latency time.Duration, err error)
	Close() error
}

// InferenceEngine owns the loaded model for the lifetime of the process.
// It is stateless per call once constructed: the model weights are the only
// shared resource and are read-only, so concurrent Classify calls need no
// coordination. Deterministic results are cached by input digest.
type InferenceEngine struct {
	runner forwardRunner
	edge   int
	cache  *lru.Cache[string, domain.InferenceResult]
	log    *logrus.Logger
}

// NewInferenceEngine wraps a forward runner. Construction is the only place
// model availability is checked; per-request retries cannot fix a missing
// artifact.
func NewInferenceEngine(runner forwardRunner, edge, cacheEntries int, logger *logrus.Logger) (*InferenceEngine, error) {
	if edge <= 0 {
		edge = imaging.DefaultEdge
	}
	if cacheEntries <= 0 {
		cacheEntries = 128
	}
	cache, err := lru.New[string, domain.InferenceResult](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("creating inference cache: %w", err)
	}
	return &InferenceEngine{
		runner: runner,
		edge:   edge,
		cache:  cache,
		log:    logger,
	}, nil
}

// NewONNXInferenceEngine loads the ONNX artifact once and validates its
// tensor contract.
func NewONNXInferenceEngine(cfg domain.ModelConfig, cacheEntries int, logger *logrus.Logger) (*InferenceEngine, error) {
	edge := cfg.InputEdge
	if edge <= 0 {
		edge = imaging.DefaultEdge
	}
	runner, err := newONNXRunner(cfg, edge, logger)
	if err != nil {
		return nil, err
	}
	return NewInferenceEngine(runner, edge, cacheEntries, logger)
}

// Classify preprocesses the bitmap and runs a single forward pass, returning
// the predicted label, the per-class sigmoid confidences (order: normal,
// pneumonia) and the forward-pass latency in milliseconds.
func (e *InferenceEngine) Classify(ctx context.Context, img image.Image) (*domain.InferenceResult, error) {
	plane, err := imaging.TensorPlane(img, e.edge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest := planeDigest(plane)
	if cached, ok := e.cache.Get(digest); ok {
		e.log.WithFields(logrus.Fields{
			"digest": digest,
			"label":  cached.Label,
		}).Debug("Inference cache hit")
		result := cached
		return &result, nil
	}

	raw, latency, err := e.runner.Run(plane)
	if err != nil {
		return nil, fmt.Errorf("running forward pass: %w", err)
	}
	if len(raw) != len(domain.ClassLabels) {
		return nil, fmt.Errorf("%w: model produced %d scores, want %d",
			domain.ErrModelUnavailable, len(raw), len(domain.ClassLabels))
	}

	// Per-class sigmoid head: confidences need not sum to 1 and are
	// reported as-is. The label decision stays on the raw scores.
	confidences := [2]float32{sigmoid(raw[0]), sigmoid(raw[1])}
	argmax := 0
	if raw[1] > raw[0] {
		argmax = 1
	}

	result := domain.InferenceResult{
		Label:       domain.ClassLabels[argmax],
		Confidences: confidences,
		LatencyMS:   float64(latency) / float64(time.Millisecond),
	}
	e.cache.Add(digest, result)

	e.log.WithFields(logrus.Fields{
		"label":      result.Label,
		"normal":     confidences[0],
		"pneumonia":  confidences[1],
		"latency_ms": result.LatencyMS,
	}).Info("Image classified")

	return &result, nil
}

// Close releases the loaded model.
func (e *InferenceEngine) Close() error {
	return e.runner.Close()
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

func planeDigest(plane []float32) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, v := range plane {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
