package detector

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/endzone/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// Config holds the ONNX detector settings.
type Config struct {
	ModelPath     string
	LibraryPath   string
	InputSize     int
	MinConfidence float64
	// TargetClass restricts decoding to one label; empty keeps all classes.
	TargetClass  string
	ClassNames   []string
	NMSThreshold float64
	NumThreads   int
	GPU          onnx.GPUConfig
}

// DefaultConfig returns a person detector at 640x640.
func DefaultConfig() Config {
	return Config{
		InputSize:     640,
		MinConfidence: 0.35,
		TargetClass:   PersonClass,
		ClassNames:    DefaultClassNames,
		NMSThreshold:  DefaultNMSThreshold,
	}
}

// YOLODetector runs a YOLOv8/v9 style ONNX export. A detector owns one
// session and is meant to be used by a single worker.
type YOLODetector struct {
	config     Config
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	classID    int
	// fixedBatch is the model's static batch dimension, 0 when dynamic.
	fixedBatch int
	mu         sync.Mutex
}

// NewYOLODetector loads the model and creates an inference session.
func NewYOLODetector(config Config) (*YOLODetector, error) {
	if config.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if config.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", config.InputSize)
	}
	if len(config.ClassNames) == 0 {
		config.ClassNames = DefaultClassNames
	}

	classID := -1
	if config.TargetClass != "" {
		classID = ClassIndex(config.ClassNames, config.TargetClass)
		if classID < 0 {
			return nil, fmt.Errorf("target class %q not in class names", config.TargetClass)
		}
	}

	if err := onnx.InitRuntime(config.LibraryPath, config.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := modelInfo(config.ModelPath)
	if err != nil {
		return nil, err
	}

	session, err := createSession(config, inputInfo, outputInfo)
	if err != nil {
		return nil, err
	}

	d := &YOLODetector{
		config:     config,
		session:    session,
		inputInfo:  inputInfo,
		outputInfo: outputInfo,
		classID:    classID,
	}
	if n := inputInfo.Dimensions[0]; n > 0 {
		d.fixedBatch = int(n)
	}

	slog.Debug("Detector initialized",
		"model_path", config.ModelPath,
		"input_size", config.InputSize,
		"target_class", config.TargetClass,
		"fixed_batch", d.fixedBatch,
		"gpu_enabled", config.GPU.UseGPU)
	return d, nil
}

func modelInfo(path string) (onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(path)
	if err != nil {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("expected 1 input and at least 1 output, got %d/%d", len(inputs), len(outputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	return inputs[0], outputs[0], nil
}

func createSession(config Config, in, out onnxruntime_go.InputOutputInfo) (*onnxruntime_go.DynamicAdvancedSession, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(opts, config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if config.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{in.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// Detect runs inference on one image.
func (d *YOLODetector) Detect(img image.Image) ([]Detection, error) {
	res, err := d.DetectBatch([]image.Image{img})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// DetectBatch runs inference on several images, splitting the batch when
// the model has a static batch size.
func (d *YOLODetector) DetectBatch(imgs []image.Image) ([][]Detection, error) {
	if len(imgs) == 0 {
		return nil, nil
	}
	step := len(imgs)
	if d.fixedBatch > 0 {
		step = d.fixedBatch
	}
	out := make([][]Detection, 0, len(imgs))
	for start := 0; start < len(imgs); start += step {
		chunk := imgs[start:min(start+step, len(imgs))]
		res, err := d.run(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (d *YOLODetector) run(imgs []image.Image) ([][]Detection, error) {
	bt, err := onnx.NewBatchTensor(imgs, d.config.InputSize)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare input: %w", err)
	}
	defer bt.Release()

	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(bt.Shape...), bt.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("failed to destroy input tensor", "error", err)
		}
	}()

	d.mu.Lock()
	session := d.session
	if session == nil {
		d.mu.Unlock()
		return nil, errors.New("detector session is closed")
	}
	outputs := []onnxruntime_go.Value{nil}
	err = session.Run([]onnxruntime_go.Value{input}, outputs)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("failed to destroy output tensor", "error", err)
		}
	}()

	tensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}
	opts := DecodeOptions{
		MinConfidence: d.config.MinConfidence,
		ClassID:       d.classID,
		ClassNames:    d.config.ClassNames,
		NMSThreshold:  d.config.NMSThreshold,
	}
	return decodeBatch(tensor.GetData(), tensor.GetShape(), imgs, bt.Letterboxes, opts)
}

// decodeBatch splits a batched output of shape [batch, attrs, anchors] or
// [batch, anchors, attrs] per image and decodes each slice. The smaller of
// the two trailing dimensions is taken as the attribute axis.
func decodeBatch(data []float32, shape []int64, imgs []image.Image, lbs []onnx.Letterbox, opts DecodeOptions) ([][]Detection, error) {
	if len(shape) != 3 || int(shape[0]) != len(imgs) || len(lbs) != len(imgs) {
		return nil, fmt.Errorf("unexpected output shape %v for batch of %d", shape, len(imgs))
	}

	attrs, anchors := int(shape[1]), int(shape[2])
	channelsFirst := true
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		channelsFirst = false
	}
	per := attrs * anchors
	if len(data) < per*len(imgs) {
		return nil, fmt.Errorf("output has %d values, want %d", len(data), per*len(imgs))
	}

	results := make([][]Detection, len(imgs))
	for i, img := range imgs {
		b := img.Bounds()
		dets, err := DecodeYOLO(data[i*per:(i+1)*per], attrs, anchors, channelsFirst,
			lbs[i], b.Dx(), b.Dy(), opts)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		results[i] = dets
	}
	return results, nil
}

// Close releases the session. The ONNX environment stays initialized for
// other detectors.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy detector session: %w", err)
	}
	return nil
}
