package analysis

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXClassifier runs a genre CNN exported to ONNX. The model takes a
// (1, size, size, 1) float32 tensor and returns (1, numClasses) softmax
// probabilities.
type ONNXClassifier struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	size       int
	numClasses int
}

// ortInitOnce ensures ONNX Runtime is initialized only once
var ortInitOnce sync.Once
var ortInitErr error

// initONNXRuntime loads the ONNX Runtime shared library for this process.
func initONNXRuntime() error {
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(getONNXLibPath())
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", ortInitErr)
	}
	return nil
}

// NewONNXClassifier loads the model at modelPath. Empty inputName or
// outputName fall back to the model's first input or output.
func NewONNXClassifier(modelPath, inputName, outputName string, size, numClasses int) (*ONNXClassifier, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("genre model not found at %s - run: app convert <model.keras> %s", modelPath, modelPath)
	}

	if err := initONNXRuntime(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}
	in, err := findIO(inputs, inputName, "input")
	if err != nil {
		return nil, err
	}
	out, err := findIO(outputs, outputName, "output")
	if err != nil {
		return nil, err
	}

	if err := checkDims(in.Dimensions, []int64{1, int64(size), int64(size), 1}); err != nil {
		return nil, fmt.Errorf("model input %q: %w", in.Name, err)
	}
	if err := checkDims(out.Dimensions, []int64{1, int64(numClasses)}); err != nil {
		return nil, fmt.Errorf("model output %q: %w", out.Name, err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{in.Name},
		[]string{out.Name},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model session: %w", err)
	}

	return &ONNXClassifier{
		session:    session,
		inputName:  in.Name,
		outputName: out.Name,
		size:       size,
		numClasses: numClasses,
	}, nil
}

// findIO returns the tensor named name, or the first tensor if name is empty.
func findIO(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model has no %ss", kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no %s named %q", kind, name)
}

// checkDims compares a model shape to want. Dynamic dimensions (<= 0) match
// anything.
func checkDims(got ort.Shape, want []int64) error {
	if len(got) != len(want) {
		return fmt.Errorf("shape %v, expected rank %d %v", got, len(want), want)
	}
	for i, d := range got {
		if d > 0 && d != want[i] {
			return fmt.Errorf("shape %v, expected %v", got, want)
		}
	}
	return nil
}

// getONNXLibPath returns the path to the ONNX Runtime shared library.
func getONNXLibPath() string {
	// Check environment variable first
	if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
		return path
	}

	// macOS: brew install onnxruntime
	// Linux: apt install libonnxruntime
	candidates := []string{
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"C:\\Program Files\\onnxruntime\\onnxruntime.dll",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Fallback - let the library try to find it
	return "onnxruntime"
}

// Close releases ONNX Runtime resources.
func (c *ONNXClassifier) Close() error {
	if c.session != nil {
		return c.session.Destroy()
	}
	return nil
}

// Predict runs the model on one normalized spectrogram.
func (c *ONNXClassifier) Predict(spec Spectrogram) ([]float64, error) {
	rows, cols := spec.Dims()
	if rows != c.size || cols != c.size {
		return nil, fmt.Errorf("spectrogram is %dx%d, model expects %dx%d", rows, cols, c.size, c.size)
	}

	inputShape := ort.NewShape(1, int64(c.size), int64(c.size), 1)
	inputTensor, err := ort.NewTensor(inputShape, spec.Float32())
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// nil output is allocated by the runtime
	outputs := []ort.Value{nil}
	if err := c.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("model inference failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("model output was nil")
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	data := outputTensor.GetData()
	if len(data) != c.numClasses {
		return nil, fmt.Errorf("model returned %d values, expected %d", len(data), c.numClasses)
	}

	probs := make([]float64, len(data))
	for i, v := range data {
		probs[i] = float64(v)
	}
	return probs, nil
}
