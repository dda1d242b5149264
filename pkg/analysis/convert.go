package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ModelInfo describes the tensors of an exported ONNX model.
type ModelInfo struct {
	Inputs       map[string][]any `json:"inputs"`
	Outputs      map[string][]any `json:"outputs"`
	OutputShapes [][]int          `json:"output_shapes"`
}

// ConvertKerasToONNX converts a trained Keras genre model (.keras or .h5) to
// ONNX so it can be served by ONNXClassifier.
func ConvertKerasToONNX(ctx context.Context, kerasPath, outputPath string, size, opset int) error {
	if _, err := os.Stat(kerasPath); err != nil {
		return fmt.Errorf("keras model: %w", err)
	}
	if opset < 13 {
		opset = 13
	}

	script := fmt.Sprintf(`
import os
os.environ['TF_CPP_MIN_LOG_LEVEL'] = '3'
import warnings
warnings.filterwarnings('ignore')

import tensorflow as tf
import tf2onnx

model = tf.keras.models.load_model(%q)
spec = (tf.TensorSpec((1, %d, %d, 1), tf.float32, name="input"),)
tf2onnx.convert.from_keras(model, input_signature=spec, opset=%d, output_path=%q)

print("OK")
`, kerasPath, size, size, opset, outputPath)

	cmd := exec.CommandContext(ctx, getPythonPath(), "-c", script)
	cmd.Stderr = os.Stderr

	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	// Output may have other debug lines before OK
	if !bytes.Contains(output, []byte("OK")) {
		return fmt.Errorf("conversion may have failed: %s", output)
	}
	return nil
}

// VerifyONNX loads an ONNX model in Python's onnxruntime and runs one
// inference on a zero spectrogram.
func VerifyONNX(ctx context.Context, onnxPath string, size int) (*ModelInfo, error) {
	script := fmt.Sprintf(`
import os
import json
import numpy as np
import onnxruntime as ort

session = ort.InferenceSession(%q, providers=['CPUExecutionProvider'])

info = {
    'inputs': {i.name: list(i.shape) for i in session.get_inputs()},
    'outputs': {o.name: list(o.shape) for o in session.get_outputs()},
}

test_input = np.zeros((1, %d, %d, 1), dtype=np.float32)
outputs = session.run(None, {session.get_inputs()[0].name: test_input})
info['output_shapes'] = [list(o.shape) for o in outputs]

print(json.dumps(info))
`, onnxPath, size, size)

	cmd := exec.CommandContext(ctx, getPythonPath(), "-c", script)
	cmd.Stderr = os.Stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}

	// JSON is the last line
	lines := bytes.Split(bytes.TrimSpace(output), []byte("\n"))
	var info ModelInfo
	if err := json.Unmarshal(lines[len(lines)-1], &info); err != nil {
		return nil, fmt.Errorf("failed to parse output: %w", err)
	}
	return &info, nil
}

// getPythonPath returns the Python interpreter used for model conversion.
func getPythonPath() string {
	if path := os.Getenv("GENRELAB_PYTHON"); path != "" {
		return path
	}

	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "python3"
	}
	// pkg/analysis/convert.go -> repo root
	baseDir := filepath.Dir(filepath.Dir(filepath.Dir(currentFile)))

	// Try convert venv first (has tf2onnx with compatible deps)
	convertVenv := filepath.Join(baseDir, ".venv-convert", "bin", "python")
	if _, err := os.Stat(convertVenv); err == nil {
		return convertVenv
	}

	mainVenv := filepath.Join(baseDir, ".venv", "bin", "python")
	if _, err := os.Stat(mainVenv); err == nil {
		return mainVenv
	}

	return "python3"
}
