//go:build !tensorflow

// This file provides stubs when TensorFlow is not available.
package analysis

import "errors"

// ErrTensorFlowUnavailable is returned when the binary was built without
// TensorFlow support.
var ErrTensorFlowUnavailable = errors.New("TensorFlow support not compiled (build with -tags=tensorflow)")

// TFClassifier is a stub when TensorFlow is not available.
type TFClassifier struct{}

// NewTFClassifier returns an error when TensorFlow is not available.
func NewTFClassifier(modelPath, inputOp, outputOp string, size, numClasses int) (*TFClassifier, error) {
	return nil, ErrTensorFlowUnavailable
}

// Close is a no-op for the stub.
func (c *TFClassifier) Close() error {
	return nil
}

// Predict returns an error when TensorFlow is not available.
func (c *TFClassifier) Predict(Spectrogram) ([]float64, error) {
	return nil, ErrTensorFlowUnavailable
}
