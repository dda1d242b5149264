//go:build tensorflow

// This file provides genre inference from a Keras SavedModel using the
// TensorFlow Go bindings.
package analysis

import (
	"fmt"
	"os"

	tf "github.com/wamuir/graft/tensorflow"
)

// Default operation names of a Keras SavedModel's serving signature.
const (
	defaultTFInputOp  = "serving_default_input_1"
	defaultTFOutputOp = "StatefulPartitionedCall"
)

// TFClassifier runs a genre CNN exported as a TensorFlow SavedModel.
type TFClassifier struct {
	model      *tf.SavedModel
	inputOp    string
	outputOp   string
	size       int
	numClasses int
}

// NewTFClassifier loads the SavedModel directory at modelPath. Empty op names
// fall back to the Keras serving defaults.
func NewTFClassifier(modelPath, inputOp, outputOp string, size, numClasses int) (*TFClassifier, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("SavedModel not found at %s", modelPath)
	}
	if inputOp == "" {
		inputOp = defaultTFInputOp
	}
	if outputOp == "" {
		outputOp = defaultTFOutputOp
	}

	model, err := tf.LoadSavedModel(modelPath, []string{"serve"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load SavedModel: %w", err)
	}
	if model.Graph.Operation(inputOp) == nil {
		model.Session.Close()
		return nil, fmt.Errorf("input operation %q not found", inputOp)
	}
	if model.Graph.Operation(outputOp) == nil {
		model.Session.Close()
		return nil, fmt.Errorf("output operation %q not found", outputOp)
	}

	return &TFClassifier{
		model:      model,
		inputOp:    inputOp,
		outputOp:   outputOp,
		size:       size,
		numClasses: numClasses,
	}, nil
}

// Close releases the TensorFlow model resources.
func (c *TFClassifier) Close() error {
	if c.model != nil && c.model.Session != nil {
		return c.model.Session.Close()
	}
	return nil
}

// Predict runs the model on one normalized spectrogram.
func (c *TFClassifier) Predict(spec Spectrogram) ([]float64, error) {
	rows, cols := spec.Dims()
	if rows != c.size || cols != c.size {
		return nil, fmt.Errorf("spectrogram is %dx%d, model expects %dx%d", rows, cols, c.size, c.size)
	}

	// Input tensor [1, size, size, 1]
	input := make([][][][]float32, 1)
	input[0] = make([][][]float32, rows)
	for i, row := range spec {
		input[0][i] = make([][]float32, cols)
		for j, v := range row {
			input[0][i][j] = []float32{float32(v)}
		}
	}

	inputTensor, err := tf.NewTensor(input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputs, err := c.model.Session.Run(
		map[tf.Output]*tf.Tensor{
			c.model.Graph.Operation(c.inputOp).Output(0): inputTensor,
		},
		[]tf.Output{
			c.model.Graph.Operation(c.outputOp).Output(0),
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// Shape is [batch, classes]
	v, ok := outputs[0].Value().([][]float32)
	if !ok || len(v) != 1 {
		return nil, fmt.Errorf("unexpected output type: %T", outputs[0].Value())
	}
	if len(v[0]) != c.numClasses {
		return nil, fmt.Errorf("model returned %d values, expected %d", len(v[0]), c.numClasses)
	}

	probs := make([]float64, len(v[0]))
	for i, p := range v[0] {
		probs[i] = float64(p)
	}
	return probs, nil
}
