package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Classifier predicts genre probabilities for one normalized square
// spectrogram. Implementations are shared read-only across requests and
// must be safe for concurrent use.
type Classifier interface {
	Predict(spec Spectrogram) ([]float64, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(spec Spectrogram) ([]float64, error)

// Predict calls f(spec).
func (f ClassifierFunc) Predict(spec Spectrogram) ([]float64, error) {
	return f(spec)
}

// ConstantClassifier returns the same probability vector for every input.
// It stands in for a trained model in smoke runs.
type ConstantClassifier struct {
	Probs []float64
}

// NewUniformClassifier returns a ConstantClassifier spreading probability
// evenly over numClasses genres.
func NewUniformClassifier(numClasses int) *ConstantClassifier {
	probs := make([]float64, numClasses)
	for i := range probs {
		probs[i] = 1 / float64(numClasses)
	}
	return &ConstantClassifier{Probs: probs}
}

// Predict returns a copy of c.Probs.
func (c *ConstantClassifier) Predict(Spectrogram) ([]float64, error) {
	return append([]float64(nil), c.Probs...), nil
}

// probabilityTolerance bounds how far a model output may drift from summing
// to one before it is rejected. Accepted vectors further than sumEpsilon from
// one are rescaled to sum to one.
const (
	probabilityTolerance = 1e-3
	sumEpsilon           = 1e-12
)

// normalizeProbs checks that probs is a probability vector over numClasses
// and returns it rescaled to sum to one. probs itself is never modified.
func normalizeProbs(probs []float64, numClasses int) ([]float64, error) {
	if len(probs) != numClasses {
		return nil, fmt.Errorf("model returned %d probabilities, expected %d", len(probs), numClasses)
	}
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return nil, fmt.Errorf("model returned invalid probability %v at index %d", p, i)
		}
	}

	sum := floats.Sum(probs)
	if math.Abs(sum-1) > probabilityTolerance {
		return nil, fmt.Errorf("model probabilities sum to %v", sum)
	}
	if math.Abs(sum-1) <= sumEpsilon {
		return probs, nil
	}

	out := append([]float64(nil), probs...)
	floats.Scale(1/sum, out)
	return out, nil
}
