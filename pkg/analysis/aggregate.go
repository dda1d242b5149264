package analysis

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ChunkResult records the outcome of one chunk: either Probs or Err is set.
type ChunkResult struct {
	Index int
	Probs []float64
	Err   error
}

// Skipped reports whether the chunk produced no prediction.
func (r ChunkResult) Skipped() bool {
	return r.Err != nil || r.Probs == nil
}

// Prediction is the aggregated decision for one clip.
type Prediction struct {
	Genre         string             `json:"genre"`
	Index         int                `json:"index"`
	Confidence    float64            `json:"confidence"`
	Scores        map[string]float64 `json:"scores"`
	Probs         []float64          `json:"probs"`
	Flags         []Flag             `json:"flags,omitempty"`
	ChunksUsed    int                `json:"chunks_used"`
	ChunksSkipped int                `json:"chunks_skipped"`
}

// Aggregate averages the probability vectors of all successful chunks and
// picks the most likely label. Skipped chunks are counted but otherwise
// ignored. The result does not depend on the order of results.
func Aggregate(results []ChunkResult, labels []string) (*Prediction, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrNoValidPredictions)
	}

	var vectors [][]float64
	skipped := 0
	var lastErr error

	for _, r := range results {
		if r.Skipped() {
			skipped++
			lastErr = r.Err
			continue
		}
		if len(r.Probs) != len(labels) {
			skipped++
			lastErr = fmt.Errorf("chunk %d: %d probabilities for %d labels", r.Index, len(r.Probs), len(labels))
			continue
		}
		vectors = append(vectors, r.Probs)
	}

	if len(vectors) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %d chunks failed, last error: %v", ErrNoValidPredictions, skipped, lastErr)
		}
		return nil, fmt.Errorf("%w: no chunks", ErrNoValidPredictions)
	}

	mean := make([]float64, len(labels))
	column := make([]float64, len(vectors))
	for i := range labels {
		for k, v := range vectors {
			column[k] = v[i]
		}
		mean[i] = columnMean(column)
	}

	index := floats.MaxIdx(mean)
	scores := make(map[string]float64, len(labels))
	for i, label := range labels {
		scores[label] = mean[i]
	}

	return &Prediction{
		Genre:         labels[index],
		Index:         index,
		Confidence:    mean[index],
		Scores:        scores,
		Probs:         mean,
		ChunksUsed:    len(vectors),
		ChunksSkipped: skipped,
	}, nil
}

// columnMean averages values in ascending order with an incremental mean, so
// the result is independent of input order and identical inputs average to
// exactly themselves. values is sorted in place.
func columnMean(values []float64) float64 {
	sort.Float64s(values)
	mean := 0.0
	for k, v := range values {
		mean += (v - mean) / float64(k+1)
	}
	return mean
}
