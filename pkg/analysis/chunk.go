package analysis

import "fmt"

// Chunk is a fixed-length window of a waveform.
type Chunk struct {
	Index   int       // position in emission order
	Offset  int       // first sample in the parent waveform
	Samples []float64 // own copy, len == chunk size
}

// SplitChunks cuts samples into windows of chunkSamples starting every
// hopSamples. Windows that would run past the end are not emitted.
//
// A non-empty signal always yields at least one chunk: when it is shorter
// than a window it is zero padded into a single chunk.
func SplitChunks(samples []float64, chunkSamples, hopSamples int) ([]Chunk, error) {
	if len(samples) == 0 {
		return nil, ErrDegenerateInput
	}
	if chunkSamples <= 0 || hopSamples <= 0 || hopSamples > chunkSamples {
		return nil, fmt.Errorf("invalid chunking: chunk=%d hop=%d", chunkSamples, hopSamples)
	}

	numChunks := 0
	if len(samples) >= chunkSamples {
		numChunks = (len(samples)-chunkSamples)/hopSamples + 1
	}

	if numChunks <= 0 {
		return []Chunk{{
			Index:   0,
			Offset:  0,
			Samples: Fit(samples, chunkSamples),
		}}, nil
	}

	chunks := make([]Chunk, numChunks)
	for i := range numChunks {
		start := i * hopSamples
		window := make([]float64, chunkSamples)
		copy(window, samples[start:start+chunkSamples])
		chunks[i] = Chunk{Index: i, Offset: start, Samples: window}
	}

	return chunks, nil
}
