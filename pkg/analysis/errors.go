package analysis

import "errors"

var (
	// ErrDecode means the input could not be parsed as audio. Retrying the
	// same bytes cannot succeed.
	ErrDecode = errors.New("decode audio")

	// ErrDegenerateInput means the waveform is empty and has nothing to chunk.
	ErrDegenerateInput = errors.New("degenerate input: empty waveform")

	// ErrFeatureExtraction marks a chunk whose spectrogram could not be
	// computed. The chunk is skipped.
	ErrFeatureExtraction = errors.New("feature extraction")

	// ErrNoValidPredictions means every chunk failed.
	ErrNoValidPredictions = errors.New("no valid predictions")
)
