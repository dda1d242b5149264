package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nzoschke/genrelab/pkg/config"
)

// Spectrogram is a 2-D array indexed [row][col]. For mel spectrograms rows
// are mel bands and columns are time frames.
type Spectrogram [][]float64

// Dims returns the number of rows and columns.
func (s Spectrogram) Dims() (rows, cols int) {
	if len(s) == 0 {
		return 0, 0
	}
	return len(s), len(s[0])
}

// MinMax returns the smallest and largest cell values.
func (s Spectrogram) MinMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range s {
		for _, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}

// Mean returns the average cell value.
func (s Spectrogram) Mean() float64 {
	sum, n := 0.0, 0
	for _, row := range s {
		for _, v := range row {
			sum += v
		}
		n += len(row)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Float32 flattens the spectrogram row-major, the memory layout of a
// (1, rows, cols, 1) tensor.
func (s Spectrogram) Float32() []float32 {
	rows, cols := s.Dims()
	out := make([]float32, 0, rows*cols)
	for _, row := range s {
		for _, v := range row {
			out = append(out, float32(v))
		}
	}
	return out
}

// finite reports whether every cell is a finite number.
func (s Spectrogram) finite() bool {
	for _, row := range s {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// SpectrogramEngine turns chunks into fixed-size log-mel spectrograms. It is
// built once and safe for concurrent use.
type SpectrogramEngine struct {
	stft    STFTConfig
	melBank *mat.Dense
	size    int
	topDB   float64
}

// NewSpectrogramEngine builds the mel filterbank for cfg.
func NewSpectrogramEngine(cfg config.Config) *SpectrogramEngine {
	sc := cfg.Spectrogram
	bank := MelFilterBank(sc.NumMels, sc.FFTSize, cfg.Audio.SampleRate, 0, float64(cfg.Audio.SampleRate)/2)

	return &SpectrogramEngine{
		stft: STFTConfig{
			FFTSize: sc.FFTSize,
			HopSize: sc.HopLength,
			Center:  true,
		},
		melBank: melMatrix(bank),
		size:    sc.ResizeDim,
		topDB:   sc.TopDB,
	}
}

// MelDB computes the log-power mel spectrogram of samples in dB relative to
// its peak, without resizing.
func (e *SpectrogramEngine) MelDB(samples []float64) (Spectrogram, error) {
	power := PowerSTFT(samples, e.stft)
	if len(power) == 0 {
		return nil, fmt.Errorf("%w: %d samples is too short for a frame", ErrFeatureExtraction, len(samples))
	}
	return PowerToDB(applyMel(e.melBank, power), e.topDB), nil
}

// Compute returns the resized dB mel spectrogram of one chunk.
func (e *SpectrogramEngine) Compute(samples []float64) (spec Spectrogram, err error) {
	defer func() {
		if r := recover(); r != nil {
			spec, err = nil, fmt.Errorf("%w: %v", ErrFeatureExtraction, r)
		}
	}()

	mel, err := e.MelDB(samples)
	if err != nil {
		return nil, err
	}

	resized := Resize(mel, e.size, e.size)
	if !resized.finite() {
		return nil, fmt.Errorf("%w: non-finite spectrogram values", ErrFeatureExtraction)
	}
	return resized, nil
}
