package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFTConfig describes parameters for STFT computation.
type STFTConfig struct {
	FFTSize int  // FFT window size (e.g., 2048)
	HopSize int  // Hop between frames (e.g., 512 for ~23ms at 22050Hz)
	Center  bool // Pad FFTSize/2 zeros on both sides so frame t is centered on sample t*HopSize
}

// NumFrames returns the number of STFT frames for a signal of n samples.
func (cfg STFTConfig) NumFrames(n int) int {
	if cfg.Center {
		n += 2 * (cfg.FFTSize / 2)
	}
	if n < cfg.FFTSize {
		return 0
	}
	return (n-cfg.FFTSize)/cfg.HopSize + 1
}

// PowerSTFT computes the squared magnitude Short-Time Fourier Transform.
// Returns [frames][bins] with bins = FFTSize/2 + 1. The spectrum is not
// scaled, matching librosa's stft with power=2.
func PowerSTFT(samples []float64, cfg STFTConfig) [][]float64 {
	padded := samples
	if cfg.Center {
		pad := cfg.FFTSize / 2
		padded = make([]float64, len(samples)+2*pad)
		copy(padded[pad:], samples)
	}

	numFrames := cfg.NumFrames(len(samples))
	if numFrames <= 0 {
		return nil
	}

	window := hannWindow(cfg.FFTSize)
	fft := fourier.NewFFT(cfg.FFTSize)
	numBins := cfg.FFTSize/2 + 1

	result := make([][]float64, numFrames)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, numBins)

	for i := range numFrames {
		start := i * cfg.HopSize
		for j := range frame {
			frame[j] = padded[start+j] * window[j]
		}

		coeffs = fft.Coefficients(coeffs, frame)

		result[i] = make([]float64, numBins)
		for j := range numBins {
			re := real(coeffs[j])
			im := imag(coeffs[j])
			result[i][j] = re*re + im*im
		}
	}

	return result
}

// hannWindow generates a periodic Hann window of given size, the DFT-even
// form used for spectral analysis.
func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size)))
	}
	return w
}
