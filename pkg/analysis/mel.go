package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSP       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSP
)

var melLogStep = math.Log(6.4) / 27.0

// hzToMel converts frequency in Hz to the Slaney mel scale.
func hzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSP
}

// melToHz converts a Slaney mel value back to Hz.
func melToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return melFSP * mel
}

// MelFilterBank creates an area-normalized triangular mel filterbank.
// Returns [numMels][fftSize/2+1], the same weights librosa.filters.mel
// produces with its defaults.
func MelFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	numBins := fftSize/2 + 1

	fftFreqs := make([]float64, numBins)
	floats.Span(fftFreqs, 0, float64(sampleRate)/2)

	// numMels + 2 points equally spaced on the mel axis
	melPoints := make([]float64, numMels+2)
	floats.Span(melPoints, hzToMel(lowFreq), hzToMel(highFreq))
	hzPoints := make([]float64, len(melPoints))
	for i, m := range melPoints {
		hzPoints[i] = melToHz(m)
	}

	bank := make([][]float64, numMels)
	for m := range numMels {
		left, center, right := hzPoints[m], hzPoints[m+1], hzPoints[m+2]
		enorm := 2.0 / (right - left)

		filter := make([]float64, numBins)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			filter[k] = math.Max(0, math.Min(lower, upper)) * enorm
		}
		bank[m] = filter
	}
	return bank
}

// melMatrix packs a filterbank into a dense [numMels x bins] matrix.
func melMatrix(bank [][]float64) *mat.Dense {
	rows, cols := len(bank), len(bank[0])
	data := make([]float64, 0, rows*cols)
	for _, row := range bank {
		data = append(data, row...)
	}
	return mat.NewDense(rows, cols, data)
}

// applyMel projects a [frames][bins] power spectrum onto the mel bands.
// Returns [numMels][frames].
func applyMel(bank *mat.Dense, power [][]float64) Spectrogram {
	frames, bins := len(power), len(power[0])
	data := make([]float64, 0, frames*bins)
	for _, frame := range power {
		data = append(data, frame...)
	}
	p := mat.NewDense(frames, bins, data)

	numMels, _ := bank.Dims()
	var out mat.Dense
	out.Mul(bank, p.T())

	spec := make(Spectrogram, numMels)
	for m := range numMels {
		spec[m] = out.RawRowView(m)
	}
	return spec
}

// PowerToDB converts a power spectrogram to decibels relative to its own
// peak, so every cell is <= 0 dB. Values are floored at -topDB when topDB is
// positive.
func PowerToDB(spec Spectrogram, topDB float64) Spectrogram {
	const amin = 1e-10

	peak := amin
	for _, row := range spec {
		if len(row) > 0 {
			peak = math.Max(peak, floats.Max(row))
		}
	}
	ref := 10 * math.Log10(peak)

	out := make(Spectrogram, len(spec))
	for i, row := range spec {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			db := 10*math.Log10(math.Max(amin, v)) - ref
			if topDB > 0 && db < -topDB {
				db = -topDB
			}
			out[i][j] = db
		}
	}
	return out
}
