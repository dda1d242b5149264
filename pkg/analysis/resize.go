package analysis

import "math"

// Resize resamples s to rows x cols with bilinear interpolation using
// half-pixel centers, the same sampling grid as TensorFlow's
// tf.image.resize(method="bilinear"). Both axes are treated alike.
func Resize(s Spectrogram, rows, cols int) Spectrogram {
	inRows, inCols := s.Dims()
	out := make(Spectrogram, rows)
	if inRows == 0 || inCols == 0 {
		for i := range out {
			out[i] = make([]float64, cols)
		}
		return out
	}

	ys := interpolationWeights(inRows, rows)
	xs := interpolationWeights(inCols, cols)

	for i, y := range ys {
		top, bottom := s[y.lower], s[y.upper]
		row := make([]float64, cols)
		for j, x := range xs {
			t := top[x.lower] + (top[x.upper]-top[x.lower])*x.lerp
			b := bottom[x.lower] + (bottom[x.upper]-bottom[x.lower])*x.lerp
			row[j] = t + (b-t)*y.lerp
		}
		out[i] = row
	}
	return out
}

type interpolationWeight struct {
	lower, upper int
	lerp         float64
}

// interpolationWeights maps each output index to its two source neighbours.
func interpolationWeights(inSize, outSize int) []interpolationWeight {
	scale := float64(inSize) / float64(outSize)
	weights := make([]interpolationWeight, outSize)
	for i := range weights {
		in := (float64(i)+0.5)*scale - 0.5
		floor := math.Floor(in)
		weights[i] = interpolationWeight{
			lower: max(int(floor), 0),
			upper: min(int(math.Ceil(in)), inSize-1),
			lerp:  in - floor,
		}
	}
	return weights
}
