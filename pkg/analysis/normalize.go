package analysis

// Normalize rescales s so its minimum maps to 0 and its maximum to 1. The
// scaling uses only this spectrogram's own range. A flat spectrogram, such
// as the one produced by digital silence, maps to all zeros.
func Normalize(s Spectrogram) Spectrogram {
	lo, hi := s.MinMax()
	span := hi - lo

	out := make(Spectrogram, len(s))
	for i, row := range s {
		out[i] = make([]float64, len(row))
		if !(span > 0) {
			continue
		}
		for j, v := range row {
			out[i][j] = (v - lo) / span
		}
	}
	return out
}
