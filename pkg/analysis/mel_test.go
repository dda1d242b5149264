package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestMelScale(t *testing.T) {
	assert.InDelta(t, 15.0, hzToMel(1000), 1e-9)
	assert.InDelta(t, 3.0, hzToMel(200), 1e-9)

	for _, hz := range []float64{0, 100, 999, 1000, 4000, 11025} {
		assert.InDelta(t, hz, melToHz(hzToMel(hz)), 1e-6, "hz=%v", hz)
	}
}

func TestMelFilterBank(t *testing.T) {
	bank := MelFilterBank(128, 2048, 22050, 0, 11025)
	require.Len(t, bank, 128)

	for m, filter := range bank {
		require.Len(t, filter, 1025)
		for _, w := range filter {
			require.GreaterOrEqual(t, w, 0.0)
		}
		assert.Positive(t, floats.Sum(filter), "filter %d is empty", m)
	}

	// Filter centers rise with the band index
	assert.Less(t, floats.MaxIdx(bank[10]), floats.MaxIdx(bank[100]))
}

// Reference weights from librosa.filters.mel(sr=22050, n_fft=2048,
// n_mels=128), which returns float32.
func TestMelFilterBankMatchesLibrosa(t *testing.T) {
	bank := MelFilterBank(128, 2048, 22050, 0, 11025)

	tests := []struct {
		mel, bin int
		want     float64
	}{
		{0, 1, 0.016182852908968925},
		{0, 2, 0.03236570581793785},
		{0, 4, 0.01280723512172699},
		{1, 3, 0.00977923534810543},
		{1, 5, 0.03539370372891426},
		{10, 26, 0.0330609455704689},
		{10, 28, 0.012111996300518513},
		{40, 97, 0.014093741774559021},
		{40, 99, 0.029527638107538223},
		{64, 187, 0.01727883145213127},
		{64, 191, 0.0024033421650528908},
		{100, 486, 0.007056244648993015},
		{100, 499, 0.0001796321157598868},
		{127, 997, 0.0034852505195885897},
		{127, 1000, 0.003126247087493539},
		{127, 1023, 0.0001302603050135076},
		{5, 11, 0},
		{64, 225, 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, bank[tt.mel][tt.bin], 1e-8, "mel=%d bin=%d", tt.mel, tt.bin)
	}

	// Support of each filter: mel 0 covers bins 1-4, mel 127 bins 971-1023
	assert.Zero(t, bank[0][0])
	assert.Zero(t, bank[0][5])
	assert.Zero(t, bank[127][970])
	assert.Positive(t, bank[127][971])
}

func TestApplyMel(t *testing.T) {
	bank := MelFilterBank(8, 64, 8000, 0, 4000)
	power := make([][]float64, 5)
	for i := range power {
		power[i] = make([]float64, 33)
		for j := range power[i] {
			power[i][j] = 1
		}
	}

	spec := applyMel(melMatrix(bank), power)
	rows, cols := spec.Dims()
	assert.Equal(t, 8, rows)
	assert.Equal(t, 5, cols)

	for m, row := range spec {
		for _, v := range row {
			assert.InDelta(t, floats.Sum(bank[m]), v, 1e-12)
		}
	}
}

func TestPowerToDB(t *testing.T) {
	spec := Spectrogram{
		{1, 0.1, 0.01},
		{1e-12, 0, 0.5},
	}

	db := PowerToDB(spec, 80)
	lo, hi := db.MinMax()
	assert.Equal(t, 0.0, hi)
	assert.Equal(t, -80.0, lo)
	assert.InDelta(t, -10.0, db[0][1], 1e-9)
	assert.InDelta(t, -20.0, db[0][2], 1e-9)
}

func TestPowerToDBSilence(t *testing.T) {
	spec := Spectrogram{{0, 0}, {0, 0}}
	db := PowerToDB(spec, 80)
	for _, row := range db {
		for _, v := range row {
			assert.Equal(t, 0.0, v)
			assert.False(t, math.IsNaN(v))
		}
	}
}
