package analysis

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/genrelab/pkg/config"
)

func TestSpectrogramEngineShape(t *testing.T) {
	cfg := config.Default()
	engine := NewSpectrogramEngine(cfg)

	rng := rand.New(rand.NewSource(42))
	samples := make([]float64, cfg.ChunkSamples())
	for i := range samples {
		samples[i] = rng.Float64()*2 - 1
	}

	mel, err := engine.MelDB(samples)
	require.NoError(t, err)
	rows, cols := mel.Dims()
	assert.Equal(t, 128, rows)
	assert.Equal(t, 173, cols)

	spec, err := engine.Compute(samples)
	require.NoError(t, err)
	rows, cols = spec.Dims()
	assert.Equal(t, 128, rows)
	assert.Equal(t, 128, cols)

	lo, hi := spec.MinMax()
	assert.LessOrEqual(t, hi, 1e-9)
	assert.GreaterOrEqual(t, lo, -cfg.Spectrogram.TopDB-1e-9)
}

// sine440 returns a 4 s, 0.5 amplitude 440 Hz tone at 22050 Hz.
func sine440() []float64 {
	samples := make([]float64, 4*22050)
	for n := range samples {
		samples[n] = 0.5 * math.Sin(2*math.Pi*440*float64(n)/22050)
	}
	return samples
}

// Reference cells from librosa.power_to_db(librosa.feature.melspectrogram(
// y=sine440, sr=22050, n_fft=2048, hop_length=512, n_mels=128), ref=np.max).
func TestMelDBMatchesLibrosa(t *testing.T) {
	engine := NewSpectrogramEngine(config.Default())

	mel, err := engine.MelDB(sine440())
	require.NoError(t, err)
	rows, cols := mel.Dims()
	require.Equal(t, 128, rows)
	require.Equal(t, 173, cols)

	tests := []struct {
		band, frame int
		want        float64
	}{
		{16, 86, -3.561298740351049e-07},
		{16, 0, -4.402957805791349},
		{16, 172, -2.7103479936044437},
		{15, 86, -10.359589758474964},
		{17, 86, -7.808636470770189},
		{19, 86, -63.24365231226109},
		{10, 86, -80},
		{60, 86, -80},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, mel[tt.band][tt.frame], 1e-3, "band=%d frame=%d", tt.band, tt.frame)
	}
}

// Reference columns from tf.image.resize(melDB, (128, 128), "bilinear") of
// the same tone. Only the time axis changes, 173 to 128 frames.
func TestComputeMatchesTFResize(t *testing.T) {
	engine := NewSpectrogramEngine(config.Default())

	spec, err := engine.Compute(sine440())
	require.NoError(t, err)

	tests := []struct {
		band, col int
		want      float64
	}{
		{16, 0, -3.698593464350442},
		{16, 1, -0.18712847914051675},
		{16, 64, -3.673890928423962e-07},
		{16, 127, -2.2572003185484126},
		{17, 0, -8.887767890116482},
		{17, 1, -7.684478703862183},
		{17, 64, -7.80863644256922},
		{17, 127, -8.110181844757772},
		{10, 0, -29.53269251888554},
		{10, 1, -58.49464741786298},
		{10, 64, -80},
		{10, 127, -30.639549754427392},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, spec[tt.band][tt.col], 1e-3, "band=%d col=%d", tt.band, tt.col)
	}
}

func TestSpectrogramEngineSilence(t *testing.T) {
	engine := NewSpectrogramEngine(config.Default())

	spec, err := engine.Compute(make([]float64, 22050))
	require.NoError(t, err)

	lo, hi := spec.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 0.0, hi)
}

func TestSpectrogramEngineTooShort(t *testing.T) {
	cfg := config.Default()
	engine := NewSpectrogramEngine(cfg)
	engine.stft.Center = false

	_, err := engine.Compute(make([]float64, 10))
	assert.ErrorIs(t, err, ErrFeatureExtraction)
}

func TestSpectrogramFloat32(t *testing.T) {
	s := Spectrogram{{1, 2}, {3, 4}}
	assert.Equal(t, []float32{1, 2, 3, 4}, s.Float32())
	assert.Equal(t, 2.5, s.Mean())
	assert.True(t, s.finite())

	s[1][1] = math.NaN()
	assert.False(t, s.finite())
}

func TestResizeIdentity(t *testing.T) {
	s := Spectrogram{{1, 2, 3}, {4, 5, 6}}
	assert.Equal(t, s, Resize(s, 2, 3))
}

func TestResizeBilinear(t *testing.T) {
	s := Spectrogram{{0, 1}}
	got := Resize(s, 1, 4)
	assert.Equal(t, Spectrogram{{0, 0.25, 0.75, 1}}, got)
}

func TestResizeMatchesTF(t *testing.T) {
	// tf.image.resize([[j*j for j in range(173)]], (1, 128), "bilinear")
	row := make([]float64, 173)
	for j := range row {
		row[j] = float64(j * j)
	}

	got := Resize(Spectrogram{row}, 1, 128)
	require.Len(t, got[0], 128)
	assert.InDelta(t, 0.17578125, got[0][0], 1e-9)
	assert.InDelta(t, 2.58203125, got[0][1], 1e-9)
	assert.InDelta(t, 7512.91015625, got[0][64], 1e-9)
	assert.InDelta(t, 29523.70703125, got[0][127], 1e-9)
}

func TestResizeConstant(t *testing.T) {
	s := make(Spectrogram, 128)
	for i := range s {
		s[i] = make([]float64, 173)
		for j := range s[i] {
			s[i][j] = -42
		}
	}

	got := Resize(s, 128, 128)
	rows, cols := got.Dims()
	require.Equal(t, 128, rows)
	require.Equal(t, 128, cols)
	for _, row := range got {
		for _, v := range row {
			require.Equal(t, -42.0, v)
		}
	}
}

func TestNormalize(t *testing.T) {
	s := Spectrogram{{-80, -40}, {-20, 0}}
	got := Normalize(s)

	assert.Equal(t, Spectrogram{{0, 0.5}, {0.75, 1}}, got)
	assert.Equal(t, -80.0, s[0][0], "input must not be modified")
}

func TestNormalizeRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := make(Spectrogram, 16)
	for i := range s {
		s[i] = make([]float64, 16)
		for j := range s[i] {
			s[i][j] = -80 * rng.Float64()
		}
	}

	lo, hi := Normalize(s).MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestNormalizeFlat(t *testing.T) {
	for _, v := range []float64{0, -80, 3} {
		s := Spectrogram{{v, v}, {v, v}}
		assert.Equal(t, Spectrogram{{0, 0}, {0, 0}}, Normalize(s))
	}
}
