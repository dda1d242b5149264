package analysis

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV writes interleaved integer PCM to a WAV file and returns its path.
func writeWAV(t *testing.T, data []int, sampleRate, channels, bitDepth int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())

	return path
}

// sineWAV writes a mono 16-bit sine tone.
func sineWAV(t *testing.T, freq float64, seconds float64, sampleRate int) string {
	t.Helper()

	n := int(seconds * float64(sampleRate))
	data := make([]int, n)
	for i := range data {
		data[i] = int(16000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return writeWAV(t, data, sampleRate, 1, 16)
}

// rawWAV builds a WAV file by hand with the given format tag and fmt chunk
// extension, for formats the encoder cannot write.
func rawWAV(format uint16, channels, sampleRate, bitDepth int, ext, data []byte) []byte {
	blockAlign := channels * bitDepth / 8

	fmtChunk := new(bytes.Buffer)
	binary.Write(fmtChunk, binary.LittleEndian, format)
	binary.Write(fmtChunk, binary.LittleEndian, uint16(channels))
	binary.Write(fmtChunk, binary.LittleEndian, uint32(sampleRate))
	binary.Write(fmtChunk, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(fmtChunk, binary.LittleEndian, uint16(blockAlign))
	binary.Write(fmtChunk, binary.LittleEndian, uint16(bitDepth))
	fmtChunk.Write(ext)

	b := new(bytes.Buffer)
	b.WriteString("RIFF")
	binary.Write(b, binary.LittleEndian, uint32(4+8+fmtChunk.Len()+8+len(data)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(b, binary.LittleEndian, uint32(fmtChunk.Len()))
	b.Write(fmtChunk.Bytes())
	b.WriteString("data")
	binary.Write(b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

// extensibleFmt returns a WAVE_FORMAT_EXTENSIBLE fmt extension with the given
// sub format.
func extensibleFmt(bitDepth int, subFormat uint16) []byte {
	ext := new(bytes.Buffer)
	binary.Write(ext, binary.LittleEndian, uint16(22))
	binary.Write(ext, binary.LittleEndian, uint16(bitDepth))
	binary.Write(ext, binary.LittleEndian, uint32(0))
	binary.Write(ext, binary.LittleEndian, subFormat)
	ext.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71})
	return ext.Bytes()
}

func TestFit(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		n    int
		want []float64
	}{
		{"trim", []float64{1, 2, 3, 4}, 2, []float64{1, 2}},
		{"pad", []float64{1, 2}, 4, []float64{1, 2, 0, 0}},
		{"exact", []float64{1, 2}, 2, []float64{1, 2}},
		{"empty", nil, 3, []float64{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fit(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFitCopies(t *testing.T) {
	in := []float64{1, 2, 3}
	out := Fit(in, 3)
	out[0] = 9
	assert.Equal(t, 1.0, in[0])
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// L = half scale, R = silence
	data := []int{16384, 0, 16384, 0, -16384, 0}
	path := writeWAV(t, data, 22050, 2, 16)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	samples, rate, err := DecodeMono(f)
	require.NoError(t, err)
	assert.Equal(t, 22050, rate)
	assert.Equal(t, []float64{0.25, 0.25, -0.25}, samples)
}

func TestDecodeRejectsNonAudio(t *testing.T) {
	inputs := map[string][]byte{
		"text":    []byte("this is definitely not an audio file"),
		"empty":   nil,
		"riff":    []byte("RIFF\x00\x00\x00\x00AVI "),
		"alaw":    rawWAV(0x0006, 1, 8000, 8, nil, bytes.Repeat([]byte{0xD5}, 64)),
		"float64": rawWAV(wavFormatFloat, 1, 8000, 64, nil, make([]byte, 64)),
		"extensible-float64": rawWAV(wavFormatExtensible, 1, 8000, 64,
			extensibleFmt(64, wavFormatFloat), make([]byte, 64)),
	}

	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeMono(bytes.NewReader(data))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodeFloatWAV(t *testing.T) {
	want := make([]float64, 64)
	data := make([]byte, 4*len(want))
	for i := range want {
		v := float32(0.5 * math.Sin(float64(i)/5))
		want[i] = float64(v)
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}

	samples, rate, err := DecodeMono(bytes.NewReader(rawWAV(wavFormatFloat, 1, 8000, 32, nil, data)))
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	require.Len(t, samples, len(want))
	assert.InDeltaSlice(t, want, samples, 1e-7)
	assert.InDelta(t, 0.0993, samples[1], 1e-3)
}

func TestWAVFormatTag(t *testing.T) {
	assert.Equal(t, uint16(wavFormatPCM), wavFormatTag(rawWAV(wavFormatPCM, 1, 8000, 16, nil, nil)))
	assert.Equal(t, uint16(wavFormatFloat), wavFormatTag(rawWAV(wavFormatFloat, 1, 8000, 32, nil, nil)))
	assert.Equal(t, uint16(wavFormatPCM),
		wavFormatTag(rawWAV(wavFormatExtensible, 2, 8000, 16, extensibleFmt(16, wavFormatPCM), nil)))
	assert.Equal(t, uint16(wavFormatFloat),
		wavFormatTag(rawWAV(wavFormatExtensible, 2, 8000, 32, extensibleFmt(32, wavFormatFloat), nil)))
	assert.Zero(t, wavFormatTag([]byte("RIFF\x00\x00\x00\x00WAVE")))
}

func TestLoaderFitsToTarget(t *testing.T) {
	path := sineWAV(t, 440, 0.5, 22050)

	l := NewLoader(22050, 22050)
	w, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 22050, w.SampleRate)
	assert.Len(t, w.Samples, 22050)
	assert.InDelta(t, 1.0, w.Duration(), 1e-9)

	// Second half is padding
	for _, v := range w.Samples[11025:] {
		require.Zero(t, v)
	}
}

func TestLoaderTrimsLongInput(t *testing.T) {
	path := sineWAV(t, 440, 2, 22050)

	w, err := NewLoader(22050, 22050).LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, w.Samples, 22050)
}

func TestLoaderResamples(t *testing.T) {
	path := sineWAV(t, 440, 1, 44100)

	w, err := NewLoader(22050, 22050).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 22050, w.SampleRate)
	assert.Len(t, w.Samples, 22050)
}

func TestLoaderResampledClipHasNoPaddedTail(t *testing.T) {
	// 30 s at 44.1 kHz covers the full 30 s target at 22.05 kHz, so the end of
	// the waveform must still be signal.
	path := sineWAV(t, 440, 30, 44100)

	w, err := NewLoader(22050, 30*22050).LoadFile(path)
	require.NoError(t, err)
	require.Len(t, w.Samples, 30*22050)

	tail := w.Samples[len(w.Samples)-256:]
	zeros := 0
	for _, v := range tail {
		if v == 0 {
			zeros++
		}
	}
	assert.Less(t, zeros, 8, "tail of resampled clip is zero padded")
	assert.Greater(t, floatsMaxAbs(tail), 0.2)
}

func floatsMaxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader(22050, 22050).LoadFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestFromSamplesInvalidRate(t *testing.T) {
	_, err := NewLoader(22050, 10).FromSamples([]float64{1}, 0)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestReadLAMEEncoderDelay(t *testing.T) {
	buf := make([]byte, 256)
	assert.Equal(t, defaultEncoderDelay, readLAMEEncoderDelay(buf))
	assert.Equal(t, defaultEncoderDelay, readLAMEEncoderDelay(buf[:10]))

	copy(buf[40:], "LAME")
	buf[40+21] = 0x45
	buf[40+22] = 0x50
	assert.Equal(t, 0x455, readLAMEEncoderDelay(buf))
	assert.Equal(t, 0x455+goMP3DecoderDelay, readMP3Delay(buf))
}

func TestSniffFormat(t *testing.T) {
	assert.True(t, isWAV([]byte("RIFF\x24\x00\x00\x00WAVEfmt ")))
	assert.False(t, isWAV([]byte("RIFF")))
	assert.True(t, isMP3([]byte("ID3\x04\x00")))
	assert.True(t, isMP3([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.False(t, isMP3([]byte{0xFF, 0xFB, 0xF0, 0x00}))
	assert.False(t, isMP3([]byte("OggS")))
}
