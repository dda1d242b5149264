// Package analysis classifies the musical genre of audio clips.
// This file provides audio file loading and processing utilities.
package analysis

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Waveform is a mono signal at a fixed sample rate. It is not modified after
// it has been produced.
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Loader decodes audio into fixed-length mono waveforms.
type Loader struct {
	SampleRate    int // output sample rate in Hz
	TargetSamples int // exact output length
}

// NewLoader returns a Loader producing targetSamples samples at sampleRate.
func NewLoader(sampleRate, targetSamples int) *Loader {
	return &Loader{SampleRate: sampleRate, TargetSamples: targetSamples}
}

// LoadFile decodes the audio file at path.
func (l *Loader) LoadFile(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return l.Decode(f)
}

// Decode reads a WAV or MP3 stream and returns a mono waveform resampled to
// the loader's rate and trimmed or zero padded to its target length.
func (l *Loader) Decode(r io.ReadSeeker) (*Waveform, error) {
	samples, sampleRate, err := DecodeMono(r)
	if err != nil {
		return nil, err
	}
	return l.FromSamples(samples, sampleRate)
}

// FromSamples resamples mono samples to the loader's rate and fits them to
// the target length.
func (l *Loader) FromSamples(samples []float64, sampleRate int) (*Waveform, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrDecode, sampleRate)
	}

	if sampleRate != l.SampleRate && len(samples) > 0 {
		resampled, err := resample(samples, sampleRate, l.SampleRate)
		if err != nil {
			return nil, err
		}
		samples = resampled
	}

	return &Waveform{
		Samples:    Fit(samples, l.TargetSamples),
		SampleRate: l.SampleRate,
	}, nil
}

// Fit returns a copy of samples that is exactly n long. Longer input keeps
// its first n samples, shorter input is padded with trailing zeros.
func Fit(samples []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, samples)
	return out
}

// DecodeMono sniffs the container format and returns mono samples in
// [-1, 1] with the stream's native sample rate.
func DecodeMono(r io.ReadSeeker) ([]float64, int, error) {
	header := make([]byte, 4096)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, 0, fmt.Errorf("%w: read header: %v", ErrDecode, err)
	}
	header = header[:n]

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("%w: rewind: %v", ErrDecode, err)
	}

	switch {
	case isWAV(header):
		return decodeWAVMono(r, wavFormatTag(header))
	case isMP3(header):
		return decodeMP3Mono(r, readMP3Delay(header))
	default:
		return nil, 0, fmt.Errorf("%w: unrecognized audio format", ErrDecode)
	}
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

func isMP3(b []byte) bool {
	if len(b) >= 3 && string(b[0:3]) == "ID3" {
		return true
	}
	// MPEG audio frame sync: 11 set bits, a valid layer and bitrate index.
	if len(b) >= 3 && b[0] == 0xFF && b[1]&0xE0 == 0xE0 {
		layer := (b[1] >> 1) & 0x03
		bitrate := b[2] >> 4
		return layer != 0 && bitrate != 0x0F
	}
	return false
}

// WAV format tags.
const (
	wavFormatPCM        = 0x0001
	wavFormatFloat      = 0x0003
	wavFormatExtensible = 0xFFFE
)

// wavFormatTag returns the sample format of a RIFF/WAVE header, resolving
// WAVE_FORMAT_EXTENSIBLE to its sub format. It returns 0 if no fmt chunk is
// found in b.
func wavFormatTag(b []byte) uint16 {
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		data := pos + 8
		if id != "fmt " {
			pos = data + size + size%2
			continue
		}
		if size < 2 || data+2 > len(b) {
			return 0
		}
		tag := binary.LittleEndian.Uint16(b[data:])
		if tag == wavFormatExtensible {
			// The sub format GUID starts 24 bytes into the fmt chunk.
			if size < 26 || data+26 > len(b) {
				return 0
			}
			tag = binary.LittleEndian.Uint16(b[data+24:])
		}
		return tag
	}
	return 0
}

// decodeWAVMono decodes integer PCM or 32-bit float WAV data and mixes it to
// mono.
func decodeWAVMono(r io.ReadSeeker, format uint16) ([]float64, int, error) {
	if format != wavFormatPCM && format != wavFormatFloat {
		return nil, 0, fmt.Errorf("%w: unsupported WAV format 0x%04x", ErrDecode, format)
	}

	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: invalid WAV file", ErrDecode)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to decode WAV: %v", ErrDecode, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("%w: WAV has no format information", ErrDecode)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(decoder.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("%w: unsupported WAV bit depth %d", ErrDecode, bitDepth)
	}
	if format == wavFormatFloat && bitDepth != 32 {
		return nil, 0, fmt.Errorf("%w: unsupported float WAV bit depth %d", ErrDecode, bitDepth)
	}

	// 8-bit WAV is unsigned, wider depths are signed.
	scale := float64(int64(1) << (bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}

	// The decoder reads 32-bit samples as int32, so float data keeps its bit
	// pattern.
	sample := func(v int) float64 {
		return (float64(v) - offset) / scale
	}
	if format == wavFormatFloat {
		sample = func(v int) float64 {
			return float64(math.Float32frombits(uint32(int32(v))))
		}
	}

	channels := buf.Format.NumChannels
	numFrames := len(buf.Data) / channels
	samples := make([]float64, numFrames)

	for i := range numFrames {
		sum := 0.0
		for c := range channels {
			sum += sample(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels)
	}

	return samples, buf.Format.SampleRate, nil
}

// Additional samples that go-mp3 produces compared to browser's decoder
// Measured: browser first transient at 48446, go-mp3 at 50735
// LAME header said 1365, so go-mp3 adds: 50735 - 48446 - 1365 = 924 samples
const goMP3DecoderDelay = 924

// Default encoder delay if we can't read it from the LAME header
const defaultEncoderDelay = 576

// readMP3Delay returns the total delay to skip for an MP3 stream.
// Combines LAME encoder delay (from header) + go-mp3 decoder delay.
func readMP3Delay(header []byte) int {
	return readLAMEEncoderDelay(header) + goMP3DecoderDelay
}

// readLAMEEncoderDelay reads the encoder delay from the LAME/Xing header if
// present in the first bytes of the stream.
func readLAMEEncoderDelay(buf []byte) int {
	if len(buf) < 200 {
		return defaultEncoderDelay
	}

	// The LAME header contains encoder delay at offset 21 from "LAME"
	lameIdx := bytes.Index(buf, []byte("LAME"))
	if lameIdx == -1 {
		return defaultEncoderDelay
	}

	delayOffset := lameIdx + 21
	if delayOffset+3 > len(buf) {
		return defaultEncoderDelay
	}

	// Encoder delay is in the upper 12 bits of the 24-bit value
	b := buf[delayOffset : delayOffset+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)

	// Sanity check - delay should be reasonable (typically 576-1152)
	if delay < 0 || delay > 4096 {
		return defaultEncoderDelay
	}

	return delay
}

// decodeMP3Mono decodes an MP3 stream and returns mono samples with the
// encoder and decoder delay removed.
func decodeMP3Mono(r io.Reader, totalDelay int) ([]float64, int, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to create MP3 decoder: %v", ErrDecode, err)
	}

	sampleRate := decoder.SampleRate()

	// 16-bit stereo interleaved
	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to decode MP3: %v", ErrDecode, err)
	}

	numSamplePairs := len(pcmData) / 4
	samples := make([]float64, numSamplePairs)

	for i := range numSamplePairs {
		offset := i * 4
		left := int16(binary.LittleEndian.Uint16(pcmData[offset:]))
		right := int16(binary.LittleEndian.Uint16(pcmData[offset+2:]))

		samples[i] = (float64(left) + float64(right)) / 2.0 / 32768.0
	}

	if len(samples) > totalDelay {
		samples = samples[totalDelay:]
	}

	return samples, sampleRate, nil
}

// resample converts mono samples between sample rates.
func resample(samples []float64, srcRate, dstRate int) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := rs.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample %d Hz to %d Hz: %w", srcRate, dstRate, err)
	}

	// Drain the filter delay line so the end of the clip is not lost.
	tail, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush resampler: %w", err)
	}
	return append(out, tail...), nil
}
