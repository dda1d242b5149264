// Package config holds the pipeline, model and server settings.
//
// The audio and spectrogram values must match the configuration the genre
// classifier was trained with. Changing any of SampleRate, Duration, FFTSize,
// HopLength, NumMels or ResizeDim without retraining makes predictions
// meaningless.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/goccy/go-yaml"
)

// Config is the root configuration.
type Config struct {
	Audio       Audio       `yaml:"audio"`
	Chunk       Chunk       `yaml:"chunk"`
	Spectrogram Spectrogram `yaml:"spectrogram"`
	Model       Model       `yaml:"model"`
	Diagnostics Diagnostics `yaml:"diagnostics"`
	Server      Server      `yaml:"server"`

	// Workers bounds per-request chunk parallelism. Zero means NumCPU.
	Workers int `yaml:"workers"`
}

// Audio controls how uploads are decoded into a fixed-length waveform.
type Audio struct {
	SampleRate int     `yaml:"sample_rate"` // Hz
	Duration   float64 `yaml:"duration"`    // seconds, clips are trimmed or zero padded
}

// Chunk controls the overlapping windows fed to the classifier.
type Chunk struct {
	Duration float64 `yaml:"duration"` // seconds per chunk
	Overlap  float64 `yaml:"overlap"`  // seconds shared by neighbouring chunks
}

// Spectrogram holds the mel spectrogram parameters.
type Spectrogram struct {
	FFTSize   int     `yaml:"fft_size"`
	HopLength int     `yaml:"hop_length"`
	NumMels   int     `yaml:"num_mels"`
	ResizeDim int     `yaml:"resize_dim"`
	TopDB     float64 `yaml:"top_db"`
}

// Model describes the trained classifier.
type Model struct {
	Backend    string   `yaml:"backend"` // onnx, tensorflow or constant
	Path       string   `yaml:"path"`
	InputName  string   `yaml:"input_name"`  // optional, discovered when empty
	OutputName string   `yaml:"output_name"` // optional, discovered when empty
	Labels     []string `yaml:"labels"`
}

// Diagnostics holds the advisory thresholds applied to aggregated predictions.
type Diagnostics struct {
	HighConfidence float64 `yaml:"high_confidence"`
	LowStdDev      float64 `yaml:"low_std_dev"`
}

// Server configures the HTTP upload service.
type Server struct {
	Addr           string `yaml:"addr"`
	UploadDir      string `yaml:"upload_dir"`
	PlaylistPath   string `yaml:"playlist_path"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// GTZANGenres is the label order of the GTZAN-trained model.
var GTZANGenres = []string{
	"blues",
	"classical",
	"country",
	"disco",
	"hiphop",
	"jazz",
	"metal",
	"pop",
	"reggae",
	"rock",
}

// Default returns the configuration the bundled model was trained with.
func Default() Config {
	return Config{
		Audio: Audio{
			SampleRate: 22050,
			Duration:   30,
		},
		Chunk: Chunk{
			Duration: 4,
			Overlap:  2,
		},
		Spectrogram: Spectrogram{
			FFTSize:   2048,
			HopLength: 512,
			NumMels:   128,
			ResizeDim: 128,
			TopDB:     80,
		},
		Model: Model{
			Backend: "onnx",
			Path:    "model/genre_cnn.onnx",
			Labels:  append([]string(nil), GTZANGenres...),
		},
		Diagnostics: Diagnostics{
			HighConfidence: 0.95,
			LowStdDev:      0.1,
		},
		Server: Server{
			Addr:           ":5001",
			UploadDir:      "uploads",
			PlaylistPath:   "uploads/playlists.json",
			MaxUploadBytes: 16 << 20,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the settings are mutually consistent.
func (c Config) Validate() error {
	var errs []error

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Duration <= 0 {
		errs = append(errs, fmt.Errorf("audio.duration must be positive, got %g", c.Audio.Duration))
	}
	if c.Chunk.Duration <= 0 {
		errs = append(errs, fmt.Errorf("chunk.duration must be positive, got %g", c.Chunk.Duration))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Duration {
		errs = append(errs, fmt.Errorf("chunk.overlap must be in [0, %g), got %g", c.Chunk.Duration, c.Chunk.Overlap))
	}
	if c.Spectrogram.FFTSize <= 0 || c.Spectrogram.HopLength <= 0 {
		errs = append(errs, errors.New("spectrogram.fft_size and spectrogram.hop_length must be positive"))
	}
	if c.Spectrogram.NumMels <= 0 || c.Spectrogram.ResizeDim <= 0 {
		errs = append(errs, errors.New("spectrogram.num_mels and spectrogram.resize_dim must be positive"))
	}
	if c.Spectrogram.TopDB < 0 {
		errs = append(errs, fmt.Errorf("spectrogram.top_db must not be negative, got %g", c.Spectrogram.TopDB))
	}
	if len(c.Model.Labels) == 0 {
		errs = append(errs, errors.New("model.labels must not be empty"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}

	return errors.Join(errs...)
}

// TargetSamples is the fixed waveform length after trim/pad.
func (c Config) TargetSamples() int {
	return int(c.Audio.Duration * float64(c.Audio.SampleRate))
}

// ChunkSamples is the length of one classifier window.
func (c Config) ChunkSamples() int {
	return int(c.Chunk.Duration * float64(c.Audio.SampleRate))
}

// HopSamples is the offset between consecutive chunk starts.
func (c Config) HopSamples() int {
	return int((c.Chunk.Duration - c.Chunk.Overlap) * float64(c.Audio.SampleRate))
}

// NumWorkers resolves the worker pool size.
func (c Config) NumWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
