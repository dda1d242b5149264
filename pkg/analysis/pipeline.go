package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nzoschke/genrelab/pkg/config"
)

// Pipeline runs audio through chunking, feature extraction, inference and
// aggregation. A Pipeline is safe for concurrent use; each call owns its
// waveform, chunks and spectrograms.
type Pipeline struct {
	cfg        config.Config
	loader     *Loader
	engine     *SpectrogramEngine
	classifier Classifier
	labels     []string
	thresholds Thresholds
	workers    int
	log        *zap.Logger
}

// NewPipeline validates cfg and prepares the shared, read-only pipeline
// state. A nil logger disables logging.
func NewPipeline(cfg config.Config, classifier Classifier, log *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Pipeline{
		cfg:        cfg,
		loader:     NewLoader(cfg.Audio.SampleRate, cfg.TargetSamples()),
		engine:     NewSpectrogramEngine(cfg),
		classifier: classifier,
		labels:     append([]string(nil), cfg.Model.Labels...),
		thresholds: Thresholds{
			HighConfidence: cfg.Diagnostics.HighConfidence,
			LowStdDev:      cfg.Diagnostics.LowStdDev,
		},
		workers: cfg.NumWorkers(),
		log:     log,
	}, nil
}

// ClassifyFile loads and classifies the audio file at path.
func (p *Pipeline) ClassifyFile(ctx context.Context, path string) (*Prediction, error) {
	p.log.Info("processing audio file", zap.String("path", path))

	w, err := p.loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return p.ClassifyWaveform(ctx, w)
}

// ClassifyReader decodes and classifies an audio stream.
func (p *Pipeline) ClassifyReader(ctx context.Context, r io.ReadSeeker) (*Prediction, error) {
	w, err := p.loader.Decode(r)
	if err != nil {
		return nil, err
	}
	return p.ClassifyWaveform(ctx, w)
}

// ClassifyWaveform classifies a waveform already at the pipeline's sample
// rate. Chunks run in parallel. If ctx ends early, chunks that have not
// started are skipped and the remaining results are still aggregated.
func (p *Pipeline) ClassifyWaveform(ctx context.Context, w *Waveform) (*Prediction, error) {
	if w.SampleRate != p.cfg.Audio.SampleRate {
		return nil, fmt.Errorf("waveform sample rate %d Hz does not match %d Hz", w.SampleRate, p.cfg.Audio.SampleRate)
	}

	chunks, err := SplitChunks(w.Samples, p.cfg.ChunkSamples(), p.cfg.HopSamples())
	if err != nil {
		return nil, err
	}
	p.log.Debug("split waveform",
		zap.Int("samples", len(w.Samples)),
		zap.Int("chunks", len(chunks)),
	)

	results := p.runChunks(ctx, chunks)

	pred, err := Aggregate(results, p.labels)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, err
	}

	pred.Flags = Diagnose(pred.Probs, p.thresholds)
	p.logDiagnostics(pred)

	p.log.Info("predicted genre",
		zap.String("genre", pred.Genre),
		zap.Float64("confidence", pred.Confidence),
		zap.Int("chunks_used", pred.ChunksUsed),
		zap.Int("chunks_skipped", pred.ChunksSkipped),
	)
	return pred, nil
}

// runChunks processes chunks on a bounded worker pool. Each result lands at
// its chunk's index; nothing is reduced until every chunk has reported.
func (p *Pipeline) runChunks(ctx context.Context, chunks []Chunk) []ChunkResult {
	results := make([]ChunkResult, len(chunks))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range min(p.workers, len(chunks)) {
		wg.Go(func() {
			for i := range jobs {
				results[i] = p.processChunk(chunks[i])
			}
		})
	}

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			results[i] = ChunkResult{Index: chunks[i].Index, Err: err}
			continue
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			results[i] = ChunkResult{Index: chunks[i].Index, Err: ctx.Err()}
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

// processChunk extracts features for one chunk and runs inference on them.
// Failures are returned in the result, never propagated.
func (p *Pipeline) processChunk(c Chunk) ChunkResult {
	log := p.log.With(zap.Int("chunk", c.Index), zap.Int("offset", c.Offset))

	spec, err := p.engine.Compute(c.Samples)
	if err != nil {
		log.Warn("skipping chunk: feature extraction failed", zap.Error(err))
		return ChunkResult{Index: c.Index, Err: err}
	}

	lo, hi := spec.MinMax()
	normalized := Normalize(spec)
	if ce := log.Check(zap.DebugLevel, "normalized spectrogram"); ce != nil {
		ce.Write(
			zap.Float64("min_db", lo),
			zap.Float64("max_db", hi),
			zap.Float64("mean", normalized.Mean()),
			zap.Bool("flat", !(hi > lo)),
		)
	}

	probs, err := p.predict(normalized)
	if err != nil {
		log.Warn("skipping chunk: inference failed", zap.Error(err))
		return ChunkResult{Index: c.Index, Err: err}
	}

	return ChunkResult{Index: c.Index, Probs: probs}
}

// predict runs the classifier, turning panics and malformed outputs into
// errors.
func (p *Pipeline) predict(spec Spectrogram) (probs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			probs, err = nil, fmt.Errorf("classifier panic: %v", r)
		}
	}()

	probs, err = p.classifier.Predict(spec)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return normalizeProbs(probs, len(p.labels))
}

func (p *Pipeline) logDiagnostics(pred *Prediction) {
	for _, flag := range pred.Flags {
		switch flag {
		case FlagHighConfidence:
			p.log.Warn("prediction confidence is very high, the model or preprocessing may be biased",
				zap.String("genre", pred.Genre),
				zap.Float64("confidence", pred.Confidence),
			)
		case FlagLowDiscrimination:
			p.log.Warn("prediction spread is low, the model may not be discriminating between classes",
				zap.Float64s("probs", pred.Probs),
			)
		}
	}
}

// TrackPrediction is the JSON sidecar written next to a classified file.
type TrackPrediction struct {
	File string `json:"file"`
	*Prediction
}

// WriteJSON writes the prediction to a JSON file.
func (tp *TrackPrediction) WriteJSON(path string) error {
	data, err := json.MarshalIndent(tp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SidecarPath returns the JSON sidecar path for an audio file.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".genre.json"
}

// ClassifyDir recursively classifies all supported audio files in dir.
// For each audio file, it creates a corresponding .genre.json sidecar file.
// If force is true, existing sidecars are overwritten.
func (p *Pipeline) ClassifyDir(ctx context.Context, dir string, force bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsSupportedAudio(filepath.Ext(path)) {
			return nil
		}

		log := p.log.With(zap.String("file", filepath.Base(path)))

		jsonPath := SidecarPath(path)
		if !force {
			if _, err := os.Stat(jsonPath); err == nil {
				log.Info("skipping, already classified")
				return nil
			}
		}

		pred, err := p.ClassifyFile(ctx, path)
		if err != nil {
			log.Error("classification failed", zap.Error(err))
			return nil // Continue with other files
		}

		tp := &TrackPrediction{File: filepath.Base(path), Prediction: pred}
		if err := tp.WriteJSON(jsonPath); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		return nil
	})
}

// IsSupportedAudio returns true if the file extension is a supported audio format.
func IsSupportedAudio(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp3", ".wav":
		return true
	default:
		return false
	}
}
