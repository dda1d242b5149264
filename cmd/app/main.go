// CLI for music genre classification and the upload server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nzoschke/genrelab/pkg/analysis"
	"github.com/nzoschke/genrelab/pkg/config"
	"github.com/nzoschke/genrelab/pkg/logging"
	"github.com/nzoschke/genrelab/pkg/playlist"
	"github.com/nzoschke/genrelab/pkg/server"
)

var (
	configPath string
	backend    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "app",
	Short:         "Music genre classification",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <file|directory>",
	Short: "Classify an audio file, or create .genre.json sidecars for a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runClassify(cmd.Context(), args[0], force, asJSON)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload and playlist web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServe(cmd.Context(), addr)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert <model.keras> <model.onnx>",
	Short: "Convert a trained Keras genre model to ONNX",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opset, _ := cmd.Flags().GetInt("opset")
		verify, _ := cmd.Flags().GetBool("verify")
		return runConvert(cmd.Context(), args[0], args[1], opset, verify)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Model backend: onnx, tensorflow or constant (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	classifyCmd.Flags().BoolP("force", "f", false, "Force re-classification even if JSON exists")
	classifyCmd.Flags().Bool("json", false, "Print the prediction as JSON")
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	convertCmd.Flags().Int("opset", 13, "ONNX opset version")
	convertCmd.Flags().Bool("verify", true, "Run a test inference on the converted model")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(convertCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, logger and the classification pipeline.
func setup() (config.Config, *zap.Logger, *analysis.Pipeline, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, nil, nil, err
	}
	if backend != "" {
		cfg.Model.Backend = backend
	}

	log, err := logging.New(debug)
	if err != nil {
		return cfg, nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	classifier, closeClassifier, err := newClassifier(cfg.Model, cfg.Spectrogram.ResizeDim)
	if err != nil {
		return cfg, nil, nil, nil, fmt.Errorf("load model: %w", err)
	}

	pipe, err := analysis.NewPipeline(cfg, classifier, log)
	if err != nil {
		closeClassifier()
		return cfg, nil, nil, nil, err
	}

	cleanup := func() {
		closeClassifier()
		_ = log.Sync()
	}
	return cfg, log, pipe, cleanup, nil
}

// newClassifier builds the configured model backend.
func newClassifier(m config.Model, size int) (analysis.Classifier, func(), error) {
	numClasses := len(m.Labels)

	switch m.Backend {
	case "onnx":
		c, err := analysis.NewONNXClassifier(m.Path, m.InputName, m.OutputName, size, numClasses)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	case "tensorflow":
		c, err := analysis.NewTFClassifier(m.Path, m.InputName, m.OutputName, size, numClasses)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	case "constant":
		return analysis.NewUniformClassifier(numClasses), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown model backend %q", m.Backend)
	}
}

func runClassify(ctx context.Context, path string, force, asJSON bool) error {
	_, _, pipe, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return pipe.ClassifyDir(ctx, path, force)
	}

	pred, err := pipe.ClassifyFile(ctx, path)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(&analysis.TrackPrediction{File: path, Prediction: pred})
	}

	printPrediction(path, pred)
	return nil
}

func printPrediction(path string, pred *analysis.Prediction) {
	fmt.Printf("%s: %s (%.1f%%)\n", path, pred.Genre, pred.Confidence*100)

	labels := make([]string, 0, len(pred.Scores))
	for label := range pred.Scores {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return pred.Scores[labels[i]] > pred.Scores[labels[j]]
	})
	for _, label := range labels {
		fmt.Printf("  %-10s %6.2f%%\n", label, pred.Scores[label]*100)
	}

	fmt.Printf("  chunks: %d used, %d skipped\n", pred.ChunksUsed, pred.ChunksSkipped)
	for _, flag := range pred.Flags {
		fmt.Printf("  warning: %s\n", flag)
	}
}

func runServe(ctx context.Context, addr string) error {
	cfg, log, pipe, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if addr != "" {
		cfg.Server.Addr = addr
	}

	store, err := playlist.NewStore(cfg.Server.PlaylistPath)
	if err != nil {
		return fmt.Errorf("open playlists: %w", err)
	}

	srv, err := server.New(cfg.Server, pipe, store, log)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func runConvert(ctx context.Context, kerasPath, onnxPath string, opset int, verify bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	size := cfg.Spectrogram.ResizeDim

	if err := analysis.ConvertKerasToONNX(ctx, kerasPath, onnxPath, size, opset); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", onnxPath)

	if !verify {
		return nil
	}

	info, err := analysis.VerifyONNX(ctx, onnxPath, size)
	if err != nil {
		return err
	}
	fmt.Printf("inputs: %v\noutputs: %v\noutput shapes: %v\n", info.Inputs, info.Outputs, info.OutputShapes)
	return nil
}
