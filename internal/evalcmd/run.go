// Package evalcmd measures spine detection against labeled shelf photos.
package evalcmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/shelfscan/internal/app"
	"github.com/lehigh-university-libraries/shelfscan/internal/config"
	"github.com/lehigh-university-libraries/shelfscan/internal/eval/dataset"
	"github.com/lehigh-university-libraries/shelfscan/internal/eval/metrics"
	"github.com/lehigh-university-libraries/shelfscan/internal/eval/results"
	"github.com/lehigh-university-libraries/shelfscan/internal/images"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

// BookDetector is the part of vision.Detector the runner needs.
type BookDetector interface {
	Detect(ctx context.Context, image []byte, mimeType string) ([]vision.Book, error)
}

type runOptions struct {
	datasetPath  string
	sampleSize   int
	concurrency  int
	outputDir    string
	outputJSON   string
	outputReport string
}

// NewRunCmd creates the run command. load supplies the service configuration.
func NewRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run spine detection over a labeled shelf dataset",
		Long: `Runs the configured vision model over every shelf photo in a dataset and
compares the detected spines with the labeled books.

The dataset is JSONL or Parquet with one shelf per row:
  {"id": "shelf-1", "image_path": "images/shelf-1.jpg", "books": [{"title": "Dune", "author": "Frank Herbert"}]}

Relative image paths resolve against the dataset's directory; http(s) URLs are downloaded.`,
		Example: `  # Evaluate 10 shelves with the configured provider
  shelfscan eval run --dataset ./shelves/labels.jsonl --sample 10

  # Evaluate everything with Ollama, four shelves at a time
  SHELFSCAN_LLM_PROVIDER=ollama shelfscan eval run --dataset ./shelves/labels.parquet --sample -1 --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.datasetPath); err != nil {
				return fmt.Errorf("dataset file not found: %s", opts.datasetPath)
			}
			cfg, err := load()
			if err != nil {
				return err
			}

			provider, closeFn, err := app.NewProvider(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			detector := vision.NewDetector(provider, cfg.LLM.VisionModel, cfg.LLM.Temperature)
			return executeRun(cmd.Context(), cfg, detector, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.datasetPath, "dataset", "", "Path to the labeled shelf dataset (.jsonl or .parquet)")
	cmd.Flags().IntVar(&opts.sampleSize, "sample", 10, "Number of shelves to evaluate (-1 for all)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 2, "Shelves processed in parallel")
	cmd.Flags().StringVar(&opts.outputDir, "output", "evals", "Directory for the YAML results")
	cmd.Flags().StringVar(&opts.outputJSON, "output-json", "", "Optional path for full JSON results")
	cmd.Flags().StringVar(&opts.outputReport, "output-report", "", "Optional path for a detailed text report")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func executeRun(ctx context.Context, cfg *config.Config, detector BookDetector, opts runOptions, out io.Writer) error {
	slog.Info("Starting evaluation run", "dataset", opts.datasetPath, "provider", cfg.LLM.Provider, "model", cfg.LLM.VisionModel)

	loader := dataset.NewLoader(opts.datasetPath)
	records, err := loader.LoadSample(opts.sampleSize)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("dataset %s has no shelves", opts.datasetPath)
	}
	slog.Info("Dataset loaded", "shelves", len(records))

	if opts.concurrency < 1 {
		opts.concurrency = 1
	}
	r := &runner{
		detector: detector,
		fetcher:  images.NewFetcher(),
		baseDir:  loader.Dir(),
		maxBytes: cfg.Pipeline.MaxUploadBytes,
		timeout:  cfg.Pipeline.DetectionTimeout,
	}

	evalResults := make([]metrics.EvaluationResult, len(records))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, opts.concurrency)
	for i, record := range records {
		wg.Add(1)
		go func(idx int, record dataset.ShelfRecord) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			slog.Info("Processing shelf", "id", record.ID, "progress", fmt.Sprintf("%d/%d", idx+1, len(records)))
			evalResults[idx] = r.evaluate(ctx, record)
		}(i, record)
	}
	wg.Wait()

	agg := metrics.AggregateEvaluationResults(evalResults, cfg.LLM.Provider, cfg.LLM.VisionModel)
	agg.PrintSummary(out)

	path, err := results.SaveToYAML(opts.outputDir, results.EvalConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.VisionModel,
		Temperature: cfg.LLM.Temperature,
		DatasetPath: opts.datasetPath,
		SampleSize:  len(records),
	}, agg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nResults saved to: %s\n", path)

	if opts.outputJSON != "" {
		if err := agg.SaveToJSON(opts.outputJSON); err != nil {
			return err
		}
	}
	if opts.outputReport != "" {
		if err := agg.SaveDetailedReport(opts.outputReport); err != nil {
			return err
		}
	}
	return nil
}

type runner struct {
	detector BookDetector
	fetcher  *images.Fetcher
	baseDir  string
	maxBytes int64
	timeout  time.Duration
}

func (r *runner) evaluate(ctx context.Context, record dataset.ShelfRecord) (result metrics.EvaluationResult) {
	result = metrics.EvaluationResult{
		ShelfID:   record.ID,
		ImagePath: record.ResolveImage(r.baseDir),
	}
	start := time.Now()
	defer func() { result.ProcessingTime = time.Since(start) }()

	data, err := r.readImage(ctx, record)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read image: %v", err)
		return result
	}
	info, err := images.Inspect(data)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	books, err := r.detector.Detect(ctx, data, info.MIMEType)
	if err != nil {
		slog.Warn("Detection failed", "id", record.ID, "err", err)
		result.Error = fmt.Sprintf("detection failed: %v", err)
		return result
	}

	result.Detected = books
	result.Comparison = metrics.CompareShelf(record.Books, books)
	slog.Debug("Shelf evaluated", "id", record.ID, "result", result.Comparison.String())
	return result
}

func (r *runner) readImage(ctx context.Context, record dataset.ShelfRecord) ([]byte, error) {
	location := record.ResolveImage(r.baseDir)
	if location == "" {
		return nil, fmt.Errorf("shelf %s has no image_path", record.ID)
	}
	if record.IsRemote() {
		return r.fetcher.Fetch(ctx, location, r.maxBytes)
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return images.Read(f, r.maxBytes)
}
