package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paletteops/tokenflow/agent"
	"github.com/paletteops/tokenflow/aggregate"
	"github.com/paletteops/tokenflow/config"
	"github.com/paletteops/tokenflow/observability"
	"github.com/paletteops/tokenflow/pipeline"
	"github.com/paletteops/tokenflow/pool"
	"github.com/paletteops/tokenflow/spacing"
	"github.com/paletteops/tokenflow/token"
)

var (
	configFile  = flag.String("config", "", "Path to tokenflow configuration YAML file")
	metricsAddr = flag.String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	verbose     = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(observability.MetricsConfig{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: cfg.Metrics.Subsystem,
		})
	}
	if *metricsAddr != "" && metrics != nil {
		go serveMetrics(logger, *metricsAddr, metrics)
	}

	var err error
	switch args[0] {
	case "aggregate":
		err = runAggregate(cfg, logger, os.Stdout, args[1:])
	case "run":
		err = runPipeline(ctx, cfg, logger, metrics, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: tokenflow [flags] <command>

Commands:
  aggregate <dump.json>...   Merge per-image extraction dumps into one token library
  run <image-url>...         Run the full pipeline against the given image URLs

Flags:`)
	flag.PrintDefaults()
}

func serveMetrics(logger *slog.Logger, addr string, metrics *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// runAggregate merges extraction dumps without running the pipeline.
// Each file holds one image's token results as a JSON array; the file's
// position supplies the image identity for provenance.
func runAggregate(cfg *config.Config, logger *slog.Logger, w io.Writer, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("aggregate requires at least one dump file")
	}

	batches := make([][]token.TokenResult, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("reading dump %s: %w", f, err)
		}
		var tokens []token.TokenResult
		if err := json.Unmarshal(data, &tokens); err != nil {
			return fmt.Errorf("parsing dump %s: %w", f, err)
		}
		batches = append(batches, tokens)
	}

	colorCfg := cfg.ColorSettings()
	colorCfg.Logger = logger
	spacingCfg := cfg.SpacingSettings()
	spacingCfg.Logger = logger

	colors, err := aggregate.NewEngine(colorCfg).Aggregate(splitByType(batches, token.TypeColor))
	if err != nil {
		return fmt.Errorf("aggregating colors: %w", err)
	}
	spacings, err := spacing.NewEngine(spacingCfg).Aggregate(splitByType(batches, token.TypeSpacing))
	if err != nil {
		return fmt.Errorf("aggregating spacing: %w", err)
	}

	out := struct {
		Colors  *aggregate.Library `json:"colors"`
		Spacing *spacing.Result    `json:"spacing"`
	}{colors, spacings}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func splitByType(batches [][]token.TokenResult, tt token.TokenType) [][]token.TokenResult {
	out := make([][]token.TokenResult, len(batches))
	for i, batch := range batches {
		for _, tok := range batch {
			if tok.Type == tt {
				out[i] = append(out[i], tok)
			}
		}
	}
	return out
}

// runPipeline executes the full five-stage pipeline. Without real
// vision backends configured it wires the built-in sample extractors,
// which is enough to exercise every stage end to end.
func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("run requires at least one image URL")
	}

	extractors := []agent.Agent{
		agent.WithRetry(agent.NewExtractionAgent("colors", agent.SampleColorExtractor{}), cfg.RetrySettings()),
		agent.WithRetry(agent.NewExtractionAgent("spacing", agent.SampleSpacingExtractor{}), cfg.RetrySettings()),
	}

	coordinator, err := pipeline.New(pipeline.Config{
		FailOnPartialExtraction: cfg.Pipeline.FailOnPartialExtraction,
		StageTimeout:            cfg.Pipeline.StageTimeout.Std(),
		ExtractTimeout:          cfg.Pipeline.ExtractTimeout.Std(),
		Breaker:                 cfg.BreakerSettings(),
	}, pipeline.Deps{
		Extractors: extractors,
		Pool:       pool.New(cfg.Pipeline.PoolSize, pool.WithLogger(logger)),
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	tasks := make([]token.PipelineTask, 0, len(urls))
	for _, url := range urls {
		task, err := token.NewTask(url, []token.TokenType{token.TypeColor, token.TypeSpacing})
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	results := coordinator.ExecuteBatch(ctx, tasks, cfg.Pipeline.MaxParallelTasks)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	for _, r := range results {
		if !r.Success {
			return fmt.Errorf("task %s failed: %v", r.TaskID, r.Errors)
		}
	}
	return nil
}
