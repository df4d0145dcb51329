package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/services"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type options struct {
	configPath     string
	envFile        string
	useAWS         bool
	noOCR          bool
	verbose        bool
	maxConcurrency int
	urls           []string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("extractor", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	fs.StringVar(&opts.envFile, "env", ".env", "dotenv file to load before reading the environment")
	fs.BoolVar(&opts.useAWS, "aws", false, "load venues from DynamoDB and store accepted results in S3")
	fs.BoolVar(&opts.noOCR, "no-ocr", false, "disable the OCR layer")
	fs.BoolVar(&opts.verbose, "v", false, "log at debug level")
	fs.IntVar(&opts.maxConcurrency, "concurrency", 3, "pages extracted in parallel")
	url := fs.String("url", "", "page to extract (positional arguments add more)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if *url != "" {
		opts.urls = append(opts.urls, *url)
	}
	opts.urls = append(opts.urls, fs.Args()...)
	if len(opts.urls) == 0 {
		return opts, eris.New("at least one URL is required")
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(err, "failed to load %s", opts.envFile)
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if opts.noOCR {
		cfg.OCR.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	// stdout carries the JSON results
	zc.OutputPaths = []string{"stderr"}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return eris.Wrap(err, "failed to build logger")
	}
	defer logger.Sync()

	engine, err := services.NewEngine(ctx, cfg, services.EngineOptions{UseAWS: opts.useAWS}, logger)
	if err != nil {
		return err
	}

	outcomes := engine.ExtractBatch(ctx, opts.urls, opts.maxConcurrency)
	if err := engine.Flush(ctx); err != nil {
		logger.Warn("failed to persist learned venues", zap.Error(err))
	}
	engine.Metrics().LogMetricsSummary()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	var payload interface{} = outcomes
	if len(outcomes) == 1 {
		payload = outcomes[0]
	}
	if err := enc.Encode(payload); err != nil {
		return eris.Wrap(err, "failed to write results")
	}

	if failed := countFailed(outcomes); failed > 0 {
		return eris.Errorf("%d of %d pages failed", failed, len(outcomes))
	}
	return nil
}

func countFailed(outcomes []services.PageOutcome) int {
	n := 0
	for _, outcome := range outcomes {
		if outcome.Error != "" {
			n++
		}
	}
	return n
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "extractor:", err)
		os.Exit(1)
	}
}
