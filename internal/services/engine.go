package services

import (
	"context"
	"sync"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/extraction"
	"event-extraction-engine/internal/imaging"
	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/venue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EngineOptions select which optional collaborators NewEngine wires
type EngineOptions struct {
	// Registerer receives the Prometheus collectors; nil skips registration
	Registerer prometheus.Registerer
	// UseAWS loads venues from DynamoDB and stores results in S3
	UseAWS bool
}

// Engine ties fetching, extraction, metrics and persistence together for the
// entry points
type Engine struct {
	cfg      *config.Config
	fetcher  *Fetcher
	pipeline *extraction.Pipeline
	resolver *venue.Resolver
	metrics  *ExtractionMetrics
	sink     *RecordSink
	venues   *VenueStore
	logger   *zap.Logger
}

// PageOutcome is the per-URL result of a batch run
type PageOutcome struct {
	URL    string                   `json:"url"`
	Result *models.ExtractionResult `json:"result,omitempty"`
	Upload *S3UploadResult          `json:"upload,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// NewEngine builds the full extraction stack from cfg
func NewEngine(ctx context.Context, cfg *config.Config, opts EngineOptions, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	records := make(map[string]models.VenueRecord)
	if cfg.Venue.RegistryFile != "" {
		fromFile, err := venue.LoadRegistryFile(cfg.Venue.RegistryFile)
		if err != nil {
			return nil, err
		}
		for name, record := range fromFile {
			records[name] = record
		}
	}

	var (
		sink   *RecordSink
		venues *VenueStore
	)
	if opts.UseAWS {
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		if cfg.AWS.VenueTable != "" {
			venues = NewVenueStoreFromConfig(awsCfg, cfg.AWS.VenueTable, logger)
			stored, err := venues.LoadVenues(ctx)
			if err != nil {
				// the file registry and the intelligent default still work without the table
				logger.Warn("venue table unavailable", zap.String("table", cfg.AWS.VenueTable), zap.Error(err))
			}
			for name, record := range stored {
				if _, exists := records[name]; !exists {
					records[name] = record
				}
			}
		}
		if cfg.AWS.BucketName != "" {
			sink = NewRecordSink(awsCfg, cfg.AWS, logger)
		}
	}

	metrics, err := NewExtractionMetrics(opts.Registerer, cfg.Pipeline.MinConfidence, logger)
	if err != nil {
		return nil, err
	}

	resolver := venue.NewResolver(venue.NewRegistry(records), cfg.Venue, logger)
	selector := imaging.NewSelector(imaging.NewHTTPProber(cfg.Images, logger), cfg.Images.Heuristics, logger)

	deps := extraction.Deps{
		Resolver:   resolver,
		Selector:   selector,
		Categories: extraction.NewKeywordCategoryMapper(nil),
		Observer:   metrics,
	}
	if cfg.OCR.Enabled {
		ocr, err := NewOpenAIOCR(cfg.OCR, logger)
		if err != nil {
			logger.Warn("OCR disabled", zap.Error(err))
		} else {
			deps.OCR = ocr
		}
	}

	logger.Info("engine ready",
		zap.Int("venues", resolver.Registry().Len()),
		zap.Bool("ocr", deps.OCR != nil),
		zap.Bool("sink", sink != nil),
		zap.String("heuristics", selector.HeuristicsVersion()),
	)

	return &Engine{
		cfg:      cfg,
		fetcher:  NewFetcher(cfg.Fetch, logger),
		pipeline: extraction.NewDefault(cfg, deps, logger),
		resolver: resolver,
		metrics:  metrics,
		sink:     sink,
		venues:   venues,
		logger:   logger.Named("engine"),
	}, nil
}

// WithFetcher swaps the page fetcher, mainly for tests
func (e *Engine) WithFetcher(f *Fetcher) *Engine {
	e.fetcher = f
	return e
}

// WithSink sets where accepted results are stored
func (e *Engine) WithSink(s *RecordSink) *Engine {
	e.sink = s
	return e
}

// WithVenueStore sets where learned venues are persisted
func (e *Engine) WithVenueStore(v *VenueStore) *Engine {
	e.venues = v
	return e
}

// Venues returns the configured venue store, nil when none is set
func (e *Engine) Venues() *VenueStore {
	return e.venues
}

// LearnVenue makes record visible to later extractions in this process.
// It reports false when the venue is already known or lacks an address.
func (e *Engine) LearnVenue(record models.VenueRecord) bool {
	return e.resolver.Learn(record)
}

// Metrics returns the engine's metrics sink
func (e *Engine) Metrics() *ExtractionMetrics {
	return e.metrics
}

// Extract fetches and extracts one page. Results at or above MinConfidence are
// stored when a sink is configured; a storage failure is logged, not returned.
func (e *Engine) Extract(ctx context.Context, pageURL string) (*models.ExtractionResult, *S3UploadResult, error) {
	doc, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		e.metrics.RecordFailure(pageURL, err)
		return nil, nil, eris.Wrapf(err, "failed to fetch %s", pageURL)
	}

	result, err := e.pipeline.Run(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	e.metrics.RecordResult(result)

	if e.sink == nil || !result.Acceptable(e.cfg.Pipeline.MinConfidence) {
		return result, nil, nil
	}
	upload, err := e.sink.Put(ctx, result)
	if err != nil {
		e.logger.Warn("failed to store result", zap.String("url", pageURL), zap.Error(err))
		return result, nil, nil
	}
	return result, upload, nil
}

// ExtractBatch processes urls with at most maxConcurrency pages in flight.
// Outcomes keep the input order.
func (e *Engine) ExtractBatch(ctx context.Context, urls []string, maxConcurrency int) []PageOutcome {
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}

	var wg sync.WaitGroup
	outcomes := make([]PageOutcome, len(urls))
	semaphore := make(chan struct{}, maxConcurrency)

	for i, pageURL := range urls {
		wg.Add(1)
		go func(index int, u string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			outcome := PageOutcome{URL: u}
			result, upload, err := e.Extract(ctx, u)
			if err != nil {
				outcome.Error = err.Error()
			}
			outcome.Result = result
			outcome.Upload = upload
			outcomes[index] = outcome
		}(i, pageURL)
	}

	wg.Wait()
	return outcomes
}

// Flush persists venues learned during this session when a venue store is configured
func (e *Engine) Flush(ctx context.Context) error {
	if e.venues == nil || !e.cfg.Pipeline.LearnVenues {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := e.venues.SaveLearned(ctx, e.resolver.Registry())
	return err
}
