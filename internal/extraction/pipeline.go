package extraction

import (
	"context"
	"math"
	"sort"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/imaging"
	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"
	"event-extraction-engine/internal/venue"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs the extraction layers for one page at a time. A single Pipeline
// is safe for concurrent use across pages.
type Pipeline struct {
	cfg      config.Pipeline
	merger   *Merger
	parallel []Layer
	serial   []Layer
	ocr      Layer
	resolver *venue.Resolver
	defaults DefaultProvider
	observer Observer
	now      func() time.Time
	logger   *zap.Logger
}

// New builds a pipeline from explicit layers. Layers 1 and 2 run concurrently,
// the rest in ascending id order, with the OCR layer last and conditional.
func New(cfg config.Pipeline, merger *Merger, layers []Layer, logger *zap.Logger) *Pipeline {
	if merger == nil {
		merger = NewMerger(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{cfg: cfg, merger: merger, now: time.Now, logger: logger.Named("pipeline")}

	sorted := append([]Layer(nil), layers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })
	for _, layer := range sorted {
		switch id := layer.ID(); {
		case id == models.LayerOCR:
			p.ocr = layer
		case id <= models.LayerMetaTags:
			p.parallel = append(p.parallel, layer)
		default:
			p.serial = append(p.serial, layer)
		}
	}
	return p
}

// WithResolver enables venue/address post-processing of the merged record
func (p *Pipeline) WithResolver(r *venue.Resolver) *Pipeline {
	p.resolver = r
	return p
}

// WithDefaults enables the explicit post-merge default step
func (p *Pipeline) WithDefaults(d DefaultProvider) *Pipeline {
	p.defaults = d
	return p
}

// WithObserver registers a per-layer completion hook
func (p *Pipeline) WithObserver(o Observer) *Pipeline {
	p.observer = o
	return p
}

// WithClock replaces the wall clock used for timestamps
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	if now != nil {
		p.now = now
	}
	return p
}

// Deps are the collaborators of the standard six-layer pipeline. Every field is optional.
type Deps struct {
	Resolver   *venue.Resolver
	Selector   *imaging.Selector
	OCR        OCR
	Categories CategoryMapper
	Defaults   DefaultProvider
	Observer   Observer
	Now        func() time.Time
}

// StandardLayers builds layers 1-5 and, when an OCR collaborator is enabled, layer 6
func StandardLayers(cfg *config.Config, deps Deps, logger *zap.Logger) []Layer {
	layers := []Layer{
		NewStructuredDataLayer(),
		NewMetaTagLayer(),
		NewSemanticHTMLLayer(deps.Now),
		NewTextPatternLayer(deps.Now),
		NewHeuristicLayer(deps.Selector, deps.Categories),
	}
	if deps.OCR != nil && cfg.OCR.Enabled {
		layers = append(layers, NewOCRLayer(deps.OCR, deps.Selector, cfg.Pipeline.MaxFlyerImages, deps.Now, logger))
	}
	return layers
}

// NewDefault wires the standard layers, merger weights and post-merge steps from cfg
func NewDefault(cfg *config.Config, deps Deps, logger *zap.Logger) *Pipeline {
	p := New(cfg.Pipeline, NewMerger(cfg.Merge.FieldWeights), StandardLayers(cfg, deps, logger), logger).
		WithResolver(deps.Resolver).
		WithObserver(deps.Observer).
		WithClock(deps.Now)

	defaults := deps.Defaults
	if defaults == nil && len(cfg.Venue.DefaultAddrs) > 0 {
		defaults = NewVenueDefaults(cfg.Venue.DefaultAddrs)
	}
	return p.WithDefaults(defaults)
}

// Run extracts one event record from the page. Layer failures and timeouts only
// reduce what the record contains; the returned error is non-nil only when ctx
// is cancelled by the caller.
func (p *Pipeline) Run(ctx context.Context, acc page.Accessor) (*models.ExtractionResult, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "extraction cancelled")
	}

	result := &models.ExtractionResult{
		ID:          models.NewExtractionID(),
		URL:         acc.URL(),
		ExtractedAt: p.now(),
	}
	var candidates []models.FieldCandidate
	record := func(layer models.LayerID, produced []models.FieldCandidate, report models.LayerReport) {
		candidates = append(candidates, produced...)
		result.LayerReports = append(result.LayerReports, report)
		if len(produced) > 0 {
			result.LayersUsed = append(result.LayersUsed, layer)
		}
	}

	// layers 1 and 2 are independent of each other and of the merge state
	type outcome struct {
		candidates []models.FieldCandidate
		report     models.LayerReport
	}
	outcomes := make([]outcome, len(p.parallel))
	var g errgroup.Group
	for i, layer := range p.parallel {
		i, layer := i, layer
		g.Go(func() error {
			c, r := p.runLayer(ctx, layer, acc, Snapshot{}, p.cfg.LayerTimeout)
			outcomes[i] = outcome{candidates: c, report: r}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "extraction cancelled")
	}
	for i, layer := range p.parallel {
		record(layer.ID(), outcomes[i].candidates, outcomes[i].report)
	}
	merged := p.merger.Merge(candidates)

	for _, layer := range p.serial {
		if p.terminates(merged) {
			result.EarlyTerminated = true
			result.LayerReports = append(result.LayerReports, skippedReport(layer.ID()))
			continue
		}
		c, r := p.runLayer(ctx, layer, acc, newSnapshot(merged), p.cfg.LayerTimeout)
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "extraction cancelled")
		}
		record(layer.ID(), c, r)
		merged = p.merger.Merge(candidates)
	}

	if p.ocr != nil {
		if p.terminates(merged) {
			result.EarlyTerminated = true
		}
		if p.shouldRunOCR(merged.Overall, result.EarlyTerminated) {
			c, r := p.runLayer(ctx, p.ocr, acc, newSnapshot(merged), p.cfg.OCRTimeout)
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "extraction cancelled")
			}
			result.OCRRan = true
			record(p.ocr.ID(), c, r)
			merged = p.merger.Merge(candidates)
		} else {
			result.LayerReports = append(result.LayerReports, skippedReport(p.ocr.ID()))
		}
	}

	final := merged.Record.Clone()
	if p.defaults != nil {
		final = p.defaults.ApplyDefaults(final)
	}
	if p.resolver != nil {
		if res := p.resolve(ctx, &final); res != nil {
			result.Resolution = res.Resolution()
		}
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "extraction cancelled")
		}
	}

	result.Record = final
	result.FieldConfidence = merged.FieldConfidence
	result.TotalConfidence = merged.Overall
	result.Duration = time.Since(started)

	p.logger.Info("page extracted",
		zap.String("url", result.URL),
		zap.String("extraction_id", result.ID),
		zap.Float64("total_confidence", result.TotalConfidence),
		zap.Int("layers_used", len(result.LayersUsed)),
		zap.Bool("ocr_ran", result.OCRRan),
		zap.Bool("early_terminated", result.EarlyTerminated),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// terminates reports whether the aggregate confidence allows skipping the remaining layers
func (p *Pipeline) terminates(merged MergeResult) bool {
	return p.cfg.EnableEarlyTermination && merged.Overall >= p.cfg.EarlyTerminationThreshold
}

// shouldRunOCR applies the trigger policy. A trigger of 100 or more forces OCR even
// after early termination; 0 or less disables it.
func (p *Pipeline) shouldRunOCR(overall float64, earlyTerminated bool) bool {
	switch trigger := p.cfg.OCRTriggerThreshold; {
	case trigger >= 100:
		return true
	case trigger <= 0:
		return false
	default:
		return !earlyTerminated && overall < trigger
	}
}

// runLayer invokes a single layer under its own deadline. Errors, panics and
// timeouts all yield zero candidates.
func (p *Pipeline) runLayer(ctx context.Context, layer Layer, acc page.Accessor, snap Snapshot, timeout time.Duration) ([]models.FieldCandidate, models.LayerReport) {
	id := layer.ID()
	report := models.LayerReport{Layer: id, Name: id.String()}

	var (
		layerCtx context.Context
		cancel   context.CancelFunc
	)
	if timeout > 0 {
		layerCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		layerCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		candidates []models.FieldCandidate
		err        error
	}
	done := make(chan outcome, 1)
	started := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: eris.Errorf("layer %s panicked: %v", id, r)}
			}
		}()
		c, err := layer.Extract(layerCtx, acc, snap)
		done <- outcome{candidates: c, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-layerCtx.Done():
		out = outcome{err: layerCtx.Err()}
	}
	report.Elapsed = time.Since(started)

	var kept []models.FieldCandidate
	switch {
	case ctx.Err() != nil:
		report.Error = ctx.Err().Error()
	case layerCtx.Err() != nil:
		report.TimedOut = true
		report.Error = "layer timed out"
		p.logger.Warn("layer timed out", zap.String("layer", report.Name), zap.Duration("timeout", timeout))
	case out.err != nil:
		report.Error = out.err.Error()
		p.logger.Warn("layer failed", zap.String("layer", report.Name), zap.Error(out.err))
	default:
		for _, c := range out.candidates {
			if c.Layer != id || c.Value == nil || c.Value.Kind() != c.Field.Kind() || math.IsNaN(c.Confidence) {
				continue
			}
			c.Confidence = models.ClampConfidence(c.Confidence)
			kept = append(kept, c)
		}
	}
	report.Candidates = len(kept)

	p.logger.Debug("layer complete",
		zap.String("layer", report.Name),
		zap.Int("candidates", report.Candidates),
		zap.Duration("elapsed", report.Elapsed))
	if p.observer != nil {
		p.observer.OnLayerComplete(id, kept, report.Elapsed)
	}
	return kept, report
}

// resolve finalizes venue and address on the record and returns the resolution used
func (p *Pipeline) resolve(ctx context.Context, record *models.EventRecord) (resolved *venue.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("venue resolution panicked", zap.String("venue", record.Venue), zap.Any("panic", r))
			resolved = nil
		}
	}()

	raw := firstNonBlank(record.Address, record.Venue)
	if raw == "" {
		return nil
	}

	res := p.resolver.Resolve(ctx, raw, venue.Hints{Venue: record.Venue, City: record.City})
	record.Address = res.Address
	switch res.Strategy {
	case venue.StrategyRegistry, venue.StrategyRegistryFuzzy, venue.StrategyExtractedName:
		if res.Venue != "" {
			record.Venue = res.Venue
		}
	default:
		if record.Venue == "" {
			record.Venue = res.Venue
		}
	}
	if record.City == "" {
		record.City = res.City
	}

	if p.cfg.LearnVenues {
		p.resolver.LearnResolved(res)
	}
	return &res
}

func skippedReport(id models.LayerID) models.LayerReport {
	return models.LayerReport{Layer: id, Name: id.String(), Skipped: true}
}
