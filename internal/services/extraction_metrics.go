package services

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"event-extraction-engine/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ExtractionMetrics tracks per-layer behavior and per-source success rates for the
// extraction pipeline. It implements the pipeline's Observer and mirrors every
// counter into Prometheus collectors.
type ExtractionMetrics struct {
	mu                    sync.RWMutex
	TotalExtractions      int64                           `json:"total_extractions"`
	SuccessfulExtractions int64                           `json:"successful_extractions"`
	FailedExtractions     int64                           `json:"failed_extractions"`
	OCRRuns               int64                           `json:"ocr_runs"`
	EarlyTerminations     int64                           `json:"early_terminations"`
	FieldCoverage         map[models.FieldName]int64      `json:"field_coverage"`
	LayerMetrics          map[models.LayerID]*LayerMetric `json:"layer_metrics"`
	SourceMetrics         map[string]*SourceMetric        `json:"source_metrics"`
	AlertThresholds       *AlertThresholds                `json:"alert_thresholds"`
	LastUpdated           time.Time                       `json:"last_updated"`

	minConfidence float64
	collectors    *collectors
	logger        *zap.Logger
}

// LayerMetric tracks one extraction layer across pages
type LayerMetric struct {
	Layer        models.LayerID `json:"layer"`
	Name         string         `json:"name"`
	Invocations  int64          `json:"invocations"`
	Candidates   int64          `json:"candidates"`
	EmptyRuns    int64          `json:"empty_runs"`
	Timeouts     int64          `json:"timeouts"`
	Errors       int64          `json:"errors"`
	Skipped      int64          `json:"skipped"`
	AvgElapsedMs float64        `json:"avg_elapsed_ms"`
}

// SourceMetric tracks metrics for one source host
type SourceMetric struct {
	Host                  string    `json:"host"`
	TotalAttempts         int64     `json:"total_attempts"`
	SuccessfulExtractions int64     `json:"successful_extractions"`
	FailedExtractions     int64     `json:"failed_extractions"`
	AvgConfidence         float64   `json:"avg_confidence"`
	AvgProcessingTime     float64   `json:"avg_processing_time_ms"`
	LastSuccessfulRun     time.Time `json:"last_successful_run"`
	LastFailedRun         time.Time `json:"last_failed_run"`
	SuccessRate           float64   `json:"success_rate"`
}

// AlertThresholds defines when to trigger alerts
type AlertThresholds struct {
	MinSuccessRate      float64 `json:"min_success_rate"`       // Alert if success rate drops below this
	MaxTimeoutRate      float64 `json:"max_timeout_rate"`       // Alert if a layer times out more often than this
	MinSamples          int64   `json:"min_samples"`            // Ignore rates computed from fewer samples
	MaxProcessingTimeMs int64   `json:"max_processing_time_ms"` // Alert if processing takes longer than this
}

// ExtractionAlert represents an alert condition
type ExtractionAlert struct {
	Type      string    `json:"type"`     // success_rate|layer_timeouts|processing_time|recent_failure
	Severity  string    `json:"severity"` // warning|error
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

type collectors struct {
	extractions       *prometheus.CounterVec
	totalConfidence   prometheus.Histogram
	duration          prometheus.Histogram
	layerDuration     *prometheus.HistogramVec
	layerCandidates   *prometheus.CounterVec
	layerOutcomes     *prometheus.CounterVec
	fieldsExtracted   *prometheus.CounterVec
	ocrRuns           prometheus.Counter
	earlyTerminations prometheus.Counter
}

func newCollectors() *collectors {
	return &collectors{
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "event_extraction",
			Name:      "pages_total",
			Help:      "Pages processed, by outcome (accepted, low_confidence, failed).",
		}, []string{"outcome"}),
		totalConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "event_extraction",
			Name:      "total_confidence",
			Help:      "Overall confidence of finalized records.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "event_extraction",
			Name:      "page_duration_seconds",
			Help:      "Wall time of one pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		layerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "event_extraction",
			Name:      "layer_duration_seconds",
			Help:      "Wall time of one layer invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"layer"}),
		layerCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "event_extraction",
			Name:      "layer_candidates_total",
			Help:      "Field candidates produced, by layer.",
		}, []string{"layer"}),
		layerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "event_extraction",
			Name:      "layer_outcomes_total",
			Help:      "Layer invocations by outcome (ok, empty, timeout, error, skipped).",
		}, []string{"layer", "outcome"}),
		fieldsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "event_extraction",
			Name:      "fields_extracted_total",
			Help:      "Finalized records carrying each field.",
		}, []string{"field"}),
		ocrRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "event_extraction",
			Name:      "ocr_runs_total",
			Help:      "Pipeline runs that invoked the OCR layer.",
		}),
		earlyTerminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "event_extraction",
			Name:      "early_terminations_total",
			Help:      "Pipeline runs that stopped before the serial layers finished.",
		}),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.extractions, c.totalConfidence, c.duration, c.layerDuration, c.layerCandidates,
		c.layerOutcomes, c.fieldsExtracted, c.ocrRuns, c.earlyTerminations,
	}
}

// DefaultAlertThresholds returns the thresholds used when none are configured
func DefaultAlertThresholds() *AlertThresholds {
	return &AlertThresholds{
		MinSuccessRate:      0.8,   // 80%
		MaxTimeoutRate:      0.2,   // 20%
		MinSamples:          10,    // 10 pages or invocations
		MaxProcessingTimeMs: 30000, // 30 seconds
	}
}

// NewExtractionMetrics creates a metrics sink. Collectors are registered on reg when
// it is non-nil; minConfidence decides which results count as successful.
func NewExtractionMetrics(reg prometheus.Registerer, minConfidence float64, logger *zap.Logger) (*ExtractionMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := newCollectors()
	if reg != nil {
		for _, collector := range c.all() {
			if err := reg.Register(collector); err != nil {
				return nil, eris.Wrap(err, "failed to register extraction metrics")
			}
		}
	}

	return &ExtractionMetrics{
		FieldCoverage:   make(map[models.FieldName]int64),
		LayerMetrics:    make(map[models.LayerID]*LayerMetric),
		SourceMetrics:   make(map[string]*SourceMetric),
		AlertThresholds: DefaultAlertThresholds(),
		LastUpdated:     time.Now(),
		minConfidence:   minConfidence,
		collectors:      c,
		logger:          logger.Named("metrics"),
	}, nil
}

// OnLayerComplete records one finished layer invocation
func (em *ExtractionMetrics) OnLayerComplete(layer models.LayerID, candidates []models.FieldCandidate, elapsed time.Duration) {
	name := layer.String()
	em.collectors.layerDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	em.collectors.layerCandidates.WithLabelValues(name).Add(float64(len(candidates)))

	em.mu.Lock()
	defer em.mu.Unlock()

	lm := em.layerMetric(layer)
	lm.Invocations++
	lm.Candidates += int64(len(candidates))
	if len(candidates) == 0 {
		lm.EmptyRuns++
	}

	elapsedMs := float64(elapsed.Nanoseconds()) / 1e6
	if lm.AvgElapsedMs == 0 {
		lm.AvgElapsedMs = elapsedMs
	} else {
		// Exponential moving average
		lm.AvgElapsedMs = 0.8*lm.AvgElapsedMs + 0.2*elapsedMs
	}
	em.LastUpdated = time.Now()
}

// RecordResult records a finished pipeline run
func (em *ExtractionMetrics) RecordResult(result *models.ExtractionResult) {
	if result == nil {
		return
	}
	accepted := result.Acceptable(em.minConfidence)

	outcome := "low_confidence"
	if accepted {
		outcome = "accepted"
	}
	em.collectors.extractions.WithLabelValues(outcome).Inc()
	em.collectors.totalConfidence.Observe(result.TotalConfidence)
	em.collectors.duration.Observe(result.Duration.Seconds())
	if result.OCRRan {
		em.collectors.ocrRuns.Inc()
	}
	if result.EarlyTerminated {
		em.collectors.earlyTerminations.Inc()
	}
	for _, field := range models.AllFields {
		if result.Record.Has(field) {
			em.collectors.fieldsExtracted.WithLabelValues(string(field)).Inc()
		}
	}
	for _, report := range result.LayerReports {
		em.collectors.layerOutcomes.WithLabelValues(report.Name, reportOutcome(report)).Inc()
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	em.TotalExtractions++
	if accepted {
		em.SuccessfulExtractions++
	} else {
		em.FailedExtractions++
	}
	if result.OCRRan {
		em.OCRRuns++
	}
	if result.EarlyTerminated {
		em.EarlyTerminations++
	}
	for _, field := range models.AllFields {
		if result.Record.Has(field) {
			em.FieldCoverage[field]++
		}
	}
	for _, report := range result.LayerReports {
		lm := em.layerMetric(report.Layer)
		switch {
		case report.Skipped:
			lm.Skipped++
		case report.TimedOut:
			lm.Timeouts++
		case report.Error != "":
			lm.Errors++
		}
	}

	em.recordSource(hostOf(result.URL), accepted, result.TotalConfidence, result.Duration)
	em.LastUpdated = time.Now()
}

// RecordFailure records a page that never reached the pipeline, e.g. a failed fetch
func (em *ExtractionMetrics) RecordFailure(pageURL string, err error) {
	em.collectors.extractions.WithLabelValues("failed").Inc()

	em.mu.Lock()
	defer em.mu.Unlock()

	em.TotalExtractions++
	em.FailedExtractions++
	em.recordSource(hostOf(pageURL), false, 0, 0)
	em.LastUpdated = time.Now()

	em.logger.Warn("extraction failed", zap.String("url", pageURL), zap.Error(err))
}

// recordSource updates per-host stats; callers hold the write lock
func (em *ExtractionMetrics) recordSource(host string, success bool, confidence float64, processingTime time.Duration) {
	sm := em.SourceMetrics[host]
	if sm == nil {
		sm = &SourceMetric{Host: host}
		em.SourceMetrics[host] = sm
	}

	sm.TotalAttempts++
	if success {
		sm.SuccessfulExtractions++
		sm.LastSuccessfulRun = time.Now()
	} else {
		sm.FailedExtractions++
		sm.LastFailedRun = time.Now()
	}
	sm.SuccessRate = float64(sm.SuccessfulExtractions) / float64(sm.TotalAttempts)
	sm.AvgConfidence += (confidence - sm.AvgConfidence) / float64(sm.TotalAttempts)

	if processingTime > 0 {
		processingTimeMs := float64(processingTime.Nanoseconds()) / 1e6
		if sm.AvgProcessingTime == 0 {
			sm.AvgProcessingTime = processingTimeMs
		} else {
			sm.AvgProcessingTime = 0.8*sm.AvgProcessingTime + 0.2*processingTimeMs
		}
	}
}

func (em *ExtractionMetrics) layerMetric(layer models.LayerID) *LayerMetric {
	lm := em.LayerMetrics[layer]
	if lm == nil {
		lm = &LayerMetric{Layer: layer, Name: layer.String()}
		em.LayerMetrics[layer] = lm
	}
	return lm
}

func reportOutcome(report models.LayerReport) string {
	switch {
	case report.Skipped:
		return "skipped"
	case report.TimedOut:
		return "timeout"
	case report.Error != "":
		return "error"
	case report.Candidates == 0:
		return "empty"
	}
	return "ok"
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// CheckAlerts checks for alert conditions and returns any active alerts
func (em *ExtractionMetrics) CheckAlerts() []ExtractionAlert {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.checkAlerts(time.Now())
}

func (em *ExtractionMetrics) checkAlerts(now time.Time) []ExtractionAlert {
	var alerts []ExtractionAlert
	th := em.AlertThresholds

	if em.TotalExtractions >= th.MinSamples && em.TotalExtractions > 0 {
		rate := float64(em.SuccessfulExtractions) / float64(em.TotalExtractions)
		if rate < th.MinSuccessRate {
			alerts = append(alerts, ExtractionAlert{
				Type:      "success_rate",
				Severity:  "warning",
				Message:   fmt.Sprintf("Global extraction success rate (%.1f%%) is below threshold (%.1f%%)", rate*100, th.MinSuccessRate*100),
				Metric:    "global_success_rate",
				Value:     rate,
				Threshold: th.MinSuccessRate,
				Timestamp: now,
			})
		}
	}

	for _, layer := range em.sortedLayers() {
		lm := em.LayerMetrics[layer]
		if lm.Invocations < th.MinSamples || lm.Invocations == 0 {
			continue
		}
		rate := float64(lm.Timeouts) / float64(lm.Invocations)
		if rate > th.MaxTimeoutRate {
			alerts = append(alerts, ExtractionAlert{
				Type:      "layer_timeouts",
				Severity:  "warning",
				Message:   fmt.Sprintf("Layer %s timed out on %.1f%% of pages (threshold %.1f%%)", lm.Name, rate*100, th.MaxTimeoutRate*100),
				Source:    lm.Name,
				Metric:    "layer_timeout_rate",
				Value:     rate,
				Threshold: th.MaxTimeoutRate,
				Timestamp: now,
			})
		}
	}

	for _, host := range em.sortedHosts() {
		sm := em.SourceMetrics[host]
		if sm.TotalAttempts > 5 && sm.SuccessRate < th.MinSuccessRate {
			alerts = append(alerts, ExtractionAlert{
				Type:      "success_rate",
				Severity:  "error",
				Message:   fmt.Sprintf("Source %s success rate (%.1f%%) is below threshold (%.1f%%)", host, sm.SuccessRate*100, th.MinSuccessRate*100),
				Source:    host,
				Metric:    "source_success_rate",
				Value:     sm.SuccessRate,
				Threshold: th.MinSuccessRate,
				Timestamp: now,
			})
		}

		if sm.AvgProcessingTime > float64(th.MaxProcessingTimeMs) {
			alerts = append(alerts, ExtractionAlert{
				Type:      "processing_time",
				Severity:  "warning",
				Message:   fmt.Sprintf("Source %s average processing time (%.1fms) exceeds threshold (%dms)", host, sm.AvgProcessingTime, th.MaxProcessingTimeMs),
				Source:    host,
				Metric:    "avg_processing_time",
				Value:     sm.AvgProcessingTime,
				Threshold: float64(th.MaxProcessingTimeMs),
				Timestamp: now,
			})
		}

		if !sm.LastFailedRun.IsZero() && sm.LastFailedRun.After(sm.LastSuccessfulRun) {
			since := now.Sub(sm.LastFailedRun)
			if since < 24*time.Hour {
				alerts = append(alerts, ExtractionAlert{
					Type:      "recent_failure",
					Severity:  "error",
					Message:   fmt.Sprintf("Source %s had a recent failure %v ago", host, since.Round(time.Minute)),
					Source:    host,
					Metric:    "recent_failure",
					Value:     since.Minutes(),
					Timestamp: now,
				})
			}
		}
	}

	return alerts
}

// GetDashboardMetrics returns metrics formatted for dashboard display
func (em *ExtractionMetrics) GetDashboardMetrics() map[string]interface{} {
	em.mu.RLock()
	defer em.mu.RUnlock()

	var successRate, ocrRate, earlyRate float64
	if em.TotalExtractions > 0 {
		total := float64(em.TotalExtractions)
		successRate = float64(em.SuccessfulExtractions) / total
		ocrRate = float64(em.OCRRuns) / total
		earlyRate = float64(em.EarlyTerminations) / total
	}

	layers := make([]map[string]interface{}, 0, len(em.LayerMetrics))
	for _, layer := range em.sortedLayers() {
		lm := em.LayerMetrics[layer]
		var avgCandidates float64
		if lm.Invocations > 0 {
			avgCandidates = float64(lm.Candidates) / float64(lm.Invocations)
		}
		layers = append(layers, map[string]interface{}{
			"layer":          int(lm.Layer),
			"name":           lm.Name,
			"invocations":    lm.Invocations,
			"avg_candidates": avgCandidates,
			"empty_runs":     lm.EmptyRuns,
			"timeouts":       lm.Timeouts,
			"errors":         lm.Errors,
			"skipped":        lm.Skipped,
			"avg_elapsed_ms": lm.AvgElapsedMs,
		})
	}

	sources := make([]map[string]interface{}, 0, len(em.SourceMetrics))
	for _, host := range em.sortedHosts() {
		sm := em.SourceMetrics[host]
		sources = append(sources, map[string]interface{}{
			"host":                host,
			"success_rate":        sm.SuccessRate,
			"avg_confidence":      sm.AvgConfidence,
			"total_attempts":      sm.TotalAttempts,
			"last_successful":     sm.LastSuccessfulRun,
			"avg_processing_time": sm.AvgProcessingTime,
		})
	}

	coverage := make(map[string]float64, len(em.FieldCoverage))
	for field, n := range em.FieldCoverage {
		if em.TotalExtractions > 0 {
			coverage[string(field)] = float64(n) / float64(em.TotalExtractions)
		}
	}

	return map[string]interface{}{
		"extraction": map[string]interface{}{
			"total_attempts":         em.TotalExtractions,
			"successful":             em.SuccessfulExtractions,
			"failed":                 em.FailedExtractions,
			"success_rate":           successRate,
			"ocr_rate":               ocrRate,
			"early_termination_rate": earlyRate,
		},
		"layers":         layers,
		"field_coverage": coverage,
		"sources":        sources,
		"alerts":         em.checkAlerts(time.Now()),
		"last_updated":   em.LastUpdated,
	}
}

// ResetMetrics clears the in-memory statistics; Prometheus counters are left alone
func (em *ExtractionMetrics) ResetMetrics() {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.TotalExtractions = 0
	em.SuccessfulExtractions = 0
	em.FailedExtractions = 0
	em.OCRRuns = 0
	em.EarlyTerminations = 0
	em.FieldCoverage = make(map[models.FieldName]int64)
	em.LayerMetrics = make(map[models.LayerID]*LayerMetric)
	em.SourceMetrics = make(map[string]*SourceMetric)
	em.LastUpdated = time.Now()
}

// LogMetricsSummary logs a summary of current metrics
func (em *ExtractionMetrics) LogMetricsSummary() {
	em.mu.RLock()
	defer em.mu.RUnlock()

	var successRate float64
	if em.TotalExtractions > 0 {
		successRate = float64(em.SuccessfulExtractions) / float64(em.TotalExtractions)
	}

	em.logger.Info("extraction metrics summary",
		zap.Int64("total", em.TotalExtractions),
		zap.Int64("successful", em.SuccessfulExtractions),
		zap.Int64("failed", em.FailedExtractions),
		zap.String("success_rate", strconv.FormatFloat(successRate*100, 'f', 1, 64)+"%"),
		zap.Int64("ocr_runs", em.OCRRuns),
		zap.Int64("early_terminations", em.EarlyTerminations),
		zap.Int("sources", len(em.SourceMetrics)),
	)
	for _, layer := range em.sortedLayers() {
		lm := em.LayerMetrics[layer]
		em.logger.Info("layer summary",
			zap.String("layer", lm.Name),
			zap.Int64("invocations", lm.Invocations),
			zap.Int64("candidates", lm.Candidates),
			zap.Int64("timeouts", lm.Timeouts),
			zap.Int64("errors", lm.Errors),
			zap.Float64("avg_elapsed_ms", lm.AvgElapsedMs),
		)
	}
	for _, alert := range em.checkAlerts(time.Now()) {
		em.logger.Warn("extraction alert", zap.String("severity", alert.Severity), zap.String("message", alert.Message))
	}
}

func (em *ExtractionMetrics) sortedLayers() []models.LayerID {
	layers := make([]models.LayerID, 0, len(em.LayerMetrics))
	for layer := range em.LayerMetrics {
		layers = append(layers, layer)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i] < layers[j] })
	return layers
}

func (em *ExtractionMetrics) sortedHosts() []string {
	hosts := make([]string, 0, len(em.SourceMetrics))
	for host := range em.SourceMetrics {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
