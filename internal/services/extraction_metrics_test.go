package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/extraction"
	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ extraction.Observer = (*ExtractionMetrics)(nil)

func newTestMetrics(t *testing.T) *ExtractionMetrics {
	t.Helper()
	metrics, err := NewExtractionMetrics(prometheus.NewRegistry(), 40, nil)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	return metrics
}

func candidatesFor(t *testing.T, n int, layer models.LayerID) []models.FieldCandidate {
	t.Helper()
	out := make([]models.FieldCandidate, 0, n)
	fields := []models.FieldName{models.FieldTitle, models.FieldVenue, models.FieldDate}
	for i := 0; i < n; i++ {
		c, ok := models.TextCandidate(fields[i%len(fields)], "value", 80, layer)
		if !ok {
			t.Fatal("Failed to build candidate")
		}
		out = append(out, c)
	}
	return out
}

func TestExtractionMetrics(t *testing.T) {
	metrics := newTestMetrics(t)

	t.Run("OnLayerComplete", func(t *testing.T) {
		metrics.OnLayerComplete(models.LayerStructuredData, candidatesFor(t, 3, models.LayerStructuredData), 10*time.Millisecond)
		metrics.OnLayerComplete(models.LayerStructuredData, nil, 20*time.Millisecond)

		lm := metrics.LayerMetrics[models.LayerStructuredData]
		if lm == nil {
			t.Fatal("Layer metric not created")
		}
		if lm.Invocations != 2 {
			t.Errorf("Expected 2 invocations, got %d", lm.Invocations)
		}
		if lm.Candidates != 3 {
			t.Errorf("Expected 3 candidates, got %d", lm.Candidates)
		}
		if lm.EmptyRuns != 1 {
			t.Errorf("Expected 1 empty run, got %d", lm.EmptyRuns)
		}
		// 0.8*10 + 0.2*20
		if lm.AvgElapsedMs != 12 {
			t.Errorf("Expected avg elapsed 12ms, got %f", lm.AvgElapsedMs)
		}
		if got := testutil.ToFloat64(metrics.collectors.layerCandidates.WithLabelValues("structured-data")); got != 3 {
			t.Errorf("Expected prometheus candidate count 3, got %f", got)
		}
	})

	t.Run("RecordResult", func(t *testing.T) {
		free := true
		metrics.RecordResult(&models.ExtractionResult{
			URL:             "https://example.com/events/jazz",
			Record:          models.EventRecord{Title: "Jazz Night", Date: "2024-09-14", Free: &free},
			TotalConfidence: 62,
			OCRRan:          true,
			Duration:        150 * time.Millisecond,
			LayerReports: []models.LayerReport{
				{Layer: models.LayerStructuredData, Name: "structured-data", Candidates: 3},
				{Layer: models.LayerTextPatterns, Name: "text-patterns", TimedOut: true, Error: "layer timed out"},
				{Layer: models.LayerHeuristics, Name: "heuristics", Skipped: true},
			},
		})

		if metrics.TotalExtractions != 1 || metrics.SuccessfulExtractions != 1 {
			t.Errorf("Expected 1 successful extraction, got %d/%d", metrics.SuccessfulExtractions, metrics.TotalExtractions)
		}
		if metrics.OCRRuns != 1 {
			t.Errorf("Expected 1 OCR run, got %d", metrics.OCRRuns)
		}
		if metrics.FieldCoverage[models.FieldFree] != 1 || metrics.FieldCoverage[models.FieldVenue] != 0 {
			t.Errorf("Unexpected field coverage %v", metrics.FieldCoverage)
		}
		if metrics.LayerMetrics[models.LayerTextPatterns].Timeouts != 1 {
			t.Error("Expected text-patterns timeout to be counted")
		}
		if metrics.LayerMetrics[models.LayerHeuristics].Skipped != 1 {
			t.Error("Expected heuristics skip to be counted")
		}

		source := metrics.SourceMetrics["example.com"]
		if source == nil {
			t.Fatal("Source metric not created")
		}
		if source.SuccessRate != 1.0 || source.AvgConfidence != 62 {
			t.Errorf("Unexpected source metric %+v", source)
		}

		if got := testutil.ToFloat64(metrics.collectors.extractions.WithLabelValues("accepted")); got != 1 {
			t.Errorf("Expected 1 accepted page, got %f", got)
		}
		if got := testutil.ToFloat64(metrics.collectors.layerOutcomes.WithLabelValues("text-patterns", "timeout")); got != 1 {
			t.Errorf("Expected 1 text-patterns timeout, got %f", got)
		}
		if got := testutil.ToFloat64(metrics.collectors.ocrRuns); got != 1 {
			t.Errorf("Expected 1 OCR run counter, got %f", got)
		}
	})

	t.Run("RecordFailure", func(t *testing.T) {
		metrics.RecordFailure("https://example.com/events/gone", errors.New("status 404"))

		if metrics.FailedExtractions != 1 {
			t.Errorf("Expected 1 failed extraction, got %d", metrics.FailedExtractions)
		}
		source := metrics.SourceMetrics["example.com"]
		if source.SuccessRate != 0.5 {
			t.Errorf("Expected success rate 0.5, got %f", source.SuccessRate)
		}

		found := false
		for _, alert := range metrics.CheckAlerts() {
			if alert.Type == "recent_failure" && alert.Source == "example.com" {
				found = true
			}
		}
		if !found {
			t.Error("Expected recent failure alert")
		}
	})

	t.Run("Dashboard", func(t *testing.T) {
		dashboard := metrics.GetDashboardMetrics()
		for _, key := range []string{"extraction", "layers", "field_coverage", "sources", "alerts", "last_updated"} {
			if _, ok := dashboard[key]; !ok {
				t.Errorf("Dashboard missing %s", key)
			}
		}
		summary := dashboard["extraction"].(map[string]interface{})
		if summary["ocr_rate"].(float64) != 0.5 {
			t.Errorf("Expected OCR rate 0.5, got %v", summary["ocr_rate"])
		}
		metrics.LogMetricsSummary()
	})

	t.Run("Reset", func(t *testing.T) {
		metrics.ResetMetrics()
		if metrics.TotalExtractions != 0 || len(metrics.LayerMetrics) != 0 || len(metrics.SourceMetrics) != 0 {
			t.Error("Expected metrics to be cleared")
		}
	})
}

func TestExtractionMetrics_Alerts(t *testing.T) {
	t.Run("low success rate", func(t *testing.T) {
		metrics := newTestMetrics(t)
		for i := 0; i < 10; i++ {
			metrics.RecordResult(&models.ExtractionResult{URL: "https://weak.example.org/e", TotalConfidence: 20})
		}

		types := map[string]int{}
		for _, alert := range metrics.CheckAlerts() {
			types[alert.Type+"/"+alert.Metric]++
		}
		if types["success_rate/global_success_rate"] != 1 {
			t.Errorf("Expected global success rate alert, got %v", types)
		}
		if types["success_rate/source_success_rate"] != 1 {
			t.Errorf("Expected source success rate alert, got %v", types)
		}
	})

	t.Run("layer timeouts", func(t *testing.T) {
		metrics := newTestMetrics(t)
		for i := 0; i < 10; i++ {
			metrics.OnLayerComplete(models.LayerOCR, nil, 30*time.Second)
			metrics.RecordResult(&models.ExtractionResult{
				URL:             "https://example.com/e",
				TotalConfidence: 80,
				LayerReports:    []models.LayerReport{{Layer: models.LayerOCR, Name: "ocr", TimedOut: i%2 == 0}},
			})
		}

		var timeoutAlert *ExtractionAlert
		alerts := metrics.CheckAlerts()
		for i := range alerts {
			if alerts[i].Type == "layer_timeouts" {
				timeoutAlert = &alerts[i]
			}
		}
		if timeoutAlert == nil {
			t.Fatalf("Expected layer timeout alert, got %+v", alerts)
		}
		if timeoutAlert.Source != "ocr" || timeoutAlert.Value != 0.5 {
			t.Errorf("Unexpected alert %+v", timeoutAlert)
		}
	})

	t.Run("quiet below sample floor", func(t *testing.T) {
		metrics := newTestMetrics(t)
		metrics.RecordResult(&models.ExtractionResult{URL: "https://example.com/e", TotalConfidence: 10})
		for _, alert := range metrics.CheckAlerts() {
			if alert.Type == "success_rate" {
				t.Errorf("Expected no success rate alert from one sample, got %+v", alert)
			}
		}
	})
}

func TestExtractionMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewExtractionMetrics(reg, 40, nil); err != nil {
		t.Fatalf("Expected first registration to succeed, got %v", err)
	}
	if _, err := NewExtractionMetrics(reg, 40, nil); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if _, err := NewExtractionMetrics(nil, 40, nil); err != nil {
		t.Errorf("Expected nil registerer to skip registration, got %v", err)
	}
}

const observedPage = `<!DOCTYPE html>
<html><head>
<title>Jazz Night | Blue Note</title>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "MusicEvent", "name": "Jazz Night",
 "startDate": "2024-09-14T20:00:00-04:00",
 "location": {"@type": "Place", "name": "Blue Note",
   "address": {"@type": "PostalAddress", "streetAddress": "131 W 3rd St", "addressLocality": "New York"}}}
</script>
</head><body><h1>Jazz Night</h1><p>Live jazz all night long with the house trio.</p></body></html>`

func TestExtractionMetrics_ObservesPipeline(t *testing.T) {
	metrics := newTestMetrics(t)

	cfg := config.Default()
	cfg.OCR.Enabled = false
	pipeline := extraction.NewDefault(cfg, extraction.Deps{
		Observer: metrics,
		Now:      func() time.Time { return time.Date(2024, time.September, 1, 12, 0, 0, 0, time.UTC) },
	}, nil)

	doc, err := page.NewDocument("https://example.com/events/jazz", observedPage)
	if err != nil {
		t.Fatal(err)
	}
	result, err := pipeline.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}
	metrics.RecordResult(result)

	if metrics.LayerMetrics[models.LayerStructuredData] == nil || metrics.LayerMetrics[models.LayerStructuredData].Candidates == 0 {
		t.Errorf("Expected structured data layer to be observed, got %+v", metrics.LayerMetrics)
	}
	if metrics.LayerMetrics[models.LayerMetaTags] == nil {
		t.Error("Expected meta tag layer to be observed")
	}
	if metrics.TotalExtractions != 1 {
		t.Errorf("Expected 1 recorded extraction, got %d", metrics.TotalExtractions)
	}
	if metrics.FieldCoverage[models.FieldTitle] != 1 {
		t.Errorf("Expected title coverage, got %v", metrics.FieldCoverage)
	}
}
