package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/venue"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestEngine(t *testing.T) (*Engine, *fakeS3, *fakeDynamoDB, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/jazz" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(observedPage))
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.OCR.Enabled = false
	cfg.Venue.RegistryFile = ""

	engine, err := NewEngine(context.Background(), cfg, EngineOptions{Registerer: prometheus.NewRegistry()}, nil)
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}

	s3 := newFakeS3()
	dynamo := newFakeDynamoDB()
	engine.WithFetcher(testFetcher(0)).
		WithSink(NewRecordSinkWithClient(s3, config.AWS{BucketName: "results", KeyPrefix: "events"}, nil)).
		WithVenueStore(NewVenueStore(dynamo, "venues", nil))
	return engine, s3, dynamo, server
}

func TestEngine_Extract(t *testing.T) {
	engine, s3, dynamo, server := newTestEngine(t)
	ctx := context.Background()

	result, upload, err := engine.Extract(ctx, server.URL+"/events/jazz")
	if err != nil {
		t.Fatalf("Expected extraction to succeed, got %v", err)
	}
	if result.Record.Title != "Jazz Night" {
		t.Errorf("Expected title Jazz Night, got %q", result.Record.Title)
	}
	if result.Record.Address != "131 W 3rd St, New York" {
		t.Errorf("Expected structured address, got %q", result.Record.Address)
	}
	if upload == nil {
		t.Fatal("Expected accepted result to be uploaded")
	}
	if !strings.HasPrefix(upload.Key, "events/") || len(s3.objects) != 1 {
		t.Errorf("Expected one stored object under events/, got %s (%d objects)", upload.Key, len(s3.objects))
	}

	if engine.Metrics().TotalExtractions != 1 || engine.Metrics().SuccessfulExtractions != 1 {
		t.Errorf("Expected one successful extraction in metrics, got %+v", engine.Metrics().GetDashboardMetrics()["extraction"])
	}

	if err := engine.Flush(ctx); err != nil {
		t.Fatalf("Expected flush to succeed, got %v", err)
	}
	if _, ok := dynamo.items["blue note"]; !ok {
		t.Errorf("Expected learned venue to be persisted, got %v", dynamo.items)
	}
}

func TestEngine_ExtractBatch(t *testing.T) {
	engine, _, _, server := newTestEngine(t)

	urls := []string{server.URL + "/events/jazz", server.URL + "/events/missing", "not-a-url"}
	outcomes := engine.ExtractBatch(context.Background(), urls, 2)

	if len(outcomes) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(outcomes))
	}
	for i, outcome := range outcomes {
		if outcome.URL != urls[i] {
			t.Errorf("Expected outcome %d for %s, got %s", i, urls[i], outcome.URL)
		}
	}
	if outcomes[0].Error != "" || outcomes[0].Result == nil {
		t.Errorf("Expected first page to succeed, got %+v", outcomes[0])
	}
	if outcomes[1].Error == "" || outcomes[1].Result != nil {
		t.Errorf("Expected 404 page to fail, got %+v", outcomes[1])
	}
	if outcomes[2].Error == "" {
		t.Error("Expected invalid URL to fail")
	}

	m := engine.Metrics()
	if m.TotalExtractions != 3 || m.FailedExtractions != 2 {
		t.Errorf("Expected 3 attempts with 2 failures, got %d/%d", m.TotalExtractions, m.FailedExtractions)
	}
}

func TestEngine_LowConfidenceNotStored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Nothing to see here.</p></body></html>`))
	}))
	defer server.Close()

	engine, s3, _, _ := newTestEngine(t)
	result, upload, err := engine.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected empty page to extract without error, got %v", err)
	}
	if result.Acceptable(config.Default().Pipeline.MinConfidence) {
		t.Errorf("Expected low confidence, got %f", result.TotalConfidence)
	}
	if upload != nil || len(s3.objects) != 0 {
		t.Error("Expected low-confidence result not to be stored")
	}
	if result.Record.Has(models.FieldTitle) && result.Record.Has(models.FieldDate) {
		t.Errorf("Expected a sparse record, got %+v", result.Record)
	}
}

func TestEngine_LearnVenue(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	record := models.VenueRecord{CanonicalName: "Larkspur Hall", Address: "2200 Mission St, San Francisco", Region: "San Francisco"}

	if !engine.LearnVenue(record) {
		t.Fatal("Expected new venue to be learned")
	}
	if engine.LearnVenue(record) {
		t.Error("Expected repeat learn to report false")
	}
	if engine.LearnVenue(models.VenueRecord{CanonicalName: "No Address"}) {
		t.Error("Expected venue without address to be rejected")
	}

	res := engine.resolver.Resolve(context.Background(), "Larkspur Hall", venue.Hints{Venue: "Larkspur Hall"})
	if res.Strategy != venue.StrategyRegistry || res.Address != record.Address {
		t.Errorf("Expected registry hit for learned venue, got %+v", res)
	}
}
