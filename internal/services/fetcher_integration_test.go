//go:build integration

package services

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"event-extraction-engine/internal/config"
)

// These tests make real HTTP requests
// Run with: go test -tags=integration ./internal/services -v

func TestFetcher_RealPage(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		t.Skip("Skipping integration test")
	}

	fetcher := NewFetcher(config.Default().Fetch, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	doc, err := fetcher.Fetch(ctx, "https://httpbin.org/html")
	if err != nil {
		t.Fatalf("Failed to fetch page: %v", err)
	}

	text, err := doc.VisibleText(ctx)
	if err != nil {
		t.Fatalf("Failed to read visible text: %v", err)
	}
	if !strings.Contains(text, "Herman Melville") {
		t.Errorf("Expected page text to mention Herman Melville, got %d chars", len(text))
	}
}
