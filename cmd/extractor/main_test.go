package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"event-extraction-engine/internal/services"
)

func TestParseFlags(t *testing.T) {
	t.Run("url flag and positional", func(t *testing.T) {
		opts, err := parseFlags([]string{"-url", "https://example.com/a", "-no-ocr", "https://example.com/b"})
		if err != nil {
			t.Fatal(err)
		}
		if len(opts.urls) != 2 || opts.urls[0] != "https://example.com/a" {
			t.Errorf("Expected both URLs in order, got %v", opts.urls)
		}
		if !opts.noOCR {
			t.Error("Expected -no-ocr to be set")
		}
	})

	t.Run("no urls", func(t *testing.T) {
		if _, err := parseFlags([]string{"-v"}); err == nil {
			t.Error("Expected missing URL to fail")
		}
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("DEFAULT_CITY=Austin\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	configFile := filepath.Join(dir, "extractor.yaml")
	if err := os.WriteFile(configFile, []byte("pipeline:\n  min_confidence: 55\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("DEFAULT_CITY") })

	cfg, err := loadConfig(options{configPath: configFile, envFile: envFile, noOCR: true})
	if err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}
	if cfg.Venue.DefaultCity != "Austin" {
		t.Errorf("Expected city from .env, got %q", cfg.Venue.DefaultCity)
	}
	if cfg.Pipeline.MinConfidence != 55 {
		t.Errorf("Expected min confidence from YAML, got %v", cfg.Pipeline.MinConfidence)
	}
	if cfg.OCR.Enabled {
		t.Error("Expected -no-ocr to disable OCR")
	}

	if _, err := loadConfig(options{envFile: filepath.Join(dir, "missing.env")}); err != nil {
		t.Errorf("Expected a missing .env to be ignored, got %v", err)
	}
}

func TestRun(t *testing.T) {
	pages := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><head><title>Comedy Hour</title>
<script type="application/ld+json">{"@type": "ComedyEvent", "name": "Comedy Hour", "startDate": "2024-10-02T19:30:00",
"location": {"@type": "Place", "name": "Punch Line", "address": "444 Battery St, San Francisco"}}</script>
</head><body><h1>Comedy Hour</h1></body></html>`)
	}))
	defer pages.Close()

	var out bytes.Buffer
	err := run(context.Background(), []string{"-env", "", "-no-ocr", pages.URL + "/shows/comedy-hour"}, &out)
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	var outcome services.PageOutcome
	if err := json.Unmarshal(out.Bytes(), &outcome); err != nil {
		t.Fatalf("Expected a single JSON outcome, got %q: %v", out.String(), err)
	}
	if outcome.Result == nil || outcome.Result.Record.Title != "Comedy Hour" {
		t.Errorf("Expected extracted title, got %+v", outcome.Result)
	}
	if !strings.HasPrefix(outcome.Result.ID, "ext_") {
		t.Errorf("Expected extraction ID, got %q", outcome.Result.ID)
	}
}
