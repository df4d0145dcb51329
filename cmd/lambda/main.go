package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/services"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LambdaEvent represents the EventBridge or manual trigger event
type LambdaEvent struct {
	Source         string                 `json:"source"`
	DetailType     string                 `json:"detail-type"`
	Detail         map[string]interface{} `json:"detail"`
	TriggerType    string                 `json:"trigger-type,omitempty"` // manual, scheduled, webhook
	URLs           []string               `json:"urls"`
	MaxConcurrency int                    `json:"max-concurrency,omitempty"`
}

// LambdaResponse represents the function response
type LambdaResponse struct {
	Success        bool        `json:"success"`
	Message        string      `json:"message"`
	RunID          string      `json:"run_id"`
	ProcessingTime int64       `json:"processing_time_ms"`
	Summary        *RunSummary `json:"summary,omitempty"`
	Errors         []string    `json:"errors,omitempty"`
}

// RunSummary aggregates the per-page outcomes of one invocation
type RunSummary struct {
	TotalPages        int           `json:"total_pages"`
	AcceptedPages     int           `json:"accepted_pages"`
	RejectedPages     int           `json:"rejected_pages"`
	FailedPages       int           `json:"failed_pages"`
	DuplicatePages    int           `json:"duplicate_pages"`
	OCRRuns           int           `json:"ocr_runs"`
	AverageConfidence float64       `json:"average_confidence"`
	UploadedKeys      []string      `json:"uploaded_keys,omitempty"`
	Pages             []PageSummary `json:"pages"`
}

// PageSummary is the compact per-URL line of a run summary
type PageSummary struct {
	URL             string           `json:"url"`
	Success         bool             `json:"success"`
	ExtractionID    string           `json:"extraction_id,omitempty"`
	RecordID        string           `json:"record_id,omitempty"`
	Duplicate       bool             `json:"duplicate,omitempty"`
	Title           string           `json:"title,omitempty"`
	Categories      []string         `json:"categories,omitempty"` // display names
	TotalConfidence float64          `json:"total_confidence"`
	LayersUsed      []models.LayerID `json:"layers_used,omitempty"`
	UploadKey       string           `json:"upload_key,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// collectURLs returns the event's URLs, trimmed, deduplicated and validated.
// Invalid entries are reported as errors instead of failing the whole run.
func collectURLs(event LambdaEvent) ([]string, []string) {
	raw := event.URLs
	if len(raw) == 0 {
		// EventBridge puts custom payloads under detail
		if list, ok := event.Detail["urls"].([]interface{}); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					raw = append(raw, s)
				}
			}
		}
	}

	seen := make(map[string]bool)
	var urls, errs []string
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if err := services.ValidateURL(u); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", u, err))
			continue
		}
		urls = append(urls, u)
	}
	return urls, errs
}

// duplicateThreshold is the similarity at which two accepted records describe the same event
const duplicateThreshold = 0.75

// summarize folds batch outcomes into a run summary. Accepted records that
// repeat an earlier accepted event (e.g. listing and detail page) are flagged.
func summarize(outcomes []services.PageOutcome, minConfidence float64) *RunSummary {
	summary := &RunSummary{TotalPages: len(outcomes)}
	var confidenceSum float64
	var scored int
	var accepted []models.EventRecord

	for _, outcome := range outcomes {
		page := PageSummary{URL: outcome.URL, Error: outcome.Error}
		if outcome.Result == nil {
			summary.FailedPages++
			summary.Pages = append(summary.Pages, page)
			continue
		}

		result := outcome.Result
		page.ExtractionID = result.ID
		page.Title = result.Record.Title
		for _, category := range result.Record.Categories {
			page.Categories = append(page.Categories, models.GetCategoryDisplayName(category))
		}
		page.TotalConfidence = result.TotalConfidence
		page.LayersUsed = result.LayersUsed
		confidenceSum += result.TotalConfidence
		scored++
		if result.OCRRan {
			summary.OCRRuns++
		}

		if result.Acceptable(minConfidence) {
			page.Success = true
			page.RecordID = models.GenerateRecordID(result.Record.Title, result.Record.Date, result.Record.Venue)
			summary.AcceptedPages++
			for _, earlier := range accepted {
				if models.CalculateDuplicateSimilarity(earlier, result.Record) >= duplicateThreshold {
					page.Duplicate = true
					summary.DuplicatePages++
					break
				}
			}
			accepted = append(accepted, result.Record)
		} else {
			summary.RejectedPages++
		}
		if outcome.Upload != nil {
			page.UploadKey = outcome.Upload.Key
			summary.UploadedKeys = append(summary.UploadedKeys, outcome.Upload.Key)
		}
		summary.Pages = append(summary.Pages, page)
	}

	if scored > 0 {
		summary.AverageConfidence = confidenceSum / float64(scored)
	}
	return summary
}

// loadConfig reads CONFIG_PATH when set, otherwise starts from defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HandleLambdaEvent is the main Lambda handler function
func HandleLambdaEvent(ctx context.Context, event LambdaEvent) (LambdaResponse, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	logger := newLogger().With(zap.String("run_id", runID))
	defer logger.Sync()

	triggerType := event.TriggerType
	if triggerType == "" {
		triggerType = "scheduled"
	}
	logger.Info("lambda invoked", zap.String("source", event.Source), zap.String("trigger", triggerType))

	fail := func(msg string, errs ...string) (LambdaResponse, error) {
		logger.Error(msg, zap.Strings("errors", errs))
		return LambdaResponse{
			Success:        false,
			Message:        msg,
			RunID:          runID,
			ProcessingTime: time.Since(startTime).Milliseconds(),
			Errors:         errs,
		}, nil
	}

	urls, urlErrors := collectURLs(event)
	if len(urls) == 0 {
		return fail("no valid URLs in event", urlErrors...)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail("invalid configuration", err.Error())
	}

	engine, err := services.NewEngine(ctx, cfg, services.EngineOptions{UseAWS: true}, logger)
	if err != nil {
		return fail("failed to initialize engine", err.Error())
	}

	outcomes := engine.ExtractBatch(ctx, urls, event.MaxConcurrency)
	summary := summarize(outcomes, cfg.Pipeline.MinConfidence)

	errs := urlErrors
	for _, outcome := range outcomes {
		if outcome.Error != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", outcome.URL, outcome.Error))
		}
	}
	if err := engine.Flush(ctx); err != nil {
		logger.Warn("failed to persist learned venues", zap.Error(err))
		errs = append(errs, err.Error())
	}
	engine.Metrics().LogMetricsSummary()

	response := LambdaResponse{
		Success:        summary.AcceptedPages > 0,
		Message:        fmt.Sprintf("extracted %d of %d pages", summary.AcceptedPages, summary.TotalPages),
		RunID:          runID,
		ProcessingTime: time.Since(startTime).Milliseconds(),
		Summary:        summary,
		Errors:         errs,
	}
	logger.Info("lambda completed",
		zap.Int("accepted", summary.AcceptedPages),
		zap.Int("failed", summary.FailedPages),
		zap.Int64("duration_ms", response.ProcessingTime))
	return response, nil
}

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	lambda.Start(HandleLambdaEvent)
}
