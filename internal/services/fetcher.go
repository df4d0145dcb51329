package services

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/page"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrEmptyURL is returned before any request is made for a blank URL
	ErrEmptyURL = eris.New("URL cannot be empty")
	// ErrClientStatus marks 4xx responses, which are never retried
	ErrClientStatus = eris.New("page returned a client error status")
	// ErrEmptyPage is returned when the server answers 200 with no usable body
	ErrEmptyPage = eris.New("page body is empty")
)

// Fetcher downloads event pages and hands them to the extraction pipeline as
// parsed documents. Retries happen here, never inside the pipeline.
type Fetcher struct {
	httpClient  *http.Client
	userAgents  []string
	retryConfig RetryConfig
	maxBody     int64
	logger      *zap.Logger
}

// RetryConfig defines retry behavior for failed requests
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NewFetcher creates a fetcher with browser-like headers and exponential backoff
func NewFetcher(cfg config.Fetch, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 * 1024 * 1024
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		IdleConnTimeout: 90 * time.Second,
	}

	f := &Fetcher{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		retryConfig: RetryConfig{
			MaxRetries:    cfg.MaxRetries,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      cfg.MaxDelay,
			BackoffFactor: 2.0,
		},
		maxBody: maxBody,
		logger:  logger.Named("fetcher"),
	}
	f.SetUserAgents(cfg.UserAgents)
	return f
}

// WithClient swaps the HTTP client, mainly for tests
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.httpClient = client
	return f
}

// SetUserAgents allows customizing the user agent strings for rotation
func (f *Fetcher) SetUserAgents(userAgents []string) {
	if len(userAgents) > 0 {
		f.userAgents = userAgents
	}
}

// Fetch downloads a page and parses it. 4xx responses fail immediately; other
// failures are retried with backoff until MaxRetries or ctx is done.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*page.Document, error) {
	if err := ValidateURL(pageURL); err != nil {
		return nil, err
	}

	startTime := time.Now()
	var lastErr error

	for attempt := 0; attempt <= f.retryConfig.MaxRetries; attempt++ {
		body, finalURL, err := f.attempt(ctx, pageURL, attempt)
		if err == nil {
			if elapsed := time.Since(startTime); elapsed > 10*time.Second {
				f.logger.Warn("slow page fetch", zap.String("url", pageURL), zap.Duration("elapsed", elapsed), zap.Int("attempt", attempt+1))
			}
			doc, err := page.NewDocument(finalURL, body)
			if err != nil {
				return nil, eris.Wrap(err, "failed to parse page")
			}
			return doc, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetch cancelled")
		}
		if eris.Is(err, ErrClientStatus) {
			break
		}

		if attempt < f.retryConfig.MaxRetries {
			delay := f.calculateDelay(attempt)
			f.logger.Info("fetch attempt failed, retrying",
				zap.String("url", pageURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, eris.Wrap(err, "fetch cancelled")
			}
		}
	}

	return nil, eris.Wrapf(lastErr, "failed after %d attempts", f.retryConfig.MaxRetries+1)
}

// attempt performs a single request and returns the decoded body and the
// post-redirect URL
func (f *Fetcher) attempt(ctx context.Context, pageURL string, attempt int) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", eris.Wrap(err, "failed to create request")
	}
	f.setEnhancedHeaders(req, attempt)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", "", eris.Wrap(err, "page request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", "", eris.Wrapf(ErrClientStatus, "status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", eris.Errorf("page returned status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", "", eris.Wrap(err, "failed to create gzip reader")
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	content, err := io.ReadAll(io.LimitReader(reader, f.maxBody))
	if err != nil {
		return "", "", eris.Wrap(err, "failed to read page body")
	}
	if strings.TrimSpace(string(content)) == "" {
		return "", "", ErrEmptyPage
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return string(content), finalURL, nil
}

// setEnhancedHeaders sets realistic browser headers; the user agent rotates per attempt
func (f *Fetcher) setEnhancedHeaders(req *http.Request, attempt int) {
	req.Header.Set("User-Agent", f.userAgents[attempt%len(f.userAgents)])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	if attempt > 0 {
		req.Header.Set("Referer", "https://www.google.com/")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
}

// calculateDelay is InitialDelay * factor^attempt plus up to 10% jitter, capped at MaxDelay
func (f *Fetcher) calculateDelay(attempt int) time.Duration {
	base := float64(f.retryConfig.InitialDelay)
	delay := base*math.Pow(f.retryConfig.BackoffFactor, float64(attempt)) + rand.Float64()*0.1*base

	if f.retryConfig.MaxDelay > 0 && delay > float64(f.retryConfig.MaxDelay) {
		delay = float64(f.retryConfig.MaxDelay)
	}
	return time.Duration(delay)
}

// ValidateURL performs basic URL validation before any request is made
func ValidateURL(pageURL string) error {
	if pageURL == "" {
		return ErrEmptyURL
	}
	if len(pageURL) > 2048 {
		return eris.Errorf("URL too long: %d characters", len(pageURL))
	}
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return eris.New("URL must start with http:// or https://")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
