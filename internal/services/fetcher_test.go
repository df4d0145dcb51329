package services

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"event-extraction-engine/internal/config"

	"github.com/rotisserie/eris"
)

const fetchedPage = `<html><head><title>Jazz Night | Blue Note</title></head>
<body><h1>Jazz Night</h1><p>Saturday, September 14th, 2024 at 8pm</p></body></html>`

func testFetcher(maxRetries int) *Fetcher {
	return NewFetcher(config.Fetch{
		Timeout:      2 * time.Second,
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxBodyBytes: 1 << 20,
	}, nil)
}

func TestFetcher_Gzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("Expected gzip to be accepted, got %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(fetchedPage))
		gz.Close()
	}))
	defer server.Close()

	doc, err := testFetcher(0).Fetch(context.Background(), server.URL+"/events/jazz")
	if err != nil {
		t.Fatalf("Expected fetch to succeed, got %v", err)
	}
	if doc.URL() != server.URL+"/events/jazz" {
		t.Errorf("Expected document URL %s, got %s", server.URL+"/events/jazz", doc.URL())
	}
	html, err := doc.HTML(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "Jazz Night") {
		t.Errorf("Expected decompressed body, got %q", html)
	}
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var agents []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(fetchedPage))
	}))
	defer server.Close()

	if _, err := testFetcher(3).Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Expected third attempt to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 calls, got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if agents[0] == agents[1] {
		t.Errorf("Expected user agent to rotate between attempts, got %q twice", agents[0])
	}
}

func TestFetcher_ConfiguredUserAgents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "ExtractorBot/1.0" {
			t.Errorf("Expected configured user agent, got %q", got)
		}
		w.Write([]byte(fetchedPage))
	}))
	defer server.Close()

	fetcher := NewFetcher(config.Fetch{Timeout: 2 * time.Second, UserAgents: []string{"ExtractorBot/1.0"}}, nil)
	if _, err := fetcher.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Expected fetch to succeed, got %v", err)
	}
}

func TestFetcher_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := testFetcher(3).Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected 404 to fail")
	}
	if !eris.Is(err, ErrClientStatus) {
		t.Errorf("Expected ErrClientStatus, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly 1 call, got %d", got)
	}
}

func TestFetcher_GivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := testFetcher(2).Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected persistent 503 to fail")
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("Expected attempt count in error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 calls, got %d", got)
	}
}

func TestFetcher_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("   "))
	}))
	defer server.Close()

	_, err := testFetcher(0).Fetch(context.Background(), server.URL)
	if !eris.Is(err, ErrEmptyPage) {
		t.Errorf("Expected ErrEmptyPage, got %v", err)
	}
}

func TestFetcher_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewFetcher(config.Fetch{
		Timeout:      time.Second,
		MaxRetries:   5,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fetcher.Fetch(ctx, server.URL)
	if !eris.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected backoff to stop on cancellation, took %v", elapsed)
	}
}

func TestFetcher_CalculateDelay(t *testing.T) {
	fetcher := NewFetcher(config.Fetch{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
	}, nil)

	testCases := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 100 * time.Millisecond, 110 * time.Millisecond},
		{1, 200 * time.Millisecond, 210 * time.Millisecond},
		{2, 300 * time.Millisecond, 300 * time.Millisecond},
		{5, 300 * time.Millisecond, 300 * time.Millisecond},
	}

	for _, tc := range testCases {
		delay := fetcher.calculateDelay(tc.attempt)
		if delay < tc.min || delay > tc.max {
			t.Errorf("Attempt %d: expected delay in [%v, %v], got %v", tc.attempt, tc.min, tc.max, delay)
		}
	}
}

func TestValidateURL(t *testing.T) {
	testCases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://example.com/events/jazz", false},
		{"valid http", "http://example.com", false},
		{"empty", "", true},
		{"no scheme", "example.com/events", true},
		{"ftp", "ftp://example.com", true},
		{"too long", "https://example.com/" + strings.Repeat("a", 2048), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("Expected error=%t, got %v", tc.wantErr, err)
			}
		})
	}

	if !eris.Is(ValidateURL(""), ErrEmptyURL) {
		t.Error("Expected ErrEmptyURL for a blank URL")
	}
}
