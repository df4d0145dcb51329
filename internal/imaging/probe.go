// Package imaging scores and ranks candidate event images.
package imaging

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"event-extraction-engine/internal/config"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"
)

var (
	// ErrNoDimensions is returned when no probe strategy could size an image
	ErrNoDimensions = eris.New("image dimensions unavailable")
	// ErrImageTooSmall is returned for images below the absolute dimension floor
	ErrImageTooSmall = eris.New("image below minimum dimension")
)

// Dimensions of a probed image. Estimated is set when the size was guessed from byte length.
type Dimensions struct {
	Width     int
	Height    int
	Estimated bool
	Source    string
}

// Prober finds the pixel dimensions of a remote image
type Prober interface {
	Probe(ctx context.Context, imageURL string) (Dimensions, error)
}

var (
	suffixDimensions     = regexp.MustCompile(`[-_](\d{2,5})x(\d{2,5})\.(?i:jpe?g|png|webp|gif|avif)`)
	cloudinaryDimensions = regexp.MustCompile(`/[^/]*\bw_(\d{2,5})[^/]*\bh_(\d{2,5})`)
)

// DimensionsFromURL reads sizes embedded in common CDN and CMS URL shapes:
// "-1024x768.jpg", "?w=800&h=600" and cloudinary "w_800,h_600"
func DimensionsFromURL(imageURL string) (Dimensions, bool) {
	if m := suffixDimensions.FindStringSubmatch(imageURL); m != nil {
		return dimensionsFromStrings(m[1], m[2])
	}
	if m := cloudinaryDimensions.FindStringSubmatch(imageURL); m != nil {
		return dimensionsFromStrings(m[1], m[2])
	}

	u, err := url.Parse(imageURL)
	if err != nil {
		return Dimensions{}, false
	}
	q := u.Query()
	w := firstParam(q, "w", "width")
	h := firstParam(q, "h", "height")
	if w == "" || h == "" {
		return Dimensions{}, false
	}
	return dimensionsFromStrings(w, h)
}

func firstParam(q url.Values, keys ...string) string {
	for _, key := range keys {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

func dimensionsFromStrings(w, h string) (Dimensions, bool) {
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Dimensions{}, false
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Dimensions{}, false
	}
	return Dimensions{Width: width, Height: height, Source: "url"}, true
}

// HTTPProber sizes images from the URL, then a ranged GET of the header bytes,
// then a HEAD content-length estimate. Network probes share a rate limiter.
type HTTPProber struct {
	client   *http.Client
	limiter  *rate.Limiter
	maxBytes int64
	logger   *zap.Logger
}

// NewHTTPProber creates a prober from the image settings
func NewHTTPProber(cfg config.Images, logger *zap.Logger) *HTTPProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxBytes := cfg.ProbeBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	limit := rate.Inf
	if cfg.ProbeRPS > 0 {
		limit = rate.Limit(cfg.ProbeRPS)
	}
	burst := cfg.ProbeBurst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPProber{
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		maxBytes: maxBytes,
		logger:   logger.Named("imaging"),
	}
}

// WithClient swaps the HTTP client, mainly for tests
func (p *HTTPProber) WithClient(client *http.Client) *HTTPProber {
	p.client = client
	return p
}

func (p *HTTPProber) Probe(ctx context.Context, imageURL string) (Dimensions, error) {
	if d, ok := DimensionsFromURL(imageURL); ok {
		return d, nil
	}

	d, err := p.probeHeader(ctx, imageURL)
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return Dimensions{}, ctx.Err()
	}
	p.logger.Debug("header probe failed, estimating from size", zap.String("url", imageURL), zap.Error(err))

	d, err = p.estimateFromLength(ctx, imageURL)
	if err != nil {
		return Dimensions{}, eris.Wrapf(ErrNoDimensions, "%s: %v", imageURL, err)
	}
	return d, nil
}

// probeHeader fetches the first bytes of the image and decodes just the header
func (p *HTTPProber) probeHeader(ctx context.Context, imageURL string) (Dimensions, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Dimensions{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Dimensions{}, eris.Wrap(err, "failed to create probe request")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.maxBytes-1))
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return Dimensions{}, eris.Wrap(err, "failed to fetch image header")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return Dimensions{}, eris.Errorf("image probe returned status %d", resp.StatusCode)
	}

	cfg, _, err := image.DecodeConfig(io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return Dimensions{}, eris.Wrap(err, "failed to decode image header")
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height, Source: "header"}, nil
}

// estimateFromLength guesses a square image from its byte size
func (p *HTTPProber) estimateFromLength(ctx context.Context, imageURL string) (Dimensions, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Dimensions{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return Dimensions{}, eris.Wrap(err, "failed to create head request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Dimensions{}, eris.Wrap(err, "failed to fetch image head")
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		return Dimensions{}, eris.Errorf("no usable content length (status %d)", resp.StatusCode)
	}

	side := EstimateSide(resp.ContentLength)
	return Dimensions{Width: side, Height: side, Estimated: true, Source: "content-length"}, nil
}

// EstimateSide assumes roughly 0.1 bytes per pixel for compressed web images
func EstimateSide(contentLength int64) int {
	if contentLength <= 0 {
		return 0
	}
	return int(math.Sqrt(float64(contentLength) * 10))
}
