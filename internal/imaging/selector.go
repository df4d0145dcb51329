package imaging

import (
	"context"
	"math"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/models"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tune one scoring run
type Options struct {
	// OCRMode adds the OCR-suitability component and scales the others to 0.9
	OCRMode bool
}

const maxConcurrentProbes = 4

// Selector scores image URLs against the versioned heuristics
type Selector struct {
	prober Prober
	h      config.Heuristics
	logger *zap.Logger
}

// NewSelector creates a selector; zero-valued heuristics fall back to the defaults
func NewSelector(prober Prober, h config.Heuristics, logger *zap.Logger) *Selector {
	if h.Version == "" {
		h = config.DefaultHeuristics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{prober: prober, h: h, logger: logger.Named("imaging")}
}

// HeuristicsVersion reports the rule set the scores were produced with
func (s *Selector) HeuristicsVersion() string {
	return s.h.Version
}

// Score probes and scores a single image. Images below the floor or without
// obtainable dimensions return an error and must be excluded.
func (s *Selector) Score(ctx context.Context, imageURL, title, venue string, opts Options) (models.ScoredImage, error) {
	dims, err := s.prober.Probe(ctx, imageURL)
	if err != nil {
		return models.ScoredImage{}, eris.Wrapf(err, "failed to probe %s", imageURL)
	}
	if dims.Width <= 0 || dims.Height <= 0 {
		return models.ScoredImage{}, eris.Wrapf(ErrNoDimensions, "%s", imageURL)
	}
	if dims.Width < s.h.MinDimension || dims.Height < s.h.MinDimension {
		return models.ScoredImage{}, eris.Wrapf(ErrImageTooSmall, "%s is %dx%d", imageURL, dims.Width, dims.Height)
	}

	lowerURL := strings.ToLower(imageURL)
	ratio := float64(dims.Width) / float64(dims.Height)

	img := models.ScoredImage{
		URL:          imageURL,
		Width:        dims.Width,
		Height:       dims.Height,
		Ratio:        ratio,
		Estimated:    dims.Estimated,
		RatioScore:   s.ratioScore(ratio),
		SizeScore:    s.sizeScore(dims.Width, dims.Height),
		FlyerScore:   s.flyerScore(lowerURL),
		QualityScore: s.qualityScore(imageURL),
		ContextScore: contextScore(lowerURL, title, venue),
	}

	w := s.h.Weights
	total := w.Ratio*img.RatioScore + w.Size*img.SizeScore + w.Flyer*img.FlyerScore +
		w.Quality*img.QualityScore + w.Context*img.ContextScore

	if opts.OCRMode {
		ocr := s.ocrScore(lowerURL, dims.Width, dims.Height)
		img.OCRScore = &ocr
		total = total*(1-s.h.OCRWeight) + s.h.OCRWeight*ocr
	}
	img.TotalScore = total
	return img, nil
}

// Rank scores every URL and returns the survivors ordered by total score
// descending, then input position. Duplicate URLs keep their first position.
func (s *Selector) Rank(ctx context.Context, urls []string, title, venue string, opts Options) []models.ScoredImage {
	type slot struct {
		img models.ScoredImage
		ok  bool
	}
	slots := make([]slot, len(urls))
	seen := make(map[string]bool, len(urls))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for i, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] || !models.ValidateImageURL(u) {
			continue
		}
		seen[u] = true

		i, u := i, u
		g.Go(func() error {
			img, err := s.Score(gctx, u, title, venue, opts)
			if err != nil {
				s.logger.Debug("image excluded", zap.String("url", u), zap.Error(err))
				return nil
			}
			img.Index = i
			mu.Lock()
			slots[i] = slot{img: img, ok: true}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	ranked := make([]models.ScoredImage, 0, len(urls))
	for _, sl := range slots {
		if sl.ok {
			ranked = append(ranked, sl.img)
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].TotalScore != ranked[b].TotalScore {
			return ranked[a].TotalScore > ranked[b].TotalScore
		}
		return ranked[a].Index < ranked[b].Index
	})
	return ranked
}

func (s *Selector) ratioScore(ratio float64) float64 {
	if ratio < s.h.ExtremeRatioLow || ratio > s.h.ExtremeRatioHi {
		return s.h.ExtremeScore
	}
	best := s.h.RatioFloor
	for _, peak := range s.h.RatioPeaks {
		score := 1 - math.Abs(ratio-peak)/s.h.RatioTolerance
		if score > best {
			best = score
		}
	}
	return best
}

func (s *Selector) sizeScore(width, height int) float64 {
	megapixels := float64(width) * float64(height) / 1e6

	if width >= s.h.IdealDimension && height >= s.h.IdealDimension {
		switch {
		case megapixels >= 2:
			return 1.0
		case megapixels >= 1:
			return 0.9
		default:
			return 0.8
		}
	}
	switch {
	case megapixels >= 0.5:
		return 0.6
	case megapixels >= 0.25:
		return 0.45
	default:
		return 0.3
	}
}

func (s *Selector) flyerScore(lowerURL string) float64 {
	for _, avoid := range s.h.AvoidKeywords {
		if strings.Contains(lowerURL, avoid) {
			return 0
		}
	}
	score := 0.5
	for _, keyword := range s.h.FlyerKeywords {
		if strings.Contains(lowerURL, keyword) {
			score += 0.25
		}
	}
	return math.Min(score, 1)
}

func (s *Selector) qualityScore(imageURL string) float64 {
	score := 0.4
	u, err := url.Parse(imageURL)
	if err != nil {
		return score
	}

	if u.Scheme == "https" {
		score += 0.2
	}
	host := strings.ToLower(u.Hostname())
	for _, cdn := range s.h.CDNHosts {
		if strings.Contains(host, cdn) {
			score += 0.2
			break
		}
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".webp", ".avif":
		score += 0.2
	case ".jpg", ".jpeg", ".png":
		score += 0.1
	}
	return math.Min(score, 1)
}

func (s *Selector) ocrScore(lowerURL string, width, height int) float64 {
	score := 0.1
	if width >= s.h.OCRDimension && height >= s.h.OCRDimension {
		score = 0.5
	}
	for _, keyword := range s.h.OCRKeywords {
		if strings.Contains(lowerURL, keyword) {
			score += 0.3
			break
		}
	}
	for _, pattern := range s.h.ThumbPatterns {
		if strings.Contains(lowerURL, pattern) {
			score -= 0.4
			break
		}
	}
	return math.Max(0, math.Min(1, score))
}

// contextScore rewards URLs that mention the event title or venue
func contextScore(lowerURL, title, venue string) float64 {
	seen := map[string]bool{}
	matches := 0
	for _, token := range strings.FieldsFunc(strings.ToLower(title+" "+venue), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(token) < 4 || seen[token] {
			continue
		}
		seen[token] = true
		if strings.Contains(lowerURL, token) {
			matches++
		}
	}
	return math.Min(1, 0.5*float64(matches))
}
