package extraction

import (
	"context"
	"math"
	"time"

	"event-extraction-engine/internal/imaging"
	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxOCRConfidence caps every OCR-derived candidate below the DOM layers' typical range
const maxOCRConfidence = 70

// OCR converts an image into raw text with a 0-100 confidence
type OCR interface {
	Recognize(ctx context.Context, imageURL string) (models.OCRResult, error)
}

// OCRLayer runs OCR over the best flyer candidates and pattern-matches the recovered text
type OCRLayer struct {
	ocr       OCR
	selector  *imaging.Selector
	maxImages int
	now       func() time.Time
	logger    *zap.Logger
}

func NewOCRLayer(ocr OCR, selector *imaging.Selector, maxImages int, now func() time.Time, logger *zap.Logger) *OCRLayer {
	if maxImages <= 0 {
		maxImages = 1
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OCRLayer{ocr: ocr, selector: selector, maxImages: maxImages, now: now, logger: logger.Named("ocr")}
}

func (l *OCRLayer) ID() models.LayerID { return models.LayerOCR }

// Extract OCRs the top-ranked images in order. Each image's findings are bound with
// confidence scaled by the OCR confidence; the merger picks between images.
func (l *OCRLayer) Extract(ctx context.Context, acc page.Accessor, snap Snapshot) ([]models.FieldCandidate, error) {
	if l.ocr == nil || l.selector == nil {
		return nil, nil
	}

	urls, err := collectImageURLs(ctx, acc)
	if err != nil {
		return nil, eris.Wrap(err, "failed to collect images")
	}
	record := snap.Record()
	ranked := l.selector.Rank(ctx, urls, record.Title, record.Venue, imaging.Options{OCRMode: true})
	if len(ranked) > l.maxImages {
		ranked = ranked[:l.maxImages]
	}

	var out []models.FieldCandidate
	var lastErr error
	for _, img := range ranked {
		result, err := l.ocr.Recognize(ctx, img.URL)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			lastErr = err
			l.logger.Warn("ocr failed", zap.String("image", img.URL), zap.Error(err))
			continue
		}
		if result.Text == "" || result.Confidence <= 0 {
			continue
		}

		scale := func(confidence float64) float64 {
			return math.Min(maxOCRConfidence, confidence*result.Confidence/100)
		}
		findings := scanText(result.Text, l.now())
		if title, _ := guessTitle(contentLines(result.Text)); title != "" {
			findings = append(findings, textFinding{Field: models.FieldTitle, Value: models.Text(title), Confidence: 40})
		}
		out = append(out, bindFindings(findings, l.ID(), scale)...)

		l.logger.Debug("ocr image processed",
			zap.String("image", img.URL),
			zap.Float64("ocr_confidence", result.Confidence),
			zap.Int("findings", len(findings)))
	}

	if len(out) == 0 && lastErr != nil {
		return nil, eris.Wrap(lastErr, "ocr produced no text")
	}
	return out, nil
}
