package extraction

import (
	"context"
	"regexp"
	"strings"
	"time"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/page"
	"event-extraction-engine/internal/venue"

	"github.com/rotisserie/eris"
)

var (
	labelPattern     = regexp.MustCompile(`(?i)^\s*(location|venue|where|address|held at|takes place at)\s*[:\-–]?\s+(.+)$`)
	venueNounPattern = regexp.MustCompile(`\b((?:[A-Z][\w'&.-]*\s+){0,4}(?:Hall|Theater|Theatre|Club|Bar|Lounge|Ballroom|Arena|Center|Centre|Stadium|Museum|Gallery|Cafe|Brewery|Church|Chapel|Studio|Auditorium|Amphitheater|Pavilion))\b`)
	freePattern      = regexp.MustCompile(`(?i)\bfree\s+(?:admission|entry|event|show|concert|of charge)\b|\badmission(?:\s+is)?\s*:?\s*free\b|\bno\s+(?:cover|charge)\b|\bcomplimentary\s+admission\b|^\s*free\s*!?\s*$`)
	dollarPattern    = regexp.MustCompile(`\$\s?(\d+(?:\.\d{2})?)(?:\s*(?:-|–|to)\s*\$?(\d+(?:\.\d{2})?))?`)
	labeledPrice     = regexp.MustCompile(`(?i)\b(?:price|cost|tickets?|admission|cover)\s*:\s*\$?(\d+(?:\.\d{2})?)\b`)
)

// textFinding is one field value recognized in free text, before it is bound to a layer
type textFinding struct {
	Field      models.FieldName
	Value      models.FieldValue
	Confidence float64
}

// scanText runs the pattern extractors over text line by line. Each field is taken
// from the first line that yields it.
func scanText(text string, ref time.Time) []textFinding {
	var findings []textFinding
	found := map[models.FieldName]bool{}
	add := func(field models.FieldName, value models.FieldValue, confidence float64) {
		if found[field] {
			return
		}
		if t, ok := value.(models.Text); ok && strings.TrimSpace(string(t)) == "" {
			return
		}
		found[field] = true
		findings = append(findings, textFinding{Field: field, Value: value, Confidence: confidence})
	}

	lines := strings.Split(text, "\n")
	for _, raw := range lines {
		line := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(raw), "#*->"))
		if line == "" {
			continue
		}

		if !found[models.FieldDate] {
			if d, ok := findDate(line, ref); ok {
				confidence := 45.0
				if d.HasYear {
					confidence = 60
				}
				add(models.FieldDate, models.Text(d.ISO), confidence)
			}
		}

		if !found[models.FieldStartTime] {
			if tm, ok := findTimes(line); ok {
				confidence := 55.0
				switch {
				case !tm.Meridiem && tm.Start != "12:00:00" && tm.Start != "00:00:00":
					confidence = 45
				case !tm.Meridiem:
					confidence = 40
				}
				add(models.FieldStartTime, models.Text(tm.Start), confidence)
				if tm.End != "" {
					add(models.FieldEndTime, models.Text(tm.End), 50)
				}
			}
		}

		scanLocation(line, add)
		scanPrice(line, add, found)
	}
	return findings
}

func scanLocation(line string, add func(models.FieldName, models.FieldValue, float64)) {
	if m := labelPattern.FindStringSubmatch(line); m != nil {
		label := strings.ToLower(m[1])
		value := strings.TrimSpace(strings.TrimRight(m[2], "."))
		if label == "address" {
			add(models.FieldAddress, models.Text(value), 55)
			return
		}
		switch idx := venue.FindStreet(value); {
		case idx == 0:
			add(models.FieldAddress, models.Text(value), 55)
		case idx > 0:
			add(models.FieldVenue, models.Text(strings.Trim(value[:idx], " ,-–|@")), 50)
			add(models.FieldAddress, models.Text(value[idx:]), 55)
		default:
			add(models.FieldVenue, models.Text(value), 50)
		}
		return
	}

	if idx := venue.FindStreet(line); idx >= 0 {
		add(models.FieldAddress, models.Text(strings.TrimSpace(line[idx:])), 45)
	}
	if m := venueNounPattern.FindStringSubmatch(line); m != nil {
		add(models.FieldVenue, models.Text(strings.TrimSpace(m[1])), 40)
	}
}

func scanPrice(line string, add func(models.FieldName, models.FieldValue, float64), found map[models.FieldName]bool) {
	if freePattern.MatchString(line) {
		add(models.FieldFree, models.Flag(true), 50)
		add(models.FieldPrice, models.Text("Free"), 45)
		return
	}

	var price string
	if m := dollarPattern.FindStringSubmatch(line); m != nil {
		price = "$" + m[1]
		if m[2] != "" {
			price += "-$" + m[2]
		}
	} else if m := labeledPrice.FindStringSubmatch(line); m != nil {
		price = "$" + m[1]
	}
	if price == "" {
		return
	}
	add(models.FieldPrice, models.Text(price), 55)
	if !found[models.FieldFree] {
		add(models.FieldFree, models.Flag(false), 40)
	}
}

// bindFindings turns findings into candidates for a layer, scaling each confidence
func bindFindings(findings []textFinding, layer models.LayerID, scale func(float64) float64) []models.FieldCandidate {
	candidates := make([]models.FieldCandidate, 0, len(findings))
	for _, f := range findings {
		confidence := f.Confidence
		if scale != nil {
			confidence = scale(confidence)
		}
		c, err := models.NewCandidate(f.Field, f.Value, confidence, layer)
		if err != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// TextPatternLayer matches dates, times, locations and prices in the page's visible text
type TextPatternLayer struct {
	now func() time.Time
}

func NewTextPatternLayer(now func() time.Time) *TextPatternLayer {
	if now == nil {
		now = time.Now
	}
	return &TextPatternLayer{now: now}
}

func (l *TextPatternLayer) ID() models.LayerID { return models.LayerTextPatterns }

func (l *TextPatternLayer) Extract(ctx context.Context, acc page.Accessor, _ Snapshot) ([]models.FieldCandidate, error) {
	text, err := acc.VisibleText(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read visible text")
	}
	return bindFindings(scanText(text, l.now()), l.ID(), nil), nil
}
